// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package federator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/eida/federator/metrics"
	"github.com/sirupsen/logrus"
)

// Dispatcher executes a decomposed job's sub-requests concurrently
// against their data centers, spooling each response body to disk
// under the job's Arena directory, per spec.md §4.6. Concurrency is
// bounded two ways at once: a global cap on in-flight sub-requests
// across the whole job, and a per-endpoint cap so one slow or
// misbehaving data center cannot starve the others of the global
// budget. This mirrors the teacher's worker.Worker, which likewise
// bounds concurrency with a fixed pool size and uses an injectable
// clock so tests never depend on wall time.
type Dispatcher struct {
	Client *http.Client

	// GlobalConcurrency bounds the total number of sub-requests
	// in flight for one job. Defaults to 16.
	GlobalConcurrency int

	// PerEndpointConcurrency bounds concurrent sub-requests to any
	// single endpoint URL. Defaults to 4.
	PerEndpointConcurrency int

	// Timeout bounds a single HTTP round trip attempt.
	Timeout time.Duration

	// MaxElapsedTime bounds the total time, across all retries,
	// spent on a single sub-request, per spec.md §4.6's "bounded
	// retry schedule".
	MaxElapsedTime time.Duration

	Clock  clock.Clock
	Logger *logrus.Logger
}

func (d *Dispatcher) setDefaults() {
	if d.Client == nil {
		d.Client = http.DefaultClient
	}
	if d.GlobalConcurrency == 0 {
		d.GlobalConcurrency = 16
	}
	if d.PerEndpointConcurrency == 0 {
		d.PerEndpointConcurrency = 4
	}
	if d.Timeout == 0 {
		d.Timeout = 30 * time.Second
	}
	if d.MaxElapsedTime == 0 {
		d.MaxElapsedTime = 2 * time.Minute
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
}

// Dispatch runs every sub-request to completion (success or a
// terminal failure) and returns the aggregate job result. Under
// AllOrNothingPolicy, the first sub-request that reaches a failure
// state cancels every sub-request still pending or in flight.
func (d *Dispatcher) Dispatch(ctx context.Context, jobDir *JobDir, subs []SubRequest, policy FailurePolicy) JobResult {
	d.setDefaults()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	global := make(chan struct{}, d.GlobalConcurrency)
	perEndpoint := make(map[string]chan struct{})
	var endpointMu sync.Mutex
	endpointSem := func(url string) chan struct{} {
		endpointMu.Lock()
		defer endpointMu.Unlock()
		sem, ok := perEndpoint[url]
		if !ok {
			sem = make(chan struct{}, d.PerEndpointConcurrency)
			perEndpoint[url] = sem
		}
		return sem
	}

	results := make([]SubRequestResult, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		i, sub := i, sub
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case global <- struct{}{}:
				defer func() { <-global }()
			case <-ctx.Done():
				results[i] = SubRequestResult{SubRequest: sub, State: SubRequestCancelled, Err: ctx.Err()}
				return
			}

			sem := endpointSem(sub.Endpoint.URL)
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = SubRequestResult{SubRequest: sub, State: SubRequestCancelled, Err: ctx.Err()}
				return
			}

			res := d.execute(ctx, jobDir, i, sub)
			results[i] = res
			metrics.SubRequestsTotal.WithLabelValues(string(sub.Endpoint.Service), string(res.State)).Inc()

			if policy == AllOrNothing && res.State != SubRequestOK && res.State != SubRequestNoData {
				cancel()
			}
		}()
	}
	wg.Wait()

	jr := JobResult{Results: results, FailurePolicy: policy}
	jr.Failed = policy == AllOrNothing && jr.AnyFailed()
	return jr
}

// execute performs one sub-request, retrying with bounded exponential
// backoff on network errors and 5xx responses, and spools the
// successful body to disk. It never retries a 4xx response, since
// that is a client error the retry schedule cannot fix.
func (d *Dispatcher) execute(ctx context.Context, jobDir *JobDir, index int, sub SubRequest) SubRequestResult {
	started := d.Clock.Now()
	result := SubRequestResult{SubRequest: sub, Started: started}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = d.MaxElapsedTime
	withCtx := backoff.WithContext(bo, ctx)

	attempts := 0
	spoolPath := jobDir.SpoolPath(index)

	op := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, d.Timeout)
		defer cancel()

		state, bytesWritten, err := d.attempt(attemptCtx, sub, spoolPath)
		result.State = state
		result.Bytes = bytesWritten
		result.Err = err
		if state == SubRequestServerError || state == SubRequestTimeout {
			return err
		}
		return nil
	}

	if err := backoff.Retry(op, withCtx); err != nil {
		if result.State == "" || !result.State.Terminal() {
			if ctx.Err() != nil {
				result.State = SubRequestCancelled
			} else {
				result.State = SubRequestServerError
			}
			result.Err = err
		}
	}

	result.Attempts = attempts
	result.Finished = d.Clock.Now()
	result.SpoolPath = spoolPath
	return result
}

// attempt performs exactly one HTTP round trip and, on a 2xx response
// other than 204, streams the body to disk; a 204 is recorded as
// no-data without creating a spool file.
func (d *Dispatcher) attempt(ctx context.Context, sub SubRequest, spoolPath string) (SubRequestState, int64, error) {
	var body io.Reader
	if len(sub.Body) > 0 {
		body = bytes.NewReader(sub.Body)
	}
	req, err := http.NewRequestWithContext(ctx, sub.Method, sub.URL, body)
	if err != nil {
		return SubRequestClientError, 0, err
	}
	if sub.ContentType != "" {
		req.Header.Set("Content-Type", sub.ContentType)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return SubRequestTimeout, 0, err
		}
		return SubRequestServerError, 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return SubRequestNoData, 0, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		n, err := spoolBody(resp.Body, spoolPath)
		if err != nil {
			return SubRequestServerError, n, err
		}
		return SubRequestOK, n, nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return SubRequestTimeout, 0, fmt.Errorf("upstream %s: %s", sub.Endpoint.URL, resp.Status)
	case resp.StatusCode >= 500:
		return SubRequestServerError, 0, fmt.Errorf("upstream %s: %s", sub.Endpoint.URL, resp.Status)
	default:
		return SubRequestClientError, 0, fmt.Errorf("upstream %s: %s", sub.Endpoint.URL, resp.Status)
	}
}

func spoolBody(r io.Reader, path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(f, r)
}
