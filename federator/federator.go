// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package federator implements the fdsnws-dataselect, fdsnws-station,
// and eidaws-wfcatalog federated query surfaces (spec.md §4.5-§4.8):
// resolve a client's stream epoch selectors against the routing
// catalog, decompose the result into upstream sub-requests, dispatch
// them concurrently, and merge the successful responses into one
// stream back to the client.
package federator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/eida/federator/catalog"
	"github.com/eida/federator/httpapi"
	"github.com/eida/federator/metrics"
	"github.com/eida/federator/streamepoch"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// identification is the value of the X-Federator response header
// added to every proxied response, per spec.md §8 scenario 1.
const identification = "eida-federator/1"

// Federator ties the routing catalog, decomposer, dispatcher, and
// merger together behind one HTTP surface per service.
type Federator struct {
	Store      catalog.Store
	Arena      *Arena
	Dispatcher *Dispatcher
	Logger     *logrus.Logger

	Decompose DecomposeOptions
}

// NewRouter builds a router exposing all three federated services at
// their conventional FDSN/EIDA paths.
func NewRouter(f *Federator) http.Handler {
	r := mux.NewRouter()
	PopulateRouter(r, f)
	return r
}

// PopulateRouter mounts the federator's three service endpoints onto
// an existing router.
func PopulateRouter(r *mux.Router, f *Federator) {
	mount := func(path string, service streamepoch.Service) {
		handler := httpapi.Recover(f.Logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f.serve(w, r, service)
		}))
		r.Path(path).Methods(http.MethodGet, http.MethodPost).Handler(handler)
	}
	mount("/fdsnws/dataselect/1/query", streamepoch.ServiceDataselect)
	mount("/fdsnws/station/1/query", streamepoch.ServiceStation)
	mount("/eidaws/wfcatalog/1/query", streamepoch.ServiceWFCatalog)
}

func (f *Federator) serve(w http.ResponseWriter, r *http.Request, service streamepoch.Service) {
	req, err := parseServiceRequest(r, service)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	jr, contentType, err := f.Run(r.Context(), req, r.Method == http.MethodPost)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}
	defer f.Arena.Release(jr.jobDir)

	succeeded := jr.result.Succeeded()
	if len(succeeded) == 0 {
		if status, ok := exhaustedFailureStatus(jr.result.Results); ok {
			httpapi.WriteError(w, upstreamError{status: status})
			return
		}
		status := http.StatusNoContent
		if req.Options.NoData != 0 {
			status = req.Options.NoData
		}
		w.WriteHeader(status)
		return
	}

	w.Header().Set("X-Federator", identification)
	if errs := federatorErrorsHeader(jr.result.Results); errs != "" {
		w.Header().Set("X-Federator-Errors", errs)
	}
	w.Header().Set("Content-Type", contentType)
	if err := Merge(w, service, jr.result.Results); err != nil {
		f.Logger.WithError(err).Error("federator: merge failed after headers were sent")
	}
}

// upstreamError reports a job-level failure with an explicit HTTP
// status, per the httpapi.HTTPStatuser convention.
type upstreamError struct{ status int }

func (e upstreamError) Error() string {
	return fmt.Sprintf("all sub-requests failed (%s)", http.StatusText(e.status))
}

func (e upstreamError) HTTPStatus() int { return e.status }

// exhaustedFailureStatus reports the status a job with zero
// successful sub-requests should surface when at least one of them
// exhausted its retry budget against a server error or a timeout,
// per spec.md §7: that is genuine upstream failure, not no-data, and
// a 204 would mask it. A job whose sub-requests are all no-data (or
// there simply were none) is not a failure and falls through to 204.
// Timeout takes priority over server-error in the mixed case, since
// spec.md §8 scenario 4 ties timeouts to a 503 response.
func exhaustedFailureStatus(results []SubRequestResult) (int, bool) {
	sawServerError := false
	for _, r := range results {
		switch r.State {
		case SubRequestTimeout:
			return http.StatusServiceUnavailable, true
		case SubRequestServerError:
			sawServerError = true
		}
	}
	if sawServerError {
		return http.StatusBadGateway, true
	}
	return 0, false
}

// federatorErrorsHeader builds the X-Federator-Errors header value
// from every sub-request that ended in a non-success terminal state,
// per spec.md §8 scenario 3's "eth=5xx,bgr=timeout" format. It is
// empty when every sub-request that contributed no data still
// succeeded (no-data is not an error).
func federatorErrorsHeader(results []SubRequestResult) string {
	var parts []string
	for _, r := range results {
		label, ok := errorLabel(r.State)
		if !ok {
			continue
		}
		parts = append(parts, endpointName(r.SubRequest.Endpoint.URL)+"="+label)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func errorLabel(state SubRequestState) (string, bool) {
	switch state {
	case SubRequestServerError:
		return "5xx", true
	case SubRequestClientError:
		return "4xx", true
	case SubRequestTimeout:
		return "timeout", true
	case SubRequestCancelled:
		return "cancelled", true
	}
	return "", false
}

// endpointName extracts a short data-center label from an endpoint
// URL for use in X-Federator-Errors, e.g. "http://eth.example/..."
// becomes "eth". It falls back to the full host when the host has no
// dot-separated subdomain to take the label from.
func endpointName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	host := u.Hostname()
	if i := strings.Index(host, "."); i > 0 {
		return host[:i]
	}
	return host
}

// jobRun bundles a completed dispatch with the arena directory it
// spooled into, so the caller can release it once the response has
// been streamed.
type jobRun struct {
	jobDir *JobDir
	result JobResult
}

// Run executes one client request end to end: resolve, decompose,
// dispatch. It does not merge or write a response; serve does that
// with the returned job, and releases its arena directory afterwards.
// forcePost mirrors the incoming request's own method, per spec.md
// §4.5's "every sub-request is a POST if the client's own request was
// a POST".
func (f *Federator) Run(ctx context.Context, req streamepoch.Request, forcePost bool) (jobRun, string, error) {
	started := time.Now()
	defer func() {
		metrics.JobDuration.WithLabelValues(string(req.Service)).Observe(time.Since(started).Seconds())
	}()

	window := requestWindow(req.Selectors)
	groups, err := f.Store.Resolve(ctx, req.Selectors, req.Service, window)
	if err != nil {
		return jobRun{}, "", err
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Endpoint.URL < groups[j].Endpoint.URL })

	opts := f.Decompose
	opts.Service = req.Service
	opts.Options = req.Options
	opts.ForcePost = forcePost
	subs := Decompose(groups, opts)

	jobDir, err := f.Arena.NewJobDir()
	if err != nil {
		return jobRun{}, "", err
	}

	policy := f.policyFor(req)
	result := f.Dispatcher.Dispatch(ctx, jobDir, subs, policy)

	outcome := "ok"
	if result.Failed {
		outcome = "failed"
	} else if len(result.Succeeded()) == 0 {
		outcome = "no-data"
	} else if result.AnyFailed() {
		outcome = "partial"
	}
	metrics.JobsTotal.WithLabelValues(string(req.Service), string(policy), outcome).Inc()

	return jobRun{jobDir: jobDir, result: result}, contentTypeFor(req.Service), nil
}

func (f *Federator) policyFor(req streamepoch.Request) FailurePolicy {
	return BestEffort
}

func contentTypeFor(service streamepoch.Service) string {
	switch service {
	case streamepoch.ServiceDataselect:
		return "application/vnd.fdsn.mseed"
	case streamepoch.ServiceStation:
		return "application/xml"
	case streamepoch.ServiceWFCatalog:
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}

func requestWindow(selectors streamepoch.List) catalog.Window {
	start := selectors[0].StartTime
	end := selectors[0].EndTime
	for _, se := range selectors[1:] {
		if se.StartTime.Before(start) {
			start = se.StartTime
		}
		if se.EndTime.After(end) {
			end = se.EndTime
		}
	}
	return catalog.Window{Start: start, End: end}
}

func parseServiceRequest(r *http.Request, service streamepoch.Service) (streamepoch.Request, error) {
	var req streamepoch.Request
	var err error
	if r.Method == http.MethodPost {
		req, err = streamepoch.ParsePOST(r.Body)
	} else {
		if err := r.ParseForm(); err != nil {
			return streamepoch.Request{}, err
		}
		req, err = streamepoch.ParseGET(r.Form)
	}
	if err != nil {
		return streamepoch.Request{}, err
	}
	req.Service = service
	return req, nil
}
