// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package federator

import "time"

// SubRequestState is the terminal (or in-flight) state of one
// SubRequest, per spec.md §4.6's state machine:
// pending -> in-flight -> {ok, client-error, server-error, timeout, cancelled}.
type SubRequestState string

const (
	SubRequestPending     SubRequestState = "pending"
	SubRequestInFlight    SubRequestState = "in-flight"
	SubRequestOK          SubRequestState = "ok"
	SubRequestNoData      SubRequestState = "no-data"
	SubRequestClientError SubRequestState = "client-error"
	SubRequestServerError SubRequestState = "server-error"
	SubRequestTimeout     SubRequestState = "timeout"
	SubRequestCancelled   SubRequestState = "cancelled"
)

// Terminal reports whether a state ends the sub-request's lifecycle.
func (s SubRequestState) Terminal() bool {
	switch s {
	case SubRequestOK, SubRequestNoData, SubRequestClientError, SubRequestServerError, SubRequestTimeout, SubRequestCancelled:
		return true
	}
	return false
}

// FailurePolicy selects how a job reacts to a sub-request that never
// reaches SubRequestOK or SubRequestNoData, per spec.md §4.6.
type FailurePolicy string

const (
	// BestEffort merges whatever sub-requests succeeded and reports
	// the rest as a warning; this is the FDSN federator convention
	// and the default.
	BestEffort FailurePolicy = "best-effort"

	// AllOrNothing fails the whole job if any sub-request fails.
	AllOrNothing FailurePolicy = "all-or-nothing"
)

// SubRequestResult records the outcome of dispatching one SubRequest.
type SubRequestResult struct {
	SubRequest SubRequest
	State      SubRequestState
	SpoolPath  string
	Bytes      int64
	Err        error
	Attempts   int
	Started    time.Time
	Finished   time.Time
}

// JobResult is the aggregate outcome of federating one client request.
type JobResult struct {
	Results      []SubRequestResult
	FailurePolicy FailurePolicy
	Failed        bool
}

// Succeeded reports the sub-requests that produced data.
func (jr JobResult) Succeeded() []SubRequestResult {
	var out []SubRequestResult
	for _, r := range jr.Results {
		if r.State == SubRequestOK {
			out = append(out, r)
		}
	}
	return out
}

// AnyFailed reports whether any sub-request ended in a non-success
// terminal state other than no-data.
func (jr JobResult) AnyFailed() bool {
	for _, r := range jr.Results {
		switch r.State {
		case SubRequestClientError, SubRequestServerError, SubRequestTimeout, SubRequestCancelled:
			return true
		}
	}
	return false
}
