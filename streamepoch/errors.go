package streamepoch

import (
	"fmt"
	"net/http"
)

// ClientError is returned for any malformed parameter, bad time, bad
// selector, or POST grammar error. It carries an HTTP status of 400,
// per the error kinds enumerated in spec.md §7.
type ClientError struct {
	Message string
}

func (e ClientError) Error() string {
	return e.Message
}

// HTTPStatus implements the same convention the teacher's restdata
// package uses for mapping errors to status codes.
func (e ClientError) HTTPStatus() int {
	return http.StatusBadRequest
}

// LineError wraps a ClientError with the one-based line number of the
// offending POST body row, as required by spec.md §4.1 ("unknown
// per-row tokens in POST fail with a line-numbered client error").
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Err.Error())
}

func (e LineError) HTTPStatus() int {
	return http.StatusBadRequest
}

func (e LineError) Unwrap() error {
	return e.Err
}

func newClientError(format string, args ...interface{}) error {
	return ClientError{Message: fmt.Sprintf(format, args...)}
}
