// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package httpapi provides the small HTTP plumbing shared by the
// routing resolver and the federator's dataselect/station/wfcatalog
// surfaces: panic recovery, and a uniform mapping from an error value
// to an HTTP status code and FDSN-style plain-text error body. This is
// grounded on the teacher's restserver.resourceHandler, trimmed down
// to what these endpoints actually need: none of them negotiate
// response representations, since each FDSN service has exactly one
// wire format per success response.
package httpapi

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// HTTPStatuser is the convention every error type in this repository
// follows to carry its own HTTP status, mirrored from the teacher's
// restdata.ErrorStatus interface.
type HTTPStatuser interface {
	error
	HTTPStatus() int
}

// StatusOf reports the HTTP status an error should be reported with:
// the error's own HTTPStatus() if it implements HTTPStatuser,
// otherwise 500.
func StatusOf(err error) int {
	if hs, ok := err.(HTTPStatuser); ok {
		return hs.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// WriteError writes an FDSN-style plain-text error response: FDSN web
// services report errors as a short human-readable text body, not
// JSON, unlike the teacher's own REST API.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "Error %d: %s\n", status, err.Error())
}

// Recover wraps a handler with panic recovery, logging the panic and
// stack trace and reporting a 500 to the client rather than letting
// the server process crash or hang up the connection silently.
func Recover(logger *logrus.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.WithFields(logrus.Fields{
					"panic": recovered,
					"stack": string(debug.Stack()),
					"path":  r.URL.Path,
				}).Error("httpapi: recovered from panic in handler")
				WriteError(w, fmt.Errorf("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequestParams extracts combined query-string and POST-form
// parameters into the case-preserving map the option decoders expect,
// taking the first value of any repeated parameter.
func RequestParams(r *http.Request) map[string]interface{} {
	_ = r.ParseForm()
	out := make(map[string]interface{}, len(r.Form))
	for k, vs := range r.Form {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
