// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package resolver

import (
	"net/http"

	"github.com/eida/federator/streamepoch"
)

// parseRequest decodes a routing query from either a GET query string
// or a POST line-block body, reusing the streamepoch package's parser
// since the routing resolver accepts exactly the same selector
// grammar as the federator's own service endpoints (spec.md §4.1,
// §4.4).
func parseRequest(r *http.Request) (streamepoch.Request, error) {
	if r.Method == http.MethodPost {
		return streamepoch.ParsePOST(r.Body)
	}
	if err := r.ParseForm(); err != nil {
		return streamepoch.Request{}, err
	}
	return streamepoch.ParseGET(r.Form)
}
