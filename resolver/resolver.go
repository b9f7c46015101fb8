// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package resolver implements the eidaws-routing HTTP surface
// (spec.md §4.4): given a stream epoch selector list, a service name,
// and a time window, it answers with the endpoints the catalog knows
// to serve them, in one of three output formats. It is a thin
// gorilla/mux handler over a catalog.Store, grounded on the teacher's
// restserver.PopulateRouter/resourceHandler split between router setup
// and per-request logic.
package resolver

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/eida/federator/catalog"
	"github.com/eida/federator/httpapi"
	"github.com/eida/federator/streamepoch"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// API serves the routing resolver's HTTP endpoints.
type API struct {
	Store  catalog.Store
	Logger *logrus.Logger
}

// NewRouter builds a standalone router exposing the resolver at the
// conventional eidaws-routing path.
func NewRouter(store catalog.Store, logger *logrus.Logger) http.Handler {
	r := mux.NewRouter()
	PopulateRouter(r, store, logger)
	return r
}

// PopulateRouter adds the resolver's routes to an existing router, so
// callers can mount it alongside the federator under one process.
func PopulateRouter(r *mux.Router, store catalog.Store, logger *logrus.Logger) {
	api := &API{Store: store, Logger: logger}
	handler := httpapi.Recover(logger, http.HandlerFunc(api.query))
	r.Path("/eidaws/routing/1/query").Methods(http.MethodGet, http.MethodPost).Name("routing-query").Handler(handler)
	r.Path("/eidaws/routing/1/application.wadl").Methods(http.MethodGet).Name("routing-wadl").
		Handler(http.HandlerFunc(api.wadl))
}

func (api *API) query(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	window := catalog.Window{Start: windowStart(req.Selectors), End: windowEnd(req.Selectors)}
	groups, err := api.Store.Resolve(r.Context(), req.Selectors, req.Service, window)
	if err != nil {
		httpapi.WriteError(w, fmt.Errorf("resolving: %w", err))
		return
	}

	if len(groups) == 0 {
		status := http.StatusNoContent
		if req.Options.NoData != 0 {
			status = req.Options.NoData
		}
		w.WriteHeader(status)
		return
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Endpoint.URL < groups[j].Endpoint.URL })

	format := req.Options.Format
	if format == "" {
		format = "text"
	}
	switch format {
	case "json":
		writeJSON(w, groups)
	case "get":
		writeGet(w, groups)
	default:
		writePost(w, groups)
	}
}

// windowStart/windowEnd derive a catalog.Window from the broadest
// span across a selector list's individual time ranges, since a
// single resolve query may ask about several stream epochs whose
// windows differ.
func windowStart(selectors streamepoch.List) time.Time {
	start := selectors[0].StartTime
	for _, se := range selectors[1:] {
		if se.StartTime.Before(start) {
			start = se.StartTime
		}
	}
	return start
}

func windowEnd(selectors streamepoch.List) time.Time {
	end := selectors[0].EndTime
	for _, se := range selectors[1:] {
		if se.EndTime.After(end) {
			end = se.EndTime
		}
	}
	return end
}

func (api *API) wadl(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xml")
	io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><application xmlns="http://wadl.dev.java.net/2009/02"/>`)
}
