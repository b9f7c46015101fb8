// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package resolver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/eida/federator/catalog"
	"github.com/eida/federator/streamepoch"
)

// writePost renders groups in the line-block POST grammar
// (spec.md §4.4's "post" format): one endpoint URL header line
// followed by its stream epoch lines, blank-line separated.
func writePost(w http.ResponseWriter, groups []catalog.Group) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for i, g := range groups {
		if i > 0 {
			fmt.Fprint(w, "\n")
		}
		fmt.Fprintf(w, "%s\n", g.Endpoint.URL)
		w.Write(streamepoch.EncodePOST(g.Epochs))
	}
}

// writeGet renders groups as one complete GET query URL per stream
// epoch (spec.md §4.4's "get" format), the form older FDSN clients
// that cannot issue POST requests expect.
func writeGet(w http.ResponseWriter, groups []catalog.Group) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, g := range groups {
		for _, e := range g.Epochs {
			loc := e.Location
			if loc == streamepoch.EmptyLocation {
				loc = "--"
			}
			fmt.Fprintf(w, "%s?net=%s&sta=%s&loc=%s&cha=%s&start=%s&end=%s\n",
				g.Endpoint.URL, e.Network, e.Station, loc, e.Channel,
				streamepoch.FormatTime(e.StartTime), streamepoch.FormatTime(e.EndTime))
		}
	}
}

// routingJSONEntry is one element of the "json" format's array, per
// spec.md §4.4.
type routingJSONEntry struct {
	Network  string `json:"network"`
	Station  string `json:"station"`
	Location string `json:"location"`
	Channel  string `json:"channel"`
	Start    string `json:"starttime"`
	End      string `json:"endtime"`
	URL      string `json:"url"`
}

func writeJSON(w http.ResponseWriter, groups []catalog.Group) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	var entries []routingJSONEntry
	for _, g := range groups {
		for _, e := range g.Epochs {
			entries = append(entries, routingJSONEntry{
				Network:  e.Network,
				Station:  e.Station,
				Location: e.Location,
				Channel:  e.Channel,
				Start:    streamepoch.FormatTime(e.StartTime),
				End:      streamepoch.FormatTime(e.EndTime),
				URL:      g.Endpoint.URL,
			})
		}
	}
	json.NewEncoder(w).Encode(entries)
}
