// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package catalog defines the abstract API to the routing catalog
// ("StationLite"): the normalized, periodically-harvested inventory
// of which data center serves which stream epoch for which service.
//
// Implementations of Store provide a specific database backend (see
// catalog/postgres) or an in-memory equivalent for tests and small
// deployments (see catalog/memory). catalog/cache wraps any Store
// with a read-through cache.
package catalog

import (
	"context"
	"time"

	"github.com/eida/federator/streamepoch"
)

// Store is the principal interface to the routing catalog. It answers
// fully-resolved routing queries and accepts harvested updates.
type Store interface {
	// Resolve expands wildcards in selectors against currently known
	// channels, filters by service, intersects each candidate with
	// window, and groups the results by endpoint. Per spec.md §4.2,
	// the returned groups are sorted by endpoint URL, and the epochs
	// within a group are sorted by (net, sta, loc, cha, start). A
	// resolve query never returns an epoch whose window lies wholly
	// outside the requested window.
	Resolve(ctx context.Context, selectors streamepoch.List, service streamepoch.Service, window Window) ([]Group, error)

	// UpsertBatch atomically swaps in one harvest batch for a single
	// data center. Rows not present in rows but previously associated
	// with dataCenter are end-dated or removed according to
	// closeMissing, never torn: readers never observe a partial
	// batch (spec.md §3's transactional invariant).
	UpsertBatch(ctx context.Context, dataCenter string, rows []Row, harvestedAt time.Time, closeMissing bool) error

	// DataCenters returns the names of all data centers that have
	// ever had a harvest batch applied.
	DataCenters(ctx context.Context) ([]string, error)
}

// Window is a half-open UTC time interval used to bound a resolve
// query. A zero Window (both fields zero) is treated as unbounded.
type Window struct {
	Start time.Time
	End   time.Time
}

// Endpoint is a (service, url) pair, per spec.md §3.
type Endpoint struct {
	Service streamepoch.Service
	URL     string

	// Primary marks at most one endpoint as the preferred one for a
	// given stream epoch; others are alternates used on failure.
	Primary bool
}

// Group is one entry of a Resolve result: every concrete stream epoch
// that endpoint serves, intersected with the request window.
type Group struct {
	Endpoint Endpoint
	Epochs   streamepoch.List
}

// Row is one normalized fact submitted by the harvester in a batch:
// one channel epoch routed to one endpoint for one validity window.
// It is the wire shape UpsertBatch consumes; Store implementations
// are responsible for maintaining referential integrity against their
// own network/station/channel tables.
type Row struct {
	Network      string
	Station      string
	Location     string
	Channel      string
	ChannelStart time.Time
	ChannelEnd   time.Time

	Service       streamepoch.Service
	EndpointURL   string
	Primary       bool
	ValidityStart time.Time
	ValidityEnd   time.Time
}

// Normalize upper-cases the SEED codes and substitutes
// streamepoch.FarFuture for zero end times, matching the ingest-time
// normalization invariant in spec.md §3.
func (r Row) Normalize() Row {
	se := streamepoch.StreamEpoch{
		Network: r.Network, Station: r.Station,
		Location: r.Location, Channel: r.Channel,
		StartTime: r.ChannelStart, EndTime: r.ChannelEnd,
	}.Normalize()
	r.Network, r.Station, r.Location, r.Channel = se.Network, se.Station, se.Location, se.Channel
	r.ChannelStart, r.ChannelEnd = se.StartTime, se.EndTime
	if r.ValidityEnd.IsZero() {
		r.ValidityEnd = streamepoch.FarFuture
	}
	return r
}
