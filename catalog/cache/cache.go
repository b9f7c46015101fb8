// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package cache wraps a catalog.Store with a read-through LRU cache
// of Resolve results, invalidated wholesale whenever a harvest batch
// commits. This is a routing-lookup cache, not an HTTP response
// cache: the federator's own Non-goals (spec.md §1) exclude caching
// client responses, but nothing stops the catalog itself from caching
// its own read path the way the teacher's cache package caches
// Coordinate object lookups.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/eida/federator/catalog"
	"github.com/eida/federator/streamepoch"
)

// uncacheable is a monotonic counter used to manufacture a unique,
// never-reused cache key on the (practically unreachable) path where
// a resolve query fails to marshal, so such a query is never served
// from another query's cached result.
var uncacheable uint64

// Store wraps an upstream catalog.Store with a resolve-result cache.
type Store struct {
	upstream catalog.Store
	results  *lru
}

// New wraps upstream with a cache holding up to size resolve results.
func New(upstream catalog.Store, size int) *Store {
	return &Store{upstream: upstream, results: newLRU(size)}
}

// Resolve implements catalog.Store, serving from cache when possible.
func (s *Store) Resolve(ctx context.Context, selectors streamepoch.List, service streamepoch.Service, window catalog.Window) ([]catalog.Group, error) {
	key := cacheKey(selectors, service, window)
	if cached, hit := s.results.Get(key); hit {
		return cached.([]catalog.Group), nil
	}
	groups, err := s.upstream.Resolve(ctx, selectors, service, window)
	if err != nil {
		return nil, err
	}
	s.results.Put(key, groups)
	return groups, nil
}

// UpsertBatch implements catalog.Store. Because a cached resolve
// result may combine rows from several data centers, any successful
// batch commit invalidates the entire result cache rather than trying
// to track per-data-center dependencies.
func (s *Store) UpsertBatch(ctx context.Context, dataCenter string, rows []catalog.Row, harvestedAt time.Time, closeMissing bool) error {
	if err := s.upstream.UpsertBatch(ctx, dataCenter, rows, harvestedAt, closeMissing); err != nil {
		return err
	}
	s.results.Clear()
	return nil
}

// DataCenters implements catalog.Store.
func (s *Store) DataCenters(ctx context.Context) ([]string, error) {
	return s.upstream.DataCenters(ctx)
}

// cacheKey canonicalizes a resolve query into a stable string key.
// Selectors and the service/window are marshaled as JSON rather than
// concatenated by hand, since selectors is a slice of structs whose
// natural string form is exactly its field values.
func cacheKey(selectors streamepoch.List, service streamepoch.Service, window catalog.Window) string {
	type key struct {
		Selectors streamepoch.List
		Service   streamepoch.Service
		Window    catalog.Window
	}
	b, err := json.Marshal(key{selectors, service, window})
	if err != nil {
		// Marshaling a plain value slice cannot fail in practice;
		// if it somehow does, fall back to a key no other query
		// will ever produce, rather than risk a false cache hit.
		return fmt.Sprintf("\x00uncacheable-%d", atomic.AddUint64(&uncacheable, 1))
	}
	return string(b)
}
