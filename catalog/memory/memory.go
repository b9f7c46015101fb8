// Package memory provides an in-process, in-memory implementation of
// catalog.Store. There is no persistence; the entire data center's
// worth of rows are held as a single immutable snapshot, swapped
// atomically on UpsertBatch so that in-flight readers never observe a
// torn batch (spec.md §3's transactional invariant). This is tuned
// for correctness and testability, not scale; it backs the harvester
// dry-run mode, unit tests, and small single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eida/federator/catalog"
	"github.com/eida/federator/streamepoch"
)

// Store is an in-memory catalog.Store. The zero value is not usable;
// construct with New.
type Store struct {
	mu   sync.RWMutex
	rows map[string][]catalog.Row // keyed by data center
}

// New creates an empty in-memory catalog.
func New() *Store {
	return &Store{rows: make(map[string][]catalog.Row)}
}

// UpsertBatch implements catalog.Store. It replaces (or merges with,
// if closeMissing end-dates rather than deletes) the batch for
// dataCenter with a single lock acquisition, so readers never see a
// partial update.
func (s *Store) UpsertBatch(ctx context.Context, dataCenter string, rows []catalog.Row, harvestedAt time.Time, closeMissing bool) error {
	normalized := make([]catalog.Row, len(rows))
	for i, r := range rows {
		normalized[i] = r.Normalize()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if closeMissing {
		previous := s.rows[dataCenter]
		present := make(map[rowKey]bool, len(normalized))
		for _, r := range normalized {
			present[keyOf(r)] = true
		}
		for _, r := range previous {
			if !present[keyOf(r)] {
				if r.ValidityEnd.Equal(streamepoch.FarFuture) {
					r.ValidityEnd = harvestedAt
				}
				normalized = append(normalized, r)
			}
		}
	}

	s.rows[dataCenter] = normalized
	return nil
}

type rowKey struct {
	net, sta, loc, cha string
	start              time.Time
	service            streamepoch.Service
	url                string
}

func keyOf(r catalog.Row) rowKey {
	return rowKey{r.Network, r.Station, r.Location, r.Channel, r.ChannelStart, r.Service, r.EndpointURL}
}

// DataCenters implements catalog.Store.
func (s *Store) DataCenters(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.rows))
	for name := range s.rows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Resolve implements catalog.Store.
func (s *Store) Resolve(ctx context.Context, selectors streamepoch.List, service streamepoch.Service, window catalog.Window) ([]catalog.Group, error) {
	winStart, winEnd := window.Start, window.End
	if winEnd.IsZero() {
		winEnd = streamepoch.FarFuture
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make(map[string]*catalog.Group)
	for _, rowsForCenter := range s.rows {
		for _, r := range rowsForCenter {
			if service != streamepoch.ServiceUnspecified && r.Service != service {
				continue
			}
			matched := false
			for _, sel := range selectors {
				if sel.Matches(r.Network, r.Station, r.Location, r.Channel) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
			start, end, ok := streamepoch.Intersect(r.ChannelStart, r.ChannelEnd, r.ValidityStart, r.ValidityEnd)
			if !ok {
				continue
			}
			start, end, ok = streamepoch.Intersect(start, end, winStart, winEnd)
			if !ok {
				continue
			}
			key := string(r.Service) + "\x00" + r.EndpointURL
			g, present := groups[key]
			if !present {
				g = &catalog.Group{Endpoint: catalog.Endpoint{Service: r.Service, URL: r.EndpointURL, Primary: r.Primary}}
				groups[key] = g
			}
			g.Epochs = append(g.Epochs, streamepoch.StreamEpoch{
				Network: r.Network, Station: r.Station, Location: r.Location, Channel: r.Channel,
				StartTime: start, EndTime: end,
			})
		}
	}

	result := make([]catalog.Group, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g.Epochs, func(i, j int) bool { return streamepoch.Less(g.Epochs[i], g.Epochs[j]) })
		result = append(result, *g)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Endpoint.URL < result[j].Endpoint.URL })
	return result, nil
}
