// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package harvester periodically pulls each EIDA node's eida-routing
// "localconfig" XML and the FDSN station inventory it references, and
// upserts the resulting channel-epoch-to-endpoint facts into a
// catalog.Store, per spec.md §4.3. It is grounded on
// eidangservices.stationlite.harvest.harvest.RoutingHarvester (the
// system's own Python harvester) for the fetch/parse/validate
// sequence, and on the teacher's worker.Worker for the concurrency
// and retry idiom: an injectable clock, one goroutine per node, and
// per-node failure isolation so one node's bad XML never blocks a
// harvest run for the rest of the federation.
package harvester

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/eida/federator/catalog"
	"github.com/eida/federator/metrics"
	"github.com/eida/federator/streamepoch"
	"github.com/sirupsen/logrus"
)

// Node names one EIDA data center's routing configuration source.
type Node struct {
	// ID is the data center identifier used as catalog.Store's
	// dataCenter key, e.g. "ODC" or "GFZ".
	ID string

	// RoutingConfigURL is the URL of the node's eida-routing
	// "localconfig" routing XML document.
	RoutingConfigURL string
}

// Harvester runs harvest passes over a set of nodes and commits the
// results to a catalog.Store.
type Harvester struct {
	Store  catalog.Store
	Client *http.Client
	Clock  clock.Clock
	Logger *logrus.Logger

	// FetchTimeout bounds one HTTP round trip.
	FetchTimeout time.Duration

	// MaxElapsedTime bounds the total retry budget for one fetch,
	// per spec.md §4.3's "retry schedule with exponential backoff,
	// bounded by a total deadline".
	MaxElapsedTime time.Duration

	// Services lists which service tags are harvested from a route's
	// service elements. Defaults to dataselect and wfcatalog. The
	// station service is always queried to expand wildcards, but
	// station-service rows are only written when ServiceStation is
	// listed here.
	Services []streamepoch.Service
}

func (h *Harvester) setDefaults() {
	if h.Client == nil {
		h.Client = http.DefaultClient
	}
	if h.Clock == nil {
		h.Clock = clock.New()
	}
	if h.Logger == nil {
		h.Logger = logrus.StandardLogger()
	}
	if h.FetchTimeout == 0 {
		h.FetchTimeout = 30 * time.Second
	}
	if h.MaxElapsedTime == 0 {
		h.MaxElapsedTime = 5 * time.Minute
	}
	if h.Services == nil {
		h.Services = []streamepoch.Service{streamepoch.ServiceDataselect, streamepoch.ServiceWFCatalog}
	}
}

// NodeResult reports the outcome of harvesting one node.
type NodeResult struct {
	Node  Node
	Rows  int
	Err   error
}

// HarvestAll runs one harvest pass over every node concurrently,
// isolating failures per node: an error harvesting one node is
// recorded in its NodeResult and does not prevent the others from
// completing, per spec.md §4.3.
func (h *Harvester) HarvestAll(ctx context.Context, nodes []Node) []NodeResult {
	h.setDefaults()
	results := make([]NodeResult, len(nodes))
	var wg sync.WaitGroup
	for i, node := range nodes {
		i, node := i, node
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := h.HarvestNode(ctx, node)
			results[i] = NodeResult{Node: node, Rows: n, Err: err}
			if err != nil {
				h.Logger.WithError(err).WithField("node", node.ID).Error("harvester: harvest failed")
				metrics.HarvestRunsTotal.WithLabelValues(node.ID, "failed").Inc()
			} else {
				h.Logger.WithField("node", node.ID).WithField("rows", n).Info("harvester: harvest complete")
				metrics.HarvestRunsTotal.WithLabelValues(node.ID, "ok").Inc()
				metrics.HarvestRows.WithLabelValues(node.ID).Observe(float64(n))
			}
		}()
	}
	wg.Wait()
	return results
}

// HarvestNode fetches and validates one node's routing configuration
// and the station inventories it references, and commits the result
// as a single batch to the Store. It returns the number of rows
// upserted.
func (h *Harvester) HarvestNode(ctx context.Context, node Node) (int, error) {
	h.setDefaults()

	body, err := h.fetchWithRetry(ctx, node.RoutingConfigURL)
	if err != nil {
		return 0, fmt.Errorf("harvester: fetching routing config for %s: %w", node.ID, err)
	}

	var doc routingDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return 0, fmt.Errorf("harvester: parsing routing xml for %s: %w", node.ID, err)
	}

	var rows []catalog.Row
	dedup := make(map[string]struct{})
	now := h.Clock.Now()

	for _, route := range doc.Routes {
		stationURL := primaryAddress(route.Stations)
		if stationURL == "" {
			continue
		}
		channels, err := h.harvestStationXML(ctx, stationURL, route)
		if err != nil {
			h.Logger.WithError(err).WithFields(logrus.Fields{
				"node": node.ID, "net": route.Network, "sta": route.Station,
			}).Warn("harvester: skipping route, station inventory fetch failed")
			continue
		}

		for _, svc := range h.Services {
			services := routingServicesFor(route, svc)
			primary := primaryAddress(services)
			if primary == "" {
				continue
			}
			for _, ch := range channels {
				row, err := rowFromChannel(ch, svc, primary)
				if err != nil {
					return 0, fmt.Errorf("harvester: validating channel epoch for %s: %w", node.ID, err)
				}
				key := fmt.Sprintf("%s.%s.%s.%s.%s.%s.%s", row.Network, row.Station, row.Location, row.Channel,
					streamepoch.FormatTime(row.ChannelStart), row.Service, row.EndpointURL)
				if _, dup := dedup[key]; dup {
					return 0, fmt.Errorf("harvester: duplicate (net,sta,loc,cha,start,service,endpoint) in %s: %s", node.ID, key)
				}
				dedup[key] = struct{}{}
				rows = append(rows, row.Normalize())
			}
		}
	}

	if err := h.Store.UpsertBatch(ctx, node.ID, rows, now, true); err != nil {
		return 0, fmt.Errorf("harvester: committing batch for %s: %w", node.ID, err)
	}
	return len(rows), nil
}

func routingServicesFor(route routingRoute, svc streamepoch.Service) []routingService {
	switch svc {
	case streamepoch.ServiceDataselect:
		return route.DataSel
	case streamepoch.ServiceWFCatalog:
		return route.WFCat
	case streamepoch.ServiceStation:
		return route.Stations
	default:
		return nil
	}
}

// primaryAddress returns the address of the priority-1 service among
// candidates, per the original harvester's "only consider priority=1"
// rule.
func primaryAddress(candidates []routingService) string {
	for _, c := range candidates {
		if c.Priority == 1 && c.Address != "" {
			return c.Address
		}
	}
	return ""
}

// harvestStationXML resolves a route's (possibly wildcarded) selector
// against the station service's inventory at level=channel, per the
// original harvester's approach of using the station service itself
// to expand wildcards rather than trying to reimplement inventory
// knowledge in the harvester.
func (h *Harvester) harvestStationXML(ctx context.Context, stationURL string, route routingRoute) ([]harvestedChannel, error) {
	u, err := url.Parse(stationURL)
	if err != nil {
		return nil, fmt.Errorf("bad station url %q: %w", stationURL, err)
	}
	q := u.Query()
	q.Set("net", orStar(route.Network))
	q.Set("sta", orStar(route.Station))
	q.Set("loc", orStar(route.Location))
	q.Set("cha", orStar(route.Channel))
	q.Set("level", "channel")
	u.RawQuery = q.Encode()

	body, err := h.fetchWithRetry(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var inv stationInventory
	if err := xml.Unmarshal(body, &inv); err != nil {
		return nil, fmt.Errorf("parsing stationxml: %w", err)
	}

	var channels []harvestedChannel
	for _, net := range inv.Network {
		for _, sta := range net.Station {
			for _, cha := range sta.Channel {
				cha.LocationCode = strings.TrimSpace(cha.LocationCode)
				channels = append(channels, harvestedChannel{Network: net.Code, Station: sta.Code, Channel: cha})
			}
		}
	}
	return channels, nil
}

// harvestedChannel threads the enclosing network/station codes onto a
// channel record, since stationXMLChannel itself carries only the
// channel-level code attribute.
type harvestedChannel struct {
	Network string
	Station string
	Channel stationXMLChannel
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

// rowFromChannel converts one decoded station channel into a
// catalog.Row, rejecting a malformed epoch (end before start) per
// spec.md §4.3's structural validation requirement.
func rowFromChannel(hc harvestedChannel, svc streamepoch.Service, endpointURL string) (catalog.Row, error) {
	ch := hc.Channel
	start, err := streamepoch.ParseTime(ch.StartDate)
	if err != nil {
		return catalog.Row{}, fmt.Errorf("bad channel startDate %q: %w", ch.StartDate, err)
	}
	var end time.Time
	if ch.EndDate != "" {
		end, err = streamepoch.ParseTime(ch.EndDate)
		if err != nil {
			return catalog.Row{}, fmt.Errorf("bad channel endDate %q: %w", ch.EndDate, err)
		}
		if !start.Before(end) {
			return catalog.Row{}, fmt.Errorf("channel epoch %s.%s.%s ends before it starts", hc.Network, hc.Station, ch.Code)
		}
	}
	return catalog.Row{
		Network: hc.Network, Station: hc.Station, Location: ch.LocationCode, Channel: ch.Code,
		ChannelStart: start, ChannelEnd: end,
		Service:       svc,
		EndpointURL:   endpointURL,
		Primary:       true,
		ValidityStart: start,
		ValidityEnd:   end,
	}, nil
}

// fetchWithRetry performs an HTTP GET with a bounded exponential
// backoff retry schedule, per spec.md §4.3.
func (h *Harvester) fetchWithRetry(ctx context.Context, target string) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = h.MaxElapsedTime
	withCtx := backoff.WithContext(bo, ctx)

	var body []byte
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, h.FetchTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := h.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNoContent {
			return backoff.Permanent(errNoContent{url: target})
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("fetching %s: %s", target, resp.Status)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("fetching %s: %s", target, resp.Status))
		}

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	if err := backoff.Retry(op, withCtx); err != nil {
		return nil, err
	}
	return body, nil
}

type errNoContent struct{ url string }

func (e errNoContent) Error() string { return fmt.Sprintf("no content from %s", e.url) }
