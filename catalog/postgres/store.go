// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eida/federator/catalog"
	"github.com/eida/federator/streamepoch"
)

// UpsertBatch implements catalog.Store. The whole operation runs in a
// single REPEATABLE READ transaction so that readers either see all
// of the batch's effects or none of them (spec.md §3).
func (s *Store) UpsertBatch(ctx context.Context, dataCenter string, rows []catalog.Row, harvestedAt time.Time, closeMissing bool) error {
	normalized := make([]catalog.Row, len(rows))
	newKeys := make(map[routeKey]bool, len(rows))
	for i, r := range rows {
		normalized[i] = r.Normalize()
		newKeys[keyOf(normalized[i])] = true
	}

	return withTx(s.db, false, func(tx *sql.Tx) error {
		existing, err := existingRouteKeys(ctx, tx, dataCenter)
		if err != nil {
			return err
		}

		var toReplace, toReconcile []int64
		for key, id := range existing {
			if newKeys[key] {
				toReplace = append(toReplace, id)
			} else {
				toReconcile = append(toReconcile, id)
			}
		}
		if err := deleteRoutes(tx, toReplace); err != nil {
			return err
		}
		if closeMissing {
			if err := closeRoutes(tx, toReconcile, harvestedAt); err != nil {
				return err
			}
		} else {
			if err := deleteRoutes(tx, toReconcile); err != nil {
				return err
			}
		}

		for _, r := range normalized {
			if err := insertRoute(ctx, tx, dataCenter, r, harvestedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

type routeKey struct {
	net, sta, loc, cha string
	start              time.Time
	service            streamepoch.Service
	url                string
}

func keyOf(r catalog.Row) routeKey {
	return routeKey{r.Network, r.Station, r.Location, r.Channel, r.ChannelStart, r.Service, r.EndpointURL}
}

func existingRouteKeys(ctx context.Context, tx *sql.Tx, dataCenter string) (map[routeKey]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT routes.id, networks.code, stations.code, channels.location, channels.code,
		       channels.start_at, endpoints.service, endpoints.url
		FROM routes
		JOIN channels ON channels.id = routes.channel_id
		JOIN stations ON stations.id = channels.station_id
		JOIN networks ON networks.id = stations.network_id
		JOIN endpoints ON endpoints.id = routes.endpoint_id
		WHERE routes.data_center = $1`, dataCenter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[routeKey]int64)
	for rows.Next() {
		var id int64
		var key routeKey
		var service string
		if err := rows.Scan(&id, &key.net, &key.sta, &key.loc, &key.cha, &key.start, &service, &key.url); err != nil {
			return nil, err
		}
		key.service = streamepoch.Service(service)
		result[key] = id
	}
	return result, rows.Err()
}

func deleteRoutes(tx *sql.Tx, ids []int64) error {
	for _, id := range ids {
		if _, err := tx.Exec("DELETE FROM routes WHERE id = $1", id); err != nil {
			return err
		}
	}
	return nil
}

func closeRoutes(tx *sql.Tx, ids []int64, at time.Time) error {
	for _, id := range ids {
		if _, err := tx.Exec("UPDATE routes SET valid_until = $1 WHERE id = $2 AND valid_until > $1", at, id); err != nil {
			return err
		}
	}
	return nil
}

func insertRoute(ctx context.Context, tx *sql.Tx, dataCenter string, r catalog.Row, harvestedAt time.Time) error {
	networkID, err := upsertParent(tx, "networks", "code", r.Network, r.ChannelStart, r.ChannelEnd, 0)
	if err != nil {
		return err
	}
	stationID, err := upsertStation(tx, networkID, r.Station, r.ChannelStart, r.ChannelEnd)
	if err != nil {
		return err
	}
	channelID, err := upsertChannel(tx, stationID, r.Location, r.Channel, r.ChannelStart, r.ChannelEnd)
	if err != nil {
		return err
	}
	endpointID, err := upsertEndpoint(tx, string(r.Service), r.EndpointURL)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO routes (channel_id, endpoint_id, data_center, primary_route, valid_from, valid_until, harvested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		channelID, endpointID, dataCenter, r.Primary, r.ValidityStart, r.ValidityEnd, harvestedAt)
	return err
}

func upsertParent(tx *sql.Tx, table, codeCol, code string, start, end time.Time, _ int64) (int64, error) {
	var id int64
	query := fmt.Sprintf(`
		INSERT INTO %s (code, start_at, end_at) VALUES ($1, $2, $3)
		ON CONFLICT (code, start_at) DO UPDATE SET end_at = excluded.end_at
		RETURNING id`, table)
	err := tx.QueryRow(query, code, start, end).Scan(&id)
	return id, err
}

func upsertStation(tx *sql.Tx, networkID int64, code string, start, end time.Time) (int64, error) {
	var id int64
	err := tx.QueryRow(`
		INSERT INTO stations (network_id, code, start_at, end_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (network_id, code, start_at) DO UPDATE SET end_at = excluded.end_at
		RETURNING id`, networkID, code, start, end).Scan(&id)
	return id, err
}

func upsertChannel(tx *sql.Tx, stationID int64, location, code string, start, end time.Time) (int64, error) {
	var id int64
	err := tx.QueryRow(`
		INSERT INTO channels (station_id, location, code, start_at, end_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (station_id, location, code, start_at) DO UPDATE SET end_at = excluded.end_at
		RETURNING id`, stationID, location, code, start, end).Scan(&id)
	return id, err
}

func upsertEndpoint(tx *sql.Tx, service, url string) (int64, error) {
	var id int64
	err := tx.QueryRow(`
		INSERT INTO endpoints (service, url) VALUES ($1, $2)
		ON CONFLICT (service, url) DO UPDATE SET url = excluded.url
		RETURNING id`, service, url).Scan(&id)
	return id, err
}

// DataCenters implements catalog.Store. It lists the data centers that
// currently have at least one route row; a data center whose batches
// left no rows in the routes table is not listed.
func (s *Store) DataCenters(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT data_center FROM routes ORDER BY data_center")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Resolve implements catalog.Store. The SQL query filters only by
// channel epoch against the window and by service; selector matching
// on the SEED codes and the intersection with the route validity
// window are done in Go on the returned rows.
func (s *Store) Resolve(ctx context.Context, selectors streamepoch.List, service streamepoch.Service, window catalog.Window) ([]catalog.Group, error) {
	winStart, winEnd := window.Start, window.End
	if winEnd.IsZero() {
		winEnd = streamepoch.FarFuture
	}

	query := `
		SELECT networks.code, stations.code, channels.location, channels.code,
		       channels.start_at, channels.end_at,
		       routes.valid_from, routes.valid_until,
		       endpoints.service, endpoints.url, routes.primary_route
		FROM routes
		JOIN channels ON channels.id = routes.channel_id
		JOIN stations ON stations.id = channels.station_id
		JOIN networks ON networks.id = stations.network_id
		JOIN endpoints ON endpoints.id = routes.endpoint_id
		WHERE channels.start_at < $1 AND channels.end_at > $2`
	args := []interface{}{winEnd, winStart}
	if service != streamepoch.ServiceUnspecified {
		query += " AND endpoints.service = $3"
		args = append(args, string(service))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make(map[string]*catalog.Group)
	for rows.Next() {
		var net, sta, loc, cha, svc, url string
		var chStart, chEnd, validFrom, validUntil time.Time
		var primary bool
		if err := rows.Scan(&net, &sta, &loc, &cha, &chStart, &chEnd, &validFrom, &validUntil, &svc, &url, &primary); err != nil {
			return nil, err
		}

		matched := len(selectors) == 0
		for _, sel := range selectors {
			if sel.Matches(net, sta, loc, cha) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		start, end, ok := streamepoch.Intersect(chStart, chEnd, validFrom, validUntil)
		if !ok {
			continue
		}
		start, end, ok = streamepoch.Intersect(start, end, winStart, winEnd)
		if !ok {
			continue
		}

		key := svc + "\x00" + url
		g, present := groups[key]
		if !present {
			g = &catalog.Group{Endpoint: catalog.Endpoint{Service: streamepoch.Service(svc), URL: url, Primary: primary}}
			groups[key] = g
		}
		g.Epochs = append(g.Epochs, streamepoch.StreamEpoch{
			Network: net, Station: sta, Location: loc, Channel: cha,
			StartTime: start, EndTime: end,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]catalog.Group, 0, len(groups))
	for _, g := range groups {
		result = append(result, *g)
	}
	sortGroups(result)
	return result, nil
}
