package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/eida/federator/catalog"
	"github.com/eida/federator/catalog/postgres"
	"github.com/eida/federator/streamepoch"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a connection using PGCONNSTR, skipping the test
// entirely when no test database is configured. See
// http://www.postgresql.org/docs/current/static/libpq-envars.html for
// how to point this at a throwaway database.
func newTestStore(t *testing.T) *postgres.Store {
	conn := os.Getenv("PGCONNSTR")
	if conn == "" {
		t.Skip("PGCONNSTR not set; skipping PostgreSQL catalog tests")
	}
	s, err := postgres.New(conn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertBatchAndResolve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	harvestedAt := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []catalog.Row{
		{
			Network: "CH", Station: "AAA", Location: "", Channel: "HHZ",
			ChannelStart: time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
			Service:      streamepoch.ServiceStation,
			EndpointURL:  "http://eth.example/fdsnws/station/1/query",
			Primary:      true,
			ValidityStart: time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	require.NoError(t, s.UpsertBatch(ctx, "ETH", rows, harvestedAt, true))

	groups, err := s.Resolve(ctx, streamepoch.List{{Network: "CH", Station: "*", Location: "*", Channel: "*"}},
		streamepoch.ServiceStation,
		catalog.Window{
			Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
		})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "http://eth.example/fdsnws/station/1/query", groups[0].Endpoint.URL)
	require.Len(t, groups[0].Epochs, 1)
}

func TestUpsertBatchAtomicSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	harvestedAt := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	first := []catalog.Row{{
		Network: "GR", Station: "BFO", Channel: "HHZ",
		ChannelStart: time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
		Service:      streamepoch.ServiceDataselect,
		EndpointURL:  "http://bgr.example/fdsnws/dataselect/1/query",
		ValidityStart: time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
	require.NoError(t, s.UpsertBatch(ctx, "BGR", first, harvestedAt, true))

	// A no-op re-harvest must be idempotent: resolving after it still
	// yields a single group.
	require.NoError(t, s.UpsertBatch(ctx, "BGR", first, harvestedAt.Add(time.Hour), true))

	groups, err := s.Resolve(ctx, streamepoch.List{{Network: "GR", Station: "*", Location: "*", Channel: "*"}},
		streamepoch.ServiceDataselect, catalog.Window{})
	require.NoError(t, err)
	require.Len(t, groups, 1)
}
