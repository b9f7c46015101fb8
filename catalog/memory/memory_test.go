package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/eida/federator/catalog"
	"github.com/eida/federator/catalog/memory"
	"github.com/eida/federator/streamepoch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowFor(net, sta, cha, url string, svc streamepoch.Service, start time.Time) catalog.Row {
	return catalog.Row{
		Network: net, Station: sta, Channel: cha,
		ChannelStart:  start,
		Service:       svc,
		EndpointURL:   url,
		ValidityStart: start,
	}
}

func TestResolveFiltersByWindowAndWildcard(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	t0 := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertBatch(ctx, "ETH", []catalog.Row{
		rowFor("CH", "AAA", "HHZ", "http://eth.example/query", streamepoch.ServiceStation, t0),
	}, t0, true))
	require.NoError(t, store.UpsertBatch(ctx, "BGR", []catalog.Row{
		rowFor("GR", "BFO", "HHZ", "http://bgr.example/query", streamepoch.ServiceDataselect, t0),
	}, t0, true))

	window := catalog.Window{
		Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	groups, err := store.Resolve(ctx, streamepoch.List{{Network: "*", Station: "*", Location: "*", Channel: "*"}},
		streamepoch.ServiceStation, window)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "http://eth.example/query", groups[0].Endpoint.URL)
	for _, g := range groups {
		for _, e := range g.Epochs {
			assert.False(t, e.StartTime.Before(window.Start))
			assert.False(t, e.EndTime.After(window.End))
		}
	}
}

func TestUpsertBatchAtomicity(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	t0 := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertBatch(ctx, "ETH", []catalog.Row{
		rowFor("CH", "AAA", "HHZ", "http://eth.example/a", streamepoch.ServiceStation, t0),
		rowFor("CH", "BBB", "HHZ", "http://eth.example/b", streamepoch.ServiceStation, t0),
	}, t0, true))

	// Re-harvesting with only one of the two streams, closeMissing=true,
	// must end-date rather than drop the vanished one.
	t1 := t0.Add(24 * time.Hour)
	require.NoError(t, store.UpsertBatch(ctx, "ETH", []catalog.Row{
		rowFor("CH", "AAA", "HHZ", "http://eth.example/a", streamepoch.ServiceStation, t0),
	}, t1, true))

	groups, err := store.Resolve(ctx, streamepoch.List{{Network: "*", Station: "*", Location: "*", Channel: "*"}},
		streamepoch.ServiceStation, catalog.Window{Start: t0, End: t1.Add(time.Hour)})
	require.NoError(t, err)

	var sawBBB bool
	for _, g := range groups {
		for _, e := range g.Epochs {
			if e.Station == "BBB" {
				sawBBB = true
				assert.False(t, e.EndTime.After(t1))
			}
		}
	}
	assert.True(t, sawBBB, "end-dated station should still resolve before its close time")
}

func TestDataCenters(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.UpsertBatch(ctx, "ETH", nil, time.Now(), true))
	require.NoError(t, store.UpsertBatch(ctx, "BGR", nil, time.Now(), true))
	names, err := store.DataCenters(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BGR", "ETH"}, names)
}
