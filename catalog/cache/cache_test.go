package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/eida/federator/catalog"
	"github.com/eida/federator/catalog/cache"
	"github.com/eida/federator/catalog/memory"
	"github.com/eida/federator/streamepoch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheHitsAndInvalidation(t *testing.T) {
	upstream := memory.New()
	c := cache.New(upstream, 16)
	ctx := context.Background()

	rows := []catalog.Row{{
		Network: "CH", Station: "AAA", Channel: "HHZ",
		ChannelStart: time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
		Service:      streamepoch.ServiceStation,
		EndpointURL:  "http://eth.example/query",
		ValidityStart: time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
	require.NoError(t, c.UpsertBatch(ctx, "ETH", rows, time.Now(), true))

	selectors := streamepoch.List{{Network: "CH", Station: "*", Location: "*", Channel: "*"}}
	window := catalog.Window{Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)}

	first, err := c.Resolve(ctx, selectors, streamepoch.ServiceStation, window)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := c.Resolve(ctx, selectors, streamepoch.ServiceStation, window)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A new batch invalidates the cache even though this query never
	// touched data center BGR directly.
	require.NoError(t, c.UpsertBatch(ctx, "BGR", nil, time.Now(), true))
	third, err := c.Resolve(ctx, selectors, streamepoch.ServiceStation, window)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}
