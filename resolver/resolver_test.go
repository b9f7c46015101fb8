package resolver_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eida/federator/catalog"
	"github.com/eida/federator/catalog/memory"
	"github.com/eida/federator/resolver"
	"github.com/eida/federator/streamepoch"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverQueryPostFormat(t *testing.T) {
	store := memory.New()
	t0 := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertBatch(context.Background(), "ETH", []catalog.Row{{
		Network: "CH", Station: "AAA", Channel: "HHZ",
		ChannelStart: t0, Service: streamepoch.ServiceDataselect,
		EndpointURL: "http://eth.example/fdsnws/dataselect/1/query", ValidityStart: t0,
	}}, t0, true))

	handler := resolver.NewRouter(store, logrus.StandardLogger())
	srv := httptest.NewServer(handler)
	defer srv.Close()

	body := "CH AAA * HHZ 2020-01-01T00:00:00 2020-01-02T00:00:00\n"
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/eidaws/routing/1/query?service=dataselect", strings.NewReader(body))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResolverQueryNoMatchReturnsNoContent(t *testing.T) {
	store := memory.New()
	handler := resolver.NewRouter(store, logrus.StandardLogger())
	srv := httptest.NewServer(handler)
	defer srv.Close()

	body := "XX YYY * ZZZ 2020-01-01T00:00:00 2020-01-02T00:00:00\n"
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/eidaws/routing/1/query?service=dataselect", strings.NewReader(body))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
