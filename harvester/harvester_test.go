package harvester_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eida/federator/catalog/memory"
	"github.com/eida/federator/harvester"
	"github.com/eida/federator/streamepoch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const routingXML = `<?xml version="1.0"?>
<routing>
  <route net="CH" sta="AAA" loc="" cha="HHZ">
    <station address="%s" priority="1" start="2015-01-01T00:00:00"/>
    <dataselect address="%s" priority="1" start="2015-01-01T00:00:00"/>
  </route>
</routing>`

const stationXML = `<?xml version="1.0"?>
<FDSNStationXML schemaVersion="1.1">
  <Network code="CH">
    <Station code="AAA">
      <Channel code="HHZ" locationCode="" startDate="2015-01-01T00:00:00"></Channel>
    </Station>
  </Network>
</FDSNStationXML>`

func TestHarvestNodeUpsertsRows(t *testing.T) {
	var stationURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/routing.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, routingXML, stationURL, stationURL+"/dataselect")
	})
	mux.HandleFunc("/fdsnws/station/1/query", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, stationXML)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	stationURL = srv.URL + "/fdsnws/station/1/query"

	store := memory.New()
	h := &harvester.Harvester{Store: store, Services: []streamepoch.Service{streamepoch.ServiceDataselect}}

	n, err := h.HarvestNode(context.Background(), harvester.Node{ID: "CH_DC", RoutingConfigURL: srv.URL + "/routing.xml"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dcs, err := store.DataCenters(context.Background())
	require.NoError(t, err)
	assert.Contains(t, dcs, "CH_DC")
}

func TestHarvestAllIsolatesNodeFailures(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	var stationURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/routing.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, routingXML, stationURL, stationURL+"/dataselect")
	})
	mux.HandleFunc("/fdsnws/station/1/query", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, stationXML)
	})
	good := httptest.NewServer(mux)
	defer good.Close()
	stationURL = good.URL + "/fdsnws/station/1/query"

	store := memory.New()
	h := &harvester.Harvester{
		Store:          store,
		Services:       []streamepoch.Service{streamepoch.ServiceDataselect},
		MaxElapsedTime: 1,
	}

	results := h.HarvestAll(context.Background(), []harvester.Node{
		{ID: "BAD", RoutingConfigURL: bad.URL},
		{ID: "GOOD", RoutingConfigURL: good.URL + "/routing.xml"},
	})
	require.Len(t, results, 2)

	var sawBadErr, sawGoodOK bool
	for _, r := range results {
		if r.Node.ID == "BAD" {
			sawBadErr = r.Err != nil
		}
		if r.Node.ID == "GOOD" {
			sawGoodOK = r.Err == nil && r.Rows == 1
		}
	}
	assert.True(t, sawBadErr, "bad node should report an error")
	assert.True(t, sawGoodOK, "good node should still succeed despite bad node's failure")
}
