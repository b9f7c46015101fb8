package federator_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/eida/federator/federator"
	"github.com/eida/federator/streamepoch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spoolFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "body")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestMergeMiniseedConcatenates(t *testing.T) {
	a := spoolFile(t, "AAAA")
	b := spoolFile(t, "BBBB")
	results := []federator.SubRequestResult{
		{State: federator.SubRequestOK, SpoolPath: a},
		{State: federator.SubRequestOK, SpoolPath: b},
		{State: federator.SubRequestServerError, SpoolPath: "ignored"},
	}
	var buf bytes.Buffer
	require.NoError(t, federator.Merge(&buf, streamepoch.ServiceDataselect, results))
	assert.Equal(t, "AAAABBBB", buf.String())
}

func TestMergeJSONArrayConcatenatesElements(t *testing.T) {
	a := spoolFile(t, `[{"id":1},{"id":2}]`)
	b := spoolFile(t, `[{"id":3}]`)
	results := []federator.SubRequestResult{
		{State: federator.SubRequestOK, SpoolPath: a},
		{State: federator.SubRequestOK, SpoolPath: b},
	}
	var buf bytes.Buffer
	require.NoError(t, federator.Merge(&buf, streamepoch.ServiceWFCatalog, results))

	var elems []map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &elems))
	require.Len(t, elems, 3)
}

func TestMergeStationXMLDedupesStations(t *testing.T) {
	doc1 := `<?xml version="1.0"?><FDSNStationXML schemaVersion="1.1"><Source>A</Source><Network code="CH"><Station code="AAA" startDate="2015-01-01T00:00:00"></Station></Network></FDSNStationXML>`
	doc2 := `<?xml version="1.0"?><FDSNStationXML schemaVersion="1.1"><Source>B</Source><Network code="CH"><Station code="AAA" startDate="2015-01-01T00:00:00"></Station><Station code="BBB" startDate="2016-01-01T00:00:00"></Station></Network></FDSNStationXML>`
	a := spoolFile(t, doc1)
	b := spoolFile(t, doc2)
	results := []federator.SubRequestResult{
		{State: federator.SubRequestOK, SpoolPath: a},
		{State: federator.SubRequestOK, SpoolPath: b},
	}
	var buf bytes.Buffer
	require.NoError(t, federator.Merge(&buf, streamepoch.ServiceStation, results))
	out := buf.String()
	assert.Equal(t, 1, bytes.Count([]byte(out), []byte("AAA")))
	assert.Contains(t, out, "BBB")
}
