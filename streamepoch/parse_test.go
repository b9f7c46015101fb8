package streamepoch

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGETBasic(t *testing.T) {
	q := url.Values{}
	q.Set("net", "ch")
	q.Set("sta", "aaa")
	q.Set("start", "2020-01-01T00:00:00")
	q.Set("end", "2020-01-02T00:00:00")
	q.Set("level", "channel")

	req, err := ParseGET(q)
	require.NoError(t, err)
	require.Len(t, req.Selectors, 1)
	assert.Equal(t, "CH", req.Selectors[0].Network)
	assert.Equal(t, "AAA", req.Selectors[0].Station)
	assert.Equal(t, "*", req.Selectors[0].Location)
	assert.Equal(t, "channel", req.Options.Level)
}

func TestParseGETRejectsUnknownParameter(t *testing.T) {
	q := url.Values{}
	q.Set("net", "CH")
	q.Set("bogus", "1")
	_, err := ParseGET(q)
	require.Error(t, err)
	var ce ClientError
	require.ErrorAs(t, err, &ce)
}

func TestParseGETRejectsInvertedWindow(t *testing.T) {
	q := url.Values{}
	q.Set("start", "2020-01-02T00:00:00")
	q.Set("end", "2020-01-01T00:00:00")
	_, err := ParseGET(q)
	require.Error(t, err)
}

func TestParsePOSTBasic(t *testing.T) {
	body := strings.NewReader(strings.Join([]string{
		"quality=B",
		"CH AAA -- HHZ 2020-01-01T00:00:00 2020-01-01T01:00:00",
		"GR BFO -- HHZ 2020-01-01T00:00:00 2020-01-01T01:00:00",
	}, "\n"))
	req, err := ParsePOST(body)
	require.NoError(t, err)
	require.Len(t, req.Selectors, 2)
	assert.Equal(t, "CH", req.Selectors[0].Network)
	assert.Equal(t, EmptyLocation, req.Selectors[0].Location)
	assert.Equal(t, "B", req.Options.Quality)
}

func TestParsePOSTEmptyBodyIsError(t *testing.T) {
	body := strings.NewReader("quality=B\n")
	_, err := ParsePOST(body)
	require.Error(t, err)
}

func TestParsePOSTLineNumberedError(t *testing.T) {
	body := strings.NewReader(strings.Join([]string{
		"CH AAA -- HHZ 2020-01-01T00:00:00 2020-01-01T01:00:00",
		"GARBAGE LINE HERE",
	}, "\n"))
	_, err := ParsePOST(body)
	require.Error(t, err)
	var le LineError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 2, le.Line)
}

func TestPOSTRoundTrip(t *testing.T) {
	body := strings.NewReader(strings.Join([]string{
		"CH AAA -- HHZ 2020-01-01T00:00:00 2020-01-01T01:00:00",
		"GR BFO -- HHZ 2020-01-01T00:00:00 2020-01-01T01:00:00",
	}, "\n"))
	req, err := ParsePOST(body)
	require.NoError(t, err)

	encoded := EncodePOST(req.Selectors)
	reparsed, err := ParsePOST(strings.NewReader(string(encoded)))
	require.NoError(t, err)
	assert.ElementsMatch(t, req.Selectors, reparsed.Selectors)
}

func TestStreamEpochMatches(t *testing.T) {
	se := StreamEpoch{Network: "CH", Station: "*", Location: "*", Channel: "HH?"}
	assert.True(t, se.Matches("CH", "AAA", "", "HHZ"))
	assert.False(t, se.Matches("GR", "AAA", "", "HHZ"))
	assert.False(t, se.Matches("CH", "AAA", "", "BHZ"))
}

func TestIntersect(t *testing.T) {
	t1, _ := ParseTime("2020-01-01T00:00:00")
	t2, _ := ParseTime("2020-01-02T00:00:00")
	u1, _ := ParseTime("2020-01-01T12:00:00")
	u2, _ := ParseTime("2020-01-03T00:00:00")
	start, end, ok := Intersect(t1, t2, u1, u2)
	require.True(t, ok)
	assert.Equal(t, u1, start)
	assert.Equal(t, t2, end)

	_, _, ok = Intersect(t1, t2, t2, u2)
	assert.False(t, ok)
}
