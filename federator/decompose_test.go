package federator_test

import (
	"testing"
	"time"

	"github.com/eida/federator/catalog"
	"github.com/eida/federator/federator"
	"github.com/eida/federator/streamepoch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func epoch(sta string, start time.Time) streamepoch.StreamEpoch {
	return streamepoch.StreamEpoch{
		Network: "CH", Station: sta, Location: "", Channel: "HHZ",
		StartTime: start, EndTime: start.Add(24 * time.Hour),
	}
}

func TestDecomposeUsesGetUnderThreshold(t *testing.T) {
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	group := catalog.Group{
		Endpoint: catalog.Endpoint{Service: streamepoch.ServiceDataselect, URL: "http://dc1.example/fdsnws/dataselect/1/query"},
		Epochs:   streamepoch.List{epoch("AAA", t0), epoch("BBB", t0)},
	}
	subs := federator.Decompose([]catalog.Group{group}, federator.DecomposeOptions{PostThreshold: 10})
	require.Len(t, subs, 2)
	for _, s := range subs {
		assert.Equal(t, "GET", s.Method)
		assert.Contains(t, s.URL, "net=CH")
	}
}

func TestDecomposeUsesPostOverThreshold(t *testing.T) {
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	group := catalog.Group{
		Endpoint: catalog.Endpoint{Service: streamepoch.ServiceDataselect, URL: "http://dc1.example/fdsnws/dataselect/1/query"},
		Epochs:   streamepoch.List{epoch("AAA", t0), epoch("BBB", t0), epoch("CCC", t0)},
	}
	subs := federator.Decompose([]catalog.Group{group}, federator.DecomposeOptions{PostThreshold: 2})
	require.Len(t, subs, 1)
	assert.Equal(t, "POST", subs[0].Method)
	assert.Contains(t, string(subs[0].Body), "AAA")
	assert.Contains(t, string(subs[0].Body), "CCC")
}

func TestDecomposeForcePostEvenUnderThreshold(t *testing.T) {
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	group := catalog.Group{
		Endpoint: catalog.Endpoint{Service: streamepoch.ServiceDataselect, URL: "http://dc1.example/fdsnws/dataselect/1/query"},
		Epochs:   streamepoch.List{epoch("AAA", t0)},
	}
	subs := federator.Decompose([]catalog.Group{group}, federator.DecomposeOptions{ForcePost: true, PostThreshold: 10})
	require.Len(t, subs, 1)
	assert.Equal(t, "POST", subs[0].Method)
}

func TestDecomposeSplitsOversizePostBody(t *testing.T) {
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	var epochs streamepoch.List
	for i := 0; i < 20; i++ {
		epochs = append(epochs, epoch("STA", t0.Add(time.Duration(i)*time.Hour)))
	}
	group := catalog.Group{
		Endpoint: catalog.Endpoint{Service: streamepoch.ServiceDataselect, URL: "http://dc1.example/fdsnws/dataselect/1/query"},
		Epochs:   epochs,
	}
	subs := federator.Decompose([]catalog.Group{group}, federator.DecomposeOptions{ForcePost: true, MaxBodyBytes: 200})
	require.Greater(t, len(subs), 1)
	for _, s := range subs {
		assert.LessOrEqual(t, len(s.Body), 200+100) // one line may push slightly over MaxBodyBytes itself
	}
}
