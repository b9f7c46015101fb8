// Copyright 2015 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package federator

import (
	"fmt"
	"net/url"

	"github.com/eida/federator/catalog"
	"github.com/eida/federator/streamepoch"
)

// DecomposeOptions carries the client's original service and options,
// plus the tunables spec.md §4.5 and the Open Questions in spec.md §9
// leave configurable: the POST/GET threshold and the POST body byte
// ceiling.
type DecomposeOptions struct {
	Service streamepoch.Service
	Options streamepoch.Options

	// ForcePost is set when the client's own request was a POST;
	// spec.md §4.5 requires every sub-request to also be a POST in
	// that case.
	ForcePost bool

	// PostThreshold is the epoch-count above which a single
	// endpoint's sub-request switches from GET to POST. Defaults to
	// 500, the value spec.md §9 suggests as a documented default.
	PostThreshold int

	// MaxBodyBytes bounds the encoded size of one POST sub-request
	// body; an endpoint's epoch list is split into as many chunks as
	// necessary to respect it. Defaults to 100KB, per spec.md §9.
	MaxBodyBytes int
}

// DefaultPostThreshold and DefaultMaxBodyBytes are the documented
// defaults called for by the Open Question in spec.md §9.
const (
	DefaultPostThreshold = 500
	DefaultMaxBodyBytes  = 100 * 1024
)

func (o DecomposeOptions) withDefaults() DecomposeOptions {
	if o.PostThreshold <= 0 {
		o.PostThreshold = DefaultPostThreshold
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return o
}

// SubRequest is one upstream HTTP request the dispatcher will issue,
// the output of Decompose (spec.md §4.5).
type SubRequest struct {
	Endpoint      catalog.Endpoint
	Method        string
	URL           string
	Body          []byte
	ContentType   string
	StreamEpochs  streamepoch.List
}

// Decompose converts a resolver grouping into the sub-request
// descriptors the dispatcher will execute, per spec.md §4.5: POST is
// used whenever a group's epoch list exceeds the configured
// threshold, or the client's own request was POST; oversize POST
// bodies are split to stay under MaxBodyBytes; service-specific
// options are propagated verbatim into every sub-request.
func Decompose(groups []catalog.Group, opts DecomposeOptions) []SubRequest {
	opts = opts.withDefaults()
	var subs []SubRequest
	for _, g := range groups {
		usePost := opts.ForcePost || len(g.Epochs) > opts.PostThreshold
		if usePost {
			subs = append(subs, decomposePost(g, opts)...)
		} else {
			subs = append(subs, decomposeGet(g, opts)...)
		}
	}
	return subs
}

func decomposePost(g catalog.Group, opts DecomposeOptions) []SubRequest {
	chunks := chunkByBodySize(g.Epochs, opts.MaxBodyBytes)
	subs := make([]SubRequest, 0, len(chunks))
	for _, chunk := range chunks {
		body := encodeRequestBody(chunk, opts.Options)
		subs = append(subs, SubRequest{
			Endpoint:     g.Endpoint,
			Method:       "POST",
			URL:          g.Endpoint.URL,
			Body:         body,
			ContentType:  "text/plain",
			StreamEpochs: chunk,
		})
	}
	return subs
}

// chunkByBodySize splits epochs into runs whose EncodePOST rendering
// stays under maxBytes; a single epoch that alone exceeds maxBytes is
// still placed in its own chunk rather than dropped, since the
// decomposer must not lose data silently.
func chunkByBodySize(epochs streamepoch.List, maxBytes int) []streamepoch.List {
	var chunks []streamepoch.List
	var current streamepoch.List
	currentSize := 0
	for _, e := range epochs {
		lineSize := len(e.String()) + 1
		if len(current) > 0 && currentSize+lineSize > maxBytes {
			chunks = append(chunks, current)
			current = nil
			currentSize = 0
		}
		current = append(current, e)
		currentSize += lineSize
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func encodeRequestBody(epochs streamepoch.List, opts streamepoch.Options) []byte {
	var header []byte
	if opts.Quality != "" {
		header = append(header, []byte(fmt.Sprintf("quality=%s\n", opts.Quality))...)
	}
	if opts.Level != "" && opts.Level != "station" {
		header = append(header, []byte(fmt.Sprintf("level=%s\n", opts.Level))...)
	}
	if opts.MinimumLength > 0 {
		header = append(header, []byte(fmt.Sprintf("minimumlength=%g\n", opts.MinimumLength))...)
	}
	if opts.LongestOnly {
		header = append(header, []byte("longestonly=true\n")...)
	}
	if opts.IncludeRestricted {
		header = append(header, []byte("includerestricted=true\n")...)
	}
	return append(header, streamepoch.EncodePOST(epochs)...)
}

// decomposeGet emits one GET sub-request per epoch: FDSN GET query
// strings name a single net/sta/loc/cha/start/end tuple, so a group
// that stays under the POST threshold is split one epoch per request
// rather than attempting to encode a list in a query string.
func decomposeGet(g catalog.Group, opts DecomposeOptions) []SubRequest {
	subs := make([]SubRequest, 0, len(g.Epochs))
	for _, e := range g.Epochs {
		u, _ := url.Parse(g.Endpoint.URL)
		q := u.Query()
		q.Set("net", e.Network)
		q.Set("sta", e.Station)
		if e.Location == streamepoch.EmptyLocation {
			q.Set("loc", "--")
		} else {
			q.Set("loc", e.Location)
		}
		q.Set("cha", e.Channel)
		q.Set("start", streamepoch.FormatTime(e.StartTime))
		q.Set("end", streamepoch.FormatTime(e.EndTime))
		applyGetOptions(q, opts.Options)
		u.RawQuery = q.Encode()
		subs = append(subs, SubRequest{
			Endpoint:     g.Endpoint,
			Method:       "GET",
			URL:          u.String(),
			StreamEpochs: streamepoch.List{e},
		})
	}
	return subs
}

func applyGetOptions(q url.Values, opts streamepoch.Options) {
	if opts.Quality != "" {
		q.Set("quality", opts.Quality)
	}
	if opts.Level != "" {
		q.Set("level", opts.Level)
	}
	if opts.MinimumLength > 0 {
		q.Set("minimumlength", fmt.Sprintf("%g", opts.MinimumLength))
	}
	if opts.LongestOnly {
		q.Set("longestonly", "true")
	}
	if opts.IncludeRestricted {
		q.Set("includerestricted", "true")
	}
}
