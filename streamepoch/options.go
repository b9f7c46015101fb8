package streamepoch

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Service identifies one of the three FDSN/EIDA web services the
// catalog routes for.
type Service string

// The three services named in spec.md §3 ("Endpoint").
const (
	ServiceStation     Service = "station"
	ServiceDataselect  Service = "dataselect"
	ServiceWFCatalog   Service = "wfcatalog"
	ServiceUnspecified Service = ""
)

// ParseService case-folds and validates a service name.
func ParseService(s string) (Service, error) {
	switch strings.ToLower(s) {
	case "station":
		return ServiceStation, nil
	case "dataselect":
		return ServiceDataselect, nil
	case "wfcatalog":
		return ServiceWFCatalog, nil
	case "":
		return ServiceUnspecified, nil
	default:
		return "", newClientError("unknown service %q", s)
	}
}

// Options is the enumerated, per-service option schema called for by
// the Design Notes in spec.md §9: rather than propagate an arbitrary
// dynamic option bag to upstream data centers, every option this
// federator understands is a named field here, decoded once at parse
// time. Any option name that does not map to one of these fields is
// rejected with a ClientError rather than silently forwarded.
type Options struct {
	// Level applies to the station service: "network", "station",
	// "channel", or "response". Defaults to "station".
	Level string `mapstructure:"level"`

	// Quality applies to the dataselect service: D, R, Q, M, or B.
	Quality string `mapstructure:"quality"`

	// MinimumLength applies to the dataselect service: the minimum
	// number of seconds a returned trace segment must span.
	MinimumLength float64 `mapstructure:"minimumlength"`

	// LongestOnly applies to the dataselect service: if true, only
	// the longest segment per channel is returned.
	LongestOnly bool `mapstructure:"longestonly"`

	// IncludeRestricted applies to the station and dataselect
	// services.
	IncludeRestricted bool `mapstructure:"includerestricted"`

	// Format applies to the routing resolver: "post", "get", or
	// "json".
	Format string `mapstructure:"format"`

	// NoData overrides the HTTP status used when nothing matches;
	// FDSN clients may request 404 in place of the default 204.
	NoData int `mapstructure:"nodata"`
}

// knownOptionNames enumerates the recognized query/header parameter
// names, independent of struct field names, so that spelling variants
// (e.g. "longest_only" for "longestonly") are rejected. Names are
// matched case-insensitively; only the spellings below are accepted.
var knownOptionNames = map[string]struct{}{
	"level":             {},
	"quality":           {},
	"minimumlength":     {},
	"longestonly":       {},
	"includerestricted": {},
	"format":            {},
	"nodata":            {},
}

// selectorParamNames are the parameters consumed by the selector
// parser itself (net/sta/loc/cha/start/end/service) and therefore
// never passed into DecodeOptions.
var selectorParamNames = map[string]struct{}{
	"net": {}, "network": {}, "sta": {}, "station": {},
	"loc": {}, "location": {}, "cha": {}, "channel": {},
	"start": {}, "starttime": {}, "end": {}, "endtime": {},
	"service": {},
}

// DecodeOptions decodes a case-folded parameter map into an Options
// value. Unknown parameter names fail the request with a ClientError,
// per spec.md §4.1's "Unknown parameter names fail with a client
// error".
func DecodeOptions(params map[string]interface{}) (Options, error) {
	var opts Options
	for name := range params {
		lower := strings.ToLower(name)
		if _, selector := selectorParamNames[lower]; selector {
			continue
		}
		if _, known := knownOptionNames[lower]; !known {
			return opts, newClientError("unknown parameter %q", name)
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      false,
		Result:           &opts,
		MatchName: func(mapKey, fieldName string) bool {
			return strings.EqualFold(strings.ToLower(mapKey), strings.ToLower(fieldName))
		},
	})
	if err != nil {
		return opts, err
	}
	lowered := make(map[string]interface{}, len(params))
	for k, v := range params {
		lk := strings.ToLower(k)
		if _, selector := selectorParamNames[lk]; selector {
			continue
		}
		lowered[lk] = v
	}
	if err := decoder.Decode(lowered); err != nil {
		return opts, newClientError("%s", err.Error())
	}
	if opts.Level == "" {
		opts.Level = "station"
	}
	return opts, nil
}
