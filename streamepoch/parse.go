package streamepoch

import (
	"bufio"
	"bytes"
	"io"
	"net/url"
	"strings"
	"time"
)

// Request is the decoded form of an inbound FDSN/EIDA query: the
// selector list, the requested service (if any), and the validated
// per-service options.
type Request struct {
	Selectors List
	Service   Service
	Options   Options
}

// ParseGET decodes an FDSN-style GET query string into a Request, per
// spec.md §4.1. Parameters are case-folded; wildcards are preserved
// for later resolution; start must strictly precede end.
func ParseGET(query url.Values) (Request, error) {
	folded := make(url.Values, len(query))
	for k, vs := range query {
		lk := strings.ToLower(k)
		folded[lk] = append(folded[lk], vs...)
	}
	query = folded

	params := make(map[string]interface{}, len(query))
	for k, vs := range query {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	net := firstOf(query, "net", "network")
	sta := firstOf(query, "sta", "station")
	loc := firstOf(query, "loc", "location")
	cha := firstOf(query, "cha", "channel")
	startStr := firstOf(query, "start", "starttime")
	endStr := firstOf(query, "end", "endtime")

	start, end, err := parseWindow(startStr, endStr)
	if err != nil {
		return Request{}, err
	}

	se := StreamEpoch{
		Network:   orStar(net),
		Station:   orStar(sta),
		Location:  orStar(loc),
		Channel:   orStar(cha),
		StartTime: start,
		EndTime:   end,
	}
	if loc == DashLocation {
		se.Location = EmptyLocation
	}

	service, err := ParseService(firstOf(query, "service"))
	if err != nil {
		return Request{}, err
	}

	opts, err := DecodeOptions(params)
	if err != nil {
		return Request{}, err
	}

	return Request{
		Selectors: List{se.Normalize()},
		Service:   service,
		Options:   opts,
	}, nil
}

func firstOf(query url.Values, names ...string) string {
	for _, n := range names {
		if v := query.Get(n); v != "" {
			return v
		}
	}
	return ""
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

func parseWindow(startStr, endStr string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if startStr != "" {
		start, err = ParseTime(startStr)
		if err != nil {
			return start, end, newClientError("bad start time %q: %s", startStr, err)
		}
	}
	if endStr != "" {
		end, err = ParseTime(endStr)
		if err != nil {
			return start, end, newClientError("bad end time %q: %s", endStr, err)
		}
	} else {
		end = FarFuture
	}
	if !start.IsZero() && !start.Before(end) {
		return start, end, newClientError("start time %s must precede end time %s", startStr, endStr)
	}
	return start, end, nil
}

// ParseTime parses an ISO-8601 timestamp with optional fractional
// seconds, rejecting any timezone other than UTC, per spec.md §4.1.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z")
	} else if strings.ContainsAny(s, "+") || strings.Count(s, "-") > 2 {
		return time.Time{}, newClientError("only UTC timestamps are accepted")
	}
	layouts := []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

// ParsePOST decodes a line-block POST body, per spec.md §4.1: header
// lines of the form "key=value" set request-wide options; all other
// non-blank lines each name one whitespace-separated stream epoch
// "NET STA LOC CHA START [END]", with "--" accepted as a location
// code and END optional (open-ended).
func ParsePOST(body io.Reader) (Request, error) {
	params := make(map[string]interface{})
	var selectors List
	var service Service

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if eq := strings.IndexByte(line, '='); eq >= 0 && !strings.ContainsAny(line[:eq], " \t") {
			key := strings.TrimSpace(line[:eq])
			value := strings.TrimSpace(line[eq+1:])
			if strings.EqualFold(key, "service") {
				var err error
				service, err = ParseService(value)
				if err != nil {
					return Request{}, LineError{Line: lineNo, Err: err}
				}
				continue
			}
			params[key] = value
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 5 || len(fields) > 6 {
			return Request{}, LineError{Line: lineNo, Err: newClientError("expected 5 or 6 whitespace-separated fields, got %d", len(fields))}
		}
		loc := fields[2]
		if loc == DashLocation {
			loc = EmptyLocation
		}
		start, err := ParseTime(fields[4])
		if err != nil {
			return Request{}, LineError{Line: lineNo, Err: err}
		}
		end := FarFuture
		if len(fields) == 6 {
			end, err = ParseTime(fields[5])
			if err != nil {
				return Request{}, LineError{Line: lineNo, Err: err}
			}
			if !start.Before(end) {
				return Request{}, LineError{Line: lineNo, Err: newClientError("start time must strictly precede end time")}
			}
		}
		se := StreamEpoch{
			Network:   fields[0],
			Station:   fields[1],
			Location:  loc,
			Channel:   fields[3],
			StartTime: start,
			EndTime:   end,
		}
		selectors = append(selectors, se.Normalize())
	}
	if err := scanner.Err(); err != nil {
		return Request{}, err
	}

	if len(selectors) == 0 {
		return Request{}, newClientError("POST body contained no stream epoch lines")
	}

	opts, err := DecodeOptions(params)
	if err != nil {
		return Request{}, err
	}

	return Request{Selectors: selectors, Service: service, Options: opts}, nil
}

// EncodePOST renders a selector list back into the line-block POST
// grammar understood by ParsePOST, and used unchanged as the wire
// format for sub-requests dispatched upstream (spec.md §4.5/§6).
func EncodePOST(selectors List) []byte {
	var buf bytes.Buffer
	for _, se := range selectors {
		buf.WriteString(se.String())
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
