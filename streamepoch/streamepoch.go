// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package streamepoch defines the canonical stream-epoch selector
// model shared by every FDSN/EIDA surface in this repository: the
// federator, the routing resolver, and the harvester all decode their
// input into a StreamEpochList and work from there.
//
// A stream epoch is the atomic unit the rest of the system reasons
// about: a SEED stream identifier (network, station, location,
// channel) paired with a half-open UTC time interval. Selectors carry
// wildcards; concrete epochs, produced only by catalog resolution, do
// not.
package streamepoch

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// FarFuture is the sentinel used for open-ended epochs: an epoch with
// no explicit end is stored and compared as if it ended at this
// instant. It is deliberately far enough in the future that no real
// request window will ever need to distinguish it from "forever".
var FarFuture = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

// EmptyLocation is the canonical empty location code. DashLocation is
// its two-dash wire form: ParseGET and ParsePOST read a "--" location
// as EmptyLocation, and outgoing GET queries and POST lines write
// EmptyLocation as "--".
const (
	EmptyLocation = ""
	DashLocation  = "--"
)

// StreamEpoch is the quintuple (net, sta, loc, cha, [start, end)).
// Any of the four code fields may contain the wildcards '*' and '?'
// in a request selector; after catalog resolution every StreamEpoch
// is concrete, i.e. free of wildcards.
type StreamEpoch struct {
	Network   string
	Station   string
	Location  string
	Channel   string
	StartTime time.Time
	EndTime   time.Time
}

// HasWildcard reports whether any of the four code fields contains a
// SEED wildcard character.
func (se StreamEpoch) HasWildcard() bool {
	for _, code := range []string{se.Network, se.Station, se.Location, se.Channel} {
		if strings.ContainsAny(code, "*?") {
			return true
		}
	}
	return false
}

// Matches reports whether a concrete channel identity (net, sta, loc,
// cha, all wildcard-free) is selected by this, possibly wildcarded,
// StreamEpoch, ignoring time entirely.
func (se StreamEpoch) Matches(net, sta, loc, cha string) bool {
	return codeMatches(se.Network, net) &&
		codeMatches(se.Station, sta) &&
		codeMatches(se.Location, loc) &&
		codeMatches(se.Channel, cha)
}

// codeMatches applies SEED wildcard semantics ('*' any run of
// characters, '?' exactly one character) using the same matcher as
// shell globs, which implements the identical semantics for these two
// metacharacters.
func codeMatches(pattern, code string) bool {
	if pattern == "" {
		return code == ""
	}
	ok, err := path.Match(pattern, code)
	return err == nil && ok
}

// Intersect returns the overlap of two time windows and whether one
// exists. A half-open interval [t1, t2) intersected with [u1, u2) is
// non-empty exactly when max(t1,u1) < min(t2,u2).
func Intersect(t1, t2, u1, u2 time.Time) (time.Time, time.Time, bool) {
	start := t1
	if u1.After(start) {
		start = u1
	}
	end := t2
	if u2.Before(end) {
		end = u2
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// Normalize upper-cases the four code fields, per the data model
// invariant that codes are normalized to upper case on ingest, and
// substitutes FarFuture for a zero EndTime.
func (se StreamEpoch) Normalize() StreamEpoch {
	se.Network = strings.ToUpper(se.Network)
	se.Station = strings.ToUpper(se.Station)
	if se.Location != DashLocation {
		se.Location = strings.ToUpper(se.Location)
	}
	se.Channel = strings.ToUpper(se.Channel)
	if se.EndTime.IsZero() {
		se.EndTime = FarFuture
	}
	return se
}

// String renders the epoch in the POST line-block grammar:
// "NET STA LOC CHA START END", using "--" for an empty location
// code, and omitting EndTime if it is FarFuture (open-ended).
func (se StreamEpoch) String() string {
	loc := se.Location
	if loc == EmptyLocation {
		loc = DashLocation
	}
	end := ""
	if !se.EndTime.Equal(FarFuture) && !se.EndTime.IsZero() {
		end = FormatTime(se.EndTime)
	}
	return fmt.Sprintf("%s %s %s %s %s %s", se.Network, se.Station, loc, se.Channel, FormatTime(se.StartTime), end)
}

// FormatTime renders a time.Time in the ISO-8601 form the FDSN
// services expect, always in UTC with second precision unless a
// fractional second is present.
func FormatTime(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02T15:04:05")
	}
	return t.Format("2006-01-02T15:04:05.000000")
}

// List is a set of StreamEpoch selectors, generally the decoded form
// of a single client request.
type List []StreamEpoch

// Normalize returns a copy of the list with every element normalized.
func (l List) Normalize() List {
	out := make(List, len(l))
	for i, se := range l {
		out[i] = se.Normalize()
	}
	return out
}

// Less orders two concrete stream epochs by (net, sta, loc, cha,
// start), the ordering required within a resolver group by
// spec.md §4.2.
func Less(a, b StreamEpoch) bool {
	if a.Network != b.Network {
		return a.Network < b.Network
	}
	if a.Station != b.Station {
		return a.Station < b.Station
	}
	if a.Location != b.Location {
		return a.Location < b.Location
	}
	if a.Channel != b.Channel {
		return a.Channel < b.Channel
	}
	return a.StartTime.Before(b.StartTime)
}
