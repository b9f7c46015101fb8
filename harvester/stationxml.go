// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package harvester

import "encoding/xml"

// stationInventory mirrors the subset of FDSN StationXML the
// harvester needs to resolve a route's wildcarded selector into
// concrete channel epochs: network/station/channel codes and their
// validity windows and restricted status. Level=channel is always
// requested, so Channel elements are always present.
type stationInventory struct {
	XMLName xml.Name        `xml:"FDSNStationXML"`
	Network []stationXMLNet `xml:"Network"`
}

type stationXMLNet struct {
	Code    string              `xml:"code,attr"`
	Station []stationXMLStation `xml:"Station"`
}

type stationXMLStation struct {
	Code    string              `xml:"code,attr"`
	Channel []stationXMLChannel `xml:"Channel"`
}

type stationXMLChannel struct {
	Code             string `xml:"code,attr"`
	LocationCode     string `xml:"locationCode,attr"`
	StartDate        string `xml:"startDate,attr"`
	EndDate          string `xml:"endDate,attr"`
	RestrictedStatus string `xml:"restrictedStatus,attr"`
}
