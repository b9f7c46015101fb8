// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package harvester

import "encoding/xml"

// routingDoc mirrors the EIDA routing "localconfig" XML schema
// (http://geofon.gfz-potsdam.de/ns/Routing/1.0/), a flat list of
// <route> elements each naming a SEED stream selector and the
// service endpoints that serve it.
type routingDoc struct {
	XMLName xml.Name      `xml:"routing"`
	Routes  []routingRoute `xml:"route"`
}

type routingRoute struct {
	Network  string           `xml:"net,attr"`
	Station  string           `xml:"sta,attr"`
	Location string           `xml:"loc,attr"`
	Channel  string           `xml:"cha,attr"`
	Stations []routingService `xml:"station"`
	DataSel  []routingService `xml:"dataselect"`
	WFCat    []routingService `xml:"wfcatalog"`
}

// routingService is one priority-ranked endpoint for a route. Only
// priority 1 is harvested; priority 2+ entries name failover
// alternates the original eida-routing config carries but this
// federator does not yet consume.
type routingService struct {
	Address  string `xml:"address,attr"`
	Priority int    `xml:"priority,attr"`
	Start    string `xml:"start,attr"`
	End      string `xml:"end,attr"`
}
