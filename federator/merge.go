// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package federator

import (
	"bufio"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/eida/federator/streamepoch"
)

// Merge streams the successful sub-request results of a job into w,
// using the merge strategy appropriate to service, per spec.md §4.7:
// miniSEED is concatenated byte-for-byte, StationXML is merged as a
// single document deduplicated by (network/station code, start
// date), and FDSN-JSON/WFCatalog results are concatenated as a JSON
// array. Results are merged in the order they were dispatched, which
// callers sort by endpoint URL and stream epoch to satisfy the
// ordering guarantee in spec.md §4.2.
func Merge(w io.Writer, service streamepoch.Service, results []SubRequestResult) error {
	switch service {
	case streamepoch.ServiceDataselect:
		return mergeMiniseed(w, results)
	case streamepoch.ServiceStation:
		return mergeStationXML(w, results)
	case streamepoch.ServiceWFCatalog:
		return mergeJSONArray(w, results)
	default:
		return mergeText(w, results)
	}
}

func successfulFiles(results []SubRequestResult) []string {
	var paths []string
	for _, r := range results {
		if r.State == SubRequestOK && r.SpoolPath != "" {
			paths = append(paths, r.SpoolPath)
		}
	}
	return paths
}

// mergeMiniseed concatenates spooled response bodies verbatim: a
// miniSEED stream is a sequence of self-describing fixed-length
// records, so simple concatenation of well-formed files is itself a
// well-formed merged stream.
func mergeMiniseed(w io.Writer, results []SubRequestResult) error {
	for _, path := range successfulFiles(results) {
		if err := copyFile(w, path); err != nil {
			return fmt.Errorf("federator: merging miniseed from %s: %w", path, err)
		}
	}
	return nil
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// mergeText concatenates plain-text bodies (used by routing/text-like
// responses), each separated by a newline so header lines from
// successive endpoints do not run together.
func mergeText(w io.Writer, results []SubRequestResult) error {
	for _, path := range successfulFiles(results) {
		if err := copyFile(w, path); err != nil {
			return fmt.Errorf("federator: merging text from %s: %w", path, err)
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// mergeJSONArray reads each spooled body as a JSON array (the shape
// of both FDSN-JSON and eidaws-wfcatalog responses) and writes the
// concatenation of their elements as a single array.
func mergeJSONArray(w io.Writer, results []SubRequestResult) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("["); err != nil {
		return err
	}
	first := true
	for _, path := range successfulFiles(results) {
		if err := appendJSONElements(bw, path, &first); err != nil {
			return fmt.Errorf("federator: merging json from %s: %w", path, err)
		}
	}
	if _, err := bw.WriteString("]"); err != nil {
		return err
	}
	return bw.Flush()
}

func appendJSONElements(w *bufio.Writer, path string, first *bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var elements []json.RawMessage
	if err := json.NewDecoder(f).Decode(&elements); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	for _, elem := range elements {
		if !*first {
			if _, err := w.WriteString(","); err != nil {
				return err
			}
		}
		*first = false
		if _, err := w.Write(elem); err != nil {
			return err
		}
	}
	return nil
}

// stationXMLDoc mirrors just enough of the FDSN StationXML schema to
// merge network/station/channel inventories. A Station keeps its full
// inner XML but only its code and startDate attributes; a Network
// keeps only its code attribute and its Station children; the root
// keeps only schemaVersion, Source and Created. Any other attribute
// or element is not carried into the merged document.
type stationXMLDoc struct {
	XMLName xml.Name        `xml:"FDSNStationXML"`
	Schema  string          `xml:"schemaVersion,attr"`
	Source  string          `xml:"Source"`
	Created string          `xml:"Created"`
	Network []stationNetwork `xml:"Network"`
}

type stationNetwork struct {
	Code    string           `xml:"code,attr"`
	Station []stationStation `xml:"Station"`
	Inner   []byte           `xml:",innerxml"`
}

type stationStation struct {
	Code      string `xml:"code,attr"`
	StartDate string `xml:"startDate,attr"`
	Inner     []byte `xml:",innerxml"`
}

// mergeStationXML decodes every spooled StationXML document and
// merges their Network/Station elements into one document,
// deduplicating stations by (network code, station code, start
// date) per spec.md §4.7, since two data centers occasionally serve
// overlapping epochs for the same station.
func mergeStationXML(w io.Writer, results []SubRequestResult) error {
	merged := stationXMLDoc{Schema: "1.1"}
	networks := make(map[string]*stationNetwork)
	var networkOrder []string
	seen := make(map[string]struct{})

	for _, path := range successfulFiles(results) {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("federator: merging stationxml from %s: %w", path, err)
		}
		var doc stationXMLDoc
		err = xml.NewDecoder(f).Decode(&doc)
		f.Close()
		if err != nil {
			return fmt.Errorf("federator: decoding stationxml from %s: %w", path, err)
		}
		if merged.Source == "" {
			merged.Source = doc.Source
			merged.Created = doc.Created
		}
		for _, net := range doc.Network {
			n, ok := networks[net.Code]
			if !ok {
				n = &stationNetwork{Code: net.Code}
				networks[net.Code] = n
				networkOrder = append(networkOrder, net.Code)
			}
			for _, sta := range net.Station {
				key := net.Code + "." + sta.Code + "." + sta.StartDate
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				n.Station = append(n.Station, sta)
			}
		}
	}

	sort.Strings(networkOrder)
	for _, code := range networkOrder {
		merged.Network = append(merged.Network, *networks[code])
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	return enc.Encode(merged)
}
