package postgres

import (
	"sort"

	"github.com/eida/federator/catalog"
	"github.com/eida/federator/streamepoch"
)

// sortGroups orders resolve results by endpoint URL, and each group's
// epochs by (net, sta, loc, cha, start), as required by spec.md §4.2.
func sortGroups(groups []catalog.Group) {
	for i := range groups {
		epochs := groups[i].Epochs
		sort.Slice(epochs, func(a, b int) bool { return streamepoch.Less(epochs[a], epochs[b]) })
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Endpoint.URL < groups[j].Endpoint.URL })
}
