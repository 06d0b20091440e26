package state

import "bytes"

const (
	ActionAdd    = "A"
	ActionDelete = "D"
)

// Change is a route source that appeared, changed or vanished between two
// snapshots of a table.
type Change struct {
	Action string
	Route  *ParsedRoute
}

// Diff compares two snapshots of the same table. New and modified sources
// become ActionAdd changes in cur order, followed by ActionDelete changes for
// sources missing from cur in prev order.
func Diff(prev, cur []*ParsedRoute) []Change {
	old := make(map[RouteKey]*ParsedRoute, len(prev))
	for _, r := range prev {
		old[r.Key()] = r
	}

	var changes []Change
	present := make(map[RouteKey]struct{}, len(cur))
	for _, r := range cur {
		k := r.Key()
		present[k] = struct{}{}
		if p, ok := old[k]; ok && bytes.Equal(p.Fingerprint, r.Fingerprint) {
			continue
		}
		changes = append(changes, Change{Action: ActionAdd, Route: r})
	}
	for _, r := range prev {
		if _, ok := present[r.Key()]; ok {
			continue
		}
		changes = append(changes, Change{Action: ActionDelete, Route: r})
	}
	return changes
}
