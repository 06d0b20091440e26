package state

import (
	"crypto/sha256"
	"encoding/json"
	"strings"
	"time"

	"github.com/route-beacon/bird-ingester/internal/bgp"
	"github.com/route-beacon/bird-ingester/internal/birdc"
)

// ParsedRoute is one route source of a table snapshot in storage form.
type ParsedRoute struct {
	RouterID   string
	TableName  string
	AFI        int // 4 or 6
	Prefix     string
	PathIndex  int // occurrence of Protocol among the prefix's sources
	Protocol   string
	Family     string
	PrefixType string
	Bestpath   bool
	Pref       int
	Since      string
	Nexthop    string
	Nexthops   []birdc.Nexthop
	ASPath     string
	Origin     string
	LocalPref  *int64
	MED        *int64
	OriginASN  *int
	CommStd    []string
	CommExt    []string
	CommLarge  []string
	Attrs      map[string]string

	// Fingerprint is a sha256 over the decoded source. Two snapshots holding
	// the same fingerprint for a key hold the same route.
	Fingerprint []byte
}

// RouteKey identifies a route source within one table.
type RouteKey struct {
	AFI       int
	Prefix    string
	Protocol  string
	PathIndex int
}

func (r *ParsedRoute) Key() RouteKey {
	return RouteKey{AFI: r.AFI, Prefix: r.Prefix, Protocol: r.Protocol, PathIndex: r.PathIndex}
}

// Snapshot is the flattened result of one successful table poll.
type Snapshot struct {
	RouterID  string
	TableName string
	TakenAt   time.Time
	Routes    []*ParsedRoute
	// Raw holds the reply lines the snapshot was decoded from.
	Raw []string
}

// CountByAFI returns the number of routes per address family.
func (s *Snapshot) CountByAFI() map[int]int {
	out := map[int]int{4: 0, 6: 0}
	for _, r := range s.Routes {
		out[r.AFI]++
	}
	return out
}

// FlattenTable turns a decoded route table into one row per source.
func FlattenTable(routerID, tableName string, rt *birdc.RouteTable) []*ParsedRoute {
	if rt == nil {
		return nil
	}
	var routes []*ParsedRoute
	for _, entry := range rt.Entries {
		afi := AFIOf(entry.Prefix)
		seen := make(map[string]int)
		for _, src := range entry.Sources {
			idx := seen[src.Protocol]
			seen[src.Protocol] = idx + 1

			pa := bgp.FromSource(src)
			r := &ParsedRoute{
				RouterID:    routerID,
				TableName:   tableName,
				AFI:         afi,
				Prefix:      entry.Prefix,
				PathIndex:   idx,
				Protocol:    src.Protocol,
				Family:      string(src.Family),
				PrefixType:  src.PrefixType,
				Bestpath:    src.Bestpath,
				Pref:        src.Pref,
				Since:       src.Since,
				Nexthop:     pa.Nexthop,
				Nexthops:    src.Nexthops,
				ASPath:      pa.ASPath,
				Origin:      pa.Origin,
				LocalPref:   widen(pa.LocalPref),
				MED:         widen(pa.MED),
				OriginASN:   pa.OriginASN,
				CommStd:     pa.CommStd,
				CommExt:     pa.CommExt,
				CommLarge:   pa.CommLarge,
				Attrs:       pa.Attrs,
				Fingerprint: fingerprint(src),
			}
			if len(r.Attrs) == 0 {
				r.Attrs = nil
			}
			routes = append(routes, r)
		}
	}
	return routes
}

// AFIOf returns 6 for IPv6 prefixes (including ROA entries) and 4 otherwise.
func AFIOf(prefix string) int {
	if strings.Contains(prefix, ":") {
		return 6
	}
	return 4
}

func fingerprint(src birdc.RouteSource) []byte {
	// Attributes marshal with sorted keys, so the encoding is stable.
	b, err := json.Marshal(src)
	if err != nil {
		return nil
	}
	h := sha256.Sum256(b)
	return h[:]
}

func widen(v *uint32) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}
