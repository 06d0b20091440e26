package birdc

import (
	"bytes"
	"encoding/json"
)

// Family names the grammar a route source line was matched with.
type Family string

const (
	FamilyROA     Family = "roa"
	FamilyGeneric Family = "generic"
	FamilyBGP     Family = "bgp"
	FamilyOSPF    Family = "ospf"
	FamilyRIP     Family = "rip"
)

// RouteSource is one competing route for a prefix.
type RouteSource struct {
	Family     Family `json:"family"`
	PrefixType string `json:"prefix_type,omitempty"`
	Protocol   string `json:"protocol"`
	Since      string `json:"since"`
	Pref       int    `json:"pref"`
	Bestpath   bool   `json:"bestpath"`

	// BGP
	BGPType string `json:"bgp_type,omitempty"`
	ASN     string `json:"asn,omitempty"`
	From    string `json:"from,omitempty"`
	Metric  *int   `json:"metric,omitempty"`

	// OSPF, RIP
	OSPFType string `json:"ospf_type,omitempty"`
	Metric1  *int   `json:"metric1,omitempty"`
	Metric2  *int   `json:"metric2,omitempty"`
	Tag      string `json:"tag,omitempty"`
	RouterID string `json:"router_id,omitempty"`

	ROA *ROA `json:"roa,omitempty"`

	Nexthops   []Nexthop  `json:"nexthops,omitempty"`
	Type       []string   `json:"type,omitempty"`
	Attributes Attributes `json:"attributes,omitempty"`
}

// ROA holds the validation fields of a route origin authorisation entry.
type ROA struct {
	Max int    `json:"max"`
	ASN string `json:"asn"`
}

// Nexthop is a single forwarding path of a route source.
type Nexthop struct {
	Gateway   string `json:"gateway,omitempty"`
	Interface string `json:"interface,omitempty"`
	MPLS      string `json:"mpls,omitempty"`
	Onlink    bool   `json:"onlink,omitempty"`
	Weight    *int   `json:"weight,omitempty"`
}

// RouteEntry groups the sources decoded for one prefix.
type RouteEntry struct {
	Prefix  string
	Table   string
	Sources []RouteSource
}

// RouteTable is the decoded result of a route query. Entries keep the order
// in which prefixes first appeared in the reply.
type RouteTable struct {
	Entries []RouteEntry
}

// Len returns the number of distinct prefixes.
func (t *RouteTable) Len() int {
	return len(t.Entries)
}

// Prefixes returns the prefixes in reply order.
func (t *RouteTable) Prefixes() []string {
	out := make([]string, 0, len(t.Entries))
	for _, e := range t.Entries {
		out = append(out, e.Prefix)
	}
	return out
}

// Sources returns the sources decoded for prefix.
func (t *RouteTable) Sources(prefix string) ([]RouteSource, bool) {
	for _, e := range t.Entries {
		if e.Prefix == prefix {
			return e.Sources, true
		}
	}
	return nil, false
}

// MarshalJSON encodes the table as an object keyed by prefix, preserving
// reply order.
func (t *RouteTable) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range t.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Prefix)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Sources)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
