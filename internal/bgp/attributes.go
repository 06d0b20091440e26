package bgp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/route-beacon/bird-ingester/internal/birdc"
)

// PathAttributes holds the storage form of a route source's attributes.
type PathAttributes struct {
	Origin    string
	ASPath    string
	Nexthop   string
	MED       *uint32
	LocalPref *uint32
	OriginASN *int
	CommStd   []string
	CommExt   []string
	CommLarge []string
	Attrs     map[string]string // Remaining attributes in text form
}

// FromSource flattens the decoded attributes of src. Sources without BGP
// attributes still yield a nexthop and the remaining attributes.
func FromSource(src birdc.RouteSource) *PathAttributes {
	pa := &PathAttributes{
		Attrs: make(map[string]string),
	}
	attrs := src.Attributes

	if v, ok := attrs.Lookup(nameOrigin...); ok {
		pa.Origin = normalizeOrigin(v.Str)
	}
	if v, ok := attrs.Lookup(nameASPath...); ok && v.Kind == birdc.KindIntList {
		pa.ASPath = v.String()
	}
	if v, ok := attrs.Lookup(nameNextHop...); ok && len(v.Strs) > 0 {
		pa.Nexthop = v.Strs[0]
	} else if len(src.Nexthops) > 0 {
		pa.Nexthop = src.Nexthops[0].Gateway
	}
	if v, ok := attrs.Lookup(nameMED...); ok {
		pa.MED = toUint32(v)
	}
	if v, ok := attrs.Lookup(nameLocalPref...); ok {
		pa.LocalPref = toUint32(v)
	}
	if v, ok := attrs.Lookup(nameCommunity...); ok {
		for _, p := range v.Pairs {
			pa.CommStd = append(pa.CommStd, fmt.Sprintf("%d:%d", p[0], p[1]))
		}
	}
	if v, ok := attrs.Lookup(nameExtCommunity...); ok {
		for _, e := range v.Ext {
			pa.CommExt = append(pa.CommExt, formatExtCommunity(e))
		}
	}
	if v, ok := attrs.Lookup(nameLargeCommunity...); ok {
		for _, t := range v.Triples {
			pa.CommLarge = append(pa.CommLarge, fmt.Sprintf("%d:%d:%d", t[0], t[1], t[2]))
		}
	}

	pa.OriginASN = sourceOriginASN(src.ASN)
	if pa.OriginASN == nil {
		pa.OriginASN = OriginASN(pa.ASPath)
	}

	for name, v := range attrs {
		if columnAttrs[name] {
			continue
		}
		pa.Attrs[name] = v.String()
	}
	return pa
}

// formatExtCommunity renders route target and route origin communities with
// their conventional labels; anything else keeps the daemon's kind name.
func formatExtCommunity(e birdc.ExtCommunity) string {
	switch e.Kind {
	case "rt":
		return fmt.Sprintf("RT:%d:%d", e.Value1, e.Value2)
	case "ro":
		return fmt.Sprintf("SOO:%d:%d", e.Value1, e.Value2)
	}
	return fmt.Sprintf("%s:0x%x:0x%x", e.Kind, e.Value1, e.Value2)
}

func normalizeOrigin(s string) string {
	if v, ok := OriginValues[s]; ok {
		return v
	}
	return s
}

func toUint32(v birdc.AttributeValue) *uint32 {
	if v.Kind != birdc.KindInt || v.Int < 0 || v.Int > 1<<32-1 {
		return nil
	}
	n := uint32(v.Int)
	return &n
}

// sourceOriginASN parses the "AS65001" column of a BGP source line.
func sourceOriginASN(asn string) *int {
	digits, ok := strings.CutPrefix(asn, "AS")
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &n
}

// OriginASN returns the last ASN of a space separated AS path, or nil when
// the path is empty or ends in an AS_SET.
func OriginASN(asPath string) *int {
	asPath = strings.TrimSpace(asPath)
	if asPath == "" {
		return nil
	}

	fields := strings.Fields(asPath)
	last := fields[len(fields)-1]

	// AS_SET at the end → origin is ambiguous.
	if strings.HasPrefix(last, "{") || strings.HasSuffix(last, "}") {
		return nil
	}

	asn, err := strconv.Atoi(last)
	if err != nil {
		return nil
	}
	return &asn
}
