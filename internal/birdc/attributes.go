package birdc

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// AttributeKind identifies which field of an AttributeValue is populated.
type AttributeKind int

const (
	KindInt AttributeKind = iota + 1
	KindString
	KindIntList
	KindStringList
	KindPairs
	KindTriples
	KindExtTriples
	KindEnum
)

func (k AttributeKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindIntList:
		return "int_list"
	case KindStringList:
		return "string_list"
	case KindPairs:
		return "pairs"
	case KindTriples:
		return "triples"
	case KindExtTriples:
		return "ext_triples"
	case KindEnum:
		return "enum"
	}
	return "unknown"
}

// ExtCommunity is one extended community: a kind (rt, ro or generic) and
// its two integer components.
type ExtCommunity struct {
	Kind   string
	Value1 int64
	Value2 int64
}

// AttributeValue is the decoded value of one route attribute.
type AttributeValue struct {
	Kind    AttributeKind
	Int     int64
	Str     string
	Ints    []int64
	Strs    []string
	Pairs   [][2]int64
	Triples [][3]int64
	Ext     []ExtCommunity
}

func IntValue(n int64) AttributeValue     { return AttributeValue{Kind: KindInt, Int: n} }
func StringValue(s string) AttributeValue { return AttributeValue{Kind: KindString, Str: s} }
func IntListValue(v ...int64) AttributeValue {
	if v == nil {
		v = []int64{}
	}
	return AttributeValue{Kind: KindIntList, Ints: v}
}
func StringListValue(v ...string) AttributeValue {
	if v == nil {
		v = []string{}
	}
	return AttributeValue{Kind: KindStringList, Strs: v}
}
func PairsValue(v ...[2]int64) AttributeValue {
	if v == nil {
		v = [][2]int64{}
	}
	return AttributeValue{Kind: KindPairs, Pairs: v}
}
func TriplesValue(v ...[3]int64) AttributeValue {
	if v == nil {
		v = [][3]int64{}
	}
	return AttributeValue{Kind: KindTriples, Triples: v}
}
func ExtValue(v ...ExtCommunity) AttributeValue {
	if v == nil {
		v = []ExtCommunity{}
	}
	return AttributeValue{Kind: KindExtTriples, Ext: v}
}

// EnumValue is a decoded enumeration: the symbolic name plus the code it
// was decoded from.
func EnumValue(name string, code int64) AttributeValue {
	return AttributeValue{Kind: KindEnum, Str: name, Int: code}
}

// IsList reports whether repeated occurrences of the value concatenate.
func (v AttributeValue) IsList() bool {
	switch v.Kind {
	case KindIntList, KindStringList, KindPairs, KindTriples, KindExtTriples:
		return true
	}
	return false
}

// Len returns the number of elements of a list value, 0 otherwise.
func (v AttributeValue) Len() int {
	switch v.Kind {
	case KindIntList:
		return len(v.Ints)
	case KindStringList:
		return len(v.Strs)
	case KindPairs:
		return len(v.Pairs)
	case KindTriples:
		return len(v.Triples)
	case KindExtTriples:
		return len(v.Ext)
	}
	return 0
}

// merge appends a list value of the same kind. Scalars never merge.
func (v AttributeValue) merge(o AttributeValue) (AttributeValue, bool) {
	if !v.IsList() || v.Kind != o.Kind {
		return v, false
	}
	switch v.Kind {
	case KindIntList:
		v.Ints = append(append([]int64{}, v.Ints...), o.Ints...)
	case KindStringList:
		v.Strs = append(append([]string{}, v.Strs...), o.Strs...)
	case KindPairs:
		v.Pairs = append(append([][2]int64{}, v.Pairs...), o.Pairs...)
	case KindTriples:
		v.Triples = append(append([][3]int64{}, v.Triples...), o.Triples...)
	case KindExtTriples:
		v.Ext = append(append([]ExtCommunity{}, v.Ext...), o.Ext...)
	}
	return v, true
}

// String renders the value in the compact text form used for storage:
// communities as colon-joined numbers, lists space separated.
func (v AttributeValue) String() string {
	var parts []string
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindString, KindEnum:
		return v.Str
	case KindIntList:
		for _, n := range v.Ints {
			parts = append(parts, strconv.FormatInt(n, 10))
		}
	case KindStringList:
		parts = v.Strs
	case KindPairs:
		for _, p := range v.Pairs {
			parts = append(parts, fmt.Sprintf("%d:%d", p[0], p[1]))
		}
	case KindTriples:
		for _, t := range v.Triples {
			parts = append(parts, fmt.Sprintf("%d:%d:%d", t[0], t[1], t[2]))
		}
	case KindExtTriples:
		for _, e := range v.Ext {
			parts = append(parts, fmt.Sprintf("%s:%d:%d", e.Kind, e.Value1, e.Value2))
		}
	}
	return strings.Join(parts, " ")
}

// MarshalJSON encodes the bare value: a number, a string, or an array.
func (v AttributeValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindInt:
		return json.Marshal(v.Int)
	case KindString, KindEnum:
		return json.Marshal(v.Str)
	case KindIntList:
		return json.Marshal(v.Ints)
	case KindStringList:
		return json.Marshal(v.Strs)
	case KindPairs:
		return json.Marshal(v.Pairs)
	case KindTriples:
		return json.Marshal(v.Triples)
	case KindExtTriples:
		out := make([][3]any, 0, len(v.Ext))
		for _, e := range v.Ext {
			out = append(out, [3]any{e.Kind, e.Value1, e.Value2})
		}
		return json.Marshal(out)
	}
	return []byte("null"), nil
}

// Attributes maps attribute names, as printed by the daemon, to their
// decoded values.
type Attributes map[string]AttributeValue

// Lookup returns the first attribute present under any of the given names.
func (a Attributes) Lookup(names ...string) (AttributeValue, bool) {
	for _, n := range names {
		if v, ok := a[n]; ok {
			return v, true
		}
	}
	return AttributeValue{}, false
}

type attrDecoder func(raw string) (AttributeValue, error)

var (
	digitRunRe       = regexp.MustCompile(`[0-9]+`)
	communityRe      = regexp.MustCompile(`\(\s*([0-9]+)\s*,\s*([0-9]+)\s*\)`)
	largeCommunityRe = regexp.MustCompile(`\(\s*([0-9]+)\s*,\s*([0-9]+)\s*,\s*([0-9]+)\s*\)`)
	extCommunityRe   = regexp.MustCompile(`\(\s*(rt|ro|generic)\s*,\s*(0x[0-9a-fA-F]+|[0-9]+)\s*,\s*(0x[0-9a-fA-F]+|[0-9]+)\s*\)`)
)

// discardedAttributes are printed by some daemon builds but carry nothing
// the decoder models.
var discardedAttributes = map[string]bool{
	"BGP.otc": true,
}

var attributeDecoders = buildAttributeDecoders()

func buildAttributeDecoders() map[string]attrDecoder {
	m := make(map[string]attrDecoder)
	add := func(dec attrDecoder, names ...string) {
		for _, n := range names {
			m[n] = dec
		}
	}

	add(decodeIntList, "BGP.as_path", "bgp_path")
	add(decodeExtCommunities, "BGP.ext_community", "bgp_ext_community")
	add(decodeCommunities, "BGP.community", "bgp_community")
	add(decodeLargeCommunities, "BGP.large_community", "bgp_large_community")
	add(decodeStringList, "BGP.next_hop", "bgp_next_hop")
	add(decodeInt,
		"BGP.local_pref", "bgp_local_pref",
		"BGP.med", "bgp_med",
		"Kernel.metric", "krt_metric",
		"OSPF.metric1", "ospf_metric1",
		"OSPF.metric2", "ospf_metric2",
		"RIP.metric", "rip_metric",
		"igp_metric", "preference",
	)
	add(decodeKernelScope, "Kernel.scope", "krt_scope")
	add(decodeKernelSource, "Kernel.source", "krt_source")
	add(decodeString,
		"BGP.origin", "bgp_origin",
		"BGP.originator_id", "bgp_originator_id",
		"BGP.cluster_list", "bgp_cluster_list",
		"BGP.aggregator", "bgp_aggregator",
		"BGP.atomic_aggr", "bgp_atomic_aggr",
		"OSPF.router_id", "ospf_router_id",
		"OSPF.tag", "ospf_tag",
		"RIP.tag", "rip_tag",
		"Kernel.prefsrc", "krt_prefsrc",
		"source", "from", "hostentry",
	)
	return m
}

// DecodeAttribute decodes the raw text of the named attribute. keep is false
// for attributes that are recognised but intentionally dropped. Unknown
// names are an error.
func DecodeAttribute(name, raw string) (value AttributeValue, keep bool, err error) {
	if discardedAttributes[name] {
		return AttributeValue{}, false, nil
	}
	dec, ok := attributeDecoders[name]
	if !ok {
		return AttributeValue{}, false, &ParseError{Reason: "unknown attribute " + name, Value: raw}
	}
	v, err := dec(strings.TrimSpace(raw))
	if err != nil {
		return AttributeValue{}, false, fmt.Errorf("attribute %s: %w", name, err)
	}
	return v, true, nil
}

func decodeInt(raw string) (AttributeValue, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return AttributeValue{}, &ParseError{Reason: "invalid integer", Value: raw}
	}
	return IntValue(n), nil
}

func decodeString(raw string) (AttributeValue, error) {
	return StringValue(raw), nil
}

func decodeStringList(raw string) (AttributeValue, error) {
	return StringListValue(strings.Fields(raw)...), nil
}

func decodeIntList(raw string) (AttributeValue, error) {
	runs := digitRunRe.FindAllString(raw, -1)
	if raw != "" && len(runs) == 0 {
		return AttributeValue{}, &ParseError{Reason: "no numbers in list", Value: raw}
	}
	out := make([]int64, 0, len(runs))
	for _, r := range runs {
		n, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			return AttributeValue{}, &ParseError{Reason: "invalid integer", Value: r}
		}
		out = append(out, n)
	}
	return IntListValue(out...), nil
}

func decodeCommunities(raw string) (AttributeValue, error) {
	matches := communityRe.FindAllStringSubmatch(raw, -1)
	if raw != "" && len(matches) == 0 {
		return AttributeValue{}, &ParseError{Reason: "no communities in list", Value: raw}
	}
	out := make([][2]int64, 0, len(matches))
	for _, m := range matches {
		a, _ := strconv.ParseInt(m[1], 10, 64)
		b, _ := strconv.ParseInt(m[2], 10, 64)
		out = append(out, [2]int64{a, b})
	}
	return PairsValue(out...), nil
}

func decodeLargeCommunities(raw string) (AttributeValue, error) {
	matches := largeCommunityRe.FindAllStringSubmatch(raw, -1)
	if raw != "" && len(matches) == 0 {
		return AttributeValue{}, &ParseError{Reason: "no large communities in list", Value: raw}
	}
	out := make([][3]int64, 0, len(matches))
	for _, m := range matches {
		var t [3]int64
		for i := range t {
			t[i], _ = strconv.ParseInt(m[i+1], 10, 64)
		}
		out = append(out, t)
	}
	return TriplesValue(out...), nil
}

func decodeExtCommunities(raw string) (AttributeValue, error) {
	matches := extCommunityRe.FindAllStringSubmatch(raw, -1)
	if raw != "" && len(matches) == 0 {
		return AttributeValue{}, &ParseError{Reason: "no extended communities in list", Value: raw}
	}
	out := make([]ExtCommunity, 0, len(matches))
	for _, m := range matches {
		v1, err := parseNumber(m[2])
		if err != nil {
			return AttributeValue{}, err
		}
		v2, err := parseNumber(m[3])
		if err != nil {
			return AttributeValue{}, err
		}
		out = append(out, ExtCommunity{Kind: m[1], Value1: v1, Value2: v2})
	}
	return ExtValue(out...), nil
}

// parseNumber accepts decimal or 0x-prefixed hexadecimal.
func parseNumber(s string) (int64, error) {
	var (
		n   uint64
		err error
	)
	if strings.HasPrefix(s, "0x") {
		n, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		n, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil || n > 1<<63-1 {
		return 0, &ParseError{Reason: "invalid number", Value: s}
	}
	return int64(n), nil
}

var kernelScopes = map[int64]string{
	0:   "global",
	200: "site",
	253: "link",
	254: "host",
	255: "link",
}

var kernelSources = []string{
	"RTS_DUMMY",
	"RTS_STATIC",
	"RTS_INHERIT",
	"RTS_DEVICE",
	"RTS_STATIC_DEVICE",
	"RTS_REDIRECT",
	"RTS_RIP",
	"RTS_OSPF",
	"RTS_OSPF_IA",
	"RTS_OSPF_EXT1",
	"RTS_OSPF_EXT2",
	"RTS_BGP",
	"RTS_PIPE",
	"RTS_BABEL",
}

func decodeKernelScope(raw string) (AttributeValue, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return AttributeValue{}, &ParseError{Reason: "invalid kernel scope", Value: raw}
	}
	name, ok := kernelScopes[n]
	if !ok {
		return AttributeValue{}, &ParseError{Reason: "unknown kernel scope", Value: n}
	}
	return EnumValue(name, n), nil
}

func decodeKernelSource(raw string) (AttributeValue, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return AttributeValue{}, &ParseError{Reason: "invalid kernel source", Value: raw}
	}
	if n < 0 || n >= int64(len(kernelSources)) {
		return AttributeValue{}, &ParseError{Reason: "unknown kernel source", Value: n}
	}
	return EnumValue(kernelSources[n], n), nil
}
