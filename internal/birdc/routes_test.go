package birdc

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeRouteTable_Static(t *testing.T) {
	lines := []string{
		"0001 BIRD 2.0.7 ready.",
		"1007-Table t_static4:",
		"1007-10.0.1.0/24          unicast [static4 2019-10-01 17:59:35] * (200)",
		" \tvia 192.168.0.4 on eth0",
		"1008-\tType: static univ",
		"0000 ",
	}
	rt, err := DecodeRouteTable(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := &RouteTable{Entries: []RouteEntry{{
		Prefix: "10.0.1.0/24",
		Table:  "t_static4",
		Sources: []RouteSource{{
			Family:     FamilyGeneric,
			PrefixType: "unicast",
			Protocol:   "static4",
			Since:      "2019-10-01 17:59:35",
			Pref:       200,
			Bestpath:   true,
			Nexthops:   []Nexthop{{Gateway: "192.168.0.4", Interface: "eth0"}},
			Type:       []string{"static", "univ"},
		}},
	}}}
	if diff := cmp.Diff(want, rt); diff != "" {
		t.Errorf("route table mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRouteTable_OSPFExternal(t *testing.T) {
	lines := []string{
		"1007-Table t_ospf4:",
		"1007-10.20.0.0/16         unicast [ospf4 12:01:02.123] E2 (150/20/10000) [0x00000000] [172.16.10.1]",
		" \tvia 172.16.0.1 on eth0",
		"0000 ",
	}
	rt, err := DecodeRouteTable(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srcs, ok := rt.Sources("10.20.0.0/16")
	if !ok || len(srcs) != 1 {
		t.Fatalf("expected one source for 10.20.0.0/16, got %v", srcs)
	}
	want := RouteSource{
		Family:     FamilyOSPF,
		PrefixType: "unicast",
		Protocol:   "ospf4",
		Since:      "12:01:02.123",
		Pref:       150,
		OSPFType:   "E2",
		Metric1:    intp(20),
		Metric2:    intp(10000),
		Tag:        "0x00000000",
		RouterID:   "172.16.10.1",
		Nexthops:   []Nexthop{{Gateway: "172.16.0.1", Interface: "eth0"}},
	}
	if diff := cmp.Diff(want, srcs[0]); diff != "" {
		t.Errorf("source mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRouteTable_DaemonError(t *testing.T) {
	lines := []string{
		"0001 BIRD 2.0.7 ready.",
		"1007-Table t_static4:",
		"1007-10.0.1.0/24          unicast [static4 2019-10-01 17:59:35] * (200)",
		"8001 access denied",
	}
	rt, err := DecodeRouteTable(lines)
	if rt != nil {
		t.Errorf("expected no partial table, got %v", rt)
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
	if pe.Code != "8001" || pe.Message != "access denied" {
		t.Errorf("expected 8001 access denied, got %s %q", pe.Code, pe.Message)
	}
	if !errors.Is(err, ErrProtocol) {
		t.Error("expected error to wrap ErrProtocol")
	}
}

func TestDecodeRouteTable_BGP(t *testing.T) {
	rt, err := DecodeRouteTable(loadLines(t, "bgp4.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"100.100.0.0/24", "100.201.0.0/24"}, rt.Prefixes()); diff != "" {
		t.Fatalf("prefixes mismatch (-want +got):\n%s", diff)
	}

	first, _ := rt.Sources("100.100.0.0/24")
	wantFirst := []RouteSource{{
		Family:     FamilyBGP,
		PrefixType: "unicast",
		Protocol:   "bgp_AS65000_rr1_peer4",
		Since:      "2019-09-30 17:14:14",
		Pref:       100,
		Bestpath:   true,
		BGPType:    "i",
		ASN:        "AS65001",
		From:       "100.64.10.3",
		Nexthops: []Nexthop{
			{Gateway: "100.64.20.1", Interface: "eth0", Weight: intp(1)},
			{Gateway: "100.64.20.5", Interface: "eth0", Weight: intp(1)},
		},
		Type: []string{"BGP", "univ"},
		Attributes: Attributes{
			"BGP.origin":          StringValue("IGP"),
			"BGP.as_path":         IntListValue(65001),
			"BGP.next_hop":        StringListValue("100.64.50.3"),
			"BGP.local_pref":      IntValue(750),
			"BGP.originator_id":   StringValue("100.64.10.2"),
			"BGP.cluster_list":    StringValue("0.0.0.1"),
			"BGP.large_community": TriplesValue(),
		},
	}}
	if diff := cmp.Diff(wantFirst, first); diff != "" {
		t.Errorf("100.100.0.0/24 mismatch (-want +got):\n%s", diff)
	}

	second, _ := rt.Sources("100.201.0.0/24")
	if len(second) != 2 {
		t.Fatalf("expected 2 sources for 100.201.0.0/24, got %d", len(second))
	}
	if !second[0].Bestpath || second[1].Bestpath {
		t.Errorf("expected only the first source to be best, got %v/%v", second[0].Bestpath, second[1].Bestpath)
	}
	wantAlt := RouteSource{
		Family:     FamilyBGP,
		PrefixType: "unicast",
		Protocol:   "bgp_AS65000_rr2_peer4",
		Since:      "2019-09-30 17:14:09",
		Pref:       100,
		BGPType:    "i",
		ASN:        "AS65004",
		From:       "100.64.20.3",
		Nexthops:   []Nexthop{{Gateway: "100.64.20.1", Interface: "eth0"}},
		Type:       []string{"BGP", "univ"},
		Attributes: Attributes{
			"BGP.origin":     StringValue("IGP"),
			"BGP.as_path":    IntListValue(65004),
			"BGP.next_hop":   StringListValue("100.64.43.2"),
			"BGP.local_pref": IntValue(150),
			"BGP.community":  PairsValue([2]int64{1, 0}, [2]int64{1, 1}, [2]int64{1, 2}),
			"BGP.ext_community": ExtValue(
				ExtCommunity{Kind: "rt", Value1: 1, Value2: 1},
				ExtCommunity{Kind: "ro", Value1: 2, Value2: 2},
			),
			"BGP.originator_id":   StringValue("100.64.20.1"),
			"BGP.cluster_list":    StringValue("0.0.0.1"),
			"BGP.large_community": TriplesValue([3]int64{65000, 3, 4}, [3]int64{65004, 3, 1}),
		},
	}
	if diff := cmp.Diff(wantAlt, second[1]); diff != "" {
		t.Errorf("alternative source mismatch (-want +got):\n%s", diff)
	}
	if _, ok := second[1].Attributes["BGP.otc"]; ok {
		t.Error("expected BGP.otc to be dropped")
	}
}

func TestDecodeRouteTable_BGPv3(t *testing.T) {
	rt, err := DecodeRouteTable(loadLines(t, "bgp6_v3.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srcs, ok := rt.Sources("fc00:100::/48")
	if !ok || len(srcs) != 1 {
		t.Fatalf("expected one source for fc00:100::/48, got %v", srcs)
	}
	src := srcs[0]
	if src.ASN != "" || src.BGPType != "i" || src.From != "fc20::3" {
		t.Errorf("unexpected BGP fields: asn=%q type=%q from=%q", src.ASN, src.BGPType, src.From)
	}
	if src.Type != nil {
		t.Errorf("expected no type tokens, got %v", src.Type)
	}
	wantAttrs := Attributes{
		"preference":     IntValue(100),
		"from":           StringValue("fc20::3"),
		"source":         StringValue("BGP"),
		"bgp_origin":     StringValue("IGP"),
		"bgp_path":       IntListValue(),
		"bgp_next_hop":   StringListValue("fc20::3", "fe80::3"),
		"bgp_local_pref": IntValue(100),
		"igp_metric":     IntValue(0),
		"hostentry":      StringValue("via fc20::3 table t_bgp6"),
	}
	if diff := cmp.Diff(wantAttrs, src.Attributes); diff != "" {
		t.Errorf("attributes mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRouteTable_OSPFv3(t *testing.T) {
	rt, err := DecodeRouteTable(loadLines(t, "ospf4_v3.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ext, _ := rt.Sources("10.0.0.0/24")
	if len(ext) != 1 || ext[0].OSPFType != "E2" || !ext[0].Bestpath {
		t.Fatalf("unexpected external source: %+v", ext)
	}
	if *ext[0].Metric1 != 10 || *ext[0].Metric2 != 10000 || ext[0].RouterID != "0.0.0.1" {
		t.Errorf("unexpected metrics: %d/%d router %s", *ext[0].Metric1, *ext[0].Metric2, ext[0].RouterID)
	}

	intra, _ := rt.Sources("100.64.0.0/24")
	want := RouteSource{
		Family:     FamilyOSPF,
		PrefixType: "unicast",
		Protocol:   "ospf4",
		Since:      "2025-02-21 18:10:11",
		Pref:       150,
		Bestpath:   true,
		OSPFType:   "I",
		Metric1:    intp(10),
		RouterID:   "0.0.0.2",
		Nexthops:   []Nexthop{{Interface: "eth0"}},
		Attributes: Attributes{
			"preference":     IntValue(150),
			"source":         StringValue("OSPF"),
			"ospf_metric1":   IntValue(10),
			"ospf_router_id": StringValue("0.0.0.2"),
		},
	}
	if diff := cmp.Diff([]RouteSource{want}, intra); diff != "" {
		t.Errorf("intra-area source mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRouteTable_KernelV3(t *testing.T) {
	rt, err := DecodeRouteTable(loadLines(t, "kernel4_v3.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.Len() != 4 {
		t.Fatalf("expected 4 prefixes, got %d: %v", rt.Len(), rt.Prefixes())
	}

	def, _ := rt.Sources("0.0.0.0/0")
	if len(def) != 2 {
		t.Fatalf("expected 2 sources for default route, got %d", len(def))
	}
	if v := def[1].Attributes["krt_source"]; v.Str != "RTS_DEVICE" || v.Int != 3 {
		t.Errorf("expected krt_source RTS_DEVICE(3), got %v", v)
	}

	dev, _ := rt.Sources("100.122.0.0/24")
	if v := dev[0].Attributes["krt_scope"]; v.Str != "link" {
		t.Errorf("expected krt_scope link, got %v", v)
	}

	for _, p := range []string{"100.123.0.0/31", "100.133.0.0/24"} {
		srcs, _ := rt.Sources(p)
		if srcs[0].PrefixType != "blackhole" {
			t.Errorf("%s: expected blackhole, got %q", p, srcs[0].PrefixType)
		}
		if srcs[0].Nexthops != nil {
			t.Errorf("%s: expected no nexthops, got %v", p, srcs[0].Nexthops)
		}
		data, err := json.Marshal(srcs[0])
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if strings.Contains(string(data), "nexthops") {
			t.Errorf("%s: expected nexthops to be omitted, got %s", p, data)
		}
	}
}

func TestDecodeRouteTable_RIP(t *testing.T) {
	rt, err := DecodeRouteTable(loadLines(t, "rip4.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srcs, _ := rt.Sources("192.168.10.0/24")
	if len(srcs) != 1 {
		t.Fatalf("expected 1 source, got %d", len(srcs))
	}
	src := srcs[0]
	if src.Family != FamilyRIP || src.Pref != 120 || src.Metric1 == nil || *src.Metric1 != 3 || src.Bestpath {
		t.Errorf("unexpected RIP source: %+v", src)
	}
	if v := src.Attributes["RIP.metric"]; v.Int != 3 {
		t.Errorf("expected RIP.metric 3, got %v", v)
	}

	static, _ := rt.Sources("192.168.21.0/24")
	if static[0].Family != FamilyGeneric || !static[0].Bestpath {
		t.Errorf("unexpected static source: %+v", static[0])
	}
}

func TestDecodeRouteTable_ROA(t *testing.T) {
	rt, err := DecodeRouteTable(loadLines(t, "roa6.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &RouteTable{Entries: []RouteEntry{
		{
			Prefix: "fc00:101::/48",
			Table:  "t_roa6",
			Sources: []RouteSource{{
				Family:   FamilyROA,
				Protocol: "rpki6",
				Since:    "2023-12-04 22:25:36",
				Pref:     200,
				Bestpath: true,
				ROA:      &ROA{Max: 48, ASN: "65001"},
			}},
		},
		{
			Prefix: "fc00:102::/48",
			Table:  "t_roa6",
			Sources: []RouteSource{{
				Family:   FamilyROA,
				Protocol: "rpki6",
				Since:    "2023-12-04 22:25:36",
				Pref:     200,
				Bestpath: true,
				ROA:      &ROA{Max: 64, ASN: "65002"},
			}},
		},
	}}
	if diff := cmp.Diff(want, rt); diff != "" {
		t.Errorf("ROA table mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRouteTable_GroupCounts(t *testing.T) {
	tests := []struct {
		fixture string
		counts  map[string]int
	}{
		{"bgp4.txt", map[string]int{"100.100.0.0/24": 1, "100.201.0.0/24": 2}},
		{"kernel4_v3.txt", map[string]int{"0.0.0.0/0": 2, "100.122.0.0/24": 1, "100.123.0.0/31": 1, "100.133.0.0/24": 1}},
		{"rip4.txt", map[string]int{"192.168.10.0/24": 1, "192.168.21.0/24": 1}},
	}
	for _, tt := range tests {
		rt, err := DecodeRouteTable(loadLines(t, tt.fixture))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.fixture, err)
		}
		if rt.Len() != len(tt.counts) {
			t.Errorf("%s: expected %d prefixes, got %d", tt.fixture, len(tt.counts), rt.Len())
		}
		for prefix, n := range tt.counts {
			srcs, _ := rt.Sources(prefix)
			if len(srcs) != n {
				t.Errorf("%s: %s expected %d sources, got %d", tt.fixture, prefix, n, len(srcs))
			}
		}
	}
}

func TestDecodeRouteTable_LargeCommunity(t *testing.T) {
	lines := []string{
		"1007-Table t_bgp4:",
		"1007-10.9.0.0/16          unicast [bgp1 10:00:00] * (100) [AS65000i]",
		"1012-\tBGP.large_community: (65000, 3, 1)",
		"0000 ",
	}
	rt, err := DecodeRouteTable(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srcs, _ := rt.Sources("10.9.0.0/16")
	got := srcs[0].Attributes["BGP.large_community"]
	if diff := cmp.Diff(TriplesValue([3]int64{65000, 3, 1}), got); diff != "" {
		t.Errorf("large community mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRouteTable_Idempotent(t *testing.T) {
	for _, fixture := range []string{"bgp4.txt", "kernel4_v3.txt", "ospf4_v3.txt"} {
		lines := loadLines(t, fixture)
		a, err := DecodeRouteTable(lines)
		if err != nil {
			t.Fatalf("%s: %v", fixture, err)
		}
		b, err := DecodeRouteTable(lines)
		if err != nil {
			t.Fatalf("%s: %v", fixture, err)
		}
		if diff := cmp.Diff(a, b); diff != "" {
			t.Errorf("%s: decoding is not deterministic:\n%s", fixture, diff)
		}
		ja, _ := json.Marshal(a)
		jb, _ := json.Marshal(b)
		if string(ja) != string(jb) {
			t.Errorf("%s: JSON encoding is not deterministic", fixture)
		}
	}
}

func TestDecodeRouteTable_ListAttributeMerge(t *testing.T) {
	lines := []string{
		"1007-10.9.0.0/16          unicast [bgp1 10:00:00] * (100) [AS65000i]",
		"1012-\tBGP.next_hop: 10.0.0.1",
		" \tBGP.next_hop: 10.0.0.2",
		" \tBGP.as_path: 65000 65001",
		" \t\t65002",
		"0000 ",
	}
	rt, err := DecodeRouteTable(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srcs, _ := rt.Sources("10.9.0.0/16")
	if diff := cmp.Diff(StringListValue("10.0.0.1", "10.0.0.2"), srcs[0].Attributes["BGP.next_hop"]); diff != "" {
		t.Errorf("next_hop mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(IntListValue(65000, 65001, 65002), srcs[0].Attributes["BGP.as_path"]); diff != "" {
		t.Errorf("as_path mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRouteTable_RepeatedScalarAttribute(t *testing.T) {
	lines := []string{
		"1007-10.9.0.0/16          unicast [bgp1 10:00:00] * (100) [AS65000i]",
		"1012-\tBGP.local_pref: 100",
		" \tBGP.local_pref: 200",
		"0000 ",
	}
	_, err := DecodeRouteTable(lines)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if pe.Line != " \tBGP.local_pref: 200" {
		t.Errorf("expected offending line to be reported, got %q", pe.Line)
	}
}

func TestDecodeRouteTable_RepeatedPrefixKeepsPosition(t *testing.T) {
	lines := []string{
		"1007-Table master4:",
		"1007-10.1.0.0/16          unicast [static1 10:00:00] * (200)",
		"1007-10.2.0.0/16          unicast [static1 10:00:00] * (200)",
		"1007-10.1.0.0/16          unicast [static2 11:00:00] * (250)",
		"0000 ",
	}
	rt, err := DecodeRouteTable(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"10.1.0.0/16", "10.2.0.0/16"}, rt.Prefixes()); diff != "" {
		t.Errorf("prefix order mismatch (-want +got):\n%s", diff)
	}
	srcs, _ := rt.Sources("10.1.0.0/16")
	if len(srcs) != 1 || srcs[0].Protocol != "static2" {
		t.Errorf("expected the later group to replace the earlier one, got %+v", srcs)
	}
}

func TestDecodeRouteTable_NoEndLine(t *testing.T) {
	lines := []string{
		"1007-10.1.0.0/16          unicast [static1 10:00:00] * (200)",
	}
	rt, err := DecodeRouteTable(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.Len() != 1 {
		t.Errorf("expected pending prefix to be committed at end of input, got %d", rt.Len())
	}
}

func TestDecodeRouteTable_Empty(t *testing.T) {
	rt, err := DecodeRouteTable([]string{"0001 BIRD 2.0.7 ready.", "0000 "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.Len() != 0 {
		t.Errorf("expected empty table, got %v", rt.Prefixes())
	}
	data, _ := json.Marshal(rt)
	if string(data) != "{}" {
		t.Errorf("expected {}, got %s", data)
	}
}

func TestDecodeRouteTable_ParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"unrecognised source", []string{"1007-10.1.0.0/16 unicast something odd"}},
		{"source without prefix", []string{"1007-unicast [static1 10:00:00] * (200)"}},
		{"nexthop without source", []string{"1007-Table t:", " \tvia 10.0.0.1 on eth0"}},
		{"malformed type", []string{"1007-10.1.0.0/16 unicast [static1 10:00:00] * (200)", "1008-\tKind: x"}},
		{"unknown attribute", []string{"1007-10.1.0.0/16 unicast [static1 10:00:00] * (200)", "1012-\tBGP.weird: 1"}},
		{"bad kernel scope", []string{"1007-10.1.0.0/16 unicast [kernel1 10:00:00] * (10)", "1012-\tKernel.scope: 7"}},
		{"unexpected code", []string{"1007-10.1.0.0/16 unicast [static1 10:00:00] * (200)", "1020-odd"}},
		{"no code", []string{" stray line"}},
		{"pref overflow", []string{"1007-10.1.0.0/16 unicast [static1 10:00:00] * (99999999999999999999)"}},
		{"bgp metric overflow", []string{"1007-10.1.0.0/16 unicast [bgp1 10:00:00] * (100/99999999999999999999) [AS65001i]"}},
	}
	for _, tt := range tests {
		rt, err := DecodeRouteTable(tt.lines)
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if rt != nil {
			t.Errorf("%s: expected no partial result", tt.name)
		}
		if !errors.Is(err, ErrParse) {
			t.Errorf("%s: expected parse error, got %v", tt.name, err)
		}
	}
}

func TestDecodeRouteTable_SkipsBlankLines(t *testing.T) {
	lines := []string{
		"1007-Table t_static4:",
		"",
		"1007-10.1.0.0/16          unicast [static1 10:00:00] * (200)",
		"   ",
		"0000 ",
	}
	rt, err := DecodeRouteTable(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.Len() != 1 {
		t.Errorf("expected 1 prefix, got %d", rt.Len())
	}
}

func TestRouteTableJSONOrder(t *testing.T) {
	rt := &RouteTable{Entries: []RouteEntry{
		{Prefix: "10.2.0.0/16", Sources: []RouteSource{{Protocol: "b"}}},
		{Prefix: "10.1.0.0/16", Sources: []RouteSource{{Protocol: "a"}}},
	}}
	data, err := json.Marshal(rt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if i, j := strings.Index(string(data), "10.2.0.0/16"), strings.Index(string(data), "10.1.0.0/16"); i > j {
		t.Errorf("expected reply order to be preserved, got %s", data)
	}
}

func TestSourceMatcherOrder(t *testing.T) {
	tests := []struct {
		line string
		want Family
	}{
		{"48 AS65001  [rpki6 2023-12-04 22:25:36] * (200)", FamilyROA},
		{"unicast [static4 2019-10-01 17:59:35] * (200)", FamilyGeneric},
		{"unicast [bgp1 2019-10-01 17:59:35 from 10.0.0.1] * (100/?) [AS65001i]", FamilyBGP},
		{"unicast [bgp1 17:59:35] (100/20) [?]", FamilyBGP},
		{"unicast [ospf1 17:59:35] * IA (150/20) [10.0.0.1]", FamilyOSPF},
		{"unicast [rip1 17:59:35] (120/2)", FamilyRIP},
	}
	for _, tt := range tests {
		src, ok, err := matchSource(tt.line)
		if !ok || err != nil {
			t.Errorf("matchSource(%q) did not match: %v", tt.line, err)
			continue
		}
		if src.Family != tt.want {
			t.Errorf("matchSource(%q) family = %s, want %s", tt.line, src.Family, tt.want)
		}
	}
	if _, ok, _ := matchSource("unicast [x] (1)"); ok {
		t.Error("expected a line without a timestamp not to match")
	}
	src, ok, err := matchSource("unicast [bgp1 17:59:35] (100/?) [?]")
	if !ok || err != nil || src.Metric != nil {
		t.Errorf("unknown metric: ok=%v err=%v metric=%v", ok, err, src.Metric)
	}
}
