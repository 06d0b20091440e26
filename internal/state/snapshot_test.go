package state

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/route-beacon/bird-ingester/internal/birdc"
)

// tableReply is a two prefix dump with one prefix learned twice from the
// same protocol.
var tableReply = []string{
	"0001 BIRD 2.0.7 ready.",
	"1007-Table master4:",
	"1007-10.0.0.0/24          unicast [bgp_peer1 2024-01-02 10:00:00 from 192.0.2.1] * (100) [AS65001i]",
	" \tvia 192.0.2.1 on eth0",
	"1008-\tType: BGP univ",
	"1012-\tBGP.origin: IGP",
	" \tBGP.as_path: 65010 65001",
	" \tBGP.next_hop: 192.0.2.1",
	" \tBGP.local_pref: 200",
	" \tBGP.community: (65000,100) (65000,200)",
	"1007-                     unicast [bgp_peer1 2024-01-02 10:05:00 from 192.0.2.9] (100) [AS65002i]",
	" \tvia 192.0.2.9 on eth0",
	"1008-\tType: BGP univ",
	"1012-\tBGP.origin: IGP",
	" \tBGP.as_path: 65002",
	" \tBGP.next_hop: 192.0.2.9",
	" \tBGP.local_pref: 100",
	"1007-2001:db8::/32        unicast [static6 2024-01-02 09:00:00] * (200)",
	" \tdev lo",
	"1008-\tType: static univ",
	"0000 ",
}

func decodeReply(t *testing.T, lines []string) *birdc.RouteTable {
	t.Helper()
	rt, err := birdc.DecodeRouteTable(lines)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rt
}

func TestFlattenTable(t *testing.T) {
	routes := FlattenTable("192.0.2.254", "master4", decodeReply(t, tableReply))
	if len(routes) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(routes))
	}

	type row struct {
		AFI       int
		Prefix    string
		Protocol  string
		PathIndex int
		Bestpath  bool
		Nexthop   string
		ASPath    string
	}
	var got []row
	for _, r := range routes {
		got = append(got, row{r.AFI, r.Prefix, r.Protocol, r.PathIndex, r.Bestpath, r.Nexthop, r.ASPath})
	}
	want := []row{
		{4, "10.0.0.0/24", "bgp_peer1", 0, true, "192.0.2.1", "65010 65001"},
		{4, "10.0.0.0/24", "bgp_peer1", 1, false, "192.0.2.9", "65002"},
		{6, "2001:db8::/32", "static6", 0, true, "", ""},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	first := routes[0]
	if first.RouterID != "192.0.2.254" || first.TableName != "master4" {
		t.Errorf("unexpected identity %s/%s", first.RouterID, first.TableName)
	}
	if first.Origin != "IGP" {
		t.Errorf("expected origin IGP, got %q", first.Origin)
	}
	if first.LocalPref == nil || *first.LocalPref != 200 {
		t.Errorf("expected localpref 200, got %v", first.LocalPref)
	}
	if first.OriginASN == nil || *first.OriginASN != 65001 {
		t.Errorf("expected origin ASN 65001, got %v", first.OriginASN)
	}
	if diff := cmp.Diff([]string{"65000:100", "65000:200"}, first.CommStd); diff != "" {
		t.Errorf("communities mismatch (-want +got):\n%s", diff)
	}
	if len(first.Fingerprint) != 32 {
		t.Errorf("expected 32 byte fingerprint, got %d", len(first.Fingerprint))
	}
}

func TestFlattenTableNil(t *testing.T) {
	if routes := FlattenTable("r", "t", nil); routes != nil {
		t.Errorf("expected nil, got %v", routes)
	}
}

func TestFingerprintTracksContent(t *testing.T) {
	a := FlattenTable("r", "t", decodeReply(t, tableReply))
	b := FlattenTable("r", "t", decodeReply(t, tableReply))
	if !bytes.Equal(a[0].Fingerprint, b[0].Fingerprint) {
		t.Error("identical sources produced different fingerprints")
	}
	if bytes.Equal(a[0].Fingerprint, a[1].Fingerprint) {
		t.Error("different sources produced the same fingerprint")
	}
}

func TestAFIOf(t *testing.T) {
	tests := map[string]int{
		"10.0.0.0/8":              4,
		"2001:db8::/32":           6,
		"192.0.2.0/24-24 AS65001": 4,
		"2001:db8::/32-48 AS1":    6,
	}
	for prefix, want := range tests {
		if got := AFIOf(prefix); got != want {
			t.Errorf("AFIOf(%q) = %d, want %d", prefix, got, want)
		}
	}
}

func TestSnapshotCountByAFI(t *testing.T) {
	snap := &Snapshot{Routes: FlattenTable("r", "t", decodeReply(t, tableReply))}
	if diff := cmp.Diff(map[int]int{4: 2, 6: 1}, snap.CountByAFI()); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}
