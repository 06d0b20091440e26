package birdc

import (
	"regexp"
	"strconv"
	"strings"
)

const nexthopOptions = `(?: mpls ([0-9/]+))?(?: (onlink))?(?: weight ([0-9]+))?`

var (
	gatewayNexthopRe = regexp.MustCompile(`^via\s+(\S+)\s+on (\S+)` + nexthopOptions + `$`)
	deviceNexthopRe  = regexp.MustCompile(`^dev (\S+)` + nexthopOptions + `$`)
)

// ParseNexthop parses a "via <gw> on <iface>" or "dev <iface>" line with
// optional mpls, onlink and weight suffixes.
func ParseNexthop(line string) (Nexthop, bool) {
	line = strings.TrimSpace(line)
	if m := gatewayNexthopRe.FindStringSubmatch(line); m != nil {
		return buildNexthop(m[1], m[2], m[3], m[4], m[5])
	}
	if m := deviceNexthopRe.FindStringSubmatch(line); m != nil {
		return buildNexthop("", m[1], m[2], m[3], m[4])
	}
	return Nexthop{}, false
}

func buildNexthop(gateway, iface, mpls, onlink, weight string) (Nexthop, bool) {
	nh := Nexthop{
		Gateway:   gateway,
		Interface: iface,
		MPLS:      mpls,
		Onlink:    onlink != "",
	}
	if weight != "" {
		w, err := strconv.Atoi(weight)
		if err != nil {
			return Nexthop{}, false
		}
		nh.Weight = &w
	}
	return nh, true
}
