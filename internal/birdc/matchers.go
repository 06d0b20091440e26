package birdc

import (
	"fmt"
	"regexp"
	"strconv"
)

// sinceExpr matches the route age column: a time of day with optional
// date and optional milliseconds.
const sinceExpr = `(?P<since>(?:[0-9]{4}-[0-9]{2}-[0-9]{2} )?[0-9]{2}:[0-9]{2}:[0-9]{2}(?:\.[0-9]{1,3})?)`

// sourceMatcher recognises one family of route source lines.
type sourceMatcher struct {
	family Family
	re     *regexp.Regexp
	build  func(g *groups, src *RouteSource)
}

// sourceMatchers are tried in order; the first match wins.
var sourceMatchers = []sourceMatcher{
	{
		family: FamilyROA,
		re: regexp.MustCompile(`^(?P<max>[0-9]+) AS(?P<asn>[0-9]+)\s+\[(?P<protocol>\S+)\s+` + sinceExpr +
			`\] (?:(?P<best>\*) )?\((?P<pref>[0-9]+)\)$`),
		build: func(g *groups, src *RouteSource) {
			src.ROA = &ROA{Max: g.int("max"), ASN: g.str("asn")}
		},
	},
	{
		family: FamilyGeneric,
		re: regexp.MustCompile(`^(?P<ptype>[a-z]+) \[(?P<protocol>\S+)\s+` + sinceExpr +
			`\] (?:(?P<best>\*) )?\((?P<pref>[0-9]+)\)$`),
	},
	{
		family: FamilyBGP,
		re: regexp.MustCompile(`^(?P<ptype>[a-z]+) \[(?P<protocol>\S+)\s+` + sinceExpr +
			`(?: from (?P<from>[0-9A-Fa-f.:]+))?\] (?:(?P<best>\*) )?\((?P<pref>[0-9]+)(?:/(?P<metric>[0-9]+|\?))?\) ` +
			`\[(?P<asn>AS[0-9]+)?(?P<bgptype>[ie?])\]$`),
		build: func(g *groups, src *RouteSource) {
			src.BGPType = g.str("bgptype")
			src.ASN = g.str("asn")
			src.From = g.str("from")
			src.Metric = g.intPtr("metric")
		},
	},
	{
		family: FamilyOSPF,
		re: regexp.MustCompile(`^(?P<ptype>[a-z]+) \[(?P<protocol>\S+)\s+` + sinceExpr +
			`\] (?:(?P<best>\*) )?(?P<ospftype>I|IA|E1|E2) \((?P<pref>[0-9]+)/(?P<metric1>[0-9]+)(?:/(?P<metric2>[0-9]+))?\)` +
			`(?: \[(?P<tag>(?:0x)?[0-9a-fA-F]+)\])? \[(?P<routerid>[0-9.]+)\]$`),
		build: func(g *groups, src *RouteSource) {
			src.OSPFType = g.str("ospftype")
			src.Metric1 = g.intPtr("metric1")
			src.Metric2 = g.intPtr("metric2")
			src.Tag = g.str("tag")
			src.RouterID = g.str("routerid")
		},
	},
	{
		family: FamilyRIP,
		re: regexp.MustCompile(`^(?P<ptype>[a-z]+) \[(?P<protocol>\S+)\s+` + sinceExpr +
			`\] (?:(?P<best>\*) )?\((?P<pref>[0-9]+)/(?P<metric1>[0-9]+)\)(?: \[(?P<tag>[0-9a-fA-F]+)\])?$`),
		build: func(g *groups, src *RouteSource) {
			src.Metric1 = g.intPtr("metric1")
			src.Tag = g.str("tag")
		},
	},
}

// matchSource runs the matchers in order against a source line. The error
// is set when a line matched but one of its numbers does not fit an int.
func matchSource(text string) (RouteSource, bool, error) {
	for _, m := range sourceMatchers {
		sub := m.re.FindStringSubmatch(text)
		if sub == nil {
			continue
		}
		g := &groups{re: m.re, sub: sub}
		src := RouteSource{
			Family:     m.family,
			PrefixType: g.str("ptype"),
			Protocol:   g.str("protocol"),
			Since:      g.str("since"),
			Pref:       g.int("pref"),
			Bestpath:   g.str("best") == "*",
		}
		if m.build != nil {
			m.build(g, &src)
		}
		if g.err != nil {
			return RouteSource{}, true, g.err
		}
		return src, true, nil
	}
	return RouteSource{}, false, nil
}

// groups gives named access to a submatch slice. The first failed numeric
// conversion is kept in err.
type groups struct {
	re  *regexp.Regexp
	sub []string
	err error
}

func (g *groups) str(name string) string {
	i := g.re.SubexpIndex(name)
	if i < 0 {
		return ""
	}
	return g.sub[i]
}

// int returns 0 for an absent group.
func (g *groups) int(name string) int {
	if p := g.intPtr(name); p != nil {
		return *p
	}
	return 0
}

// intPtr returns nil for an absent group or BIRD's "?" placeholder.
func (g *groups) intPtr(name string) *int {
	s := g.str(name)
	if s == "" || s == "?" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		if g.err == nil {
			g.err = fmt.Errorf("%s %q out of range", name, s)
		}
		return nil
	}
	return &n
}
