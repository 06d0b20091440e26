package birdc

import (
	"errors"
	"regexp"
	"strings"
)

var (
	tableHeaderRe   = regexp.MustCompile(`^Table (\S+?):?$`)
	roaPrefixRe     = regexp.MustCompile(`^([0-9a-fA-F.:]+/[0-9]{1,3})-([0-9]+\s.+)$`)
	ipv4PrefixRe    = regexp.MustCompile(`^([0-9]{1,3}(?:\.[0-9]{1,3}){3}/[0-9]{1,2})\s+(.+)$`)
	ipv6PrefixRe    = regexp.MustCompile(`^([0-9a-fA-F:]+/[0-9]{1,3})\s+(.+)$`)
	typeLineRe      = regexp.MustCompile(`^Type:\s+(.+)$`)
	attributeLineRe = regexp.MustCompile(`^([A-Za-z0-9._]+):\s*(.*)$`)
)

// routeCursor is the decoding state carried from line to line.
type routeCursor struct {
	codes   codeTracker
	table   string
	prefix  string
	sources []RouteSource
	active  int // index into sources, -1 when none
	attr    string
}

type routeDecoder struct {
	cur   routeCursor
	out   *RouteTable
	index map[string]int
}

// DecodeRouteTable decodes the reply of a "show route ... all" query. On
// error no partial table is returned.
func DecodeRouteTable(lines []string) (*RouteTable, error) {
	d := &routeDecoder{
		cur:   routeCursor{active: -1},
		out:   &RouteTable{},
		index: make(map[string]int),
	}
	for _, raw := range lines {
		done, err := d.feed(raw)
		if err != nil {
			return nil, err
		}
		if done {
			return d.out, nil
		}
	}
	d.commit()
	return d.out, nil
}

func (d *routeDecoder) feed(raw string) (bool, error) {
	if isBlank(raw) {
		return false, nil
	}
	l := d.cur.codes.next(raw)

	switch {
	case l.Code == CodeOK:
		d.commit()
		return true, nil
	case l.Code == CodeBanner:
		return false, nil
	case l.Code == CodeRoute:
		return false, d.route(raw, strings.TrimSpace(l.Payload))
	case l.Code == CodeRouteType:
		return false, d.routeType(raw, strings.TrimSpace(l.Payload))
	case l.Code == CodeRouteAttr:
		return false, d.attribute(raw, l.Payload)
	case isErrorCode(l.Code):
		return false, &ProtocolError{Code: l.Code, Message: strings.TrimSpace(l.Payload)}
	case l.Code == "":
		return false, parseErrorf(raw, "line without reply code")
	}
	return false, parseErrorf(raw, "unexpected reply code %s", l.Code)
}

func (d *routeDecoder) route(raw, text string) error {
	if m := tableHeaderRe.FindStringSubmatch(text); m != nil {
		d.commit()
		d.cur.table = m[1]
		return nil
	}

	if prefix, rest, ok := splitPrefix(text); ok {
		d.commit()
		d.cur.prefix = prefix
		return d.source(raw, rest)
	}

	if nh, ok := ParseNexthop(text); ok {
		if d.cur.active < 0 {
			return parseErrorf(raw, "nexthop without route source")
		}
		src := &d.cur.sources[d.cur.active]
		src.Nexthops = append(src.Nexthops, nh)
		return nil
	}

	return d.source(raw, text)
}

func (d *routeDecoder) source(raw, text string) error {
	src, ok, err := matchSource(text)
	if !ok {
		return parseErrorf(raw, "unrecognised route line")
	}
	if err != nil {
		return parseErrorf(raw, "%v", err)
	}
	if d.cur.prefix == "" {
		return parseErrorf(raw, "route source without prefix")
	}
	d.cur.sources = append(d.cur.sources, src)
	d.cur.active = len(d.cur.sources) - 1
	d.cur.attr = ""
	return nil
}

func (d *routeDecoder) routeType(raw, text string) error {
	m := typeLineRe.FindStringSubmatch(text)
	if m == nil {
		return parseErrorf(raw, "malformed type line")
	}
	if d.cur.active < 0 {
		return parseErrorf(raw, "type without route source")
	}
	d.cur.sources[d.cur.active].Type = strings.Fields(m[1])
	return nil
}

func (d *routeDecoder) attribute(raw, payload string) error {
	if d.cur.active < 0 {
		return parseErrorf(raw, "attribute without route source")
	}

	var name, value string
	if rest := strings.TrimLeft(payload, " "); strings.HasPrefix(rest, "\t\t") {
		if d.cur.attr == "" {
			return parseErrorf(raw, "attribute continuation without attribute")
		}
		name, value = d.cur.attr, rest
	} else {
		m := attributeLineRe.FindStringSubmatch(strings.TrimSpace(payload))
		if m == nil {
			return parseErrorf(raw, "malformed attribute line")
		}
		name, value = m[1], m[2]
		d.cur.attr = name
	}

	v, keep, err := DecodeAttribute(name, value)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) && pe.Line == "" {
			pe.Line = raw
		}
		return err
	}
	if !keep {
		return nil
	}

	src := &d.cur.sources[d.cur.active]
	if src.Attributes == nil {
		src.Attributes = make(Attributes)
	}
	prev, exists := src.Attributes[name]
	if !exists {
		src.Attributes[name] = v
		return nil
	}
	merged, ok := prev.merge(v)
	if !ok {
		return &ParseError{Line: raw, Reason: "repeated attribute " + name, Value: v.String()}
	}
	src.Attributes[name] = merged
	return nil
}

// commit stores the pending prefix group. A prefix seen before keeps its
// position and takes the new sources.
func (d *routeDecoder) commit() {
	if d.cur.prefix != "" && len(d.cur.sources) > 0 {
		entry := RouteEntry{Prefix: d.cur.prefix, Table: d.cur.table, Sources: d.cur.sources}
		if i, ok := d.index[entry.Prefix]; ok {
			d.out.Entries[i] = entry
		} else {
			d.index[entry.Prefix] = len(d.out.Entries)
			d.out.Entries = append(d.out.Entries, entry)
		}
	}
	d.cur.prefix = ""
	d.cur.sources = nil
	d.cur.active = -1
	d.cur.attr = ""
}

// splitPrefix separates a leading prefix from the source text that follows
// it. For ROA entries the remainder starts with the maximum length.
func splitPrefix(text string) (prefix, rest string, ok bool) {
	for _, re := range []*regexp.Regexp{roaPrefixRe, ipv4PrefixRe, ipv6PrefixRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", false
}
