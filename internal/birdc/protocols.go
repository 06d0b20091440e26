package birdc

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Protocol is one protocol instance from "show protocols", optionally
// enriched with the detail block of "show protocols all".
type Protocol struct {
	Name      string `json:"name"`
	Proto     string `json:"proto"`
	Table     string `json:"table,omitempty"`
	State     string `json:"state"`
	Since     string `json:"since"`
	Info      string `json:"info,omitempty"`
	InfoExtra string `json:"info_extra,omitempty"`

	Description     string `json:"description,omitempty"`
	NeighborAddress string `json:"neighbor_address,omitempty"`
	NeighborAS      int    `json:"neighbor_as,omitempty"`
	NeighborID      string `json:"neighbor_id,omitempty"`
	LocalAS         int    `json:"local_as,omitempty"`
	SourceAddress   string `json:"source_address,omitempty"`
	LastError       string `json:"last_error,omitempty"`

	Channel            string `json:"channel,omitempty"`
	Preference         int    `json:"preference,omitempty"`
	InputFilter        string `json:"input_filter,omitempty"`
	OutputFilter       string `json:"output_filter,omitempty"`
	ImportLimit        int    `json:"import_limit,omitempty"`
	ImportLimitAction  string `json:"import_limit_action,omitempty"`
	ExportLimit        int    `json:"export_limit,omitempty"`
	ExportLimitAction  string `json:"export_limit_action,omitempty"`
	ReceiveLimit       int    `json:"receive_limit,omitempty"`
	ReceiveLimitAction string `json:"receive_limit_action,omitempty"`
	RoutesImported     *int   `json:"routes_imported,omitempty"`
	RoutesFiltered     *int   `json:"routes_filtered,omitempty"`
	RoutesExported     *int   `json:"routes_exported,omitempty"`
	RoutesPreferred    *int   `json:"routes_preferred,omitempty"`
	BGPNexthop         string `json:"bgp_nexthop,omitempty"`
	IGPTable           string `json:"igp_table,omitempty"`
}

// Protocols is the decoded reply of a protocol query, in reply order.
type Protocols struct {
	Entries []Protocol
}

// Get returns the protocol with the given name.
func (p *Protocols) Get(name string) (Protocol, bool) {
	for _, e := range p.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Protocol{}, false
}

// MarshalJSON encodes the protocols as an object keyed by name, preserving
// reply order.
func (p *Protocols) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range p.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e)
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

var (
	protocolSummaryRe = regexp.MustCompile(`^(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+` +
		`((?:[0-9]{4}-[0-9]{2}-[0-9]{2} )?[0-9]{2}:[0-9]{2}:[0-9]{2}(?:\.[0-9]{1,3})?|[0-9]{4}-[0-9]{2}-[0-9]{2})` +
		`(?:\s+(.*))?$`)

	limitRe  = regexp.MustCompile(`^(Import|Export|Receive) limit:\s+([0-9]+)`)
	routesRe = regexp.MustCompile(`([0-9]+) (imported|filtered|exported|preferred)`)
)

// detailField folds one "Key: value" detail line into a protocol.
type detailField struct {
	re    *regexp.Regexp
	apply func(p *Protocol, v string)
}

var protocolDetails = []detailField{
	{regexp.MustCompile(`^Description:\s+(.+)$`), func(p *Protocol, v string) { p.Description = v }},
	{regexp.MustCompile(`^BGP state:\s+(\S+)$`), func(p *Protocol, v string) {
		p.Info = strings.ToLower(v)
		p.InfoExtra = ""
	}},
	{regexp.MustCompile(`^Neighbor address:\s+(\S+)$`), func(p *Protocol, v string) { p.NeighborAddress = v }},
	{regexp.MustCompile(`^Neighbor AS:\s+([0-9]+)$`), func(p *Protocol, v string) { p.NeighborAS = atoi(v) }},
	{regexp.MustCompile(`^Neighbor ID:\s+(\S+)$`), func(p *Protocol, v string) { p.NeighborID = v }},
	{regexp.MustCompile(`^Local AS:\s+([0-9]+)$`), func(p *Protocol, v string) { p.LocalAS = atoi(v) }},
	{regexp.MustCompile(`^Source address:\s+(\S+)$`), func(p *Protocol, v string) { p.SourceAddress = v }},
	{regexp.MustCompile(`^Last error:\s+(.+)$`), func(p *Protocol, v string) { p.LastError = strings.ToLower(v) }},
	{regexp.MustCompile(`^Channel (\S+)$`), func(p *Protocol, v string) { p.Channel = v }},
	{regexp.MustCompile(`^Table:\s+(\S+)$`), func(p *Protocol, v string) { p.Table = v }},
	{regexp.MustCompile(`^Preference:\s+([0-9]+)$`), func(p *Protocol, v string) { p.Preference = atoi(v) }},
	{regexp.MustCompile(`^Input filter:\s+(\S+)$`), func(p *Protocol, v string) { p.InputFilter = v }},
	{regexp.MustCompile(`^Output filter:\s+(\S+)$`), func(p *Protocol, v string) { p.OutputFilter = v }},
	{regexp.MustCompile(`^BGP Next hop:\s+(\S+)`), func(p *Protocol, v string) { p.BGPNexthop = v }},
	{regexp.MustCompile(`^IGP IPv[46] table:\s+(\S+)$`), func(p *Protocol, v string) { p.IGPTable = v }},
}

// protocolFolder accumulates protocols while walking a reply.
type protocolFolder struct {
	out    *Protocols
	active int
	limit  string
}

// DecodeProtocols decodes the reply of "show protocols" or
// "show protocols all". Detail lines are folded into the protocol whose
// summary line precedes them.
func DecodeProtocols(lines []string) (*Protocols, error) {
	f := &protocolFolder{out: &Protocols{}, active: -1}
	var codes codeTracker
	for _, raw := range lines {
		if isBlank(raw) {
			continue
		}
		l := codes.next(raw)
		text := strings.TrimSpace(l.Payload)

		switch {
		case isErrorCode(l.Code):
			return nil, &ProtocolError{Code: l.Code, Message: text}
		case l.Code == CodeOK:
			return f.out, nil
		case l.Code == CodeProtocol:
			if err := f.summary(raw, text); err != nil {
				return nil, err
			}
		case l.Code == CodeProtocolDet:
			f.detail(text)
		}
	}
	return f.out, nil
}

// DecodeProtocol decodes a protocol reply and returns the named protocol.
func DecodeProtocol(name string, lines []string) (*Protocol, error) {
	all, err := DecodeProtocols(lines)
	if err != nil {
		return nil, err
	}
	p, ok := all.Get(name)
	if !ok {
		return nil, &ParseError{Reason: "protocol not found in reply", Value: name}
	}
	return &p, nil
}

func (f *protocolFolder) summary(raw, text string) error {
	m := protocolSummaryRe.FindStringSubmatch(text)
	if m == nil {
		return parseErrorf(raw, "malformed protocol line")
	}
	p := Protocol{
		Name:  m[1],
		Proto: m[2],
		State: m[4],
		Since: m[5],
	}
	if m[3] != "---" {
		p.Table = m[3]
	}
	if p.State == "start" {
		p.State = "down"
	}

	info := strings.ToLower(strings.TrimSpace(m[6]))
	if p.Proto == "BGP" && info != "" {
		word, extra, _ := strings.Cut(info, " ")
		switch word {
		case "active":
			word = "connecting"
		case "passive":
			word = "waiting"
		}
		p.Info = word
		p.InfoExtra = strings.TrimSpace(extra)
	} else {
		p.Info = info
	}

	f.out.Entries = append(f.out.Entries, p)
	f.active = len(f.out.Entries) - 1
	f.limit = ""
	return nil
}

func (f *protocolFolder) detail(text string) {
	if f.active < 0 || text == "" {
		return
	}
	p := &f.out.Entries[f.active]

	if m := limitRe.FindStringSubmatch(text); m != nil {
		f.limit = m[1]
		switch f.limit {
		case "Import":
			p.ImportLimit = atoi(m[2])
		case "Export":
			p.ExportLimit = atoi(m[2])
		case "Receive":
			p.ReceiveLimit = atoi(m[2])
		}
		return
	}
	if v, ok := strings.CutPrefix(text, "Action:"); ok {
		v = strings.TrimSpace(v)
		switch f.limit {
		case "Import":
			p.ImportLimitAction = v
		case "Export":
			p.ExportLimitAction = v
		case "Receive":
			p.ReceiveLimitAction = v
		}
		return
	}
	if rest, ok := strings.CutPrefix(text, "Routes:"); ok {
		for _, m := range routesRe.FindAllStringSubmatch(rest, -1) {
			n := atoi(m[1])
			switch m[2] {
			case "imported":
				p.RoutesImported = &n
			case "filtered":
				p.RoutesFiltered = &n
			case "exported":
				p.RoutesExported = &n
			case "preferred":
				p.RoutesPreferred = &n
			}
		}
		return
	}
	for _, d := range protocolDetails {
		if m := d.re.FindStringSubmatch(text); m != nil {
			d.apply(p, m[1])
			return
		}
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
