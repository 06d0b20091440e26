package birdc

import (
	"regexp"
	"strings"
)

// Status is the decoded reply of "show status".
type Status struct {
	Version             string `json:"version"`
	RouterID            string `json:"router_id"`
	Hostname            string `json:"hostname,omitempty"`
	ServerTime          string `json:"server_time"`
	LastReboot          string `json:"last_reboot"`
	LastReconfiguration string `json:"last_reconfiguration"`
	Message             string `json:"message"`
}

var (
	bannerRe       = regexp.MustCompile(`^BIRD ([0-9][0-9A-Za-z.+~-]*) ready\.$`)
	versionRe      = regexp.MustCompile(`^BIRD ([0-9][0-9A-Za-z.+~-]*)$`)
	routerIDRe     = regexp.MustCompile(`^Router ID is ([0-9.]+)$`)
	hostnameRe     = regexp.MustCompile(`^Hostname is (\S+)$`)
	serverTimeRe   = regexp.MustCompile(`^Current server time is (.+)$`)
	lastRebootRe   = regexp.MustCompile(`^Last reboot on (.+)$`)
	lastReconfigRe = regexp.MustCompile(`^Last reconfiguration on (.+)$`)
)

// DecodeStatus decodes the reply of "show status". Fields the daemon did not
// print are left empty.
func DecodeStatus(lines []string) (*Status, error) {
	var (
		st    Status
		codes codeTracker
	)
	for _, raw := range lines {
		if isBlank(raw) {
			continue
		}
		l := codes.next(raw)
		text := strings.TrimSpace(l.Payload)

		switch {
		case isErrorCode(l.Code):
			return nil, &ProtocolError{Code: l.Code, Message: text}
		case l.Code == CodeBanner:
			if m := bannerRe.FindStringSubmatch(text); m != nil && st.Version == "" {
				st.Version = m[1]
			}
		case l.Code == CodeVersion:
			if m := versionRe.FindStringSubmatch(text); m != nil {
				st.Version = m[1]
			}
		case l.Code == CodeStatusEnd:
			st.Message = text
			return &st, nil
		default:
			st.apply(text)
		}
	}
	return &st, nil
}

func (st *Status) apply(text string) {
	if m := routerIDRe.FindStringSubmatch(text); m != nil {
		st.RouterID = m[1]
	} else if m := hostnameRe.FindStringSubmatch(text); m != nil {
		st.Hostname = m[1]
	} else if m := serverTimeRe.FindStringSubmatch(text); m != nil {
		st.ServerTime = m[1]
	} else if m := lastRebootRe.FindStringSubmatch(text); m != nil {
		st.LastReboot = m[1]
	} else if m := lastReconfigRe.FindStringSubmatch(text); m != nil {
		st.LastReconfiguration = m[1]
	}
}
