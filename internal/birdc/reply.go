package birdc

import "strings"

// ReplyLine is one line of a control channel reply split into its status
// code and payload.
type ReplyLine struct {
	// Code is the 4-digit status code, or "" for a line that carries none
	// and therefore belongs to the most recently seen code.
	Code string
	// Continuation is true when the code was followed by '-', meaning
	// more lines of the reply follow.
	Continuation bool
	Payload      string
}

// Final reports whether the line terminates a reply. The connection banner
// (0001) is coded like a final line but only opens the session.
func (l ReplyLine) Final() bool {
	return l.Code != "" && l.Code != CodeBanner && !l.Continuation
}

// Reply codes the decoders dispatch on.
const (
	CodeOK          = "0000"
	CodeBanner      = "0001"
	CodeStatusEnd   = "0013"
	CodeVersion     = "1000"
	CodeProtocol    = "1002"
	CodeProtocolDet = "1006"
	CodeRoute       = "1007"
	CodeRouteType   = "1008"
	CodeStatus      = "1011"
	CodeRouteAttr   = "1012"
	CodeHeader      = "2002"
)

// SplitLine extracts the leading status code of a raw reply line. It never
// fails: a line without a code is returned as payload only.
func SplitLine(raw string) ReplyLine {
	if len(raw) < 4 || !isDigits(raw[:4]) {
		return ReplyLine{Payload: raw}
	}
	if len(raw) == 4 {
		return ReplyLine{Code: raw}
	}
	switch raw[4] {
	case '-':
		return ReplyLine{Code: raw[:4], Continuation: true, Payload: raw[5:]}
	case ' ':
		return ReplyLine{Code: raw[:4], Payload: raw[5:]}
	}
	return ReplyLine{Payload: raw}
}

// Lines splits a raw reply buffer into lines, dropping the trailing empty
// line left by a terminating newline.
func Lines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.TrimSuffix(raw, "\n")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}

// codeTracker resolves the effective code of uncoded lines.
type codeTracker struct {
	code string
}

func (t *codeTracker) next(raw string) ReplyLine {
	l := SplitLine(raw)
	if l.Code == "" {
		l.Code = t.code
		l.Continuation = true
	} else {
		t.code = l.Code
	}
	return l
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func isErrorCode(code string) bool {
	return len(code) == 4 && (code[0] == '8' || code[0] == '9')
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
