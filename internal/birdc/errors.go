package birdc

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol is wrapped by every error the daemon itself reported.
	ErrProtocol = errors.New("birdc: daemon error")
	// ErrParse is wrapped by every error raised for a reply that does not
	// match the expected grammar.
	ErrParse = errors.New("birdc: parse error")
)

// ProtocolError is returned when the daemon answers with an 8xxx or 9xxx
// reply code.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("birdc: daemon error %s: %s", e.Code, e.Message)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// ParseError is returned when a reply line or attribute value cannot be
// decoded. Line holds the offending raw line when one is known.
type ParseError struct {
	Line   string
	Reason string
	Value  any
}

func (e *ParseError) Error() string {
	msg := "birdc: " + e.Reason
	if e.Value != nil {
		msg += fmt.Sprintf(" (%v)", e.Value)
	}
	if e.Line != "" {
		msg += fmt.Sprintf(": %q", e.Line)
	}
	return msg
}

func (e *ParseError) Unwrap() error { return ErrParse }

func parseErrorf(line string, format string, args ...any) *ParseError {
	return &ParseError{Line: line, Reason: fmt.Sprintf(format, args...)}
}
