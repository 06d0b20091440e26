// Package birdc talks to a BIRD routing daemon over its control socket and
// decodes the line-oriented replies into typed values.
//
// Every reply line starts with a 4-digit status code followed by '-' when
// more lines follow or a space on the final line. Lines that begin with a
// space carry no code and continue the previous one. The decoders are pure
// functions over a slice of such lines, so captured replies decode exactly
// like live ones.
package birdc
