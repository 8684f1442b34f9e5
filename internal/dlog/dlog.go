// Package dlog contains small helpers for use with log/slog.
package dlog

import "fmt"

// Hex wraps a byte slice so that it formats as lowercase hex
// when logged as an slog attribute value.
func Hex(b []byte) hexWrapper {
	return hexWrapper{b: b}
}

type hexWrapper struct {
	b []byte
}

func (h hexWrapper) String() string {
	return fmt.Sprintf("%x", h.b)
}
