package dpconsensus

import (
	"errors"
	"fmt"
)

// MalformedError indicates consensus input rejected at the boundary,
// before any validator runs: missing required fields, zero or negative
// divisors, duplicate orders, and the like.
//
// A MalformedError always describes remote input;
// it is never raised for locally stored state.
type MalformedError struct {
	Reason string
}

func (e MalformedError) Error() string {
	return "malformed consensus input: " + e.Reason
}

// Malformedf returns a MalformedError with a formatted reason.
func Malformedf(format string, args ...any) error {
	return MalformedError{Reason: fmt.Sprintf(format, args...)}
}

// IsMalformed reports whether err is a boundary rejection.
func IsMalformed(err error) bool {
	var m MalformedError
	return errors.As(err, &m)
}

// ErrCorruptRound indicates a locally stored round violating its own
// structural invariants. This is a data-corruption or programming bug,
// not a runtime condition to recover from: callers must stop applying
// blocks rather than propagate corrupted state forward.
var ErrCorruptRound = errors.New("stored round violates structural invariants")
