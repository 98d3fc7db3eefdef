package params

import (
	"errors"
	"fmt"
)

// NumericalInstabilityError reports a likelihood or parameter computation
// that left the valid numeric domain: an underflow of every candidate
// weight for a record, or an update producing a non-finite or out-of-range
// parameter.
//
// It is fatal by default. Silently renormalizing would mask a data or
// configuration problem, so the error instead carries enough context for
// the caller to locate it: the outer iteration, the PIV, and the record
// index where the computation failed (-1 where not applicable).
type NumericalInstabilityError struct {
	// Op names the computation that failed ("linkage weights",
	// "gamma update", ...).
	Op string

	// Iteration is the outer StEM iteration (1-based), 0 if before the
	// first iteration.
	Iteration int

	// PIV names the offending variable, empty when the failure spans all
	// PIVs (e.g. a full-pair underflow).
	PIV string

	// Record is the offending record index, -1 when not applicable.
	Record int

	// Message describes the failure.
	Message string
}

// Error implements the error interface.
func (e *NumericalInstabilityError) Error() string {
	msg := fmt.Sprintf("numerical instability in %s (iteration %d", e.Op, e.Iteration)
	if e.PIV != "" {
		msg += fmt.Sprintf(", piv %q", e.PIV)
	}
	if e.Record >= 0 {
		msg += fmt.Sprintf(", record %d", e.Record)
	}
	return msg + "): " + e.Message
}

// IsNumericalInstability reports whether err is (or wraps) a
// NumericalInstabilityError.
func IsNumericalInstability(err error) bool {
	var ne *NumericalInstabilityError
	return errors.As(err, &ne)
}
