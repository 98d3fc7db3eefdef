package schema

import (
	"errors"
	"fmt"
)

// Configuration error codes (E200-E249).
const (
	ErrCodeNoPIVs          = "E200" // model declares no PIVs
	ErrCodeName            = "E201" // missing or duplicate PIV name
	ErrCodeCardinality     = "E202" // cardinality < 2
	ErrCodeStability       = "E203" // stability variant missing
	ErrCodeMistakeBound    = "E204" // bound outside (0, 1]
	ErrCodeMistakeFixed    = "E205" // fixed value outside [0, 1)
	ErrCodeSharedConflict  = "E206" // shared rate with conflicting per-source fixation
	ErrCodeHazardCovariate = "E207" // negative covariate index
	ErrCodeRunLength       = "E208" // burn-in/iteration misconfiguration
)

// Estimability error codes (E250-E259).
const (
	ErrCodeUnidentifiable = "E250" // unstable PIV with no distinguishing information
)

// ConfigurationError reports a malformed or incomplete model. It is fatal
// and raised before any sampling begins.
type ConfigurationError struct {
	// Code identifies the error category (E2xx).
	Code string

	// PIV names the offending variable, empty for model-level errors.
	PIV string

	// Field names the offending field within the PIV or run config.
	Field string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.PIV != "" {
		return fmt.Sprintf("[%s] piv %q: %s: %s", e.Code, e.PIV, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// EstimabilityError reports a parameterization that is not identifiable from
// the declared control flags. It is fatal and raised before any sampling
// begins; the guard never silently repairs it unless the caller opts in via
// RunConfig.AllowAutoFix.
type EstimabilityError struct {
	// Code identifies the error category (E25x).
	Code string

	// PIV names the non-identifiable variable.
	PIV string

	// Message explains what distinguishing information is missing.
	Message string
}

// Error implements the error interface.
func (e *EstimabilityError) Error() string {
	return fmt.Sprintf("[%s] piv %q not estimable: %s", e.Code, e.PIV, e.Message)
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsEstimabilityError reports whether err is (or wraps) an EstimabilityError.
func IsEstimabilityError(err error) bool {
	var ee *EstimabilityError
	return errors.As(err, &ee)
}
