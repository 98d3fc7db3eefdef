// Package schema defines the linkage model description: one entry per
// partially identifying variable (PIV), plus the run-length settings that
// drive the StEM fit.
//
// A Model is constructed once, validated once (see Validate and Guard), and
// treated as read-only for the lifetime of a fit. Every consumer downstream
// of the guard may assume the invariants documented here hold.
package schema

import "fmt"

// Missing is the sentinel used by external encodings for an absent PIV
// value. Internally missingness is carried as an explicit flag (see the
// record package); the sentinel only appears at ingest boundaries.
const Missing = 0

// Stability is the tagged variant describing whether a PIV's true value can
// drift between the two sources' observation times.
//
// Exactly two implementations exist: Stable and Unstable. The closed set is
// enforced by the unexported marker method.
type Stability interface {
	isStability()
}

// Stable marks a PIV whose true value is constant across observation times.
type Stable struct{}

func (Stable) isStability() {}

// Unstable marks a PIV whose true value may change between the two sources'
// observation times. The change probability is governed by the alpha hazard
// parameter, optionally modulated by per-record covariates.
type Unstable struct {
	// HazardCovariatesA and HazardCovariatesB list covariate column indices
	// (into the record files' covariate vectors) whose values scale the
	// effective exposure time of a candidate pair. Either may be empty.
	HazardCovariatesA []int
	HazardCovariatesB []int
}

func (Unstable) isStability() {}

// MistakeModel controls estimation of the phi (recording mistake) parameter
// for one PIV.
//
// INVARIANTS (after Guard):
//   - Shared implies FixedA == FixedB and, when fixed, FixedValueA == FixedValueB.
//   - Bound is in (0, 1] when Bounded.
//   - Fixed values are in [0, 1).
type MistakeModel struct {
	// Shared estimates a single mistake rate for both sources instead of
	// one per source.
	Shared bool

	// Bounded imposes a ceiling on the estimated rate. Updates exceeding
	// Bound are clipped, never silently renormalized elsewhere.
	Bounded bool
	Bound   float64

	// FixedA/FixedB pin the per-source rate to a constant; the M-step
	// skips the corresponding update entirely.
	FixedA      bool
	FixedB      bool
	FixedValueA float64
	FixedValueB float64
}

// PIV describes a single partially identifying variable shared by the two
// record sources.
type PIV struct {
	// Name identifies the PIV in configs, logs, and errors.
	Name string

	// Cardinality is the number of distinct coded categories. Valid codes
	// are 1..Cardinality; 0 is reserved for the external missing sentinel.
	Cardinality int

	// Stability is Stable or Unstable.
	Stability Stability

	// Mistake controls phi estimation for this PIV.
	Mistake MistakeModel
}

// IsStable reports whether the PIV's stability variant is Stable.
func (p *PIV) IsStable() bool {
	_, ok := p.Stability.(Stable)
	return ok
}

// Hazard returns the Unstable variant and true when the PIV is unstable.
func (p *PIV) Hazard() (Unstable, bool) {
	u, ok := p.Stability.(Unstable)
	return u, ok
}

// Model is the full PIV schema for a linkage problem.
type Model struct {
	PIVs []PIV
}

// NumPIVs returns the number of variables in the model.
func (m *Model) NumPIVs() int {
	return len(m.PIVs)
}

// PIVByName returns the PIV with the given name, or nil.
func (m *Model) PIVByName(name string) *PIV {
	for i := range m.PIVs {
		if m.PIVs[i].Name == name {
			return &m.PIVs[i]
		}
	}
	return nil
}

// RunConfig holds the run-length and reproducibility settings for a fit.
type RunConfig struct {
	// StEMIter is the number of outer StEM iterations; StEMBurnin is the
	// prefix of outer iterations excluded from the final link posterior.
	StEMIter   int
	StEMBurnin int

	// GibbsIter is the number of inner Gibbs sweeps per outer iteration;
	// GibbsBurnin is the per-iteration prefix excluded from sufficient
	// statistics and posterior accumulation.
	GibbsIter   int
	GibbsBurnin int

	// Seed initializes the single PCG source that drives every draw in
	// the fit. Identical seeds and inputs produce bit-identical results.
	Seed uint64

	// AllowAutoFix downgrades estimability failures to an automatic
	// mistake-rate fixation with a logged warning. Default is strict:
	// non-identifiable parameterizations are fatal. See Guard.
	AllowAutoFix bool
}

// ValidateRun checks run-length settings. Burn-in prefixes must leave at
// least one usable iteration at each level.
func ValidateRun(rc RunConfig) error {
	if rc.StEMIter <= 0 {
		return &ConfigurationError{
			Code:    ErrCodeRunLength,
			Field:   "StEMIter",
			Message: fmt.Sprintf("must be positive, got %d", rc.StEMIter),
		}
	}
	if rc.GibbsIter <= 0 {
		return &ConfigurationError{
			Code:    ErrCodeRunLength,
			Field:   "GibbsIter",
			Message: fmt.Sprintf("must be positive, got %d", rc.GibbsIter),
		}
	}
	if rc.StEMBurnin < 0 || rc.StEMBurnin >= rc.StEMIter {
		return &ConfigurationError{
			Code:    ErrCodeRunLength,
			Field:   "StEMBurnin",
			Message: fmt.Sprintf("must be in [0, StEMIter), got %d with StEMIter=%d", rc.StEMBurnin, rc.StEMIter),
		}
	}
	if rc.GibbsBurnin < 0 || rc.GibbsBurnin >= rc.GibbsIter {
		return &ConfigurationError{
			Code:    ErrCodeRunLength,
			Field:   "GibbsBurnin",
			Message: fmt.Sprintf("must be in [0, GibbsIter), got %d with GibbsIter=%d", rc.GibbsBurnin, rc.GibbsIter),
		}
	}
	return nil
}
