package schema

import (
	"fmt"
	"log/slog"
)

// DefaultAutoFixValue is the mistake rate pinned by the auto-fix path when
// the caller opts out of strict estimability checking.
const DefaultAutoFixValue = 0.01

// Validate checks structural well-formedness of the model. It collects all
// errors found rather than failing fast, so a caller can surface every
// problem in one pass.
//
// Validate does NOT check estimability; that is Guard's job. Call Validate
// first, then Guard.
func Validate(m *Model) []*ConfigurationError {
	var errs []*ConfigurationError

	if len(m.PIVs) == 0 {
		errs = append(errs, &ConfigurationError{
			Code:    ErrCodeNoPIVs,
			Field:   "pivs",
			Message: "model declares no PIVs",
		})
		return errs
	}

	seen := make(map[string]bool, len(m.PIVs))
	for i := range m.PIVs {
		p := &m.PIVs[i]

		if p.Name == "" {
			errs = append(errs, &ConfigurationError{
				Code:    ErrCodeName,
				Field:   "name",
				Message: fmt.Sprintf("piv at index %d has no name", i),
			})
		} else if seen[p.Name] {
			errs = append(errs, &ConfigurationError{
				Code:    ErrCodeName,
				PIV:     p.Name,
				Field:   "name",
				Message: "duplicate PIV name",
			})
		}
		seen[p.Name] = true

		if p.Cardinality < 2 {
			errs = append(errs, &ConfigurationError{
				Code:    ErrCodeCardinality,
				PIV:     p.Name,
				Field:   "cardinality",
				Message: fmt.Sprintf("must be at least 2, got %d", p.Cardinality),
			})
		}

		if p.Stability == nil {
			errs = append(errs, &ConfigurationError{
				Code:    ErrCodeStability,
				PIV:     p.Name,
				Field:   "stability",
				Message: "every PIV must declare Stable or Unstable",
			})
		}

		if u, ok := p.Hazard(); ok {
			for _, idx := range u.HazardCovariatesA {
				if idx < 0 {
					errs = append(errs, &ConfigurationError{
						Code:    ErrCodeHazardCovariate,
						PIV:     p.Name,
						Field:   "hazardCovariatesA",
						Message: fmt.Sprintf("negative covariate index %d", idx),
					})
				}
			}
			for _, idx := range u.HazardCovariatesB {
				if idx < 0 {
					errs = append(errs, &ConfigurationError{
						Code:    ErrCodeHazardCovariate,
						PIV:     p.Name,
						Field:   "hazardCovariatesB",
						Message: fmt.Sprintf("negative covariate index %d", idx),
					})
				}
			}
		}

		errs = append(errs, validateMistake(p)...)
	}

	return errs
}

// validateMistake checks the mistake-rate control flags for one PIV.
func validateMistake(p *PIV) []*ConfigurationError {
	var errs []*ConfigurationError
	mm := &p.Mistake

	if mm.Bounded && (mm.Bound <= 0 || mm.Bound > 1) {
		errs = append(errs, &ConfigurationError{
			Code:    ErrCodeMistakeBound,
			PIV:     p.Name,
			Field:   "mistake.bound",
			Message: fmt.Sprintf("must be in (0, 1], got %g", mm.Bound),
		})
	}
	if mm.FixedA && (mm.FixedValueA < 0 || mm.FixedValueA >= 1) {
		errs = append(errs, &ConfigurationError{
			Code:    ErrCodeMistakeFixed,
			PIV:     p.Name,
			Field:   "mistake.fixedValueA",
			Message: fmt.Sprintf("must be in [0, 1), got %g", mm.FixedValueA),
		})
	}
	if mm.FixedB && (mm.FixedValueB < 0 || mm.FixedValueB >= 1) {
		errs = append(errs, &ConfigurationError{
			Code:    ErrCodeMistakeFixed,
			PIV:     p.Name,
			Field:   "mistake.fixedValueB",
			Message: fmt.Sprintf("must be in [0, 1), got %g", mm.FixedValueB),
		})
	}

	// A shared rate cannot carry two independent, conflicting fixations.
	if mm.Shared {
		if mm.FixedA != mm.FixedB {
			errs = append(errs, &ConfigurationError{
				Code:    ErrCodeSharedConflict,
				PIV:     p.Name,
				Field:   "mistake",
				Message: "shared mistake rate requires both sources fixed or neither",
			})
		} else if mm.FixedA && mm.FixedValueA != mm.FixedValueB {
			errs = append(errs, &ConfigurationError{
				Code:    ErrCodeSharedConflict,
				PIV:     p.Name,
				Field:   "mistake",
				Message: fmt.Sprintf("shared mistake rate fixed to conflicting values %g and %g", mm.FixedValueA, mm.FixedValueB),
			})
		}
	}

	return errs
}

// Guard enforces estimability: an unstable PIV with no hazard covariates on
// either side and no bounded or fixed mistake rate cannot be told apart from
// a stable PIV with a higher mistake rate, so its parameters are not jointly
// identifiable.
//
// Strict mode (the default) raises an EstimabilityError naming the PIV.
// With rc.AllowAutoFix, the guard instead pins the PIV's mistake rate to
// DefaultAutoFixValue on both sources and logs a warning. The model is
// mutated in place in that case.
//
// Guard assumes Validate has already passed.
func Guard(m *Model, rc RunConfig) error {
	for i := range m.PIVs {
		p := &m.PIVs[i]
		u, unstable := p.Hazard()
		if !unstable {
			continue
		}

		hasCovariates := len(u.HazardCovariatesA) > 0 || len(u.HazardCovariatesB) > 0
		hasAnchor := p.Mistake.Bounded || p.Mistake.FixedA || p.Mistake.FixedB
		if hasCovariates || hasAnchor {
			continue
		}

		if !rc.AllowAutoFix {
			return &EstimabilityError{
				Code: ErrCodeUnidentifiable,
				PIV:  p.Name,
				Message: "unstable PIV has no hazard covariates and no bounded or fixed mistake rate; " +
					"fix or bound the mistake rate, add covariates, or opt in to AllowAutoFix",
			}
		}

		p.Mistake.FixedA = true
		p.Mistake.FixedB = true
		p.Mistake.FixedValueA = DefaultAutoFixValue
		p.Mistake.FixedValueB = DefaultAutoFixValue
		slog.Warn("auto-fixed mistake rate for unidentifiable unstable PIV",
			"piv", p.Name,
			"fixed_value", DefaultAutoFixValue,
		)
	}

	return nil
}
