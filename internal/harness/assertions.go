package harness

import (
	"fmt"

	"github.com/roach88/stemlink/internal/params"
	"github.com/roach88/stemlink/internal/schema"
	"github.com/roach88/stemlink/internal/score"
	"github.com/roach88/stemlink/internal/stem"
)

// Assertion type constants.
const (
	// AssertMinF1 requires the F1 of the thresholded posterior against
	// the synthetic truth to reach Value.
	AssertMinF1 = "min_f1"
	// AssertMaxFalseLinks bounds the number of confident false pairs
	// by Count.
	AssertMaxFalseLinks = "max_false_links"
	// AssertPhiBelow requires the estimated mistake rates to stay below
	// Value, for the PIV named in PIV or for all PIVs when empty.
	AssertPhiBelow = "phi_below"
	// AssertPosteriorDraws requires exactly Count qualifying Gibbs draws,
	// pinning the burn-in accounting.
	AssertPosteriorDraws = "posterior_draws"
)

// Assertion validates one property of a finished fit.
type Assertion struct {
	Type  string  `yaml:"type"`
	Value float64 `yaml:"value,omitempty"` // min_f1, phi_below
	Count int     `yaml:"count,omitempty"` // max_false_links, posterior_draws
	PIV   string  `yaml:"piv,omitempty"`   // phi_below target; empty = all
}

// Failure describes one assertion that did not hold.
type Failure struct {
	Index   int    `json:"index"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (f Failure) String() string {
	return fmt.Sprintf("assertions[%d] %s: %s", f.Index, f.Type, f.Message)
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertMinF1:
		if a.Value <= 0 || a.Value > 1 {
			return fmt.Errorf("assertions[%d]: value must be in (0, 1] for min_f1", index)
		}
	case AssertMaxFalseLinks:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for max_false_links", index)
		}
	case AssertPhiBelow:
		if a.Value <= 0 || a.Value >= 1 {
			return fmt.Errorf("assertions[%d]: value must be in (0, 1) for phi_below", index)
		}
	case AssertPosteriorDraws:
		if a.Count <= 0 {
			return fmt.Errorf("assertions[%d]: count must be positive for posterior_draws", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// checkAssertion evaluates one assertion against the fit. Returns nil
// when the assertion holds.
func checkAssertion(index int, a Assertion, m *schema.Model, res *stem.Result, rep score.Report) *Failure {
	switch a.Type {
	case AssertMinF1:
		if rep.F1 < a.Value {
			return &Failure{
				Index: index, Type: a.Type,
				Message: fmt.Sprintf("F1 %.4f below required %.4f (precision %.4f, recall %.4f)",
					rep.F1, a.Value, rep.Precision, rep.Recall),
			}
		}
	case AssertMaxFalseLinks:
		if rep.FalsePositives > a.Count {
			return &Failure{
				Index: index, Type: a.Type,
				Message: fmt.Sprintf("%d confident false links exceed allowed %d",
					rep.FalsePositives, a.Count),
			}
		}
	case AssertPhiBelow:
		return checkPhiBelow(index, a, m, res.Estimate)
	case AssertPosteriorDraws:
		if res.PosteriorDraws != a.Count {
			return &Failure{
				Index: index, Type: a.Type,
				Message: fmt.Sprintf("got %d qualifying draws, want %d",
					res.PosteriorDraws, a.Count),
			}
		}
	}
	return nil
}

func checkPhiBelow(index int, a Assertion, m *schema.Model, est *params.State) *Failure {
	for j, piv := range m.PIVs {
		if a.PIV != "" && piv.Name != a.PIV {
			continue
		}
		if est.PhiA[j] >= a.Value || est.PhiB[j] >= a.Value {
			return &Failure{
				Index: index, Type: a.Type,
				Message: fmt.Sprintf("%s: phi (%.4f, %.4f) not below %.4f",
					piv.Name, est.PhiA[j], est.PhiB[j], a.Value),
			}
		}
	}
	return nil
}
