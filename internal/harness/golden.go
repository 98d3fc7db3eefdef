package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/stemlink/internal/canon"
)

// ConfigBytes renders the parsed scenario as canonical JSON. The golden
// files pin this rendering, so loader changes that silently reinterpret
// a scenario show up as a diff.
func ConfigBytes(s *Scenario) ([]byte, error) {
	pivs := make([]any, len(s.PIVs))
	for i, p := range s.PIVs {
		pm := map[string]any{
			"name":        p.Name,
			"cardinality": p.Cardinality,
			"stable":      p.Stable,
		}
		if len(p.HazardCovariatesA) > 0 {
			pm["hazard_covariates_a"] = intList(p.HazardCovariatesA)
		}
		if len(p.HazardCovariatesB) > 0 {
			pm["hazard_covariates_b"] = intList(p.HazardCovariatesB)
		}
		if p.Mistake != (MistakeSpec{}) {
			pm["mistake"] = mistakeMap(p.Mistake)
		}
		pivs[i] = pm
	}

	assertions := make([]any, len(s.Assertions))
	for i, a := range s.Assertions {
		am := map[string]any{"type": a.Type}
		if a.Value != 0 {
			am["value"] = a.Value
		}
		if a.Count != 0 {
			am["count"] = a.Count
		}
		if a.PIV != "" {
			am["piv"] = a.PIV
		}
		assertions[i] = am
	}

	return canon.Marshal(map[string]any{
		"name":        s.Name,
		"description": s.Description,
		"pivs":        pivs,
		"synth": map[string]any{
			"recordsA": s.Synth.NumA,
			"recordsB": s.Synth.NumB,
			"links":    s.Synth.Links,
			"missing":  s.Synth.MissingRate,
			"mistake":  s.Synth.MistakeRate,
			"change":   s.Synth.ChangeProb,
			"seed":     int64(s.Synth.Seed),
		},
		"run": map[string]any{
			"stem_iterations":  s.Run.StEMIterations,
			"stem_burnin":      s.Run.StEMBurnin,
			"gibbs_iterations": s.Run.GibbsIterations,
			"gibbs_burnin":     s.Run.GibbsBurnin,
			"seed":             int64(s.Run.Seed),
			"allow_auto_fix":   s.Run.AllowAutoFix,
		},
		"assertions": assertions,
	})
}

func intList(xs []int) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func mistakeMap(m MistakeSpec) map[string]any {
	out := map[string]any{}
	if m.Shared {
		out["shared"] = true
	}
	if m.Bounded {
		out["bounded"] = true
		out["bound"] = m.Bound
	}
	if m.FixedA {
		out["fixed_a"] = true
		out["fixed_value_a"] = m.FixedValueA
	}
	if m.FixedB {
		out["fixed_b"] = true
		out["fixed_value_b"] = m.FixedValueB
	}
	return out
}

// AssertConfigGolden compares the scenario's canonical rendering against
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertConfigGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	data, err := ConfigBytes(scenario)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)

	return nil
}
