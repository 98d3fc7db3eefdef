// Package harness runs conformance scenarios: YAML files that declare a
// linkage model, a synthetic population, run lengths, and assertions on
// the fitted result. Scenarios double as executable documentation of
// what the estimator is expected to recover.
package harness

import (
	"context"
	"fmt"

	"github.com/roach88/stemlink/internal/score"
	"github.com/roach88/stemlink/internal/stem"
	"github.com/roach88/stemlink/internal/synth"
)

// Result is the outcome of one scenario execution.
type Result struct {
	Scenario *Scenario
	Fit      *stem.Result
	Report   score.Report
	Failures []Failure
}

// Passed reports whether every assertion held.
func (r *Result) Passed() bool {
	return len(r.Failures) == 0
}

// Run executes a scenario end to end: generate the synthetic population,
// fit it, score the posterior against the known truth, and evaluate the
// assertions. An error means the scenario could not run at all; assertion
// failures land in Result.Failures.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	m := scenario.Model()

	inst, err := synth.Generate(m, scenario.Synth)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: generate: %w", scenario.Name, err)
	}

	fit, err := stem.Fit(ctx, stem.Config{
		Model:  m,
		FileA:  inst.FileA,
		FileB:  inst.FileB,
		Run:    scenario.RunConfig(),
		Tokens: stem.NewFixedGenerator(scenario.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("scenario %s: fit: %w", scenario.Name, err)
	}

	res := &Result{
		Scenario: scenario,
		Fit:      fit,
		Report:   score.Evaluate(fit.Posterior, inst.Truth, score.DefaultThreshold),
	}

	for i, a := range scenario.Assertions {
		if f := checkAssertion(i, a, m, fit, res.Report); f != nil {
			res.Failures = append(res.Failures, *f)
		}
	}

	return res, nil
}
