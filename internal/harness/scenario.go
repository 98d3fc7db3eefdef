package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stemlink/internal/schema"
	"github.com/roach88/stemlink/internal/synth"
)

// Scenario defines a conformance scenario: a linkage model, a synthetic
// population drawn from it, run lengths, and assertions on the fit.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// PIVs declares the model, in record column order.
	PIVs []PIVSpec `yaml:"pivs"`

	// Synth configures the synthetic population the fit must recover.
	Synth synth.Params `yaml:"synth"`

	// Run sets the estimation run lengths and seed.
	Run RunSpec `yaml:"run"`

	// Assertions validate the fitted posterior and parameter estimates.
	Assertions []Assertion `yaml:"assertions"`
}

// PIVSpec is the YAML form of one partially identifying variable.
type PIVSpec struct {
	Name              string      `yaml:"name"`
	Cardinality       int         `yaml:"cardinality"`
	Stable            bool        `yaml:"stable"`
	HazardCovariatesA []int       `yaml:"hazard_covariates_a,omitempty"`
	HazardCovariatesB []int       `yaml:"hazard_covariates_b,omitempty"`
	Mistake           MistakeSpec `yaml:"mistake,omitempty"`
}

// MistakeSpec is the YAML form of a PIV's mistake model.
type MistakeSpec struct {
	Shared      bool    `yaml:"shared,omitempty"`
	Bounded     bool    `yaml:"bounded,omitempty"`
	Bound       float64 `yaml:"bound,omitempty"`
	FixedA      bool    `yaml:"fixed_a,omitempty"`
	FixedValueA float64 `yaml:"fixed_value_a,omitempty"`
	FixedB      bool    `yaml:"fixed_b,omitempty"`
	FixedValueB float64 `yaml:"fixed_value_b,omitempty"`
}

// RunSpec is the YAML form of the run configuration.
type RunSpec struct {
	StEMIterations  int    `yaml:"stem_iterations"`
	StEMBurnin      int    `yaml:"stem_burnin,omitempty"`
	GibbsIterations int    `yaml:"gibbs_iterations"`
	GibbsBurnin     int    `yaml:"gibbs_burnin,omitempty"`
	Seed            uint64 `yaml:"seed,omitempty"`
	AllowAutoFix    bool   `yaml:"allow_auto_fix,omitempty"`
}

// Model converts the declared PIVs into a schema model.
func (s *Scenario) Model() *schema.Model {
	m := &schema.Model{}
	for _, ps := range s.PIVs {
		piv := schema.PIV{
			Name:        ps.Name,
			Cardinality: ps.Cardinality,
			Mistake: schema.MistakeModel{
				Shared:      ps.Mistake.Shared,
				Bounded:     ps.Mistake.Bounded,
				Bound:       ps.Mistake.Bound,
				FixedA:      ps.Mistake.FixedA,
				FixedValueA: ps.Mistake.FixedValueA,
				FixedB:      ps.Mistake.FixedB,
				FixedValueB: ps.Mistake.FixedValueB,
			},
		}
		if ps.Stable {
			piv.Stability = schema.Stable{}
		} else {
			piv.Stability = schema.Unstable{
				HazardCovariatesA: ps.HazardCovariatesA,
				HazardCovariatesB: ps.HazardCovariatesB,
			}
		}
		m.PIVs = append(m.PIVs, piv)
	}
	return m
}

// RunConfig converts the run spec into the engine's configuration.
func (s *Scenario) RunConfig() schema.RunConfig {
	return schema.RunConfig{
		StEMIter:     s.Run.StEMIterations,
		StEMBurnin:   s.Run.StEMBurnin,
		GibbsIter:    s.Run.GibbsIterations,
		GibbsBurnin:  s.Run.GibbsBurnin,
		Seed:         s.Run.Seed,
		AllowAutoFix: s.Run.AllowAutoFix,
	}
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
// Model-level constraints (cardinalities, estimability) are left to the
// engine so scenarios exercising those failures stay loadable.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.PIVs) == 0 {
		return fmt.Errorf("pivs list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	m := s.Model()
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
		// A phi_below assertion naming a PIV absent from the model would
		// vacuously hold; reject it at load time.
		if assertion.Type == AssertPhiBelow && assertion.PIV != "" && m.PIVByName(assertion.PIV) == nil {
			return fmt.Errorf("assertions[%d]: phi_below names unknown PIV %q", i, assertion.PIV)
		}
	}

	return nil
}
