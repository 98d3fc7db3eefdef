// Package synth generates synthetic record pairs with a known ground-truth
// linkage, for calibration, conformance scenarios, and recovery tests.
//
// The generator mirrors the data model the sampler assumes: true values per
// entity drawn from a per-PIV population distribution, observations
// corrupted by missingness and recording mistakes, and unstable PIVs
// re-drawn between the two observation times with the configured change
// probability.
package synth

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distmv"

	"github.com/roach88/stemlink/internal/linkage"
	"github.com/roach88/stemlink/internal/record"
	"github.com/roach88/stemlink/internal/schema"
)

// Dirichlet concentration for the generated population distributions.
// Values above 1 keep every category plausible while still uneven.
const gammaConcentration = 3.0

// Params controls one synthetic instance.
type Params struct {
	// NumA and NumB are the file sizes; Links of them refer to shared
	// entities. Links must not exceed min(NumA, NumB).
	NumA  int `json:"numA" yaml:"recordsA"`
	NumB  int `json:"numB" yaml:"recordsB"`
	Links int `json:"links" yaml:"links"`

	// MissingRate, MistakeRate, and ChangeProb apply uniformly to every
	// PIV (ChangeProb only to unstable ones, per unit time).
	MissingRate float64 `json:"missingRate" yaml:"missing"`
	MistakeRate float64 `json:"mistakeRate" yaml:"mistake"`
	ChangeProb  float64 `json:"changeProb" yaml:"change"`

	Seed uint64 `json:"seed" yaml:"seed"`
}

// Instance is a generated pair of files plus its ground truth.
type Instance struct {
	FileA *record.File
	FileB *record.File

	// Truth lists the true links as (A index, B index) pairs.
	Truth []linkage.Pair

	// Gamma holds the population distributions the values were drawn
	// from, for calibration checks.
	Gamma [][]float64
}

// Generate builds a synthetic instance for the model.
func Generate(m *schema.Model, p Params) (*Instance, error) {
	if errs := schema.Validate(m); len(errs) > 0 {
		return nil, fmt.Errorf("invalid model: %w", errs[0])
	}
	if p.Links > p.NumA || p.Links > p.NumB {
		return nil, &schema.ConfigurationError{
			Code:    schema.ErrCodeRunLength,
			Field:   "links",
			Message: fmt.Sprintf("links %d exceeds file sizes %d/%d", p.Links, p.NumA, p.NumB),
		}
	}
	for _, rate := range []float64{p.MissingRate, p.MistakeRate, p.ChangeProb} {
		if rate < 0 || rate > 1 {
			return nil, &schema.ConfigurationError{
				Code:    schema.ErrCodeRunLength,
				Field:   "rates",
				Message: fmt.Sprintf("rate %g outside [0, 1]", rate),
			}
		}
	}

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0xda3e39cb94b95bdb))
	k := m.NumPIVs()

	// Population distributions per PIV.
	gamma := make([][]float64, k)
	for j := range m.PIVs {
		card := m.PIVs[j].Cardinality
		conc := make([]float64, card)
		for v := range conc {
			conc[v] = gammaConcentration
		}
		gamma[j] = make([]float64, card)
		distmv.NewDirichlet(conc, rng).Rand(gamma[j])
	}

	drawTrue := func(j int) int {
		u := rng.Float64()
		cum := 0.0
		for v, g := range gamma[j] {
			cum += g
			if u < cum {
				return v + 1
			}
		}
		return len(gamma[j])
	}

	observe := func(t, j int) int {
		if rng.Float64() < p.MissingRate {
			return schema.Missing
		}
		if rng.Float64() < p.MistakeRate {
			card := m.PIVs[j].Cardinality
			// uniform over the other categories
			o := rng.IntN(card-1) + 1
			if o >= t {
				o++
			}
			return o
		}
		return t
	}

	rowsA := make([][]int, p.NumA)
	rowsB := make([][]int, p.NumB)

	// B indices are permuted so the truth is not positional.
	perm := rng.Perm(p.NumB)
	truth := make([]linkage.Pair, 0, p.Links)

	for i := 0; i < p.Links; i++ {
		bi := perm[i]
		truth = append(truth, linkage.Pair{A: i, B: bi})

		rowA := make([]int, k)
		rowB := make([]int, k)
		for j := 0; j < k; j++ {
			t := drawTrue(j)
			rowA[j] = observe(t, j)

			tB := t
			if !m.PIVs[j].IsStable() && rng.Float64() < p.ChangeProb {
				// Changed value: redraw until it differs.
				for tB == t {
					tB = drawTrue(j)
				}
			}
			rowB[j] = observe(tB, j)
		}
		rowsA[i] = rowA
		rowsB[bi] = rowB
	}

	// Unlinked records are independent entities.
	for i := p.Links; i < p.NumA; i++ {
		row := make([]int, k)
		for j := 0; j < k; j++ {
			row[j] = observe(drawTrue(j), j)
		}
		rowsA[i] = row
	}
	for i := p.Links; i < p.NumB; i++ {
		bi := perm[i]
		row := make([]int, k)
		for j := 0; j < k; j++ {
			row[j] = observe(drawTrue(j), j)
		}
		rowsB[bi] = row
	}

	return &Instance{
		FileA: record.FromCoded(record.SourceA, rowsA),
		FileB: record.FromCoded(record.SourceB, rowsB),
		Truth: truth,
		Gamma: gamma,
	}, nil
}
