// Package params holds the current estimate of the data-generation
// parameters and their per-iteration chains.
//
// Parameter naming follows the linkage literature: gamma is the population
// distribution over a PIV's true categories, eta the per-source missingness
// rate, alpha the hazard of change for unstable PIVs, and phi the per-source
// recording mistake rate.
//
// A State is owned by the StEM driver and passed by reference into the
// sampler for the duration of one sweep; it is mutated only by Update, once
// per outer iteration.
package params

import (
	"math"

	"github.com/roach88/stemlink/internal/schema"
)

// Default initial values. These only seed the chain; the stochastic M-step
// replaces them after the first outer iteration.
const (
	initEta   = 0.05
	initAlpha = 0.10
	initPhi   = 0.02
)

// State is one snapshot of all model parameters.
type State struct {
	// Gamma[j][v-1] is the probability PIV j's true value is v. Each row
	// is a simplex of length cardinality(j).
	Gamma [][]float64

	// EtaA[j] and EtaB[j] are per-source missingness probabilities.
	EtaA []float64
	EtaB []float64

	// Alpha[j] is the per-unit-time hazard of change for unstable PIV j;
	// zero (and never updated) for stable PIVs.
	Alpha []float64

	// PhiA[j] and PhiB[j] are per-source mistake probabilities. For PIVs
	// with a shared mistake rate the two entries are kept equal.
	PhiA []float64
	PhiB []float64
}

// Init builds the initial parameter state for a model: uniform gamma,
// modest default rates, and schema-declared fixed values applied.
func Init(m *schema.Model) *State {
	k := m.NumPIVs()
	s := &State{
		Gamma: make([][]float64, k),
		EtaA:  make([]float64, k),
		EtaB:  make([]float64, k),
		Alpha: make([]float64, k),
		PhiA:  make([]float64, k),
		PhiB:  make([]float64, k),
	}

	for j := range m.PIVs {
		p := &m.PIVs[j]

		s.Gamma[j] = make([]float64, p.Cardinality)
		for v := range s.Gamma[j] {
			s.Gamma[j][v] = 1.0 / float64(p.Cardinality)
		}

		s.EtaA[j] = initEta
		s.EtaB[j] = initEta

		if !p.IsStable() {
			s.Alpha[j] = initAlpha
		}

		s.PhiA[j] = initPhi
		s.PhiB[j] = initPhi
		if p.Mistake.FixedA {
			s.PhiA[j] = p.Mistake.FixedValueA
		}
		if p.Mistake.FixedB {
			s.PhiB[j] = p.Mistake.FixedValueB
		}
		if p.Mistake.Bounded {
			if s.PhiA[j] > p.Mistake.Bound {
				s.PhiA[j] = p.Mistake.Bound
			}
			if s.PhiB[j] > p.Mistake.Bound {
				s.PhiB[j] = p.Mistake.Bound
			}
		}
	}

	return s
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := &State{
		Gamma: make([][]float64, len(s.Gamma)),
		EtaA:  append([]float64(nil), s.EtaA...),
		EtaB:  append([]float64(nil), s.EtaB...),
		Alpha: append([]float64(nil), s.Alpha...),
		PhiA:  append([]float64(nil), s.PhiA...),
		PhiB:  append([]float64(nil), s.PhiB...),
	}
	for j := range s.Gamma {
		c.Gamma[j] = append([]float64(nil), s.Gamma[j]...)
	}
	return c
}

// Phi returns the mistake rate for PIV j in the given source, honoring the
// shared flag (A's rate is authoritative for shared PIVs).
func (s *State) Phi(m *schema.Model, j int, sourceB bool) float64 {
	if m.PIVs[j].Mistake.Shared {
		return s.PhiA[j]
	}
	if sourceB {
		return s.PhiB[j]
	}
	return s.PhiA[j]
}

// checkFinite verifies every parameter is finite and every gamma row sums
// to 1 within tolerance. Returns the offending PIV index, or -1.
func (s *State) checkFinite() int {
	const simplexTol = 1e-9
	for j := range s.Gamma {
		sum := 0.0
		for _, g := range s.Gamma[j] {
			if math.IsNaN(g) || math.IsInf(g, 0) || g < 0 {
				return j
			}
			sum += g
		}
		if math.Abs(sum-1) > simplexTol*float64(len(s.Gamma[j])) {
			return j
		}
		for _, v := range []float64{s.EtaA[j], s.EtaB[j], s.Alpha[j], s.PhiA[j], s.PhiB[j]} {
			if math.IsNaN(v) || v < 0 || v > 1 {
				return j
			}
		}
	}
	return -1
}
