package params

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/roach88/stemlink/internal/schema"
)

// Conjugate prior pseudo-counts. Flat Dirichlet(1,...,1) for gamma and
// Beta(1,1) for the rate parameters.
const (
	priorGamma = 1.0
	priorRateA = 1.0
	priorRateB = 1.0
)

// Update performs one stochastic M-step: each parameter is redrawn from its
// conjugate posterior given the expected sufficient statistics, honoring
// schema-declared fixation (skip) and bounds (clip).
//
// iteration is the 1-based outer StEM iteration, used only for error
// context. All randomness flows through src so a fixed seed reproduces the
// chain bit-for-bit.
func (s *State) Update(m *schema.Model, st *SuffStats, src rand.Source, iteration int) error {
	if st.Draws <= 0 {
		return &NumericalInstabilityError{
			Op:        "parameter update",
			Iteration: iteration,
			Record:    -1,
			Message:   "no post-burn-in draws collected",
		}
	}
	scale := 1.0 / float64(st.Draws)

	for j := range m.PIVs {
		p := &m.PIVs[j]

		// Gamma: Dirichlet-multinomial.
		conc := make([]float64, p.Cardinality)
		for v := range conc {
			conc[v] = priorGamma + st.TrueCounts[j][v]*scale
		}
		distmv.NewDirichlet(conc, src).Rand(s.Gamma[j])

		// Eta: Beta-Binomial per source. Missingness cells are fixed by
		// the data, but the draw keeps the chain honestly stochastic.
		s.EtaA[j] = betaDraw(st.MissA[j]*scale, st.ObsA[j]*scale, src)
		s.EtaB[j] = betaDraw(st.MissB[j]*scale, st.ObsB[j]*scale, src)

		// Phi: Beta-Binomial, shared or per source, fixed values skipped,
		// bounded draws clipped to the declared ceiling.
		s.updatePhi(p, j, st, scale, src)

		// Alpha: Beta draw on the per-unit-time hazard for unstable PIVs.
		if !p.IsStable() {
			s.Alpha[j] = betaDraw(st.Change[j]*scale, st.NoChange[j]*scale, src)
		}

		if bad := s.checkFinite(); bad >= 0 {
			return &NumericalInstabilityError{
				Op:        "parameter update",
				Iteration: iteration,
				PIV:       m.PIVs[bad].Name,
				Record:    -1,
				Message:   "update produced a non-finite or out-of-range parameter",
			}
		}
	}

	return nil
}

// updatePhi redraws the mistake rate(s) for one PIV.
func (s *State) updatePhi(p *schema.PIV, j int, st *SuffStats, scale float64, src rand.Source) {
	mm := &p.Mistake

	clip := func(v float64) float64 {
		if mm.Bounded && v > mm.Bound {
			return mm.Bound
		}
		return v
	}

	if mm.Shared {
		if mm.FixedA {
			// Guard normalizes shared fixation, so A's value stands for both.
			s.PhiA[j] = mm.FixedValueA
			s.PhiB[j] = mm.FixedValueA
			return
		}
		pooled := clip(betaDraw(
			(st.MistA[j]+st.MistB[j])*scale,
			(st.HitA[j]+st.HitB[j])*scale,
			src,
		))
		s.PhiA[j] = pooled
		s.PhiB[j] = pooled
		return
	}

	if mm.FixedA {
		s.PhiA[j] = mm.FixedValueA
	} else {
		s.PhiA[j] = clip(betaDraw(st.MistA[j]*scale, st.HitA[j]*scale, src))
	}
	if mm.FixedB {
		s.PhiB[j] = mm.FixedValueB
	} else {
		s.PhiB[j] = clip(betaDraw(st.MistB[j]*scale, st.HitB[j]*scale, src))
	}
}

// betaDraw samples Beta(priorRateA + successes, priorRateB + failures).
func betaDraw(successes, failures float64, src rand.Source) float64 {
	return distuv.Beta{
		Alpha: priorRateA + successes,
		Beta:  priorRateB + failures,
		Src:   src,
	}.Rand()
}
