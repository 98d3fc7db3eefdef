package sampler

import (
	"math"

	"github.com/roach88/stemlink/internal/record"
)

// tables caches per-PIV quantities derived from the current parameter state
// for one sampling phase. Rebuilt at the start of every Run; the
// parameter state is fixed for the duration of a phase, so the cache never
// goes stale mid-sweep.
type tables struct {
	// margA[j][v-1] = P(observe v on source A | not missing), the true
	// value marginalized out: gamma[v]*(1-phi) + (1-gamma[v])*phi/(K-1).
	margA [][]float64
	margB [][]float64
}

// obsProb is P(observed = o | true = t) under the hit-miss mistake model:
// the true value is recorded with probability 1-phi, otherwise one of the
// K-1 other categories uniformly.
func obsProb(o, t int, phi float64, card int) float64 {
	if o == t {
		return 1 - phi
	}
	return phi / float64(card-1)
}

// buildTables derives the per-PIV marginal lookup tables from the current
// parameter state.
func (s *Sampler) buildTables() {
	k := s.model.NumPIVs()
	if s.tab.margA == nil {
		s.tab.margA = make([][]float64, k)
		s.tab.margB = make([][]float64, k)
		for j := range s.model.PIVs {
			card := s.model.PIVs[j].Cardinality
			s.tab.margA[j] = make([]float64, card)
			s.tab.margB[j] = make([]float64, card)
		}
	}

	for j := range s.model.PIVs {
		card := s.model.PIVs[j].Cardinality
		phiA := s.state.Phi(s.model, j, false)
		phiB := s.state.Phi(s.model, j, true)
		for v := 1; v <= card; v++ {
			g := s.state.Gamma[j][v-1]
			s.tab.margA[j][v-1] = g*(1-phiA) + (1-g)*phiA/float64(card-1)
			s.tab.margB[j][v-1] = g*(1-phiB) + (1-g)*phiB/float64(card-1)
		}
	}
}

// recordLogLik is the log marginal likelihood of a single unlinked record:
// the product over PIVs of the missingness factor and, when observed, the
// value marginal.
func (s *Sampler) recordLogLik(f *record.File, i int) float64 {
	sourceB := f.Source() == record.SourceB
	ll := 0.0
	for j := range s.model.PIVs {
		eta := s.state.EtaA[j]
		marg := s.tab.margA[j]
		if sourceB {
			eta = s.state.EtaB[j]
			marg = s.tab.margB[j]
		}
		o, missing := f.Value(i, j)
		if missing {
			ll += math.Log(eta)
			continue
		}
		ll += math.Log((1 - eta) * marg[o-1])
	}
	return ll
}

// pairLogLik is the log joint likelihood of records (a, b) observed from
// the same entity, with true values, mistakes, and (for unstable PIVs)
// change indicators marginalized out analytically. Computed in log space:
// the per-PIV factors multiply across potentially many PIVs and would
// underflow in normal space.
func (s *Sampler) pairLogLik(a, b int) float64 {
	ll := 0.0
	for j := range s.model.PIVs {
		ll += math.Log(s.pairFactor(j, a, b))
	}
	return ll
}

// pairFactor is one PIV's contribution to the joint pair likelihood.
func (s *Sampler) pairFactor(j, a, b int) float64 {
	etaA, etaB := s.state.EtaA[j], s.state.EtaB[j]
	oa, missA := s.fileA.Value(a, j)
	ob, missB := s.fileB.Value(b, j)

	switch {
	case missA && missB:
		return etaA * etaB
	case missA:
		return etaA * (1 - etaB) * s.tab.margB[j][ob-1]
	case missB:
		return (1 - etaA) * etaB * s.tab.margA[j][oa-1]
	}

	p := &s.model.PIVs[j]
	if p.IsStable() {
		return (1 - etaA) * (1 - etaB) * s.stableAgreement(j, oa, ob)
	}
	pc := s.changeProb(j, a, b)
	return (1 - etaA) * (1 - etaB) * s.unstableAgreement(j, oa, ob, pc)
}

// stableAgreement computes sum_t gamma[t] P(oa|t) P(ob|t) in closed form.
func (s *Sampler) stableAgreement(j, oa, ob int) float64 {
	card := s.model.PIVs[j].Cardinality
	phiA := s.state.Phi(s.model, j, false)
	phiB := s.state.Phi(s.model, j, true)
	gamma := s.state.Gamma[j]
	missA := phiA / float64(card-1)
	missB := phiB / float64(card-1)

	if oa == ob {
		g := gamma[oa-1]
		return g*(1-phiA)*(1-phiB) + (1-g)*missA*missB
	}
	ga, gb := gamma[oa-1], gamma[ob-1]
	return ga*(1-phiA)*missB + gb*missA*(1-phiB) + (1-ga-gb)*missA*missB
}

// unstableAgreement computes the same marginal with a change indicator:
// with probability 1-pc the true value is shared; with probability pc the
// B-side truth is redrawn from gamma restricted to the other categories.
func (s *Sampler) unstableAgreement(j, oa, ob int, pc float64) float64 {
	card := s.model.PIVs[j].Cardinality
	phiA := s.state.Phi(s.model, j, false)
	phiB := s.state.Phi(s.model, j, true)
	gamma := s.state.Gamma[j]
	margB := s.tab.margB[j][ob-1]

	total := 0.0
	for t := 1; t <= card; t++ {
		g := gamma[t-1]
		if g == 0 {
			continue
		}
		pa := obsProb(oa, t, phiA, card)
		same := obsProb(ob, t, phiB, card)

		term := (1 - pc) * same
		if pc > 0 && g < 1 {
			// Marginal over a changed value: gamma renormalized to
			// exclude the pre-change category.
			changed := (margB - g*same) / (1 - g)
			term += pc * changed
		}
		total += g * pa * term
	}
	return total
}

// changeProb is the probability that unstable PIV j's true value changed
// between the pair's two observation times: 1 - (1-alpha)^exposure, where
// exposure is the time gap scaled by exp of the declared hazard covariates.
func (s *Sampler) changeProb(j, a, b int) float64 {
	alpha := s.state.Alpha[j]
	if alpha <= 0 {
		return 0
	}
	if alpha >= 1 {
		return 1
	}

	exposure := record.Gap(s.fileA, a, s.fileB, b)
	if exposure <= 0 {
		return 0
	}
	if u, ok := s.model.PIVs[j].Hazard(); ok {
		shift := 0.0
		for _, c := range u.HazardCovariatesA {
			shift += s.fileA.Covariate(a, c)
		}
		for _, c := range u.HazardCovariatesB {
			shift += s.fileB.Covariate(b, c)
		}
		if shift != 0 {
			exposure *= math.Exp(shift)
		}
	}

	return 1 - math.Exp(exposure*math.Log1p(-alpha))
}
