package sampler

import (
	"github.com/roach88/stemlink/internal/linkage"
	"github.com/roach88/stemlink/internal/params"
	"github.com/roach88/stemlink/internal/record"
)

// impute redraws every latent true value and change indicator from its
// full conditional given the current linkage and parameters.
//
// Linked pairs draw the A-time truth, the change indicator, and (when
// changed) the B-time truth jointly; unlinked records draw a single truth
// from gamma weighted by consistency with the observed value. Weights here
// are products of at most three probabilities per category, so normal-space
// arithmetic is safe; only cross-PIV products need log space.
func (s *Sampler) impute(match *linkage.Matching, outer int) error {
	for a := 0; a < s.fileA.NumRecords(); a++ {
		b := match.PartnerOfA(a)
		for j := range s.model.PIVs {
			if b == linkage.Unlinked {
				t, err := s.imputeSingle(s.fileA, a, j, outer)
				if err != nil {
					return err
				}
				s.trueA[a][j] = t
				s.changed[a][j] = false
				continue
			}
			if err := s.imputePair(a, b, j, outer); err != nil {
				return err
			}
		}
	}

	for b := 0; b < s.fileB.NumRecords(); b++ {
		if match.PartnerOfB(b) != linkage.Unlinked {
			continue // handled through the pair draw
		}
		for j := range s.model.PIVs {
			t, err := s.imputeSingle(s.fileB, b, j, outer)
			if err != nil {
				return err
			}
			s.trueB[b][j] = t
		}
	}
	return nil
}

// imputeSingle draws the true value of one unlinked record's PIV from
// gamma weighted by the observed value, or from gamma alone when missing.
func (s *Sampler) imputeSingle(f *record.File, i, j int, outer int) (int, error) {
	card := s.model.PIVs[j].Cardinality
	phi := s.state.Phi(s.model, j, f.Source() == record.SourceB)
	gamma := s.state.Gamma[j]
	o, missing := f.Value(i, j)

	w := s.tbuf[:card]
	for t := 1; t <= card; t++ {
		w[t-1] = gamma[t-1]
		if !missing {
			w[t-1] *= obsProb(o, t, phi, card)
		}
	}

	choice := s.sampleWeights(w)
	if choice < 0 {
		return 0, &params.NumericalInstabilityError{
			Op:        "imputation",
			Iteration: outer,
			PIV:       s.model.PIVs[j].Name,
			Record:    i,
			Message:   "all true-value weights are zero",
		}
	}
	return choice + 1, nil
}

// imputePair jointly draws (trueA, changed, trueB) for one linked pair's
// PIV. The A-time truth is drawn from its marginal conditional, then the
// change indicator given the truth, then the post-change truth when the
// indicator is set. Stable PIVs collapse to a shared truth.
func (s *Sampler) imputePair(a, b, j, outer int) error {
	p := &s.model.PIVs[j]
	card := p.Cardinality
	phiA := s.state.Phi(s.model, j, false)
	phiB := s.state.Phi(s.model, j, true)
	gamma := s.state.Gamma[j]
	oa, missA := s.fileA.Value(a, j)
	ob, missB := s.fileB.Value(b, j)

	aTerm := func(t int) float64 {
		if missA {
			return 1
		}
		return obsProb(oa, t, phiA, card)
	}
	bTerm := func(t int) float64 {
		if missB {
			return 1
		}
		return obsProb(ob, t, phiB, card)
	}

	if p.IsStable() {
		w := s.tbuf[:card]
		for t := 1; t <= card; t++ {
			w[t-1] = gamma[t-1] * aTerm(t) * bTerm(t)
		}
		choice := s.sampleWeights(w)
		if choice < 0 {
			return s.imputeError(j, a, outer)
		}
		t := choice + 1
		s.trueA[a][j] = t
		s.trueB[b][j] = t
		s.changed[a][j] = false
		return nil
	}

	pc := s.changeProb(j, a, b)

	// Marginal over the B-side truth given a change: gamma restricted to
	// the other categories, times the B observation term.
	margChanged := 0.0
	for t := 1; t <= card; t++ {
		margChanged += gamma[t-1] * bTerm(t)
	}

	w := s.tbuf[:card]
	for t := 1; t <= card; t++ {
		g := gamma[t-1]
		noChange := (1 - pc) * bTerm(t)
		change := 0.0
		if pc > 0 && g < 1 {
			change = pc * (margChanged - g*bTerm(t)) / (1 - g)
		}
		w[t-1] = g * aTerm(t) * (noChange + change)
	}
	choice := s.sampleWeights(w)
	if choice < 0 {
		return s.imputeError(j, a, outer)
	}
	tA := choice + 1

	// Change indicator given the A-time truth.
	g := gamma[tA-1]
	wNo := (1 - pc) * bTerm(tA)
	wYes := 0.0
	if pc > 0 && g < 1 {
		wYes = pc * (margChanged - g*bTerm(tA)) / (1 - g)
	}
	changed := false
	if wYes > 0 {
		changed = s.rng.Float64()*(wNo+wYes) >= wNo
	}

	s.trueA[a][j] = tA
	s.changed[a][j] = changed
	if !changed {
		s.trueB[b][j] = tA
		return nil
	}

	// Post-change truth from gamma excluding the pre-change category.
	wb := s.tbuf[:card]
	for t := 1; t <= card; t++ {
		if t == tA {
			wb[t-1] = 0
			continue
		}
		wb[t-1] = gamma[t-1] * bTerm(t)
	}
	bc := s.sampleWeights(wb)
	if bc < 0 {
		return s.imputeError(j, a, outer)
	}
	s.trueB[b][j] = bc + 1
	return nil
}

func (s *Sampler) imputeError(j, rec, outer int) error {
	return &params.NumericalInstabilityError{
		Op:        "imputation",
		Iteration: outer,
		PIV:       s.model.PIVs[j].Name,
		Record:    rec,
		Message:   "all true-value weights are zero",
	}
}

// collect folds the current joint draw into the sufficient statistics.
func (s *Sampler) collect(match *linkage.Matching, stats *params.SuffStats) {
	stats.Draws++

	for j := range s.model.PIVs {
		stats.MissA[j] += s.missA[j]
		stats.ObsA[j] += s.obsA[j]
		stats.MissB[j] += s.missB[j]
		stats.ObsB[j] += s.obsB[j]
	}

	for a := 0; a < s.fileA.NumRecords(); a++ {
		b := match.PartnerOfA(a)
		for j := range s.model.PIVs {
			tA := s.trueA[a][j]
			stats.TrueCounts[j][tA-1]++

			if oa, missing := s.fileA.Value(a, j); !missing {
				if oa == tA {
					stats.HitA[j]++
				} else {
					stats.MistA[j]++
				}
			}

			if b == linkage.Unlinked {
				continue
			}
			if !s.model.PIVs[j].IsStable() {
				if s.changed[a][j] {
					stats.Change[j]++
					stats.TrueCounts[j][s.trueB[b][j]-1]++
				} else {
					stats.NoChange[j]++
				}
			}
			if ob, missing := s.fileB.Value(b, j); !missing {
				if ob == s.trueB[b][j] {
					stats.HitB[j]++
				} else {
					stats.MistB[j]++
				}
			}
		}
	}

	for b := 0; b < s.fileB.NumRecords(); b++ {
		if match.PartnerOfB(b) != linkage.Unlinked {
			continue
		}
		for j := range s.model.PIVs {
			tB := s.trueB[b][j]
			stats.TrueCounts[j][tB-1]++
			if ob, missing := s.fileB.Value(b, j); !missing {
				if ob == tB {
					stats.HitB[j]++
				} else {
					stats.MistB[j]++
				}
			}
		}
	}
}
