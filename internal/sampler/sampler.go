// Package sampler implements the inner Gibbs sampler: one Run produces a
// sequence of joint draws of (linkage, missing-value imputations,
// change indicators) conditioned on a fixed parameter state, and folds the
// post-burn-in draws into the link state's running statistics.
//
// The sweep is strictly sequential (each draw conditions on the previous
// draw's state) and all randomness flows through the single source handed
// to New, so a fixed seed reproduces every draw bit-for-bit. Likelihood
// evaluation for candidate pairs is structured so it could be farmed out
// per record, but the accept/commit step would still have to serialize on
// the matching, and determinism is the stronger contract here.
package sampler

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/roach88/stemlink/internal/linkage"
	"github.com/roach88/stemlink/internal/params"
	"github.com/roach88/stemlink/internal/record"
	"github.com/roach88/stemlink/internal/schema"
)

// Sampler draws joint linkage/imputation/change states for one pair of
// record files. It owns the latent per-record true values and change
// indicators, which persist across outer iterations as ordinary chain
// state.
type Sampler struct {
	model *schema.Model
	fileA *record.File
	fileB *record.File
	rng   *rand.Rand

	state *params.State // fixed for the duration of one Run
	tab   tables
	stats *params.SuffStats // reset and refilled by each Run

	// Cached log marginal likelihood of each record when unlinked,
	// rebuilt per Run (parameters change between outer iterations).
	baseA []float64
	baseB []float64

	// Latent state: imputed true values per record per PIV, and per
	// A-record change indicators (meaningful only while linked).
	trueA   [][]int
	trueB   [][]int
	changed [][]bool

	// Missingness cell counts depend only on the data; computed once.
	missA, obsA []float64
	missB, obsB []float64

	// Scratch buffers for the partner scan.
	logw  []float64
	cand  []int
	tbuf  []float64
}

// Spec controls one sampling phase.
type Spec struct {
	// Iters is the number of Gibbs sweeps; Burnin is the prefix of sweeps
	// excluded from sufficient statistics and posterior accumulation.
	Iters  int
	Burnin int

	// Accumulate folds post-burn-in draws into the posterior
	// accumulator. The driver disables it during StEM burn-in.
	Accumulate bool

	// OuterIteration is the 1-based outer StEM iteration, carried for
	// error context only.
	OuterIteration int
}

// New creates a sampler over the two files. The files and model must have
// passed validation; rng is the fit's single deterministic source.
func New(m *schema.Model, fileA, fileB *record.File, rng *rand.Rand) *Sampler {
	k := m.NumPIVs()
	s := &Sampler{
		model: m,
		fileA: fileA,
		fileB: fileB,
		rng:   rng,
		stats: params.NewSuffStats(m),
		baseA: make([]float64, fileA.NumRecords()),
		baseB: make([]float64, fileB.NumRecords()),
		missA: make([]float64, k),
		obsA:  make([]float64, k),
		missB: make([]float64, k),
		obsB:  make([]float64, k),
		logw:  make([]float64, 0, fileB.NumRecords()+1),
		cand:  make([]int, 0, fileB.NumRecords()),
	}

	maxCard := 0
	for j := range m.PIVs {
		if m.PIVs[j].Cardinality > maxCard {
			maxCard = m.PIVs[j].Cardinality
		}
	}
	s.tbuf = make([]float64, maxCard)

	s.trueA = make([][]int, fileA.NumRecords())
	s.changed = make([][]bool, fileA.NumRecords())
	for i := range s.trueA {
		s.trueA[i] = make([]int, k)
		s.changed[i] = make([]bool, k)
	}
	s.trueB = make([][]int, fileB.NumRecords())
	for i := range s.trueB {
		s.trueB[i] = make([]int, k)
	}

	for j := 0; j < k; j++ {
		for i := 0; i < fileA.NumRecords(); i++ {
			if fileA.IsMissing(i, j) {
				s.missA[j]++
			} else {
				s.obsA[j]++
			}
		}
		for i := 0; i < fileB.NumRecords(); i++ {
			if fileB.IsMissing(i, j) {
				s.missB[j]++
			} else {
				s.obsB[j]++
			}
		}
	}

	return s
}

// Run executes one sampling phase against the given parameter state,
// mutating match in place and folding post-burn-in draws into acc per
// spec.Accumulate. Returns the sufficient statistics for the stochastic
// M-step; the statistics buffer is owned by the sampler and overwritten by
// the next Run.
func (s *Sampler) Run(st *params.State, match *linkage.Matching, acc *linkage.Accumulator, spec Spec) (*params.SuffStats, error) {
	s.state = st
	s.buildTables()
	if err := s.rebuildBases(spec.OuterIteration); err != nil {
		return nil, err
	}

	s.stats.Reset()
	for iter := 1; iter <= spec.Iters; iter++ {
		if err := s.linkageScan(match, spec.OuterIteration); err != nil {
			return nil, err
		}
		if err := s.impute(match, spec.OuterIteration); err != nil {
			return nil, err
		}
		if iter <= spec.Burnin {
			continue
		}
		s.collect(match, s.stats)
		if spec.Accumulate {
			acc.Fold(match)
		}
	}
	return s.stats, nil
}

// rebuildBases recomputes each record's unlinked log likelihood under the
// current parameters. A non-finite base means the record is impossible
// under every candidate configuration; this is the underflow the numeric policy
// treats as fatal rather than clamping.
func (s *Sampler) rebuildBases(outer int) error {
	for i := range s.baseA {
		s.baseA[i] = s.recordLogLik(s.fileA, i)
		if math.IsInf(s.baseA[i], -1) || math.IsNaN(s.baseA[i]) {
			return &params.NumericalInstabilityError{
				Op:        "record likelihood",
				Iteration: outer,
				Record:    i,
				Message:   "file A record has zero likelihood under current parameters",
			}
		}
	}
	for i := range s.baseB {
		s.baseB[i] = s.recordLogLik(s.fileB, i)
		if math.IsInf(s.baseB[i], -1) || math.IsNaN(s.baseB[i]) {
			return &params.NumericalInstabilityError{
				Op:        "record likelihood",
				Iteration: outer,
				Record:    i,
				Message:   "file B record has zero likelihood under current parameters",
			}
		}
	}
	return nil
}

// linkageScan performs one Gibbs pass over the A-records. For each record
// it redraws the partner among the currently free B-records plus an
// explicit unlink option, with weights proportional to the joint-likelihood
// ratio of the linked versus unlinked configurations times a 1/nB matching
// prior. Restricting candidates to free partners keeps every intermediate
// state a valid partial matching; the one-to-one invariant is preserved by
// construction.
func (s *Sampler) linkageScan(match *linkage.Matching, outer int) error {
	nB := s.fileB.NumRecords()

	// Unit prior mass for linking a record is spread uniformly over the B
	// file, so the prior odds of a link do not grow with file size.
	logPrior := -math.Log(float64(nB))

	for a := 0; a < s.fileA.NumRecords(); a++ {
		// Release a's partner so it participates as a candidate.
		match.UnlinkA(a)

		s.cand = s.cand[:0]
		s.logw = s.logw[:0]
		s.logw = append(s.logw, 0) // unlink option: likelihood ratio 1

		for b := 0; b < nB; b++ {
			if match.PartnerOfB(b) != linkage.Unlinked {
				continue
			}
			lr := s.pairLogLik(a, b) - s.baseA[a] - s.baseB[b] + logPrior
			if math.IsNaN(lr) {
				return &params.NumericalInstabilityError{
					Op:        "linkage weights",
					Iteration: outer,
					Record:    a,
					Message:   "candidate pair likelihood ratio is NaN",
				}
			}
			s.cand = append(s.cand, b)
			s.logw = append(s.logw, lr)
		}

		choice := s.sampleLog(s.logw)
		if choice > 0 {
			match.Link(a, s.cand[choice-1])
		}
	}
	return nil
}

// sampleLog draws an index proportional to exp(logw[i]), stably via the
// log-sum-exp trick. logw[0] is always finite (the unlink option), so the
// total mass can never underflow to zero.
func (s *Sampler) sampleLog(logw []float64) int {
	lse := floats.LogSumExp(logw)
	u := s.rng.Float64()
	cum := 0.0
	for i, lw := range logw {
		cum += math.Exp(lw - lse)
		if u < cum {
			return i
		}
	}
	return len(logw) - 1 // rounding fallthrough
}

// sampleWeights draws an index proportional to w[i] (normal space). Returns
// -1 when the total mass is zero.
func (s *Sampler) sampleWeights(w []float64) int {
	total := floats.Sum(w)
	if total <= 0 || math.IsNaN(total) {
		return -1
	}
	u := s.rng.Float64() * total
	cum := 0.0
	for i, wi := range w {
		cum += wi
		if u < cum {
			return i
		}
	}
	return len(w) - 1
}
