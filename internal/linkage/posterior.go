package linkage

import "sort"

// Pair is an unordered candidate pair, identified by its A- and B-record
// indices.
type Pair struct {
	A int `json:"a"`
	B int `json:"b"`
}

// Accumulator tracks, for every candidate pair ever sampled as linked, how
// many qualifying draws included it. The ratio count/draws is the pair's
// posterior linkage probability.
//
// The accumulator only ever sees post-burn-in draws; the driver decides
// which draws qualify.
type Accumulator struct {
	counts map[Pair]int
	draws  int
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{counts: make(map[Pair]int)}
}

// Fold increments the accumulator with one sampled matching.
func (acc *Accumulator) Fold(m *Matching) {
	acc.draws++
	for a, b := range m.aToB {
		if b != Unlinked {
			acc.counts[Pair{A: a, B: b}]++
		}
	}
}

// Draws returns the number of matchings folded in.
func (acc *Accumulator) Draws() int { return acc.draws }

// Posterior returns the sparse posterior: every pair sampled at least once,
// mapped to its linkage probability.
func (acc *Accumulator) Posterior() Posterior {
	post := make(Posterior, len(acc.counts))
	for pair, n := range acc.counts {
		post[pair] = float64(n) / float64(acc.draws)
	}
	return post
}

// Posterior is the sparse link posterior: candidate pair → probability.
type Posterior map[Pair]float64

// Threshold returns the pairs with probability >= min, sorted by A index
// then B index for deterministic output.
func (p Posterior) Threshold(min float64) []Pair {
	pairs := make([]Pair, 0, len(p))
	for pair, prob := range p {
		if prob >= min {
			pairs = append(pairs, pair)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}
