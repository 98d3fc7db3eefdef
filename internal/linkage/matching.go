// Package linkage holds the latent link state: the current sampled
// one-to-one matching between A- and B-records, and the running counts that
// become the posterior linkage probabilities at the end of a fit.
package linkage

import "fmt"

// Unlinked marks a record with no current partner.
const Unlinked = -1

// Matching is a partial injective mapping from A-record indices to B-record
// indices.
//
// INVARIANT: no A index maps to more than one B index and vice versa. Link
// enforces this by panicking on a conflicting assignment: a conflict is a
// sampler bug, not a recoverable condition.
type Matching struct {
	aToB []int
	bToA []int
}

// NewMatching creates an empty matching over nA A-records and nB B-records.
func NewMatching(nA, nB int) *Matching {
	m := &Matching{
		aToB: make([]int, nA),
		bToA: make([]int, nB),
	}
	for i := range m.aToB {
		m.aToB[i] = Unlinked
	}
	for i := range m.bToA {
		m.bToA[i] = Unlinked
	}
	return m
}

// NumA returns the number of A-records.
func (m *Matching) NumA() int { return len(m.aToB) }

// NumB returns the number of B-records.
func (m *Matching) NumB() int { return len(m.bToA) }

// PartnerOfA returns the B index linked to a, or Unlinked.
func (m *Matching) PartnerOfA(a int) int { return m.aToB[a] }

// PartnerOfB returns the A index linked to b, or Unlinked.
func (m *Matching) PartnerOfB(b int) int { return m.bToA[b] }

// Link records a↔b. Both endpoints must currently be unlinked.
func (m *Matching) Link(a, b int) {
	if m.aToB[a] != Unlinked || m.bToA[b] != Unlinked {
		panic(fmt.Sprintf("linkage: conflicting assignment a=%d b=%d (current a->%d, b<-%d)",
			a, b, m.aToB[a], m.bToA[b]))
	}
	m.aToB[a] = b
	m.bToA[b] = a
}

// UnlinkA removes a's link, if any.
func (m *Matching) UnlinkA(a int) {
	if b := m.aToB[a]; b != Unlinked {
		m.aToB[a] = Unlinked
		m.bToA[b] = Unlinked
	}
}

// Count returns the number of linked pairs.
func (m *Matching) Count() int {
	n := 0
	for _, b := range m.aToB {
		if b != Unlinked {
			n++
		}
	}
	return n
}

// Pairs returns the linked pairs in A-index order.
func (m *Matching) Pairs() []Pair {
	pairs := make([]Pair, 0, m.Count())
	for a, b := range m.aToB {
		if b != Unlinked {
			pairs = append(pairs, Pair{A: a, B: b})
		}
	}
	return pairs
}

// Reset unlinks everything, for reuse across independent runs.
func (m *Matching) Reset() {
	for i := range m.aToB {
		m.aToB[i] = Unlinked
	}
	for i := range m.bToA {
		m.bToA[i] = Unlinked
	}
}

// Consistent verifies the forward and reverse maps agree. Used by tests and
// debug assertions; a false return means a sampler bug.
func (m *Matching) Consistent() bool {
	for a, b := range m.aToB {
		if b != Unlinked && m.bToA[b] != a {
			return false
		}
	}
	for b, a := range m.bToA {
		if a != Unlinked && m.aToB[a] != b {
			return false
		}
	}
	return true
}
