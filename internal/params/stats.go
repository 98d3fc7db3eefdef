package params

import "github.com/roach88/stemlink/internal/schema"

// SuffStats are the sufficient statistics one sampling phase produces for
// the stochastic M-step. Counts are accumulated over post-burn-in Gibbs
// draws and divided by Draws at update time, so each field is an expected
// per-draw count.
type SuffStats struct {
	// Draws is the number of post-burn-in Gibbs draws folded in.
	Draws int

	// TrueCounts[j][v-1] counts imputed true values: one per linked
	// entity (the A-side truth, plus the post-change truth when the PIV
	// changed) and one per unlinked record.
	TrueCounts [][]float64

	// Observed/missing cell counts per PIV per source. These depend only
	// on the data, not on the latent state, but ride along so the update
	// has a single input.
	MissA, ObsA []float64
	MissB, ObsB []float64

	// Mistake/hit counts per PIV per source: an observed value
	// disagreeing with its record's imputed true value is a mistake.
	MistA, HitA []float64
	MistB, HitB []float64

	// Change/NoChange count change indicators across linked pairs for
	// unstable PIVs: one Bernoulli trial per linked pair per draw.
	Change   []float64
	NoChange []float64
}

// NewSuffStats allocates zeroed statistics shaped for the model.
func NewSuffStats(m *schema.Model) *SuffStats {
	k := m.NumPIVs()
	st := &SuffStats{
		TrueCounts: make([][]float64, k),
		MissA:      make([]float64, k),
		ObsA:       make([]float64, k),
		MissB:      make([]float64, k),
		ObsB:       make([]float64, k),
		MistA:      make([]float64, k),
		HitA:       make([]float64, k),
		MistB:      make([]float64, k),
		HitB:       make([]float64, k),
		Change:     make([]float64, k),
		NoChange:   make([]float64, k),
	}
	for j := range m.PIVs {
		st.TrueCounts[j] = make([]float64, m.PIVs[j].Cardinality)
	}
	return st
}

// Reset zeroes all counts for reuse across outer iterations.
func (st *SuffStats) Reset() {
	st.Draws = 0
	for j := range st.TrueCounts {
		for v := range st.TrueCounts[j] {
			st.TrueCounts[j][v] = 0
		}
		st.MissA[j], st.ObsA[j] = 0, 0
		st.MissB[j], st.ObsB[j] = 0, 0
		st.MistA[j], st.HitA[j] = 0, 0
		st.MistB[j], st.HitB[j] = 0, 0
		st.Change[j], st.NoChange[j] = 0, 0
	}
}
