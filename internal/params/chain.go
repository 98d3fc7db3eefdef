package params

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Chain is the ordered sequence of parameter snapshots, one per outer StEM
// iteration. Used for post-hoc averaging and diagnostics.
type Chain struct {
	snapshots []*State
}

// Append adds a snapshot. The chain takes ownership of the clone it makes,
// so later mutation of st does not alias into the chain.
func (c *Chain) Append(st *State) {
	c.snapshots = append(c.snapshots, st.Clone())
}

// Len returns the number of snapshots.
func (c *Chain) Len() int { return len(c.snapshots) }

// At returns the snapshot for outer iteration t (1-based).
func (c *Chain) At(t int) *State { return c.snapshots[t-1] }

// Snapshots returns the full chain in iteration order.
func (c *Chain) Snapshots() []*State { return c.snapshots }

// Mean returns the element-wise average of post-burn-in snapshots: the
// point estimate of the fit. Returns nil when no snapshots survive burn-in.
func (c *Chain) Mean(burnin int) *State {
	if burnin >= len(c.snapshots) {
		return nil
	}
	kept := c.snapshots[burnin:]
	mean := kept[0].Clone()
	if len(kept) == 1 {
		return mean
	}

	n := float64(len(kept))
	for j := range mean.Gamma {
		for v := range mean.Gamma[j] {
			sum := 0.0
			for _, s := range kept {
				sum += s.Gamma[j][v]
			}
			mean.Gamma[j][v] = sum / n
		}
		mean.EtaA[j] = meanOf(kept, func(s *State) float64 { return s.EtaA[j] })
		mean.EtaB[j] = meanOf(kept, func(s *State) float64 { return s.EtaB[j] })
		mean.Alpha[j] = meanOf(kept, func(s *State) float64 { return s.Alpha[j] })
		mean.PhiA[j] = meanOf(kept, func(s *State) float64 { return s.PhiA[j] })
		mean.PhiB[j] = meanOf(kept, func(s *State) float64 { return s.PhiB[j] })
	}
	return mean
}

// Quantiles returns the given empirical quantiles of one scalar parameter's
// post-burn-in trace, extracted by get. Used by diagnostics output.
func (c *Chain) Quantiles(burnin int, get func(*State) float64, ps ...float64) []float64 {
	if burnin >= len(c.snapshots) {
		return nil
	}
	trace := make([]float64, 0, len(c.snapshots)-burnin)
	for _, s := range c.snapshots[burnin:] {
		trace = append(trace, get(s))
	}
	sort.Float64s(trace)

	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = stat.Quantile(p, stat.Empirical, trace, nil)
	}
	return out
}

func meanOf(states []*State, get func(*State) float64) float64 {
	sum := 0.0
	for _, s := range states {
		sum += get(s)
	}
	return sum / float64(len(states))
}
