package stem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stemlink/internal/linkage"
	"github.com/roach88/stemlink/internal/record"
	"github.com/roach88/stemlink/internal/schema"
	"github.com/roach88/stemlink/internal/score"
	"github.com/roach88/stemlink/internal/synth"
)

func fiveStablePIVs() *schema.Model {
	return &schema.Model{PIVs: []schema.PIV{
		{Name: "surname", Cardinality: 25, Stability: schema.Stable{}},
		{Name: "given", Cardinality: 20, Stability: schema.Stable{}},
		{Name: "birthyear", Cardinality: 40, Stability: schema.Stable{}},
		{Name: "birthplace", Cardinality: 30, Stability: schema.Stable{}},
		{Name: "sex", Cardinality: 2, Stability: schema.Stable{}},
	}}
}

func smallFit(t *testing.T, rc schema.RunConfig) (*Result, []linkage.Pair) {
	t.Helper()
	m := fiveStablePIVs()
	inst, err := synth.Generate(m, synth.Params{
		NumA: 30, NumB: 40, Links: 20,
		MissingRate: 0.05, MistakeRate: 0.02,
		Seed: 21,
	})
	require.NoError(t, err)

	res, err := Fit(context.Background(), Config{
		Model: m,
		FileA: inst.FileA,
		FileB: inst.FileB,
		Run:   rc,
		Tokens: NewFixedGenerator("run-test"),
	})
	require.NoError(t, err)
	return res, inst.Truth
}

func TestFit_SurfacesConfigurationErrorsBeforeSampling(t *testing.T) {
	m := fiveStablePIVs()
	a := record.FromCoded(record.SourceA, [][]int{{1, 1, 1, 1, 1}})
	b := record.FromCoded(record.SourceB, [][]int{{1, 1, 1, 1, 1}})

	_, err := Fit(context.Background(), Config{
		Model: m, FileA: a, FileB: b,
		Run: schema.RunConfig{StEMIter: 5, StEMBurnin: 5, GibbsIter: 3},
	})
	require.Error(t, err)
	assert.True(t, schema.IsConfigurationError(err), "burnin >= iter is a configuration error")
}

func TestFit_SurfacesEstimabilityErrors(t *testing.T) {
	m := &schema.Model{PIVs: []schema.PIV{{
		Name:        "residence",
		Cardinality: 5,
		Stability:   schema.Unstable{},
	}}}
	a := record.FromCoded(record.SourceA, [][]int{{1}})
	b := record.FromCoded(record.SourceB, [][]int{{2}})

	_, err := Fit(context.Background(), Config{
		Model: m, FileA: a, FileB: b,
		Run: schema.RunConfig{StEMIter: 2, GibbsIter: 2},
	})
	require.Error(t, err)
	assert.True(t, schema.IsEstimabilityError(err))
}

func TestFit_Determinism(t *testing.T) {
	rc := schema.RunConfig{StEMIter: 6, StEMBurnin: 2, GibbsIter: 4, GibbsBurnin: 1, Seed: 99}

	r1, _ := smallFit(t, rc)
	r2, _ := smallFit(t, rc)

	assert.Equal(t, r1.Posterior, r2.Posterior, "bit-identical posteriors")
	require.Equal(t, r1.Chains.Len(), r2.Chains.Len())
	for it := 1; it <= r1.Chains.Len(); it++ {
		assert.Equal(t, r1.Chains.At(it), r2.Chains.At(it), "iteration %d", it)
	}
}

func TestFit_BurninAccounting(t *testing.T) {
	// One post-burn-in Gibbs draw per post-burn-in outer iteration:
	// exactly one qualifying draw total.
	rc := schema.RunConfig{StEMIter: 4, StEMBurnin: 3, GibbsIter: 3, GibbsBurnin: 2, Seed: 5}
	res, _ := smallFit(t, rc)

	assert.Equal(t, 1, res.PosteriorDraws)
	for _, prob := range res.Posterior {
		assert.Equal(t, 1.0, prob, "every surviving pair was in the single qualifying draw")
	}
}

func TestFit_PosteriorDrawCount(t *testing.T) {
	rc := schema.RunConfig{StEMIter: 6, StEMBurnin: 2, GibbsIter: 5, GibbsBurnin: 3, Seed: 1}
	res, _ := smallFit(t, rc)

	// (6-2) outer * (5-3) inner qualifying draws.
	assert.Equal(t, 8, res.PosteriorDraws)
	assert.Equal(t, 6, res.Completed)
	assert.Equal(t, 6, res.Chains.Len())
	require.NotNil(t, res.Estimate)
}

func TestFit_FixationRespect(t *testing.T) {
	m := fiveStablePIVs()
	m.PIVs[4].Mistake = schema.MistakeModel{
		Shared: true, FixedA: true, FixedB: true,
		FixedValueA: 0.003, FixedValueB: 0.003,
	}

	inst, err := synth.Generate(m, synth.Params{
		NumA: 25, NumB: 25, Links: 15, MistakeRate: 0.05, Seed: 8,
	})
	require.NoError(t, err)

	res, err := Fit(context.Background(), Config{
		Model: m, FileA: inst.FileA, FileB: inst.FileB,
		Run: schema.RunConfig{StEMIter: 5, StEMBurnin: 1, GibbsIter: 3, GibbsBurnin: 1, Seed: 12},
	})
	require.NoError(t, err)

	for it := 1; it <= res.Chains.Len(); it++ {
		st := res.Chains.At(it)
		assert.Equal(t, 0.003, st.PhiA[4], "iteration %d", it)
		assert.Equal(t, 0.003, st.PhiB[4], "iteration %d", it)
	}
}

func TestFit_BoundsRespect(t *testing.T) {
	m := fiveStablePIVs()
	for j := range m.PIVs {
		m.PIVs[j].Mistake = schema.MistakeModel{Bounded: true, Bound: 0.04}
	}

	// Heavy mistake noise pushes the estimate against the ceiling.
	inst, err := synth.Generate(m, synth.Params{
		NumA: 30, NumB: 30, Links: 20, MistakeRate: 0.25, Seed: 17,
	})
	require.NoError(t, err)

	res, err := Fit(context.Background(), Config{
		Model: m, FileA: inst.FileA, FileB: inst.FileB,
		Run: schema.RunConfig{StEMIter: 6, StEMBurnin: 2, GibbsIter: 3, GibbsBurnin: 1, Seed: 4},
	})
	require.NoError(t, err)

	for it := 1; it <= res.Chains.Len(); it++ {
		st := res.Chains.At(it)
		for j := range m.PIVs {
			assert.LessOrEqual(t, st.PhiA[j], 0.04, "iteration %d piv %d", it, j)
			assert.LessOrEqual(t, st.PhiB[j], 0.04, "iteration %d piv %d", it, j)
		}
	}
}

type cancellingObserver struct {
	after  int
	cancel context.CancelFunc
	seen   []int
}

func (o *cancellingObserver) AfterIteration(info IterationInfo) {
	o.seen = append(o.seen, info.Iteration)
	if info.Iteration == o.after {
		o.cancel()
	}
}

func TestFit_EarlyTerminationReturnsPartialResult(t *testing.T) {
	m := fiveStablePIVs()
	inst, err := synth.Generate(m, synth.Params{NumA: 20, NumB: 20, Links: 10, Seed: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	obs := &cancellingObserver{after: 2, cancel: cancel}

	res, err := Fit(ctx, Config{
		Model: m, FileA: inst.FileA, FileB: inst.FileB,
		Run:      schema.RunConfig{StEMIter: 50, StEMBurnin: 1, GibbsIter: 3, GibbsBurnin: 1, Seed: 3},
		Observer: obs,
	})

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res, "partial result on cancellation")
	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, 2, res.Chains.Len())
	assert.Equal(t, []int{1, 2}, obs.seen)
	assert.NotNil(t, res.Estimate, "one post-burn-in snapshot survives")
}

func TestFit_Recovery(t *testing.T) {
	if testing.Short() {
		t.Skip("full-size recovery fit")
	}

	m := fiveStablePIVs()
	inst, err := synth.Generate(m, synth.Params{
		NumA: 500, NumB: 800, Links: 300,
		MissingRate: 0.05, MistakeRate: 0.03,
		Seed: 42,
	})
	require.NoError(t, err)

	res, err := Fit(context.Background(), Config{
		Model: m, FileA: inst.FileA, FileB: inst.FileB,
		Run: schema.RunConfig{StEMIter: 12, StEMBurnin: 4, GibbsIter: 6, GibbsBurnin: 2, Seed: 42},
	})
	require.NoError(t, err)

	r := score.Evaluate(res.Posterior, inst.Truth, score.DefaultThreshold)
	assert.GreaterOrEqual(t, r.F1, 0.9, "precision=%v recall=%v", r.Precision, r.Recall)
}

func TestFit_MistakeRateStaysCalibrated(t *testing.T) {
	m := fiveStablePIVs()
	inst, err := synth.Generate(m, synth.Params{
		NumA: 100, NumB: 130, Links: 60,
		MissingRate: 0.05, MistakeRate: 0.05,
		Seed: 31,
	})
	require.NoError(t, err)

	res, err := Fit(context.Background(), Config{
		Model: m, FileA: inst.FileA, FileB: inst.FileB,
		Run: schema.RunConfig{StEMIter: 10, StEMBurnin: 4, GibbsIter: 5, GibbsBurnin: 2, Seed: 31},
	})
	require.NoError(t, err)

	// A 5% true mistake rate must not be inflated by disagreements from
	// wrongly linked pairs feeding the mistake counts.
	require.NotNil(t, res.Estimate)
	for j := range m.PIVs {
		assert.Less(t, res.Estimate.PhiA[j], 0.15, "phi A for %s", m.PIVs[j].Name)
		assert.Less(t, res.Estimate.PhiB[j], 0.15, "phi B for %s", m.PIVs[j].Name)
	}
}

func TestFit_DegenerateNoTrueLinks(t *testing.T) {
	m := fiveStablePIVs()
	inst, err := synth.Generate(m, synth.Params{
		NumA: 60, NumB: 60, Links: 0,
		MissingRate: 0.05, MistakeRate: 0.03,
		Seed: 13,
	})
	require.NoError(t, err)

	res, err := Fit(context.Background(), Config{
		Model: m, FileA: inst.FileA, FileB: inst.FileB,
		Run: schema.RunConfig{StEMIter: 8, StEMBurnin: 3, GibbsIter: 4, GibbsBurnin: 1, Seed: 13},
	})
	require.NoError(t, err)

	// At least 99% of the 3600 candidate pairs stay below 0.5. Pairs the
	// posterior never saw are zero by construction.
	confident := len(res.Posterior.Threshold(0.5))
	assert.LessOrEqual(t, confident, 36, "confident false links")
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}
