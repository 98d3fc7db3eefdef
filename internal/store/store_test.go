package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stemlink/internal/linkage"
	"github.com/roach88/stemlink/internal/params"
	"github.com/roach88/stemlink/internal/schema"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chains.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testState() *params.State {
	return &params.State{
		Gamma: [][]float64{{0.25, 0.75}, {0.1, 0.4, 0.5}},
		EtaA:  []float64{0.05, 0.05},
		EtaB:  []float64{0.06, 0.04},
		Alpha: []float64{0.1, 0.1},
		PhiA:  []float64{0.02, 0.03},
		PhiB:  []float64{0.02, 0.01},
	}
}

func testModel() *schema.Model {
	return &schema.Model{PIVs: []schema.PIV{
		{Name: "surname", Cardinality: 2, Stability: schema.Stable{}},
		{Name: "residence", Cardinality: 3, Stability: schema.Unstable{}},
	}}
}

func TestStore_RunRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteRun(ctx, "run-1", testModel()))
	// Duplicate token is a no-op.
	require.NoError(t, s.WriteRun(ctx, "run-1", testModel()))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].Token)
	assert.Contains(t, runs[0].Model, `"surname"`)
}

func TestStore_ChainRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteRun(ctx, "run-1", testModel()))

	st := testState()
	require.NoError(t, s.WriteSnapshot(ctx, "run-1", 1, st))
	st2 := testState()
	st2.PhiA[0] = 0.09
	require.NoError(t, s.WriteSnapshot(ctx, "run-1", 2, st2))

	// Duplicate (run, iteration) is a no-op; the first write wins.
	require.NoError(t, s.WriteSnapshot(ctx, "run-1", 1, st2))

	chain, err := s.ReadChain(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, st, chain[0])
	assert.Equal(t, 0.09, chain[1].PhiA[0])
}

func TestStore_PosteriorRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteRun(ctx, "run-1", testModel()))

	post := linkage.Posterior{
		{A: 0, B: 3}: 0.9,
		{A: 1, B: 2}: 0.75,
	}
	require.NoError(t, s.WritePosterior(ctx, "run-1", post))
	require.NoError(t, s.WritePosterior(ctx, "run-1", post))

	got, err := s.ReadPosterior(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, post, got)
}

func TestStore_ReadUnknownRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chain, err := s.ReadChain(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, chain)

	post, err := s.ReadPosterior(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, post)
}

func TestMarshalState_Canonical(t *testing.T) {
	j1, err := marshalState(testState())
	require.NoError(t, err)
	j2, err := marshalState(testState())
	require.NoError(t, err)
	assert.Equal(t, j1, j2)

	// Keys appear sorted.
	assert.Regexp(t, `^\{"alpha":`, j1)
}

func TestAsyncSink_FlushesOnClose(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRun(ctx, "run-1", testModel()))

	sink := NewAsyncSink(s, 8)
	for i := 1; i <= 5; i++ {
		st := testState()
		st.Alpha[0] = float64(i) / 10
		sink.WriteSnapshot("run-1", i, st)
	}
	require.NoError(t, sink.Close())

	chain, err := s.ReadChain(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, chain, 5)
	assert.Equal(t, 0.3, chain[2].Alpha[0])
}

func TestAsyncSink_ClosedSinkDropsWrites(t *testing.T) {
	s := openTestStore(t)
	sink := NewAsyncSink(s, 2)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	// Must not panic or block.
	sink.WriteSnapshot("run-1", 1, testState())
}

func TestAsyncSink_ClonesState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRun(ctx, "run-1", testModel()))

	sink := NewAsyncSink(s, 8)
	st := testState()
	sink.WriteSnapshot("run-1", 1, st)
	st.PhiA[0] = 0.99 // caller keeps mutating its copy
	require.NoError(t, sink.Close())

	chain, err := s.ReadChain(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, 0.02, chain[0].PhiA[0])
}
