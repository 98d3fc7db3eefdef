package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stemlink/internal/schema"
)

func testModel() *schema.Model {
	return &schema.Model{PIVs: []schema.PIV{
		{Name: "surname", Cardinality: 12, Stability: schema.Stable{}},
		{Name: "birthyear", Cardinality: 30, Stability: schema.Stable{}},
		{
			Name:        "residence",
			Cardinality: 8,
			Stability:   schema.Unstable{},
			Mistake:     schema.MistakeModel{Bounded: true, Bound: 0.1},
		},
	}}
}

func TestGenerate_Shape(t *testing.T) {
	inst, err := Generate(testModel(), Params{
		NumA: 40, NumB: 60, Links: 25,
		MissingRate: 0.1, MistakeRate: 0.05, ChangeProb: 0.1,
		Seed: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, 40, inst.FileA.NumRecords())
	assert.Equal(t, 60, inst.FileB.NumRecords())
	assert.Len(t, inst.Truth, 25)
	require.Len(t, inst.Gamma, 3)
	assert.Len(t, inst.Gamma[1], 30)

	// Generated files must pass the same checks real inputs do.
	require.NoError(t, inst.FileA.Check(testModel()))
	require.NoError(t, inst.FileB.Check(testModel()))

	// Truth indices are unique on both sides.
	seenA := map[int]bool{}
	seenB := map[int]bool{}
	for _, p := range inst.Truth {
		assert.False(t, seenA[p.A])
		assert.False(t, seenB[p.B])
		seenA[p.A] = true
		seenB[p.B] = true
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	p := Params{NumA: 20, NumB: 20, Links: 10, MissingRate: 0.1, MistakeRate: 0.02, Seed: 7}

	i1, err := Generate(testModel(), p)
	require.NoError(t, err)
	i2, err := Generate(testModel(), p)
	require.NoError(t, err)

	assert.Equal(t, i1.Truth, i2.Truth)
	assert.Equal(t, i1.Gamma, i2.Gamma)
	for i := 0; i < i1.FileA.NumRecords(); i++ {
		for j := 0; j < i1.FileA.NumPIVs(); j++ {
			c1, m1 := i1.FileA.Value(i, j)
			c2, m2 := i2.FileA.Value(i, j)
			assert.Equal(t, c1, c2)
			assert.Equal(t, m1, m2)
		}
	}
}

func TestGenerate_NoMissingNoMistake(t *testing.T) {
	inst, err := Generate(testModel(), Params{NumA: 15, NumB: 15, Links: 15, Seed: 3})
	require.NoError(t, err)

	// With zero noise rates and stable PIVs, linked records agree exactly.
	for _, p := range inst.Truth {
		for j := 0; j < 2; j++ { // the two stable PIVs
			ca, ma := inst.FileA.Value(p.A, j)
			cb, mb := inst.FileB.Value(p.B, j)
			require.False(t, ma)
			require.False(t, mb)
			assert.Equal(t, ca, cb)
		}
	}
}

func TestGenerate_Errors(t *testing.T) {
	_, err := Generate(testModel(), Params{NumA: 5, NumB: 5, Links: 6})
	require.Error(t, err)
	assert.True(t, schema.IsConfigurationError(err))

	_, err = Generate(testModel(), Params{NumA: 5, NumB: 5, Links: 2, MistakeRate: 1.5})
	require.Error(t, err)
	assert.True(t, schema.IsConfigurationError(err))
}
