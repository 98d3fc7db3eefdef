package linkage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatching_LinkUnlink(t *testing.T) {
	m := NewMatching(3, 4)

	assert.Equal(t, Unlinked, m.PartnerOfA(0))
	assert.Equal(t, 0, m.Count())

	m.Link(0, 2)
	m.Link(2, 0)

	assert.Equal(t, 2, m.PartnerOfA(0))
	assert.Equal(t, 0, m.PartnerOfB(2))
	assert.Equal(t, 2, m.Count())
	assert.True(t, m.Consistent())

	m.UnlinkA(0)
	assert.Equal(t, Unlinked, m.PartnerOfA(0))
	assert.Equal(t, Unlinked, m.PartnerOfB(2))
	assert.Equal(t, 1, m.Count())
	assert.True(t, m.Consistent())

	// Unlinking an already-unlinked record is a no-op.
	m.UnlinkA(0)
	assert.Equal(t, 1, m.Count())
}

func TestMatching_ConflictPanics(t *testing.T) {
	m := NewMatching(2, 2)
	m.Link(0, 1)

	assert.Panics(t, func() { m.Link(1, 1) }, "B side already taken")
	assert.Panics(t, func() { m.Link(0, 0) }, "A side already taken")
}

func TestMatching_Reset(t *testing.T) {
	m := NewMatching(2, 2)
	m.Link(0, 0)
	m.Link(1, 1)
	m.Reset()

	assert.Equal(t, 0, m.Count())
	assert.True(t, m.Consistent())
}

func TestMatching_Pairs(t *testing.T) {
	m := NewMatching(3, 3)
	m.Link(2, 0)
	m.Link(0, 1)

	assert.Equal(t, []Pair{{A: 0, B: 1}, {A: 2, B: 0}}, m.Pairs())
}

func TestAccumulator_Posterior(t *testing.T) {
	acc := NewAccumulator()
	m := NewMatching(2, 2)

	m.Link(0, 0)
	acc.Fold(m) // draw 1: {0,0}
	acc.Fold(m) // draw 2: {0,0}

	m.UnlinkA(0)
	m.Link(0, 1)
	acc.Fold(m) // draw 3: {0,1}

	m.Link(1, 0)
	acc.Fold(m) // draw 4: {0,1}, {1,0}

	require.Equal(t, 4, acc.Draws())

	post := acc.Posterior()
	assert.InDelta(t, 0.5, post[Pair{A: 0, B: 0}], 1e-12)
	assert.InDelta(t, 0.5, post[Pair{A: 0, B: 1}], 1e-12)
	assert.InDelta(t, 0.25, post[Pair{A: 1, B: 0}], 1e-12)

	linked := post.Threshold(0.5)
	assert.Equal(t, []Pair{{A: 0, B: 0}, {A: 0, B: 1}}, linked)
}
