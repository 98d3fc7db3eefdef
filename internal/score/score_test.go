package score

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/stemlink/internal/linkage"
)

func TestEvaluate(t *testing.T) {
	post := linkage.Posterior{
		{A: 0, B: 0}: 0.9,  // true link, found
		{A: 1, B: 1}: 0.8,  // false link, found
		{A: 2, B: 2}: 0.3,  // true link, below threshold
		{A: 3, B: 3}: 0.45, // noise below threshold
	}
	truth := []linkage.Pair{{A: 0, B: 0}, {A: 2, B: 2}, {A: 4, B: 4}}

	r := Evaluate(post, truth, DefaultThreshold)

	assert.Equal(t, 1, r.TruePositives)
	assert.Equal(t, 1, r.FalsePositives)
	assert.Equal(t, 2, r.FalseNegatives)
	assert.InDelta(t, 0.5, r.Precision, 1e-12)
	assert.InDelta(t, 1.0/3.0, r.Recall, 1e-12)
	assert.InDelta(t, 0.4, r.F1, 1e-12)
}

func TestEvaluate_EmptyPosterior(t *testing.T) {
	r := Evaluate(linkage.Posterior{}, []linkage.Pair{{A: 0, B: 0}}, DefaultThreshold)

	assert.Equal(t, 0, r.TruePositives)
	assert.Equal(t, 0.0, r.Precision)
	assert.Equal(t, 0.0, r.Recall)
	assert.Equal(t, 0.0, r.F1)
}

func TestEvaluate_PerfectRecovery(t *testing.T) {
	truth := []linkage.Pair{{A: 0, B: 1}, {A: 1, B: 0}}
	post := linkage.Posterior{
		{A: 0, B: 1}: 1.0,
		{A: 1, B: 0}: 0.97,
	}

	r := Evaluate(post, truth, DefaultThreshold)
	assert.Equal(t, 1.0, r.F1)
}
