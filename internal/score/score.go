// Package score evaluates a fitted link posterior against a known ground
// truth. It is a thin collaborator of the core: the inference engine never
// depends on it.
package score

import "github.com/roach88/stemlink/internal/linkage"

// DefaultThreshold is the conventional hard-decision cutoff on the
// posterior linkage probability.
const DefaultThreshold = 0.5

// Report is a confusion summary with the derived metrics.
type Report struct {
	Threshold float64 `json:"threshold"`

	TruePositives  int `json:"truePositives"`
	FalsePositives int `json:"falsePositives"`
	FalseNegatives int `json:"falseNegatives"`

	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// Evaluate thresholds the posterior and scores the resulting hard links
// against the truth.
func Evaluate(post linkage.Posterior, truth []linkage.Pair, threshold float64) Report {
	truthSet := make(map[linkage.Pair]bool, len(truth))
	for _, p := range truth {
		truthSet[p] = true
	}

	r := Report{Threshold: threshold}
	for _, p := range post.Threshold(threshold) {
		if truthSet[p] {
			r.TruePositives++
		} else {
			r.FalsePositives++
		}
	}
	r.FalseNegatives = len(truth) - r.TruePositives

	if r.TruePositives+r.FalsePositives > 0 {
		r.Precision = float64(r.TruePositives) / float64(r.TruePositives+r.FalsePositives)
	}
	if r.TruePositives+r.FalseNegatives > 0 {
		r.Recall = float64(r.TruePositives) / float64(r.TruePositives+r.FalseNegatives)
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	return r
}
