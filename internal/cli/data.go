package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/roach88/stemlink/internal/linkage"
	"github.com/roach88/stemlink/internal/record"
)

// recordsJSON is the on-disk form of one record file. Codes use 0 for
// missing values; times and covariates are optional.
type recordsJSON struct {
	Records    [][]int     `json:"records"`
	Times      []float64   `json:"times,omitempty"`
	Covariates [][]float64 `json:"covariates,omitempty"`
}

func loadRecords(path string, source record.Source) (*record.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	var rj recordsJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return nil, fmt.Errorf("parse records %s: %w", path, err)
	}
	if len(rj.Records) == 0 {
		return nil, fmt.Errorf("parse records %s: records array is empty", path)
	}

	var opts []record.Option
	if rj.Times != nil {
		opts = append(opts, record.WithTimes(rj.Times))
	}
	if rj.Covariates != nil {
		opts = append(opts, record.WithCovariates(rj.Covariates))
	}
	return record.FromCoded(source, rj.Records, opts...), nil
}

func writeRecords(path string, f *record.File) error {
	rj := recordsJSON{Records: make([][]int, f.NumRecords())}
	for i := range rj.Records {
		row := make([]int, f.NumPIVs())
		for j := range row {
			if code, missing := f.Value(i, j); !missing {
				row[j] = code
			}
		}
		rj.Records[i] = row
	}

	data, err := json.MarshalIndent(rj, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func loadPairs(path string) ([]linkage.Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pairs: %w", err)
	}
	var pairs []linkage.Pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("parse pairs %s: %w", path, err)
	}
	return pairs, nil
}

func writePairs(path string, pairs []linkage.Pair) error {
	data, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pairs: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// pairProb is one posterior entry in CLI output, sorted by A then B.
type pairProb struct {
	A           int     `json:"a"`
	B           int     `json:"b"`
	Probability float64 `json:"probability"`
}

func posteriorEntries(post linkage.Posterior) []pairProb {
	entries := make([]pairProb, 0, len(post))
	for pair, prob := range post {
		entries = append(entries, pairProb{A: pair.A, B: pair.B, Probability: prob})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].A != entries[j].A {
			return entries[i].A < entries[j].A
		}
		return entries[i].B < entries[j].B
	})
	return entries
}

func writePosterior(path string, post linkage.Posterior) error {
	data, err := json.MarshalIndent(posteriorEntries(post), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal posterior: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func loadPosterior(path string) (linkage.Posterior, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read posterior: %w", err)
	}
	var entries []pairProb
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse posterior %s: %w", path, err)
	}
	post := make(linkage.Posterior, len(entries))
	for _, e := range entries {
		post[linkage.Pair{A: e.A, B: e.B}] = e.Probability
	}
	return post, nil
}
