package store

import (
	"context"
	"fmt"

	"github.com/roach88/stemlink/internal/linkage"
	"github.com/roach88/stemlink/internal/params"
)

// RunInfo summarizes one stored run.
type RunInfo struct {
	Token     string `json:"token"`
	CreatedAt string `json:"createdAt"`
	Model     string `json:"model"`
}

// ListRuns returns all stored runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, created_at, model
		FROM runs
		ORDER BY created_at DESC, token DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var info RunInfo
		if err := rows.Scan(&info.Token, &info.CreatedAt, &info.Model); err != nil {
			return nil, fmt.Errorf("list runs: scan: %w", err)
		}
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

// ReadChain returns the stored parameter snapshots for a run in
// iteration order.
func (s *Store) ReadChain(ctx context.Context, token string) ([]*params.State, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state
		FROM chain_snapshots
		WHERE run_token = ?
		ORDER BY iteration ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("read chain: %w", err)
	}
	defer rows.Close()

	var chain []*params.State
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("read chain: scan: %w", err)
		}
		st, err := unmarshalState(data)
		if err != nil {
			return nil, fmt.Errorf("read chain: %w", err)
		}
		chain = append(chain, st)
	}
	return chain, rows.Err()
}

// ReadPosterior reconstructs the stored link posterior for a run.
func (s *Store) ReadPosterior(ctx context.Context, token string) (linkage.Posterior, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_a, record_b, probability
		FROM posterior_pairs
		WHERE run_token = ?
	`, token)
	if err != nil {
		return nil, fmt.Errorf("read posterior: %w", err)
	}
	defer rows.Close()

	post := linkage.Posterior{}
	for rows.Next() {
		var pair linkage.Pair
		var prob float64
		if err := rows.Scan(&pair.A, &pair.B, &prob); err != nil {
			return nil, fmt.Errorf("read posterior: scan: %w", err)
		}
		post[pair] = prob
	}
	return post, rows.Err()
}
