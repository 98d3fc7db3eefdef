package store

import (
	"context"
	"fmt"

	"github.com/roach88/stemlink/internal/linkage"
	"github.com/roach88/stemlink/internal/params"
	"github.com/roach88/stemlink/internal/schema"
)

// WriteRun registers a run token with its model summary.
// Uses ON CONFLICT(token) DO NOTHING for idempotency - duplicate tokens
// are silently ignored.
func (s *Store) WriteRun(ctx context.Context, token string, m *schema.Model) error {
	modelJSON, err := marshalModel(m)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (token, model)
		VALUES (?, ?)
		ON CONFLICT(token) DO NOTHING
	`, token, modelJSON)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// WriteSnapshot inserts one outer-iteration parameter snapshot.
// Duplicate (run, iteration) writes are silently ignored, which makes
// replayed or retried writes safe.
func (s *Store) WriteSnapshot(ctx context.Context, token string, iteration int, st *params.State) error {
	stateJSON, err := marshalState(st)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chain_snapshots (run_token, iteration, state)
		VALUES (?, ?, ?)
		ON CONFLICT(run_token, iteration) DO NOTHING
	`, token, iteration, stateJSON)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// WritePosterior stores the link posterior for a finished run in a single
// transaction. Re-writing the same run is a no-op per pair.
func (s *Store) WritePosterior(ctx context.Context, token string, post linkage.Posterior) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write posterior: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO posterior_pairs (run_token, record_a, record_b, probability)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_token, record_a, record_b) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write posterior: prepare: %w", err)
	}
	defer stmt.Close()

	for pair, prob := range post {
		if _, err := stmt.ExecContext(ctx, token, pair.A, pair.B, prob); err != nil {
			return fmt.Errorf("write posterior: pair (%d,%d): %w", pair.A, pair.B, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write posterior: commit: %w", err)
	}
	return nil
}
