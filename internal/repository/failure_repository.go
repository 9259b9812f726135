package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stwalsh4118/reach/internal/database"
	"github.com/stwalsh4118/reach/internal/models"
)

// FailureRepository stores fetch runs and their per-facility failures.
type FailureRepository interface {
	// Save records a run and its failures atomically.
	Save(ctx context.Context, run models.FetchRun, failures []models.FetchFailure) error

	// ListByRun returns the failures of one run in facility registry order.
	ListByRun(ctx context.Context, runID string) ([]models.FetchFailure, error)

	// LatestRunID returns the most recent run, or "" if none has been recorded.
	LatestRunID(ctx context.Context) (string, error)
}

type failureRepository struct {
	db *database.Database
}

// NewFailureRepository creates a new FailureRepository.
func NewFailureRepository(db *database.Database) FailureRepository {
	return &failureRepository{db: db}
}

func (r *failureRepository) Save(ctx context.Context, run models.FetchRun, failures []models.FetchFailure) error {
	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO fetch_runs (run_id, scope, attempted, successes, failures, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, run.RunID, string(run.Scope), run.Attempted, run.Successes, run.Failures, run.StartedAt, run.FinishedAt)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, f := range failures {
			batch.Queue(`
				INSERT INTO fetch_failures (run_id, facility_id, category, message, occurred_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (run_id, facility_id) DO NOTHING
			`, run.RunID, f.FacilityID, string(f.Category), f.Message, f.OccurredAt)
		}
		return execBatch(ctx, tx, batch)
	})
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}
	return nil
}

func (r *failureRepository) ListByRun(ctx context.Context, runID string) ([]models.FetchFailure, error) {
	query := `
		SELECT ff.run_id, ff.facility_id, ff.category, ff.message, ff.occurred_at
		FROM fetch_failures ff
		LEFT JOIN facilities f ON f.id = ff.facility_id
		WHERE ff.run_id = $1
		ORDER BY f.position NULLS LAST, ff.facility_id
	`

	rows, err := r.db.Pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures of run %s: %w", runID, err)
	}
	defer rows.Close()

	failures := []models.FetchFailure{}
	for rows.Next() {
		var f models.FetchFailure
		var category string
		if err := rows.Scan(&f.RunID, &f.FacilityID, &category, &f.Message, &f.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan failure row: %w", err)
		}
		f.Category = models.FailureCategory(category)
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failure rows: %w", err)
	}
	return failures, nil
}

func (r *failureRepository) LatestRunID(ctx context.Context) (string, error) {
	var runID string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT run_id FROM fetch_runs ORDER BY started_at DESC, run_id DESC LIMIT 1
	`).Scan(&runID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query latest run: %w", err)
	}
	return runID, nil
}
