// Package repository persists pipeline layers in PostGIS.
//
// PostGIS functions take (longitude, latitude); every method that accepts
// lat/lng swaps them at the query boundary.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stwalsh4118/reach/internal/database"
)

// execBatch sends every queued statement and reports the first failure.
func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("statement %d of %d: %w", i+1, batch.Len(), err)
		}
	}
	return br.Close()
}

// countRows returns the number of rows in a layer table. table is never user input.
func countRows(ctx context.Context, db *database.Database, table string) (int, error) {
	var n int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("record not found")
