package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stwalsh4118/reach/internal/database"
	"github.com/stwalsh4118/reach/internal/models"
)

// BoundaryRepository stores administrative boundaries in WGS84.
type BoundaryRepository interface {
	// ReplaceAll swaps the stored boundaries. Geometries must already be WGS84.
	ReplaceAll(ctx context.Context, boundaries []models.Boundary) error

	// ListWithCoverage returns each boundary with the share of its area that
	// lies inside the service area of an available facility.
	ListWithCoverage(ctx context.Context) ([]models.BoundaryCoverage, error)

	// Count returns the number of stored boundaries.
	Count(ctx context.Context) (int, error)
}

type boundaryRepository struct {
	db *database.Database
}

// NewBoundaryRepository creates a new BoundaryRepository.
func NewBoundaryRepository(db *database.Database) BoundaryRepository {
	return &boundaryRepository{db: db}
}

func (r *boundaryRepository) ReplaceAll(ctx context.Context, boundaries []models.Boundary) error {
	for _, b := range boundaries {
		if b.Geometry.SRID != models.SRIDWGS84 {
			return fmt.Errorf("boundary %s is in EPSG:%d, expected EPSG:%d", b.GEOID, b.Geometry.SRID, models.SRIDWGS84)
		}
	}

	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM boundaries`); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, b := range boundaries {
			batch.Queue(`
				INSERT INTO boundaries (geoid, name, state_fips, geom)
				VALUES ($1, $2, $3, ST_Multi(ST_SetSRID(ST_GeomFromGeoJSON($4::text), 4326)))
			`, b.GEOID, b.Name, b.StateFIPS, b.Geometry)
		}
		return execBatch(ctx, tx, batch)
	})
	if err != nil {
		return fmt.Errorf("failed to replace boundaries: %w", err)
	}
	return nil
}

// ListWithCoverage measures areas on the geography type so ratios are in
// true square meters rather than square degrees.
func (r *boundaryRepository) ListWithCoverage(ctx context.Context) ([]models.BoundaryCoverage, error) {
	query := `
		WITH reach AS (
			SELECT ST_Union(geom) AS geom FROM service_areas WHERE available
		)
		SELECT b.geoid, b.name, b.state_fips, ST_AsGeoJSON(b.geom),
			COALESCE(
				ST_Area(ST_Intersection(b.geom, reach.geom)::geography)
					/ NULLIF(ST_Area(b.geom::geography), 0),
				0
			) AS coverage_ratio
		FROM boundaries b
		CROSS JOIN reach
		ORDER BY b.geoid
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query boundary coverage: %w", err)
	}
	defer rows.Close()

	results := []models.BoundaryCoverage{}
	for rows.Next() {
		var bc models.BoundaryCoverage
		var geomJSON []byte
		if err := rows.Scan(&bc.GEOID, &bc.Name, &bc.StateFIPS, &geomJSON, &bc.CoverageRatio); err != nil {
			return nil, fmt.Errorf("failed to scan boundary row: %w", err)
		}
		bc.Geometry.SRID = models.SRIDWGS84
		if err := bc.Geometry.Scan(geomJSON); err != nil {
			return nil, fmt.Errorf("failed to parse geometry for boundary %s: %w", bc.GEOID, err)
		}
		results = append(results, bc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating boundary rows: %w", err)
	}
	return results, nil
}

func (r *boundaryRepository) Count(ctx context.Context) (int, error) {
	return countRows(ctx, r.db, "boundaries")
}
