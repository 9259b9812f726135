package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stwalsh4118/reach/internal/database"
	"github.com/stwalsh4118/reach/internal/models"
)

// IsochroneRepository stores the isochrone polygon layer in native CRS.
type IsochroneRepository interface {
	// ReplaceAll swaps the whole layer for the polygons of a full run.
	ReplaceAll(ctx context.Context, polygons []models.IsochronePolygon) error

	// Upsert adds or replaces the polygons of a retry run.
	Upsert(ctx context.Context, polygons []models.IsochronePolygon) error

	// List returns the layer in facility registry order.
	List(ctx context.Context) ([]models.IsochronePolygon, error)
}

type isochroneRepository struct {
	db *database.Database
}

// NewIsochroneRepository creates a new IsochroneRepository.
func NewIsochroneRepository(db *database.Database) IsochroneRepository {
	return &isochroneRepository{db: db}
}

const upsertIsochroneSQL = `
	INSERT INTO isochrones (facility_id, geom, srid, time_budget_seconds, transport_mode, fetched_at)
	VALUES ($1, ST_SetSRID(ST_GeomFromGeoJSON($2::text), $3), $3, $4, $5, $6)
	ON CONFLICT (facility_id) DO UPDATE SET
		geom                = EXCLUDED.geom,
		srid                = EXCLUDED.srid,
		time_budget_seconds = EXCLUDED.time_budget_seconds,
		transport_mode      = EXCLUDED.transport_mode,
		fetched_at          = EXCLUDED.fetched_at
`

func queueIsochrones(batch *pgx.Batch, polygons []models.IsochronePolygon) {
	for _, p := range polygons {
		batch.Queue(upsertIsochroneSQL,
			p.FacilityID,
			p.Geometry,
			p.Geometry.SRID,
			int(p.Params.TimeBudget/time.Second),
			string(p.Params.Mode),
			p.FetchedAt,
		)
	}
}

func (r *isochroneRepository) ReplaceAll(ctx context.Context, polygons []models.IsochronePolygon) error {
	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM isochrones`); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		queueIsochrones(batch, polygons)
		return execBatch(ctx, tx, batch)
	})
	if err != nil {
		return fmt.Errorf("failed to replace isochrone layer: %w", err)
	}
	return nil
}

func (r *isochroneRepository) Upsert(ctx context.Context, polygons []models.IsochronePolygon) error {
	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		queueIsochrones(batch, polygons)
		return execBatch(ctx, tx, batch)
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d isochrones: %w", len(polygons), err)
	}
	return nil
}

func (r *isochroneRepository) List(ctx context.Context) ([]models.IsochronePolygon, error) {
	query := `
		SELECT i.facility_id, ST_AsGeoJSON(i.geom), i.srid,
			i.time_budget_seconds, i.transport_mode, i.fetched_at
		FROM isochrones i
		LEFT JOIN facilities f ON f.id = i.facility_id
		ORDER BY f.position NULLS LAST, i.facility_id
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query isochrones: %w", err)
	}
	defer rows.Close()

	polygons := []models.IsochronePolygon{}
	for rows.Next() {
		var p models.IsochronePolygon
		var geomJSON []byte
		var seconds int
		var mode string
		if err := rows.Scan(&p.FacilityID, &geomJSON, &p.Geometry.SRID, &seconds, &mode, &p.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan isochrone row: %w", err)
		}
		if err := p.Geometry.Scan(geomJSON); err != nil {
			return nil, fmt.Errorf("failed to parse geometry for facility %s: %w", p.FacilityID, err)
		}
		p.Params = models.IsochroneParams{
			TimeBudget: time.Duration(seconds) * time.Second,
			Mode:       models.TransportMode(mode),
		}
		polygons = append(polygons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating isochrone rows: %w", err)
	}
	return polygons, nil
}
