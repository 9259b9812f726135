package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"

	"github.com/stwalsh4118/reach/internal/database"
	"github.com/stwalsh4118/reach/internal/models"
)

// FacilityRepository stores the facility point layer.
type FacilityRepository interface {
	// UpsertAll stores the registry in order. A facility whose address changed
	// loses its location so it is geocoded again.
	UpsertAll(ctx context.Context, facilities []models.Facility) error

	// List returns every facility in registry order.
	List(ctx context.Context) ([]models.Facility, error)

	// UpdateLocation attaches a geocoding result to a facility.
	UpdateLocation(ctx context.Context, id string, location orb.Point, matchedAddress string) error
}

type facilityRepository struct {
	db *database.Database
}

// NewFacilityRepository creates a new FacilityRepository.
func NewFacilityRepository(db *database.Database) FacilityRepository {
	return &facilityRepository{db: db}
}

const upsertFacilitySQL = `
	INSERT INTO facilities (id, position, name, address, status_note, available, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		position        = EXCLUDED.position,
		name            = EXCLUDED.name,
		status_note     = EXCLUDED.status_note,
		available       = EXCLUDED.available,
		updated_at      = EXCLUDED.updated_at,
		geom            = CASE WHEN facilities.address = EXCLUDED.address THEN facilities.geom END,
		matched_address = CASE WHEN facilities.address = EXCLUDED.address THEN facilities.matched_address ELSE '' END,
		address         = EXCLUDED.address
`

func (r *facilityRepository) UpsertAll(ctx context.Context, facilities []models.Facility) error {
	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i, f := range facilities {
			batch.Queue(upsertFacilitySQL, f.ID, i, f.Name, f.Address, f.StatusNote, f.Available, f.UpdatedAt)
		}
		return execBatch(ctx, tx, batch)
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d facilities: %w", len(facilities), err)
	}
	return nil
}

func (r *facilityRepository) List(ctx context.Context) ([]models.Facility, error) {
	query := `
		SELECT id, name, address, status_note, available, matched_address,
			ST_X(geom), ST_Y(geom), updated_at
		FROM facilities
		ORDER BY position, id
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query facilities: %w", err)
	}
	defer rows.Close()

	facilities := []models.Facility{}
	for rows.Next() {
		var f models.Facility
		var lon, lat *float64
		if err := rows.Scan(&f.ID, &f.Name, &f.Address, &f.StatusNote, &f.Available, &f.MatchedAddress,
			&lon, &lat, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan facility row: %w", err)
		}
		if lon != nil && lat != nil {
			f.Location = &orb.Point{*lon, *lat}
		}
		facilities = append(facilities, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating facility rows: %w", err)
	}
	return facilities, nil
}

func (r *facilityRepository) UpdateLocation(ctx context.Context, id string, location orb.Point, matchedAddress string) error {
	query := `
		UPDATE facilities
		SET geom = ST_SetSRID(ST_MakePoint($2, $3), 4326),
			matched_address = $4,
			updated_at = now()
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, location.Lon(), location.Lat(), matchedAddress)
	if err != nil {
		return fmt.Errorf("failed to update location of facility %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: facility %s", ErrNotFound, id)
	}
	return nil
}
