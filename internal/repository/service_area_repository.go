package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stwalsh4118/reach/internal/database"
	"github.com/stwalsh4118/reach/internal/models"
)

// ServiceAreaRepository stores the merged service-area layer.
type ServiceAreaRepository interface {
	// ReplaceAll swaps the stored layer for layer, keeping row order.
	ReplaceAll(ctx context.Context, layer *models.ServiceAreaLayer) error

	// List returns the stored layer. An empty layer is not an error.
	List(ctx context.Context) (*models.ServiceAreaLayer, error)

	// FindContaining returns the service areas covering the given point.
	FindContaining(ctx context.Context, lat, lng float64) ([]models.ServiceArea, error)

	// Count returns the number of stored rows.
	Count(ctx context.Context) (int, error)
}

type serviceAreaRepository struct {
	db *database.Database
}

// NewServiceAreaRepository creates a new ServiceAreaRepository.
func NewServiceAreaRepository(db *database.Database) ServiceAreaRepository {
	return &serviceAreaRepository{db: db}
}

func (r *serviceAreaRepository) ReplaceAll(ctx context.Context, layer *models.ServiceAreaLayer) error {
	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM service_areas`); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		if layer != nil {
			for i, a := range layer.Areas {
				batch.Queue(`
					INSERT INTO service_areas (facility_id, position, name, address, available, geom)
					VALUES ($1, $2, $3, $4, $5, ST_Multi(ST_SetSRID(ST_GeomFromGeoJSON($6::text), 4326)))
				`, a.FacilityID, i, a.Name, a.Address, a.Available, a.Geometry)
			}
		}
		return execBatch(ctx, tx, batch)
	})
	if err != nil {
		return fmt.Errorf("failed to replace service-area layer: %w", err)
	}
	return nil
}

const serviceAreaColumns = `facility_id, name, address, available, ST_AsGeoJSON(geom)`

func scanServiceAreas(rows pgx.Rows) ([]models.ServiceArea, error) {
	defer rows.Close()

	areas := []models.ServiceArea{}
	for rows.Next() {
		var a models.ServiceArea
		var geomJSON []byte
		if err := rows.Scan(&a.FacilityID, &a.Name, &a.Address, &a.Available, &geomJSON); err != nil {
			return nil, fmt.Errorf("failed to scan service-area row: %w", err)
		}
		a.Geometry.SRID = models.SRIDWGS84
		if err := a.Geometry.Scan(geomJSON); err != nil {
			return nil, fmt.Errorf("failed to parse geometry for facility %s: %w", a.FacilityID, err)
		}
		areas = append(areas, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating service-area rows: %w", err)
	}
	return areas, nil
}

func (r *serviceAreaRepository) List(ctx context.Context) (*models.ServiceAreaLayer, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+serviceAreaColumns+` FROM service_areas ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query service areas: %w", err)
	}
	areas, err := scanServiceAreas(rows)
	if err != nil {
		return nil, err
	}
	return &models.ServiceAreaLayer{Areas: areas, SRID: models.SRIDWGS84}, nil
}

// FindContaining uses ST_Contains against the GiST index on geom.
func (r *serviceAreaRepository) FindContaining(ctx context.Context, lat, lng float64) ([]models.ServiceArea, error) {
	query := `SELECT ` + serviceAreaColumns + `
		FROM service_areas
		WHERE ST_Contains(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326))
		ORDER BY position
	`

	rows, err := r.db.Pool.Query(ctx, query, lng, lat)
	if err != nil {
		return nil, fmt.Errorf("failed to query service areas at point (lat=%f, lng=%f): %w", lat, lng, err)
	}
	return scanServiceAreas(rows)
}

func (r *serviceAreaRepository) Count(ctx context.Context) (int, error) {
	return countRows(ctx, r.db, "service_areas")
}
