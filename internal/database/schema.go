package database

import (
	"context"
	"fmt"
)

// schema holds the persisted pipeline layers. Every statement is idempotent.
// Isochrones keep the provider's native SRID; every other geometry is WGS84.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,

	`CREATE TABLE IF NOT EXISTS facilities (
		id              TEXT PRIMARY KEY,
		position        INTEGER NOT NULL,
		name            TEXT NOT NULL,
		address         TEXT NOT NULL,
		status_note     TEXT NOT NULL DEFAULT '',
		available       BOOLEAN NOT NULL,
		matched_address TEXT NOT NULL DEFAULT '',
		geom            geometry(Point, 4326),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS isochrones (
		facility_id         TEXT PRIMARY KEY,
		geom                geometry NOT NULL,
		srid                INTEGER NOT NULL,
		time_budget_seconds INTEGER NOT NULL,
		transport_mode      TEXT NOT NULL,
		fetched_at          TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS fetch_runs (
		run_id      TEXT PRIMARY KEY,
		scope       TEXT NOT NULL,
		attempted   INTEGER NOT NULL,
		successes   INTEGER NOT NULL,
		failures    INTEGER NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS fetch_failures (
		run_id      TEXT NOT NULL REFERENCES fetch_runs (run_id) ON DELETE CASCADE,
		facility_id TEXT NOT NULL,
		category    TEXT NOT NULL,
		message     TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, facility_id)
	)`,

	`CREATE TABLE IF NOT EXISTS service_areas (
		facility_id TEXT PRIMARY KEY,
		position    INTEGER NOT NULL,
		name        TEXT NOT NULL,
		address     TEXT NOT NULL,
		available   BOOLEAN NOT NULL,
		geom        geometry(MultiPolygon, 4326) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS service_areas_geom_idx ON service_areas USING GIST (geom)`,

	`CREATE TABLE IF NOT EXISTS boundaries (
		geoid      TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		state_fips TEXT NOT NULL,
		geom       geometry(MultiPolygon, 4326) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS boundaries_geom_idx ON boundaries USING GIST (geom)`,
}

// EnsureSchema creates the layer tables if they do not exist.
func (db *Database) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
