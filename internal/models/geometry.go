package models

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Spatial reference identifiers understood by the pipeline.
const (
	SRIDWGS84       = 4326 // WGS84 longitude/latitude, the target CRS of every output layer
	SRIDNAD83       = 4269 // NAD83, native CRS of Census boundary downloads
	SRIDWebMercator = 3857
)

// ErrEmptyGeometry is returned when a geometry has no coordinates.
var ErrEmptyGeometry = errors.New("empty geometry")

// Geometry pairs an orb geometry with the SRID its coordinates are expressed in.
// Coordinates follow GeoJSON order: [lon, lat].
type Geometry struct {
	Geom orb.Geometry
	SRID int
}

// NewGeometry wraps g in the given SRID.
func NewGeometry(g orb.Geometry, srid int) Geometry {
	return Geometry{Geom: g, SRID: srid}
}

// IsEmpty reports whether the geometry carries no coordinates.
func (g Geometry) IsEmpty() bool {
	if g.Geom == nil {
		return true
	}
	switch v := g.Geom.(type) {
	case orb.Polygon:
		return len(v) == 0 || len(v[0]) == 0
	case orb.MultiPolygon:
		return len(v) == 0
	}
	return false
}

// Clone returns a deep copy so callers can transform coordinates in place.
func (g Geometry) Clone() Geometry {
	if g.Geom == nil {
		return g
	}
	return Geometry{Geom: orb.Clone(g.Geom), SRID: g.SRID}
}

// Scan implements sql.Scanner for geometry selected with ST_AsGeoJSON.
// The SRID is not part of GeoJSON; a previously set SRID is kept, otherwise WGS84 is assumed.
func (g *Geometry) Scan(value interface{}) error {
	if value == nil {
		g.Geom = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("failed to scan Geometry: expected []byte or string, got %T", value)
	}

	parsed, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return fmt.Errorf("failed to unmarshal geometry: %w", err)
	}

	g.Geom = parsed.Geometry()
	if g.SRID == 0 {
		g.SRID = SRIDWGS84
	}
	return nil
}

// Value implements driver.Valuer, producing GeoJSON text for ST_GeomFromGeoJSON.
func (g Geometry) Value() (driver.Value, error) {
	if g.IsEmpty() {
		return nil, nil
	}
	data, err := geojson.NewGeometry(g.Geom).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal geometry to GeoJSON: %w", err)
	}
	return string(data), nil
}

// MarshalJSON renders the geometry as a GeoJSON geometry object.
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.Geom == nil {
		return []byte("null"), nil
	}
	return geojson.NewGeometry(g.Geom).MarshalJSON()
}

// UnmarshalJSON parses a GeoJSON geometry object. GeoJSON is WGS84 by definition.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		g.Geom = nil
		return nil
	}
	parsed, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return fmt.Errorf("failed to unmarshal geometry: %w", err)
	}
	g.Geom = parsed.Geometry()
	g.SRID = SRIDWGS84
	return nil
}

// AsMultiPolygon normalizes polygonal geometry to a MultiPolygon.
func (g Geometry) AsMultiPolygon() (orb.MultiPolygon, error) {
	switch v := g.Geom.(type) {
	case orb.MultiPolygon:
		return v, nil
	case orb.Polygon:
		return orb.MultiPolygon{v}, nil
	case nil:
		return nil, ErrEmptyGeometry
	default:
		return nil, fmt.Errorf("expected polygonal geometry, got %s", g.Geom.GeoJSONType())
	}
}
