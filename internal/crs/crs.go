// Package crs normalizes geometries into a common spatial reference system.
package crs

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/stwalsh4118/reach/internal/models"
)

// ErrUnsupportedCRS is returned for SRIDs the pipeline cannot transform.
var ErrUnsupportedCRS = errors.New("unsupported coordinate reference system")

// Supported reports whether Transform understands srid.
func Supported(srid int) bool {
	switch srid {
	case models.SRIDWGS84, models.SRIDNAD83, models.SRIDWebMercator:
		return true
	}
	return false
}

// Transform returns a copy of g expressed in target. The input is never modified.
//
// NAD83 and WGS84 differ by well under a meter across North America, below the
// resolution of any drive-time polygon, so NAD83 is relabelled rather than shifted.
func Transform(g models.Geometry, target int) (models.Geometry, error) {
	if g.Geom == nil {
		return models.Geometry{}, models.ErrEmptyGeometry
	}
	if !Supported(g.SRID) {
		return models.Geometry{}, fmt.Errorf("%w: source EPSG:%d", ErrUnsupportedCRS, g.SRID)
	}
	if !Supported(target) {
		return models.Geometry{}, fmt.Errorf("%w: target EPSG:%d", ErrUnsupportedCRS, target)
	}

	out := g.Clone()
	if isGeographic(g.SRID) == isGeographic(target) {
		out.SRID = target
		return out, nil
	}

	var proj orb.Projection
	if isGeographic(target) {
		proj = project.Mercator.ToWGS84
	} else {
		proj = project.WGS84.ToMercator
	}
	out.Geom = project.Geometry(out.Geom, proj)
	out.SRID = target
	return out, nil
}

// ToWGS84 is shorthand for Transform(g, models.SRIDWGS84).
func ToWGS84(g models.Geometry) (models.Geometry, error) {
	return Transform(g, models.SRIDWGS84)
}

func isGeographic(srid int) bool {
	return srid == models.SRIDWGS84 || srid == models.SRIDNAD83
}
