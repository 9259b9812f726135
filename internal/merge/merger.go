// Package merge joins fetched isochrones with facility attributes into the
// service-area layer.
package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stwalsh4118/reach/internal/crs"
	"github.com/stwalsh4118/reach/internal/logger"
	"github.com/stwalsh4118/reach/internal/models"
)

// Merger builds a ServiceAreaLayer. It keeps no state between calls.
type Merger struct {
	log        *logger.Logger
	targetSRID int
}

// NewMerger creates a Merger that emits WGS84 layers.
func NewMerger(log *logger.Logger) *Merger {
	return &Merger{log: log, targetSRID: models.SRIDWGS84}
}

// Merge left-joins name, address and availability onto each polygon by
// facility identifier and reprojects every geometry into WGS84.
//
// Duplicate polygons for one identifier keep the first in input order.
// Polygons that cannot be joined or reprojected are left out of the layer and
// reported together as MergeErrors; the returned layer is always usable.
// Neither input is modified.
func (m *Merger) Merge(polygons []models.IsochronePolygon, facilities []models.Facility) (*models.ServiceAreaLayer, error) {
	byID := make(map[string][]int, len(facilities))
	for i, f := range facilities {
		byID[f.ID] = append(byID[f.ID], i)
	}

	layer := &models.ServiceAreaLayer{
		Areas: make([]models.ServiceArea, 0, len(polygons)),
		SRID:  m.targetSRID,
	}
	var errs MergeErrors
	seen := make(map[string]bool, len(polygons))

	for _, p := range polygons {
		if seen[p.FacilityID] {
			m.log.Debug("Dropping duplicate isochrone", map[string]interface{}{
				"facility_id": p.FacilityID,
			})
			continue
		}
		seen[p.FacilityID] = true

		area, err := m.join(p, facilities, byID[p.FacilityID])
		if err != nil {
			re := RecordError{FacilityID: p.FacilityID, Err: err}
			m.log.Error("Rejected isochrone during merge", re, map[string]interface{}{
				"facility_id": p.FacilityID,
			})
			errs = append(errs, re)
			continue
		}
		layer.Areas = append(layer.Areas, area)
	}

	if len(errs) > 0 {
		return layer, errs
	}
	return layer, nil
}

func (m *Merger) join(p models.IsochronePolygon, facilities []models.Facility, matches []int) (models.ServiceArea, error) {
	switch len(matches) {
	case 0:
		return models.ServiceArea{}, fmt.Errorf("%w: no facility record with this identifier", ErrJoinIntegrity)
	case 1:
	default:
		return models.ServiceArea{}, fmt.Errorf("%w: %d facility records share this identifier", ErrDuplicateFacility, len(matches))
	}

	f := facilities[matches[0]]
	var missing []string
	if strings.TrimSpace(f.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(f.Address) == "" {
		missing = append(missing, "address")
	}
	if len(missing) > 0 {
		return models.ServiceArea{}, fmt.Errorf("%w: facility record has no %s", ErrJoinIntegrity, strings.Join(missing, " or "))
	}

	if p.Geometry.IsEmpty() {
		return models.ServiceArea{}, models.ErrEmptyGeometry
	}
	geom, err := crs.Transform(p.Geometry, m.targetSRID)
	if err != nil {
		return models.ServiceArea{}, err
	}
	if _, err := geom.AsMultiPolygon(); err != nil {
		return models.ServiceArea{}, fmt.Errorf("isochrone is not polygonal: %w", err)
	}

	return models.ServiceArea{
		Geometry:   geom,
		FacilityID: f.ID,
		Name:       f.Name,
		Address:    f.Address,
		Available:  f.Available,
	}, nil
}

// IsJoinIntegrity reports whether err contains a join-integrity failure.
func IsJoinIntegrity(err error) bool {
	return errors.Is(err, ErrJoinIntegrity)
}
