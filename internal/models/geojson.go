package models

import (
	"github.com/paulmach/orb/geojson"
)

// Feature renders a merged row for the map renderer.
func (a ServiceArea) Feature() *geojson.Feature {
	f := geojson.NewFeature(a.Geometry.Geom)
	f.ID = a.FacilityID
	f.Properties["facility_id"] = a.FacilityID
	f.Properties["name"] = a.Name
	f.Properties["address"] = a.Address
	f.Properties["available"] = a.Available
	return f
}

// FeatureCollection renders the whole merged layer in row order.
func (l *ServiceAreaLayer) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if l == nil {
		return fc
	}
	for _, area := range l.Areas {
		fc.Append(area.Feature())
	}
	return fc
}

// FacilityFeatureCollection renders geocoded facilities as points.
// Facilities without a location are skipped.
func FacilityFeatureCollection(facilities []Facility) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range facilities {
		if f.Location == nil {
			continue
		}
		feature := geojson.NewFeature(*f.Location)
		feature.ID = f.ID
		feature.Properties["facility_id"] = f.ID
		feature.Properties["name"] = f.Name
		feature.Properties["address"] = f.Address
		feature.Properties["available"] = f.Available
		fc.Append(feature)
	}
	return fc
}

// BoundaryFeatureCollection renders boundaries with their coverage ratio.
func BoundaryFeatureCollection(boundaries []BoundaryCoverage) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, b := range boundaries {
		feature := geojson.NewFeature(b.Geometry.Geom)
		feature.ID = b.GEOID
		feature.Properties["geoid"] = b.GEOID
		feature.Properties["name"] = b.Name
		feature.Properties["state_fips"] = b.StateFIPS
		feature.Properties["coverage_ratio"] = b.CoverageRatio
		fc.Append(feature)
	}
	return fc
}
