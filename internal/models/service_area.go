package models

// ServiceArea is one row of the merged layer: a facility's isochrone with its attributes.
type ServiceArea struct {
	Geometry   Geometry `json:"geometry"`
	FacilityID string   `json:"facilityId"`
	Name       string   `json:"name"`
	Address    string   `json:"address"`
	Available  bool     `json:"available"`
}

// ServiceAreaLayer is the merged layer. Every row is expressed in SRID and
// facility identifiers are unique.
type ServiceAreaLayer struct {
	Areas []ServiceArea `json:"areas"`
	SRID  int           `json:"srid"`
}

// Len returns the number of rows.
func (l *ServiceAreaLayer) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Areas)
}
