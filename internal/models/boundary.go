package models

// Boundary is an administrative area (county) polygon.
type Boundary struct {
	Geometry  Geometry `json:"geometry"`
	GEOID     string   `json:"geoid"`
	Name      string   `json:"name"`
	StateFIPS string   `json:"stateFips"`
}

// BoundaryCoverage is a boundary with the share of its area inside any service area.
type BoundaryCoverage struct {
	Boundary
	CoverageRatio float64 `json:"coverageRatio"`
}
