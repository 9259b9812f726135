package models

import (
	"time"

	"github.com/paulmach/orb"
)

// Facility is a point-of-service location from the registry.
// Location is nil until the facility has been geocoded.
type Facility struct {
	UpdatedAt      time.Time  `json:"updatedAt"`
	Location       *orb.Point `json:"location,omitempty"`
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Address        string     `json:"address"`
	StatusNote     string     `json:"statusNote,omitempty"`
	MatchedAddress string     `json:"matchedAddress,omitempty"`
	Available      bool       `json:"available"`
}

// HasLocation reports whether geocoding has attached a point.
func (f Facility) HasLocation() bool {
	return f.Location != nil
}
