package models

import (
	"fmt"
	"strings"
	"time"
)

// TransportMode is the travel mode an isochrone is computed for.
type TransportMode string

const (
	TransportCar        TransportMode = "car"
	TransportTruck      TransportMode = "truck"
	TransportPedestrian TransportMode = "pedestrian"
)

// ParseTransportMode validates a configured transport mode.
func ParseTransportMode(s string) (TransportMode, error) {
	switch mode := TransportMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case TransportCar, TransportTruck, TransportPedestrian:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported transport mode %q", s)
	}
}

// IsochroneParams records the request parameters a polygon was computed with.
type IsochroneParams struct {
	TimeBudget time.Duration `json:"timeBudget"`
	Mode       TransportMode `json:"mode"`
}

// IsochronePolygon is one successful fetch result, in the provider's native CRS.
type IsochronePolygon struct {
	FetchedAt  time.Time       `json:"fetchedAt"`
	Geometry   Geometry        `json:"geometry"`
	FacilityID string          `json:"facilityId"`
	Params     IsochroneParams `json:"params"`
}

// FailureCategory classifies why a facility has no isochrone.
type FailureCategory string

const (
	// FailureError covers transport, protocol and malformed-response failures.
	FailureError FailureCategory = "error"
	// FailureWarning covers degraded responses; their geometry is never kept.
	FailureWarning FailureCategory = "warning"
	// FailureInput covers records rejected before any request was made.
	FailureInput FailureCategory = "input"
)

// FetchFailure is the side-channel record of a facility that produced no polygon.
type FetchFailure struct {
	OccurredAt time.Time       `json:"occurredAt"`
	RunID      string          `json:"runId"`
	FacilityID string          `json:"facilityId"`
	Category   FailureCategory `json:"category"`
	Message    string          `json:"message"`
}

// FetchScope says whether a run covered every facility or only earlier failures.
type FetchScope string

const (
	ScopeFull  FetchScope = "full"
	ScopeRetry FetchScope = "retry"
)

// FetchRun summarizes one isochrone batch.
type FetchRun struct {
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
	RunID      string     `json:"runId"`
	Scope      FetchScope `json:"scope"`
	Attempted  int        `json:"attempted"`
	Successes  int        `json:"successes"`
	Failures   int        `json:"failures"`
}
