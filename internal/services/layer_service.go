package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/stwalsh4118/reach/internal/logger"
	"github.com/stwalsh4118/reach/internal/models"
	"github.com/stwalsh4118/reach/internal/repository"
)

// Coordinate validation constants
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// Service-level errors
var (
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrLayerNotBuilt      = errors.New("layer has not been built")
	ErrNoRuns             = errors.New("no isochrone run has been recorded")
)

// FailureReport is the failure list of one fetch run.
type FailureReport struct {
	RunID    string                `json:"runId"`
	Failures []models.FetchFailure `json:"failures"`
}

// LayerStatus reports which persisted layers the renderer can draw.
type LayerStatus struct {
	ServiceAreas int    `json:"service_areas"`
	Boundaries   int    `json:"boundaries"`
	LatestRunID  string `json:"latest_run_id,omitempty"`
}

// Ready reports whether the service-area layer has been built.
// Boundaries are optional for rendering.
func (s LayerStatus) Ready() bool {
	return s.ServiceAreas > 0
}

// LayerService serves the persisted layers to the map renderer.
type LayerService interface {
	// ServiceAreas returns the merged layer.
	// Returns ErrLayerNotBuilt if the merge stage has not produced any rows.
	ServiceAreas(ctx context.Context) (*models.ServiceAreaLayer, error)

	// Facilities returns the facility point layer in registry order.
	// Returns ErrLayerNotBuilt if no registry has been loaded.
	Facilities(ctx context.Context) ([]models.Facility, error)

	// Boundaries returns the boundary layer with coverage ratios.
	// Returns ErrLayerNotBuilt if no boundaries have been loaded.
	Boundaries(ctx context.Context) ([]models.BoundaryCoverage, error)

	// Failures returns the failures of runID, or of the latest run when runID is empty.
	// Returns ErrNoRuns if runID is empty and nothing has been fetched yet.
	Failures(ctx context.Context, runID string) (*FailureReport, error)

	// AtPoint returns the service areas whose polygon covers the given point.
	// Returns ErrInvalidCoordinates if coordinates are out of valid range.
	// Returns an empty slice if no service area covers the point (not an error).
	AtPoint(ctx context.Context, lat, lng float64) ([]models.ServiceArea, error)

	// Status counts the rows of each served layer without loading geometry.
	Status(ctx context.Context) (*LayerStatus, error)
}

type layerService struct {
	serviceAreas repository.ServiceAreaRepository
	facilities   repository.FacilityRepository
	boundaries   repository.BoundaryRepository
	failures     repository.FailureRepository
	log          *logger.Logger
}

// NewLayerService creates a new instance of LayerService.
func NewLayerService(
	serviceAreas repository.ServiceAreaRepository,
	facilities repository.FacilityRepository,
	boundaries repository.BoundaryRepository,
	failures repository.FailureRepository,
	log *logger.Logger,
) LayerService {
	return &layerService{
		serviceAreas: serviceAreas,
		facilities:   facilities,
		boundaries:   boundaries,
		failures:     failures,
		log:          log,
	}
}

func (s *layerService) ServiceAreas(ctx context.Context) (*models.ServiceAreaLayer, error) {
	layer, err := s.serviceAreas.List(ctx)
	if err != nil {
		s.log.Error("Failed to load service-area layer", err, nil)
		return nil, fmt.Errorf("failed to load service areas: %w", err)
	}
	if layer.Len() == 0 {
		return nil, fmt.Errorf("%w: service areas", ErrLayerNotBuilt)
	}
	return layer, nil
}

func (s *layerService) Facilities(ctx context.Context) ([]models.Facility, error) {
	facilities, err := s.facilities.List(ctx)
	if err != nil {
		s.log.Error("Failed to load facility layer", err, nil)
		return nil, fmt.Errorf("failed to load facilities: %w", err)
	}
	if len(facilities) == 0 {
		return nil, fmt.Errorf("%w: facilities", ErrLayerNotBuilt)
	}
	return facilities, nil
}

func (s *layerService) Boundaries(ctx context.Context) ([]models.BoundaryCoverage, error) {
	boundaries, err := s.boundaries.ListWithCoverage(ctx)
	if err != nil {
		s.log.Error("Failed to load boundary layer", err, nil)
		return nil, fmt.Errorf("failed to load boundaries: %w", err)
	}
	if len(boundaries) == 0 {
		return nil, fmt.Errorf("%w: boundaries", ErrLayerNotBuilt)
	}
	return boundaries, nil
}

func (s *layerService) Failures(ctx context.Context, runID string) (*FailureReport, error) {
	if runID == "" {
		latest, err := s.failures.LatestRunID(ctx)
		if err != nil {
			s.log.Error("Failed to look up latest run", err, nil)
			return nil, fmt.Errorf("failed to look up latest run: %w", err)
		}
		if latest == "" {
			return nil, ErrNoRuns
		}
		runID = latest
	}

	failures, err := s.failures.ListByRun(ctx, runID)
	if err != nil {
		s.log.Error("Failed to load failures", err, map[string]interface{}{
			"run_id": runID,
		})
		return nil, fmt.Errorf("failed to load failures: %w", err)
	}

	return &FailureReport{RunID: runID, Failures: failures}, nil
}

// AtPoint validates the coordinates, logs the query, and returns the covering
// service areas in registry order.
func (s *layerService) AtPoint(ctx context.Context, lat, lng float64) ([]models.ServiceArea, error) {
	// Validate latitude range
	if lat < MinLatitude || lat > MaxLatitude {
		s.log.Warn("Invalid latitude provided", map[string]interface{}{
			"lat": lat,
			"lng": lng,
		})
		return nil, fmt.Errorf("%w: latitude must be between %f and %f, got %f",
			ErrInvalidCoordinates, MinLatitude, MaxLatitude, lat)
	}

	// Validate longitude range
	if lng < MinLongitude || lng > MaxLongitude {
		s.log.Warn("Invalid longitude provided", map[string]interface{}{
			"lat": lat,
			"lng": lng,
		})
		return nil, fmt.Errorf("%w: longitude must be between %f and %f, got %f",
			ErrInvalidCoordinates, MinLongitude, MaxLongitude, lng)
	}

	s.log.Info("Querying service areas at point", map[string]interface{}{
		"lat": lat,
		"lng": lng,
	})

	areas, err := s.serviceAreas.FindContaining(ctx, lat, lng)
	if err != nil {
		s.log.Error("Failed to query service areas at point", err, map[string]interface{}{
			"lat": lat,
			"lng": lng,
		})
		return nil, fmt.Errorf("failed to query service areas: %w", err)
	}

	s.log.Info("Service areas found at point", map[string]interface{}{
		"lat":   lat,
		"lng":   lng,
		"count": len(areas),
	})
	return areas, nil
}

func (s *layerService) Status(ctx context.Context) (*LayerStatus, error) {
	var status LayerStatus
	var err error

	if status.ServiceAreas, err = s.serviceAreas.Count(ctx); err == nil {
		if status.Boundaries, err = s.boundaries.Count(ctx); err == nil {
			status.LatestRunID, err = s.failures.LatestRunID(ctx)
		}
	}
	if err != nil {
		s.log.Error("Failed to read layer status", err, nil)
		return nil, fmt.Errorf("failed to read layer status: %w", err)
	}
	return &status, nil
}
