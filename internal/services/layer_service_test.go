package services

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/reach/internal/logger"
	"github.com/stwalsh4118/reach/internal/models"
)

type layerMocks struct {
	serviceAreas *MockServiceAreaRepository
	facilities   *MockFacilityRepository
	boundaries   *MockBoundaryRepository
	failures     *MockFailureRepository
}

func newLayerService() (LayerService, *layerMocks) {
	m := &layerMocks{
		serviceAreas: new(MockServiceAreaRepository),
		facilities:   new(MockFacilityRepository),
		boundaries:   new(MockBoundaryRepository),
		failures:     new(MockFailureRepository),
	}
	return NewLayerService(m.serviceAreas, m.facilities, m.boundaries, m.failures, logger.New("test")), m
}

func sampleArea(id string) models.ServiceArea {
	return models.ServiceArea{
		FacilityID: id,
		Name:       "Facility " + id,
		Address:    "1 Main St",
		Available:  true,
		Geometry: models.NewGeometry(orb.Polygon{{{-90, 40}, {-89, 40}, {-89, 41}, {-90, 41}, {-90, 40}}},
			models.SRIDWGS84),
	}
}

func TestAtPoint_Success(t *testing.T) {
	service, m := newLayerService()
	ctx := context.Background()
	lat, lng := 40.5, -89.5

	expected := []models.ServiceArea{sampleArea("A"), sampleArea("B")}
	m.serviceAreas.On("FindContaining", ctx, lat, lng).Return(expected, nil)

	areas, err := service.AtPoint(ctx, lat, lng)

	require.NoError(t, err)
	assert.Equal(t, expected, areas)
	m.serviceAreas.AssertExpectations(t)
}

func TestAtPoint_NoCoverageIsNotAnError(t *testing.T) {
	service, m := newLayerService()
	ctx := context.Background()

	m.serviceAreas.On("FindContaining", ctx, 10.0, 10.0).Return([]models.ServiceArea{}, nil)

	areas, err := service.AtPoint(ctx, 10, 10)

	require.NoError(t, err)
	assert.Empty(t, areas)
}

func TestAtPoint_InvalidCoordinates(t *testing.T) {
	testCases := []struct {
		name    string
		lat     float64
		lng     float64
		message string
	}{
		{name: "latitude too high", lat: 91, lng: 0, message: "latitude must be between"},
		{name: "latitude too low", lat: -91, lng: 0, message: "latitude must be between"},
		{name: "longitude too high", lat: 0, lng: 181, message: "longitude must be between"},
		{name: "longitude too low", lat: 0, lng: -181, message: "longitude must be between"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			service, m := newLayerService()

			areas, err := service.AtPoint(context.Background(), tc.lat, tc.lng)

			assert.ErrorIs(t, err, ErrInvalidCoordinates)
			assert.Contains(t, err.Error(), tc.message)
			assert.Nil(t, areas)
			// Repository should not be called for validation errors
			m.serviceAreas.AssertNotCalled(t, "FindContaining")
		})
	}
}

func TestAtPoint_BoundaryValues(t *testing.T) {
	testCases := []struct {
		name     string
		lat, lng float64
	}{
		{"Min valid latitude", -90, 0},
		{"Max valid latitude", 90, 0},
		{"Min valid longitude", 0, -180},
		{"Max valid longitude", 0, 180},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			service, m := newLayerService()
			ctx := context.Background()
			m.serviceAreas.On("FindContaining", ctx, tc.lat, tc.lng).Return([]models.ServiceArea{}, nil)

			_, err := service.AtPoint(ctx, tc.lat, tc.lng)

			assert.NoError(t, err)
			m.serviceAreas.AssertExpectations(t)
		})
	}
}

func TestAtPoint_RepositoryError(t *testing.T) {
	service, m := newLayerService()
	ctx := context.Background()

	dbError := errors.New("database connection failed")
	m.serviceAreas.On("FindContaining", ctx, 40.0, -89.0).Return(nil, dbError)

	areas, err := service.AtPoint(ctx, 40, -89)

	assert.ErrorIs(t, err, dbError)
	assert.Contains(t, err.Error(), "failed to query service areas")
	assert.Nil(t, areas)
}

func TestServiceAreas(t *testing.T) {
	t.Run("returns stored layer", func(t *testing.T) {
		service, m := newLayerService()
		layer := &models.ServiceAreaLayer{SRID: models.SRIDWGS84, Areas: []models.ServiceArea{sampleArea("A")}}
		m.serviceAreas.On("List", context.Background()).Return(layer, nil)

		got, err := service.ServiceAreas(context.Background())

		require.NoError(t, err)
		assert.Same(t, layer, got)
	})

	t.Run("empty layer is not built", func(t *testing.T) {
		service, m := newLayerService()
		m.serviceAreas.On("List", context.Background()).Return(&models.ServiceAreaLayer{SRID: models.SRIDWGS84}, nil)

		_, err := service.ServiceAreas(context.Background())

		assert.ErrorIs(t, err, ErrLayerNotBuilt)
	})
}

func TestFacilities_EmptyIsNotBuilt(t *testing.T) {
	service, m := newLayerService()
	m.facilities.On("List", context.Background()).Return([]models.Facility{}, nil)

	_, err := service.Facilities(context.Background())

	assert.ErrorIs(t, err, ErrLayerNotBuilt)
}

func TestBoundaries(t *testing.T) {
	service, m := newLayerService()
	expected := []models.BoundaryCoverage{{Boundary: models.Boundary{GEOID: "17001"}, CoverageRatio: 0.5}}
	m.boundaries.On("ListWithCoverage", context.Background()).Return(expected, nil)

	got, err := service.Boundaries(context.Background())

	require.NoError(t, err)
	assert.Equal(t, expected, got)
}

func TestFailures(t *testing.T) {
	ctx := context.Background()
	failures := []models.FetchFailure{{RunID: "run-2", FacilityID: "B", Category: models.FailureWarning}}

	t.Run("defaults to latest run", func(t *testing.T) {
		service, m := newLayerService()
		m.failures.On("LatestRunID", ctx).Return("run-2", nil)
		m.failures.On("ListByRun", ctx, "run-2").Return(failures, nil)

		report, err := service.Failures(ctx, "")

		require.NoError(t, err)
		assert.Equal(t, "run-2", report.RunID)
		assert.Equal(t, failures, report.Failures)
	})

	t.Run("explicit run skips lookup", func(t *testing.T) {
		service, m := newLayerService()
		m.failures.On("ListByRun", ctx, "run-1").Return([]models.FetchFailure{}, nil)

		report, err := service.Failures(ctx, "run-1")

		require.NoError(t, err)
		assert.Equal(t, "run-1", report.RunID)
		assert.Empty(t, report.Failures)
		m.failures.AssertNotCalled(t, "LatestRunID")
	})

	t.Run("no runs yet", func(t *testing.T) {
		service, m := newLayerService()
		m.failures.On("LatestRunID", ctx).Return("", nil)

		_, err := service.Failures(ctx, "")

		assert.ErrorIs(t, err, ErrNoRuns)
	})
}

func TestStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("merged layer is ready", func(t *testing.T) {
		service, m := newLayerService()
		m.serviceAreas.On("Count", ctx).Return(3, nil)
		m.boundaries.On("Count", ctx).Return(0, nil)
		m.failures.On("LatestRunID", ctx).Return("run-1", nil)

		status, err := service.Status(ctx)

		require.NoError(t, err)
		assert.Equal(t, LayerStatus{ServiceAreas: 3, LatestRunID: "run-1"}, *status)
		assert.True(t, status.Ready())
	})

	t.Run("no service areas is not ready", func(t *testing.T) {
		service, m := newLayerService()
		m.serviceAreas.On("Count", ctx).Return(0, nil)
		m.boundaries.On("Count", ctx).Return(120, nil)
		m.failures.On("LatestRunID", ctx).Return("", nil)

		status, err := service.Status(ctx)

		require.NoError(t, err)
		assert.False(t, status.Ready())
	})

	t.Run("count failure stops early", func(t *testing.T) {
		service, m := newLayerService()
		m.serviceAreas.On("Count", ctx).Return(0, errors.New("relation does not exist"))

		_, err := service.Status(ctx)

		assert.ErrorContains(t, err, "relation does not exist")
		m.boundaries.AssertNotCalled(t, "Count", ctx)
	})
}

func TestCoordinateConstants(t *testing.T) {
	assert.Equal(t, -90.0, MinLatitude)
	assert.Equal(t, 90.0, MaxLatitude)
	assert.Equal(t, -180.0, MinLongitude)
	assert.Equal(t, 180.0, MaxLongitude)
}
