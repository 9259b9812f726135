package services

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/mock"

	"github.com/stwalsh4118/reach/internal/boundary"
	"github.com/stwalsh4118/reach/internal/geocoder"
	"github.com/stwalsh4118/reach/internal/models"
	"github.com/stwalsh4118/reach/internal/routing"
)

// MockFacilityRepository is a mock implementation of FacilityRepository for testing
type MockFacilityRepository struct {
	mock.Mock
}

func (m *MockFacilityRepository) UpsertAll(ctx context.Context, facilities []models.Facility) error {
	return m.Called(ctx, facilities).Error(0)
}

func (m *MockFacilityRepository) List(ctx context.Context) ([]models.Facility, error) {
	args := m.Called(ctx)
	facilities, _ := args.Get(0).([]models.Facility)
	return facilities, args.Error(1)
}

func (m *MockFacilityRepository) UpdateLocation(ctx context.Context, id string, location orb.Point, matchedAddress string) error {
	return m.Called(ctx, id, location, matchedAddress).Error(0)
}

// MockIsochroneRepository is a mock implementation of IsochroneRepository for testing
type MockIsochroneRepository struct {
	mock.Mock
}

func (m *MockIsochroneRepository) ReplaceAll(ctx context.Context, polygons []models.IsochronePolygon) error {
	return m.Called(ctx, polygons).Error(0)
}

func (m *MockIsochroneRepository) Upsert(ctx context.Context, polygons []models.IsochronePolygon) error {
	return m.Called(ctx, polygons).Error(0)
}

func (m *MockIsochroneRepository) List(ctx context.Context) ([]models.IsochronePolygon, error) {
	args := m.Called(ctx)
	polygons, _ := args.Get(0).([]models.IsochronePolygon)
	return polygons, args.Error(1)
}

// MockFailureRepository is a mock implementation of FailureRepository for testing
type MockFailureRepository struct {
	mock.Mock
}

func (m *MockFailureRepository) Save(ctx context.Context, run models.FetchRun, failures []models.FetchFailure) error {
	return m.Called(ctx, run, failures).Error(0)
}

func (m *MockFailureRepository) ListByRun(ctx context.Context, runID string) ([]models.FetchFailure, error) {
	args := m.Called(ctx, runID)
	failures, _ := args.Get(0).([]models.FetchFailure)
	return failures, args.Error(1)
}

func (m *MockFailureRepository) LatestRunID(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// MockServiceAreaRepository is a mock implementation of ServiceAreaRepository for testing
type MockServiceAreaRepository struct {
	mock.Mock
}

func (m *MockServiceAreaRepository) ReplaceAll(ctx context.Context, layer *models.ServiceAreaLayer) error {
	return m.Called(ctx, layer).Error(0)
}

func (m *MockServiceAreaRepository) List(ctx context.Context) (*models.ServiceAreaLayer, error) {
	args := m.Called(ctx)
	layer, _ := args.Get(0).(*models.ServiceAreaLayer)
	return layer, args.Error(1)
}

func (m *MockServiceAreaRepository) FindContaining(ctx context.Context, lat, lng float64) ([]models.ServiceArea, error) {
	args := m.Called(ctx, lat, lng)
	areas, _ := args.Get(0).([]models.ServiceArea)
	return areas, args.Error(1)
}

func (m *MockServiceAreaRepository) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockBoundaryRepository is a mock implementation of BoundaryRepository for testing
type MockBoundaryRepository struct {
	mock.Mock
}

func (m *MockBoundaryRepository) ReplaceAll(ctx context.Context, boundaries []models.Boundary) error {
	return m.Called(ctx, boundaries).Error(0)
}

func (m *MockBoundaryRepository) ListWithCoverage(ctx context.Context) ([]models.BoundaryCoverage, error) {
	args := m.Called(ctx)
	boundaries, _ := args.Get(0).([]models.BoundaryCoverage)
	return boundaries, args.Error(1)
}

func (m *MockBoundaryRepository) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockGeocoder is a mock implementation of geocoder.Geocoder for testing
type MockGeocoder struct {
	mock.Mock
}

func (m *MockGeocoder) Geocode(ctx context.Context, address string) (*geocoder.Result, error) {
	args := m.Called(ctx, address)
	result, _ := args.Get(0).(*geocoder.Result)
	return result, args.Error(1)
}

// MockRoutingProvider is a mock implementation of routing.Provider for testing
type MockRoutingProvider struct {
	mock.Mock
}

func (m *MockRoutingProvider) Isoline(ctx context.Context, req routing.IsolineRequest) (*routing.Isoline, error) {
	args := m.Called(ctx, req)
	iso, _ := args.Get(0).(*routing.Isoline)
	return iso, args.Error(1)
}

// MockBoundaryProvider is a mock implementation of boundary.Provider for testing
type MockBoundaryProvider struct {
	mock.Mock
}

func (m *MockBoundaryProvider) Boundaries(ctx context.Context, sel boundary.Selector) ([]models.Boundary, error) {
	args := m.Called(ctx, sel)
	boundaries, _ := args.Get(0).([]models.Boundary)
	return boundaries, args.Error(1)
}
