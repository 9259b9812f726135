package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/reach/internal/boundary"
	"github.com/stwalsh4118/reach/internal/config"
	"github.com/stwalsh4118/reach/internal/geocoder"
	"github.com/stwalsh4118/reach/internal/isochrone"
	"github.com/stwalsh4118/reach/internal/logger"
	"github.com/stwalsh4118/reach/internal/models"
	"github.com/stwalsh4118/reach/internal/routing"
)

type pipelineMocks struct {
	facilities   *MockFacilityRepository
	isochrones   *MockIsochroneRepository
	failures     *MockFailureRepository
	serviceAreas *MockServiceAreaRepository
	boundaryRepo *MockBoundaryRepository
	geocoder     *MockGeocoder
	routing      *MockRoutingProvider
	boundaries   *MockBoundaryProvider
	registry     []models.Facility
	registryErr  error
}

func testPipelineConfig() *config.Config {
	return &config.Config{
		Routing: config.RoutingConfig{
			APIKey:        "test-key",
			BaseURL:       "http://routing.invalid",
			Minutes:       45,
			TransportMode: "car",
			OptimizeFor:   routing.OptimizeQuality,
			Concurrency:   1,
		},
		Boundary: config.BoundaryConfig{StateFIPS: "17", Year: 2023, Resolution: "500k"},
	}
}

func newPipelineService(cfg *config.Config) (PipelineService, *pipelineMocks) {
	m := &pipelineMocks{
		facilities:   new(MockFacilityRepository),
		isochrones:   new(MockIsochroneRepository),
		failures:     new(MockFailureRepository),
		serviceAreas: new(MockServiceAreaRepository),
		boundaryRepo: new(MockBoundaryRepository),
		geocoder:     new(MockGeocoder),
		routing:      new(MockRoutingProvider),
		boundaries:   new(MockBoundaryProvider),
	}
	deps := PipelineDeps{
		Registry:     func() ([]models.Facility, error) { return m.registry, m.registryErr },
		Geocoder:     m.geocoder,
		Routing:      m.routing,
		Boundaries:   m.boundaries,
		Facilities:   m.facilities,
		Isochrones:   m.isochrones,
		Failures:     m.failures,
		ServiceAreas: m.serviceAreas,
		BoundaryRepo: m.boundaryRepo,
	}
	return NewPipelineService(deps, cfg, logger.New("test")), m
}

func point(lon, lat float64) *orb.Point {
	p := orb.Point{lon, lat}
	return &p
}

func unitSquare(lon, lat float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{{lon, lat}, {lon + 0.1, lat}, {lon + 0.1, lat + 0.1}, {lon, lat + 0.1}, {lon, lat}}}}
}

// originIs matches an isoline request by origin.
func originIs(p *orb.Point) interface{} {
	return mock.MatchedBy(func(req routing.IsolineRequest) bool {
		return req.Origin == *p
	})
}

func storedFacilities() []models.Facility {
	return []models.Facility{
		{ID: "A", Name: "Alpha", Address: "1 Main St", Available: true, Location: point(-89.6, 39.8)},
		{ID: "B", Name: "Beta", Address: "2 Oak Ave", Available: true, Location: point(-88.2, 40.1)},
		{ID: "C", Name: "Gamma", Address: "3 Elm Rd", Available: true},
		{ID: "D", Name: "Delta", Address: "4 Pine Ln", Available: false, Location: point(-87.6, 41.9)},
	}
}

func TestParseStage(t *testing.T) {
	stage, err := ParseStage(" Merge ")
	require.NoError(t, err)
	assert.Equal(t, StageMerge, stage)

	_, err = ParseStage("render")
	assert.ErrorIs(t, err, ErrUnknownStage)
	assert.Contains(t, err.Error(), "registry, geocode, isochrones, merge, boundaries")
}

func TestLoadRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("stores facilities", func(t *testing.T) {
		service, m := newPipelineService(testPipelineConfig())
		m.registry = []models.Facility{{ID: "A", Name: "Alpha", Address: "1 Main St", Available: true}}
		m.facilities.On("UpsertAll", ctx, mock.MatchedBy(func(fs []models.Facility) bool {
			return len(fs) == 1 && !fs[0].UpdatedAt.IsZero()
		})).Return(nil)

		n, err := service.LoadRegistry(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, n)
		m.facilities.AssertExpectations(t)
	})

	t.Run("empty registry aborts", func(t *testing.T) {
		service, m := newPipelineService(testPipelineConfig())
		m.registry = []models.Facility{}

		_, err := service.LoadRegistry(ctx)

		assert.ErrorIs(t, err, ErrEmptyRegistry)
		m.facilities.AssertNotCalled(t, "UpsertAll", mock.Anything, mock.Anything)
	})

	t.Run("read failure", func(t *testing.T) {
		service, m := newPipelineService(testPipelineConfig())
		m.registryErr = errors.New("open registry.csv: no such file")

		_, err := service.LoadRegistry(ctx)

		assert.ErrorIs(t, err, m.registryErr)
	})
}

func TestGeocode_OnlyMissingLocations(t *testing.T) {
	ctx := context.Background()
	service, m := newPipelineService(testPipelineConfig())

	facilities := storedFacilities()
	m.facilities.On("List", ctx).Return(facilities, nil)
	m.geocoder.On("Geocode", ctx, "3 Elm Rd").Return(&geocoder.Result{
		Point:          orb.Point{-88.9, 40.5},
		MatchedAddress: "3 ELM RD",
		MatchCount:     2,
	}, nil)
	m.facilities.On("UpdateLocation", ctx, "C", orb.Point{-88.9, 40.5}, "3 ELM RD").Return(nil)

	summary, err := service.Geocode(ctx)

	require.NoError(t, err)
	assert.Equal(t, &GeocodeSummary{Attempted: 1, Matched: 1, Ambiguous: 1}, summary)
	m.geocoder.AssertNumberOfCalls(t, "Geocode", 1)
	m.facilities.AssertExpectations(t)
}

func TestGeocode_NoMatchContinues(t *testing.T) {
	ctx := context.Background()
	service, m := newPipelineService(testPipelineConfig())

	m.facilities.On("List", ctx).Return([]models.Facility{
		{ID: "A", Address: "nowhere"},
		{ID: "B", Address: "2 Oak Ave"},
	}, nil)
	m.geocoder.On("Geocode", ctx, "nowhere").Return(nil, geocoder.ErrNoMatch)
	m.geocoder.On("Geocode", ctx, "2 Oak Ave").Return(&geocoder.Result{Point: orb.Point{-88, 40}, MatchCount: 1}, nil)
	m.facilities.On("UpdateLocation", ctx, "B", orb.Point{-88, 40}, "").Return(nil)

	summary, err := service.Geocode(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 1, summary.Unmatched)
	m.facilities.AssertNotCalled(t, "UpdateLocation", ctx, "A", mock.Anything, mock.Anything)
}

func TestFetchIsochrones_FullRun(t *testing.T) {
	ctx := context.Background()
	service, m := newPipelineService(testPipelineConfig())

	facilities := storedFacilities()
	m.facilities.On("List", ctx).Return(facilities, nil)
	m.routing.On("Isoline", mock.Anything, originIs(facilities[0].Location)).
		Return(&routing.Isoline{Geometry: unitSquare(-89.6, 39.8), SRID: models.SRIDWGS84}, nil)
	m.routing.On("Isoline", mock.Anything, originIs(facilities[1].Location)).
		Return(&routing.Isoline{
			Geometry: unitSquare(-88.2, 40.1),
			SRID:     models.SRIDWGS84,
			Notices:  []routing.Notice{{Code: "ambiguousGeometry", Title: "more than one polygon"}},
		}, nil)

	var stored []models.IsochronePolygon
	m.isochrones.On("ReplaceAll", ctx, mock.Anything).
		Run(func(args mock.Arguments) { stored = args.Get(1).([]models.IsochronePolygon) }).
		Return(nil)

	var savedRun models.FetchRun
	var savedFailures []models.FetchFailure
	m.failures.On("Save", ctx, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			savedRun = args.Get(1).(models.FetchRun)
			savedFailures = args.Get(2).([]models.FetchFailure)
		}).
		Return(nil)

	run, err := service.FetchIsochrones(ctx, models.ScopeFull)

	require.NoError(t, err)
	assert.Equal(t, models.ScopeFull, run.Scope)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, 3, run.Attempted, "unavailable facility D is not attempted")
	assert.Equal(t, 1, run.Successes)
	assert.Equal(t, 2, run.Failures)
	assert.Equal(t, *run, savedRun)

	require.Len(t, stored, 1)
	assert.Equal(t, "A", stored[0].FacilityID)
	assert.Equal(t, 45*time.Minute, stored[0].Params.TimeBudget)

	require.Len(t, savedFailures, 2)
	assert.Equal(t, "B", savedFailures[0].FacilityID)
	assert.Equal(t, models.FailureWarning, savedFailures[0].Category)
	assert.Contains(t, savedFailures[0].Message, "ambiguousGeometry")
	assert.Equal(t, "C", savedFailures[1].FacilityID)
	assert.Equal(t, models.FailureInput, savedFailures[1].Category)
	assert.Equal(t, run.RunID, savedFailures[1].RunID)

	m.routing.AssertNumberOfCalls(t, "Isoline", 2)
	m.isochrones.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestFetchIsochrones_MissingCredential(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Routing.APIKey = ""
	service, m := newPipelineService(cfg)

	_, err := service.FetchIsochrones(context.Background(), models.ScopeFull)

	assert.ErrorIs(t, err, config.ErrMissingRoutingKey)
	m.facilities.AssertNotCalled(t, "List", mock.Anything)
	m.routing.AssertNotCalled(t, "Isoline", mock.Anything, mock.Anything)
}

func TestFetchIsochrones_EmptyRegistry(t *testing.T) {
	ctx := context.Background()
	service, m := newPipelineService(testPipelineConfig())
	m.facilities.On("List", ctx).Return([]models.Facility{}, nil)

	_, err := service.FetchIsochrones(ctx, models.ScopeFull)

	assert.ErrorIs(t, err, ErrEmptyRegistry)
}

func TestFetchIsochrones_ProbeAbortSavesNothing(t *testing.T) {
	ctx := context.Background()
	service, m := newPipelineService(testPipelineConfig())

	m.facilities.On("List", ctx).Return(storedFacilities(), nil)
	m.routing.On("Isoline", mock.Anything, mock.Anything).Return(nil, &routing.ProviderError{
		Category:   routing.ErrorAuthentication,
		Provider:   routing.ProviderHERE,
		StatusCode: 401,
		Message:    "apiKey invalid",
	})

	_, err := service.FetchIsochrones(ctx, models.ScopeFull)

	assert.ErrorIs(t, err, isochrone.ErrProviderUnreachable)
	m.routing.AssertNumberOfCalls(t, "Isoline", 1)
	m.isochrones.AssertNotCalled(t, "ReplaceAll", mock.Anything, mock.Anything)
	m.failures.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

func TestFetchIsochrones_RetryTargetsLatestFailures(t *testing.T) {
	ctx := context.Background()
	service, m := newPipelineService(testPipelineConfig())

	facilities := storedFacilities()
	m.facilities.On("List", ctx).Return(facilities, nil)
	m.failures.On("LatestRunID", ctx).Return("run-1", nil)
	m.failures.On("ListByRun", ctx, "run-1").Return([]models.FetchFailure{
		{RunID: "run-1", FacilityID: "B", Category: models.FailureError},
	}, nil)
	m.routing.On("Isoline", mock.Anything, originIs(facilities[1].Location)).
		Return(&routing.Isoline{Geometry: unitSquare(-88.2, 40.1), SRID: models.SRIDWGS84}, nil)
	m.isochrones.On("Upsert", ctx, mock.MatchedBy(func(ps []models.IsochronePolygon) bool {
		return len(ps) == 1 && ps[0].FacilityID == "B"
	})).Return(nil)
	m.failures.On("Save", ctx, mock.MatchedBy(func(r models.FetchRun) bool {
		return r.Scope == models.ScopeRetry && r.Attempted == 1 && r.Successes == 1
	}), mock.Anything).Return(nil)

	run, err := service.FetchIsochrones(ctx, models.ScopeRetry)

	require.NoError(t, err)
	assert.Equal(t, 1, run.Successes)
	m.routing.AssertNumberOfCalls(t, "Isoline", 1)
	m.isochrones.AssertNotCalled(t, "ReplaceAll", mock.Anything, mock.Anything)
	m.isochrones.AssertExpectations(t)
	m.failures.AssertExpectations(t)
}

func TestFetchIsochrones_RetryWithoutRun(t *testing.T) {
	ctx := context.Background()
	service, m := newPipelineService(testPipelineConfig())
	m.facilities.On("List", ctx).Return(storedFacilities(), nil)
	m.failures.On("LatestRunID", ctx).Return("", nil)

	_, err := service.FetchIsochrones(ctx, models.ScopeRetry)

	assert.ErrorIs(t, err, ErrNoPreviousRun)
}

func TestMerge_StoresLayerAndReportsRejected(t *testing.T) {
	ctx := context.Background()
	service, m := newPipelineService(testPipelineConfig())

	m.isochrones.On("List", ctx).Return([]models.IsochronePolygon{
		{FacilityID: "A", Geometry: models.NewGeometry(unitSquare(-89.6, 39.8), models.SRIDWGS84)},
		{FacilityID: "Z", Geometry: models.NewGeometry(unitSquare(-89, 39), models.SRIDWGS84)},
	}, nil)
	m.facilities.On("List", ctx).Return(storedFacilities(), nil)

	var layer *models.ServiceAreaLayer
	m.serviceAreas.On("ReplaceAll", ctx, mock.Anything).
		Run(func(args mock.Arguments) { layer = args.Get(1).(*models.ServiceAreaLayer) }).
		Return(nil)

	summary, err := service.Merge(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Rows)
	assert.Equal(t, []string{"Z"}, summary.Rejected)
	require.NotNil(t, layer)
	assert.Equal(t, models.SRIDWGS84, layer.SRID)
	assert.Equal(t, "Alpha", layer.Areas[0].Name)
}

func TestLoadBoundaries_ReprojectsToWGS84(t *testing.T) {
	ctx := context.Background()
	service, m := newPipelineService(testPipelineConfig())

	sel := boundary.Selector{StateFIPS: "17", Resolution: "500k", Year: 2023}
	m.boundaries.On("Boundaries", ctx, sel).Return([]models.Boundary{
		{GEOID: "17001", Name: "Adams", StateFIPS: "17",
			Geometry: models.NewGeometry(unitSquare(-91.5, 39.8), models.SRIDNAD83)},
	}, nil)
	m.boundaryRepo.On("ReplaceAll", ctx, mock.MatchedBy(func(bs []models.Boundary) bool {
		return len(bs) == 1 && bs[0].Geometry.SRID == models.SRIDWGS84
	})).Return(nil)

	n, err := service.LoadBoundaries(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	m.boundaryRepo.AssertExpectations(t)
}

func TestLoadBoundaries_InvalidSelector(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Boundary.StateFIPS = "IL"
	service, m := newPipelineService(cfg)

	_, err := service.LoadBoundaries(context.Background())

	assert.ErrorIs(t, err, boundary.ErrInvalidSelector)
	m.boundaries.AssertNotCalled(t, "Boundaries", mock.Anything, mock.Anything)
}

func TestRun_FromMergeSkipsUpstreamStages(t *testing.T) {
	ctx := context.Background()
	cfg := testPipelineConfig()
	cfg.Routing.APIKey = ""
	service, m := newPipelineService(cfg)

	m.isochrones.On("List", ctx).Return([]models.IsochronePolygon{}, nil)
	m.facilities.On("List", ctx).Return(storedFacilities(), nil)
	m.serviceAreas.On("ReplaceAll", ctx, mock.Anything).Return(nil)
	m.boundaries.On("Boundaries", ctx, mock.Anything).Return([]models.Boundary{}, nil)
	m.boundaryRepo.On("ReplaceAll", ctx, mock.Anything).Return(nil)

	err := service.Run(ctx, StageMerge)

	require.NoError(t, err, "merge and boundaries need no routing credential")
	m.facilities.AssertNotCalled(t, "UpsertAll", mock.Anything, mock.Anything)
	m.routing.AssertNotCalled(t, "Isoline", mock.Anything, mock.Anything)
	m.boundaryRepo.AssertExpectations(t)
}

func TestRun_MissingCredentialFailsBeforeAnyStage(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Routing.APIKey = ""
	service, m := newPipelineService(cfg)
	m.registry = []models.Facility{{ID: "A", Name: "Alpha", Address: "1 Main St"}}

	err := service.Run(context.Background(), StageRegistry)

	assert.ErrorIs(t, err, config.ErrMissingRoutingKey)
	m.facilities.AssertNotCalled(t, "UpsertAll", mock.Anything, mock.Anything)
}

func TestRun_UnknownStage(t *testing.T) {
	service, _ := newPipelineService(testPipelineConfig())

	err := service.Run(context.Background(), Stage("render"))

	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestRetryFailures_MergesRecoveredPolygons(t *testing.T) {
	ctx := context.Background()
	service, m := newPipelineService(testPipelineConfig())

	facilities := storedFacilities()
	m.facilities.On("List", ctx).Return(facilities, nil)
	m.failures.On("LatestRunID", ctx).Return("run-1", nil)
	m.failures.On("ListByRun", ctx, "run-1").Return([]models.FetchFailure{{FacilityID: "A"}}, nil)
	m.routing.On("Isoline", mock.Anything, mock.Anything).
		Return(&routing.Isoline{Geometry: unitSquare(-89.6, 39.8), SRID: models.SRIDWGS84}, nil)
	m.isochrones.On("Upsert", ctx, mock.Anything).Return(nil)
	m.failures.On("Save", ctx, mock.Anything, mock.Anything).Return(nil)
	m.isochrones.On("List", ctx).Return([]models.IsochronePolygon{
		{FacilityID: "A", Geometry: models.NewGeometry(unitSquare(-89.6, 39.8), models.SRIDWGS84)},
	}, nil)
	m.serviceAreas.On("ReplaceAll", ctx, mock.MatchedBy(func(l *models.ServiceAreaLayer) bool {
		return l.Len() == 1
	})).Return(nil)

	run, err := service.RetryFailures(ctx)

	require.NoError(t, err)
	assert.Equal(t, models.ScopeRetry, run.Scope)
	m.serviceAreas.AssertExpectations(t)
}
