package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/reach/internal/models"
	"github.com/stwalsh4118/reach/internal/services"
)

type mockLayerService struct {
	mock.Mock
}

func (m *mockLayerService) ServiceAreas(ctx context.Context) (*models.ServiceAreaLayer, error) {
	args := m.Called(ctx)
	layer, _ := args.Get(0).(*models.ServiceAreaLayer)
	return layer, args.Error(1)
}

func (m *mockLayerService) Facilities(ctx context.Context) ([]models.Facility, error) {
	args := m.Called(ctx)
	facilities, _ := args.Get(0).([]models.Facility)
	return facilities, args.Error(1)
}

func (m *mockLayerService) Boundaries(ctx context.Context) ([]models.BoundaryCoverage, error) {
	args := m.Called(ctx)
	boundaries, _ := args.Get(0).([]models.BoundaryCoverage)
	return boundaries, args.Error(1)
}

func (m *mockLayerService) Failures(ctx context.Context, runID string) (*services.FailureReport, error) {
	args := m.Called(ctx, runID)
	report, _ := args.Get(0).(*services.FailureReport)
	return report, args.Error(1)
}

func (m *mockLayerService) AtPoint(ctx context.Context, lat, lng float64) ([]models.ServiceArea, error) {
	args := m.Called(ctx, lat, lng)
	areas, _ := args.Get(0).([]models.ServiceArea)
	return areas, args.Error(1)
}

func (m *mockLayerService) Status(ctx context.Context) (*services.LayerStatus, error) {
	args := m.Called(ctx)
	status, _ := args.Get(0).(*services.LayerStatus)
	return status, args.Error(1)
}

func square() orb.Polygon {
	return orb.Polygon{{{-90, 40}, {-89, 40}, {-89, 41}, {-90, 41}, {-90, 40}}}
}

func builtLayer() *models.ServiceAreaLayer {
	return &models.ServiceAreaLayer{
		SRID: models.SRIDWGS84,
		Areas: []models.ServiceArea{
			{FacilityID: "A", Name: "Alpha", Address: "1 Main St", Available: true,
				Geometry: models.NewGeometry(square(), models.SRIDWGS84)},
		},
	}
}

func readCollection(t *testing.T, path string) *geojson.FeatureCollection {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	return fc
}

func TestExportLayers_WritesEveryLayer(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "out")
	pt := orb.Point{-89.5, 40.5}

	layers := new(mockLayerService)
	layers.On("ServiceAreas", ctx).Return(builtLayer(), nil)
	layers.On("Facilities", ctx).Return([]models.Facility{{ID: "A", Name: "Alpha", Location: &pt}}, nil)
	layers.On("Boundaries", ctx).Return([]models.BoundaryCoverage{
		{Boundary: models.Boundary{GEOID: "17001", Geometry: models.NewGeometry(square(), models.SRIDWGS84)}, CoverageRatio: 1},
	}, nil)
	layers.On("Failures", ctx, "").Return(&services.FailureReport{
		RunID:    "run-1",
		Failures: []models.FetchFailure{{FacilityID: "B", Category: models.FailureError, Message: "HTTP 500"}},
	}, nil)

	var out bytes.Buffer
	require.NoError(t, exportLayers(ctx, layers, dir, &out))

	assert.Len(t, readCollection(t, filepath.Join(dir, ServiceAreasFile)).Features, 1)
	assert.Len(t, readCollection(t, filepath.Join(dir, FacilitiesFile)).Features, 1)
	assert.Len(t, readCollection(t, filepath.Join(dir, BoundariesFile)).Features, 1)

	data, err := os.ReadFile(filepath.Join(dir, FailuresFile))
	require.NoError(t, err)
	var report services.FailureReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, "B", report.Failures[0].FacilityID)

	assert.Equal(t, 4, strings.Count(out.String(), "wrote "))
}

func TestExportLayers_SkipsUnbuiltOptionalLayers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	layers := new(mockLayerService)
	layers.On("ServiceAreas", ctx).Return(builtLayer(), nil)
	layers.On("Facilities", ctx).Return(nil, services.ErrLayerNotBuilt)
	layers.On("Boundaries", ctx).Return(nil, services.ErrLayerNotBuilt)
	layers.On("Failures", ctx, "").Return(nil, services.ErrNoRuns)

	var out bytes.Buffer
	require.NoError(t, exportLayers(ctx, layers, dir, &out))

	assert.FileExists(t, filepath.Join(dir, ServiceAreasFile))
	assert.NoFileExists(t, filepath.Join(dir, BoundariesFile))
	assert.Equal(t, 3, strings.Count(out.String(), "skipped "))
}

func TestExportLayers_RequiresServiceAreas(t *testing.T) {
	ctx := context.Background()
	layers := new(mockLayerService)
	layers.On("ServiceAreas", ctx).Return(nil, services.ErrLayerNotBuilt)

	err := exportLayers(ctx, layers, t.TempDir(), &bytes.Buffer{})

	assert.ErrorIs(t, err, services.ErrLayerNotBuilt)
	layers.AssertNotCalled(t, "Facilities", mock.Anything)
}

func TestExportLayers_StoreError(t *testing.T) {
	ctx := context.Background()
	layers := new(mockLayerService)
	layers.On("ServiceAreas", ctx).Return(builtLayer(), nil)
	layers.On("Facilities", ctx).Return(nil, errors.New("pgx: conn closed"))

	err := exportLayers(ctx, layers, t.TempDir(), &bytes.Buffer{})

	assert.EqualError(t, err, "pgx: conn closed")
}

func TestPrintFailures(t *testing.T) {
	report := &services.FailureReport{
		RunID: "run-1",
		Failures: []models.FetchFailure{
			{FacilityID: "B", Category: models.FailureWarning, Message: "ambiguousGeometry",
				OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		},
	}

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printFailures(&buf, report, "table"))
		assert.Contains(t, buf.String(), "Run ID: run-1")
		assert.Contains(t, buf.String(), "FACILITY")
		assert.Contains(t, buf.String(), "2026-03-01T12:00:00Z")
		assert.Contains(t, buf.String(), "ambiguousGeometry")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printFailures(&buf, report, "json"))
		var decoded services.FailureReport
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, models.FailureWarning, decoded.Failures[0].Category)
	})

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printFailures(&buf, &services.FailureReport{RunID: "run-2"}, ""))
		assert.Contains(t, buf.String(), "No failures")
	})

	t.Run("unsupported format", func(t *testing.T) {
		assert.Error(t, printFailures(&bytes.Buffer{}, report, "xml"))
	})
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"run", "load", "geocode", "isochrones", "merge", "boundaries", "retry", "failures", "export"} {
		assert.Contains(t, names, want)
	}
}

func TestRunCmd_RejectsUnknownStage(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"run", "--from", "render"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.ExecuteContext(context.Background())

	assert.ErrorIs(t, err, services.ErrUnknownStage)
}
