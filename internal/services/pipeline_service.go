package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stwalsh4118/reach/internal/boundary"
	"github.com/stwalsh4118/reach/internal/config"
	"github.com/stwalsh4118/reach/internal/crs"
	"github.com/stwalsh4118/reach/internal/geocoder"
	"github.com/stwalsh4118/reach/internal/isochrone"
	"github.com/stwalsh4118/reach/internal/logger"
	"github.com/stwalsh4118/reach/internal/merge"
	"github.com/stwalsh4118/reach/internal/metrics"
	"github.com/stwalsh4118/reach/internal/models"
	"github.com/stwalsh4118/reach/internal/registry"
	"github.com/stwalsh4118/reach/internal/repository"
	"github.com/stwalsh4118/reach/internal/routing"
)

// Stage names one step of the pipeline. Stages run in the order of Stages.
type Stage string

const (
	StageRegistry   Stage = "registry"
	StageGeocode    Stage = "geocode"
	StageIsochrones Stage = "isochrones"
	StageMerge      Stage = "merge"
	StageBoundaries Stage = "boundaries"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageRegistry, StageGeocode, StageIsochrones, StageMerge, StageBoundaries}

// Pipeline errors
var (
	ErrEmptyRegistry = errors.New("facility registry is empty")
	ErrUnknownStage  = errors.New("unknown pipeline stage")
	ErrNoPreviousRun = errors.New("no isochrone run has been recorded")
)

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	name := Stage(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range Stages {
		if st == name {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q (expected one of %s)", ErrUnknownStage, s, stageList())
}

func stageList() string {
	names := make([]string, len(Stages))
	for i, st := range Stages {
		names[i] = string(st)
	}
	return strings.Join(names, ", ")
}

// RegistrySource returns the facility registry in file order.
type RegistrySource func() ([]models.Facility, error)

// FileRegistry reads the registry file described by cfg.
func FileRegistry(cfg config.RegistryConfig) RegistrySource {
	opts := registry.Options{
		Columns: registry.Columns{
			ID:      cfg.IDColumn,
			Name:    cfg.NameColumn,
			Address: cfg.AddressColumn,
			City:    cfg.CityColumn,
			State:   cfg.StateColumn,
			Zip:     cfg.ZipColumn,
			Status:  cfg.StatusColumn,
		},
		UnavailablePattern: cfg.UnavailablePattern,
	}
	return func() ([]models.Facility, error) {
		return registry.Load(cfg.Path, opts)
	}
}

// PipelineDeps holds the collaborators of a PipelineService.
type PipelineDeps struct {
	Registry     RegistrySource
	Geocoder     geocoder.Geocoder
	Routing      routing.Provider
	Boundaries   boundary.Provider
	Facilities   repository.FacilityRepository
	Isochrones   repository.IsochroneRepository
	Failures     repository.FailureRepository
	ServiceAreas repository.ServiceAreaRepository
	BoundaryRepo repository.BoundaryRepository
}

// GeocodeSummary counts the outcome of a geocode stage.
type GeocodeSummary struct {
	Attempted int `json:"attempted"`
	Matched   int `json:"matched"`
	Ambiguous int `json:"ambiguous"`
	Unmatched int `json:"unmatched"`
}

// MergeSummary describes a rebuilt service-area layer.
type MergeSummary struct {
	Rows     int      `json:"rows"`
	Rejected []string `json:"rejected,omitempty"`
}

// PipelineService runs the pipeline stages against the persisted layers.
// Every stage reads its inputs from the store, so any stage can be re-run alone.
type PipelineService interface {
	// LoadRegistry stores the registry. Returns ErrEmptyRegistry if it has no rows.
	LoadRegistry(ctx context.Context) (int, error)

	// Geocode attaches a location to every facility that has none.
	Geocode(ctx context.Context) (*GeocodeSummary, error)

	// FetchIsochrones fetches polygons for available facilities. A full run
	// replaces the isochrone layer; a retry run covers only the failures of the
	// latest run and upserts what it recovers.
	FetchIsochrones(ctx context.Context, scope models.FetchScope) (*models.FetchRun, error)

	// Merge rebuilds the service-area layer from the stored isochrones.
	Merge(ctx context.Context) (*MergeSummary, error)

	// LoadBoundaries downloads, reprojects and stores the boundary layer.
	LoadBoundaries(ctx context.Context) (int, error)

	// Run executes every stage starting at from.
	Run(ctx context.Context, from Stage) error

	// RetryFailures re-fetches the latest run's failures and rebuilds the layer.
	RetryFailures(ctx context.Context) (*models.FetchRun, error)
}

type pipelineService struct {
	deps   PipelineDeps
	cfg    *config.Config
	merger *merge.Merger
	log    *logger.Logger
	now    func() time.Time
}

// NewPipelineService creates a new PipelineService.
func NewPipelineService(deps PipelineDeps, cfg *config.Config, log *logger.Logger) PipelineService {
	return &pipelineService{
		deps:   deps,
		cfg:    cfg,
		merger: merge.NewMerger(log),
		log:    log,
		now:    time.Now,
	}
}

func observeStage(stage Stage, start time.Time) {
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}

func (s *pipelineService) LoadRegistry(ctx context.Context) (int, error) {
	defer observeStage(StageRegistry, time.Now())

	facilities, err := s.deps.Registry()
	if err != nil {
		return 0, fmt.Errorf("failed to load registry: %w", err)
	}
	if len(facilities) == 0 {
		return 0, ErrEmptyRegistry
	}

	now := s.now().UTC()
	available := 0
	for i := range facilities {
		facilities[i].UpdatedAt = now
		if facilities[i].Available {
			available++
		}
	}

	if err := s.deps.Facilities.UpsertAll(ctx, facilities); err != nil {
		return 0, err
	}

	s.log.Info("Registry loaded", map[string]interface{}{
		"facilities": len(facilities),
		"available":  available,
	})
	return len(facilities), nil
}

func (s *pipelineService) Geocode(ctx context.Context) (*GeocodeSummary, error) {
	defer observeStage(StageGeocode, time.Now())

	facilities, err := s.deps.Facilities.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(facilities) == 0 {
		return nil, ErrEmptyRegistry
	}

	summary := &GeocodeSummary{}
	for _, f := range facilities {
		if f.HasLocation() {
			continue
		}
		summary.Attempted++

		result, err := s.deps.Geocoder.Geocode(ctx, f.Address)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			summary.Unmatched++
			s.log.Warn("Facility could not be geocoded", map[string]interface{}{
				"facility_id": f.ID,
				"address":     f.Address,
				"error":       err.Error(),
			})
			continue
		}

		if result.Ambiguous() {
			summary.Ambiguous++
			s.log.Warn("Ambiguous geocode, using first match", map[string]interface{}{
				"facility_id":     f.ID,
				"address":         f.Address,
				"matched_address": result.MatchedAddress,
				"match_count":     result.MatchCount,
			})
		}

		if err := s.deps.Facilities.UpdateLocation(ctx, f.ID, result.Point, result.MatchedAddress); err != nil {
			return nil, err
		}
		summary.Matched++
	}

	s.log.Info("Geocoding complete", map[string]interface{}{
		"attempted": summary.Attempted,
		"matched":   summary.Matched,
		"ambiguous": summary.Ambiguous,
		"unmatched": summary.Unmatched,
	})
	return summary, nil
}

func (s *pipelineService) fetchConfig() (isochrone.Config, error) {
	mode, err := models.ParseTransportMode(s.cfg.Routing.TransportMode)
	if err != nil {
		return isochrone.Config{}, err
	}
	return isochrone.Config{
		TimeBudget:  s.cfg.Routing.TimeBudget(),
		Mode:        mode,
		OptimizeFor: s.cfg.Routing.OptimizeFor,
		Traffic:     s.cfg.Routing.Traffic,
		Interval:    s.cfg.Routing.RequestInterval,
		Concurrency: s.cfg.Routing.Concurrency,
	}, nil
}

// retryTargets keeps the facilities that failed in the latest run.
func (s *pipelineService) retryTargets(ctx context.Context, facilities []models.Facility) ([]models.Facility, error) {
	runID, err := s.deps.Failures.LatestRunID(ctx)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		return nil, ErrNoPreviousRun
	}

	failures, err := s.deps.Failures.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	failed := make(map[string]bool, len(failures))
	for _, f := range failures {
		failed[f.FacilityID] = true
	}

	targets := make([]models.Facility, 0, len(failures))
	for _, f := range facilities {
		if failed[f.ID] {
			targets = append(targets, f)
		}
	}

	s.log.Info("Retrying failed facilities", map[string]interface{}{
		"previous_run_id": runID,
		"failures":        len(failures),
		"targets":         len(targets),
	})
	return targets, nil
}

func (s *pipelineService) FetchIsochrones(ctx context.Context, scope models.FetchScope) (*models.FetchRun, error) {
	defer observeStage(StageIsochrones, time.Now())

	if err := s.cfg.ValidateRouting(); err != nil {
		return nil, err
	}
	fetchCfg, err := s.fetchConfig()
	if err != nil {
		return nil, err
	}

	facilities, err := s.deps.Facilities.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(facilities) == 0 {
		return nil, ErrEmptyRegistry
	}

	targets := registry.Available(facilities)
	switch scope {
	case models.ScopeFull:
	case models.ScopeRetry:
		if targets, err = s.retryTargets(ctx, targets); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown fetch scope %q", scope)
	}

	fetcher, err := isochrone.NewFetcher(s.deps.Routing, fetchCfg, s.log)
	if err != nil {
		return nil, err
	}

	run := models.FetchRun{
		RunID:     uuid.NewString(),
		Scope:     scope,
		StartedAt: s.now().UTC(),
	}
	log := s.log.WithRunID(run.RunID)
	log.Info("Fetching isochrones", map[string]interface{}{
		"scope":       string(scope),
		"facilities":  len(targets),
		"minutes":     s.cfg.Routing.Minutes,
		"mode":        string(fetchCfg.Mode),
		"concurrency": fetchCfg.Concurrency,
	})

	batch, err := fetcher.Fetch(ctx, run.RunID, isochrone.PointsFromFacilities(targets))
	if err != nil {
		log.Error("Isochrone run aborted", err, nil)
		return nil, err
	}

	if scope == models.ScopeFull {
		err = s.deps.Isochrones.ReplaceAll(ctx, batch.Successes)
	} else {
		err = s.deps.Isochrones.Upsert(ctx, batch.Successes)
	}
	if err != nil {
		return nil, err
	}

	run.FinishedAt = s.now().UTC()
	run.Attempted = batch.Len()
	run.Successes = len(batch.Successes)
	run.Failures = len(batch.Failures)
	if err := s.deps.Failures.Save(ctx, run, batch.Failures); err != nil {
		return nil, err
	}

	log.Info("Isochrone run complete", map[string]interface{}{
		"attempted":  run.Attempted,
		"successes":  run.Successes,
		"failures":   run.Failures,
		"failed_ids": batch.FailedIDs(),
	})
	return &run, nil
}

func (s *pipelineService) Merge(ctx context.Context) (*MergeSummary, error) {
	defer observeStage(StageMerge, time.Now())

	polygons, err := s.deps.Isochrones.List(ctx)
	if err != nil {
		return nil, err
	}
	facilities, err := s.deps.Facilities.List(ctx)
	if err != nil {
		return nil, err
	}

	layer, err := s.merger.Merge(polygons, facilities)
	summary := &MergeSummary{}
	var recordErrs merge.MergeErrors
	switch {
	case errors.As(err, &recordErrs):
		summary.Rejected = recordErrs.FacilityIDs()
		s.log.Warn("Merge rejected isochrones", map[string]interface{}{
			"rejected":       len(recordErrs),
			"facility_ids":   summary.Rejected,
			"join_integrity": merge.IsJoinIntegrity(err),
		})
	case err != nil:
		return nil, err
	}

	if err := s.deps.ServiceAreas.ReplaceAll(ctx, layer); err != nil {
		return nil, err
	}
	summary.Rows = layer.Len()

	s.log.Info("Service-area layer rebuilt", map[string]interface{}{
		"rows":     summary.Rows,
		"polygons": len(polygons),
		"srid":     layer.SRID,
	})
	return summary, nil
}

func (s *pipelineService) LoadBoundaries(ctx context.Context) (int, error) {
	defer observeStage(StageBoundaries, time.Now())

	sel := boundary.Selector{
		StateFIPS:  s.cfg.Boundary.StateFIPS,
		Resolution: s.cfg.Boundary.Resolution,
		Year:       s.cfg.Boundary.Year,
	}
	if err := sel.Validate(); err != nil {
		return 0, err
	}

	boundaries, err := s.deps.Boundaries.Boundaries(ctx, sel)
	if err != nil {
		return 0, fmt.Errorf("failed to download boundaries: %w", err)
	}

	for i := range boundaries {
		geom, err := crs.ToWGS84(boundaries[i].Geometry)
		if err != nil {
			return 0, fmt.Errorf("failed to reproject boundary %s: %w", boundaries[i].GEOID, err)
		}
		boundaries[i].Geometry = geom
	}

	if err := s.deps.BoundaryRepo.ReplaceAll(ctx, boundaries); err != nil {
		return 0, err
	}

	s.log.Info("Boundaries loaded", map[string]interface{}{
		"boundaries": len(boundaries),
		"state_fips": sel.StateFIPS,
		"year":       sel.Year,
	})
	return len(boundaries), nil
}

func (s *pipelineService) Run(ctx context.Context, from Stage) error {
	start := -1
	for i, st := range Stages {
		if st == from {
			start = i
			break
		}
	}
	if start < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownStage, from)
	}

	stages := Stages[start:]
	// Fail before any work if the routing stage will run without a credential
	for _, stage := range stages {
		if stage == StageIsochrones {
			if err := s.cfg.ValidateRouting(); err != nil {
				return err
			}
		}
	}

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.log.Info("Running stage", map[string]interface{}{"stage": string(stage)})
		if err := s.runStage(ctx, stage); err != nil {
			return fmt.Errorf("stage %s: %w", stage, err)
		}
	}
	return nil
}

func (s *pipelineService) runStage(ctx context.Context, stage Stage) error {
	var err error
	switch stage {
	case StageRegistry:
		_, err = s.LoadRegistry(ctx)
	case StageGeocode:
		_, err = s.Geocode(ctx)
	case StageIsochrones:
		_, err = s.FetchIsochrones(ctx, models.ScopeFull)
	case StageMerge:
		_, err = s.Merge(ctx)
	case StageBoundaries:
		_, err = s.LoadBoundaries(ctx)
	}
	return err
}

func (s *pipelineService) RetryFailures(ctx context.Context) (*models.FetchRun, error) {
	run, err := s.FetchIsochrones(ctx, models.ScopeRetry)
	if err != nil {
		return nil, err
	}
	if run.Successes == 0 {
		return run, nil
	}
	if _, err := s.Merge(ctx); err != nil {
		return run, err
	}
	return run, nil
}
