package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/stwalsh4118/reach/internal/boundary"
	"github.com/stwalsh4118/reach/internal/config"
	"github.com/stwalsh4118/reach/internal/database"
	"github.com/stwalsh4118/reach/internal/geocoder"
	"github.com/stwalsh4118/reach/internal/logger"
	"github.com/stwalsh4118/reach/internal/repository"
	"github.com/stwalsh4118/reach/internal/routing"
	"github.com/stwalsh4118/reach/internal/services"
)

// app holds the wiring shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.Database
	redis    *redis.Client
	pipeline services.PipelineService
	layers   services.LayerService
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	a := &app{cfg: cfg, log: log, db: db}

	var gc geocoder.Geocoder = geocoder.NewCensusClient(
		cfg.Geocoder.BaseURL, cfg.Geocoder.Benchmark, cfg.Routing.Timeout, cfg.Geocoder.Interval)
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			// The cache is optional; lookups go straight to the geocoder
			log.Warn("Geocode cache unavailable", map[string]interface{}{
				"addr":  cfg.Redis.Addr,
				"error": err.Error(),
			})
			_ = a.redis.Close()
			a.redis = nil
		} else {
			gc = geocoder.NewCachedGeocoder(gc, geocoder.NewRedisCache(a.redis, cfg.Geocoder.CacheTTL), log)
		}
	}

	facilities := repository.NewFacilityRepository(db)
	failures := repository.NewFailureRepository(db)
	serviceAreas := repository.NewServiceAreaRepository(db)
	boundaries := repository.NewBoundaryRepository(db)

	a.pipeline = services.NewPipelineService(services.PipelineDeps{
		Registry:     services.FileRegistry(cfg.Registry),
		Geocoder:     gc,
		Routing:      routing.NewHereClient(cfg.Routing.BaseURL, cfg.Routing.APIKey, cfg.Routing.Timeout),
		Boundaries:   boundary.NewHTTPClient(cfg.Boundary.URLTemplate, cfg.Routing.Timeout),
		Facilities:   facilities,
		Isochrones:   repository.NewIsochroneRepository(db),
		Failures:     failures,
		ServiceAreas: serviceAreas,
		BoundaryRepo: boundaries,
	}, cfg, log)
	a.layers = services.NewLayerService(serviceAreas, facilities, boundaries, failures, log)

	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close redis client", map[string]interface{}{"error": err.Error()})
		}
	}
	a.db.Close()
}

// withApp loads configuration, builds the app and hands it to fn.
func withApp(ctx context.Context, env string, fn func(a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if env != "" {
		cfg.Server.Env = env
	}

	log := logger.New(cfg.Server.Env)
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(a)
}
