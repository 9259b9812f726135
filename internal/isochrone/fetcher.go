// Package isochrone fetches drive-time polygons for a batch of facility points.
package isochrone

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/stwalsh4118/reach/internal/logger"
	"github.com/stwalsh4118/reach/internal/metrics"
	"github.com/stwalsh4118/reach/internal/models"
	"github.com/stwalsh4118/reach/internal/pacer"
	"github.com/stwalsh4118/reach/internal/routing"
)

var (
	// ErrProviderUnreachable aborts a batch whose first request was rejected
	// for a reason every following request would share.
	ErrProviderUnreachable = errors.New("routing provider unreachable")
	// ErrInvalidConfig is returned by NewFetcher.
	ErrInvalidConfig = errors.New("invalid fetcher configuration")
)

// Point is one facility to fetch an isochrone for. Location is [lon, lat].
type Point struct {
	Location   *orb.Point
	FacilityID string
}

// PointsFromFacilities keeps registry order. Facilities without a location
// are kept so they are reported as input failures.
func PointsFromFacilities(facilities []models.Facility) []Point {
	points := make([]Point, 0, len(facilities))
	for _, f := range facilities {
		points = append(points, Point{FacilityID: f.ID, Location: f.Location})
	}
	return points
}

// Config holds the fixed request parameters of a run.
type Config struct {
	TimeBudget  time.Duration
	Mode        models.TransportMode
	OptimizeFor string
	Traffic     bool
	// Interval is the minimum spacing between request starts.
	Interval time.Duration
	// Concurrency above 1 lets requests overlap; spacing still applies.
	Concurrency int
}

// pointInput is the validated form of a Point.
type pointInput struct {
	FacilityID string   `validate:"required"`
	Lat        *float64 `validate:"required,latitude"`
	Lng        *float64 `validate:"required,longitude"`
}

// Fetcher requests one isochrone per point, isolating per-point failures.
type Fetcher struct {
	provider routing.Provider
	pacer    *pacer.Pacer
	validate *validator.Validate
	log      *logger.Logger
	now      func() time.Time
	cfg      Config
}

// NewFetcher creates a Fetcher around provider.
func NewFetcher(provider routing.Provider, cfg Config, log *logger.Logger) (*Fetcher, error) {
	if cfg.TimeBudget <= 0 {
		return nil, fmt.Errorf("%w: time budget must be positive", ErrInvalidConfig)
	}
	if _, err := models.ParseTransportMode(string(cfg.Mode)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("%w: interval must not be negative", ErrInvalidConfig)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.OptimizeFor == "" {
		cfg.OptimizeFor = routing.OptimizeQuality
	}

	return &Fetcher{
		provider: provider,
		pacer:    pacer.New(cfg.Interval),
		validate: validator.New(),
		log:      log,
		now:      time.Now,
		cfg:      cfg,
	}, nil
}

// Fetch attempts every valid point exactly once and returns the classified batch.
//
// The first attempted point runs alone. If the provider rejects it as
// unauthenticated or unreachable the batch stops with ErrProviderUnreachable.
// Cancelling ctx stops the batch between points and returns ctx.Err().
func (f *Fetcher) Fetch(ctx context.Context, runID string, points []Point) (*Batch, error) {
	log := f.log.WithRunID(runID)
	outcomes := make([]Outcome, len(points))

	occurrences := make(map[string]int, len(points))
	for _, p := range points {
		occurrences[strings.TrimSpace(p.FacilityID)]++
	}

	var eligible []int
	for i, p := range points {
		msg := f.checkPoint(p)
		if msg == "" && occurrences[strings.TrimSpace(p.FacilityID)] > 1 {
			msg = duplicateIDMessage
		}
		if msg != "" {
			outcomes[i] = InputError{Message: msg}
			metrics.IsochroneRequestsTotal.WithLabelValues(string(models.FailureInput)).Inc()
			log.Warn("Facility excluded before fetch", map[string]interface{}{
				"facility_id": p.FacilityID,
				"category":    string(models.FailureInput),
				"diagnostic":  msg,
			})
			continue
		}
		eligible = append(eligible, i)
	}

	log.Info("Starting isochrone batch", map[string]interface{}{
		"total":       len(points),
		"eligible":    len(eligible),
		"time_budget": f.cfg.TimeBudget.String(),
		"mode":        string(f.cfg.Mode),
		"concurrency": f.cfg.Concurrency,
		"interval":    f.pacer.Interval().String(),
	})

	if len(eligible) > 0 {
		var attempted int64
		next := func() int { return int(atomic.AddInt64(&attempted, 1)) }

		probe := eligible[0]
		o, err := f.fetchOne(ctx, log, next(), len(eligible), points[probe])
		if err != nil {
			return nil, err
		}
		if pe, ok := o.(ProviderError); ok && routing.IsSystemic(pe.Err) {
			log.Error("Routing provider rejected the first request, aborting batch", pe.Err, map[string]interface{}{
				"facility_id": points[probe].FacilityID,
			})
			return nil, fmt.Errorf("%w: %v", ErrProviderUnreachable, pe.Err)
		}
		outcomes[probe] = o

		if err := f.fetchRest(ctx, log, next, points, eligible[1:], outcomes); err != nil {
			return nil, err
		}
	}

	batch := f.collect(runID, points, outcomes)
	log.Info("Finished isochrone batch", map[string]interface{}{
		"successes": len(batch.Successes),
		"failures":  len(batch.Failures),
	})
	return batch, nil
}

func (f *Fetcher) fetchRest(ctx context.Context, log *logger.Logger, next func() int, points []Point, indices []int, outcomes []Outcome) error {
	total := len(indices) + 1

	if f.cfg.Concurrency <= 1 {
		for _, i := range indices {
			if err := ctx.Err(); err != nil {
				return err
			}
			o, err := f.fetchOne(ctx, log, next(), total, points[i])
			if err != nil {
				return err
			}
			outcomes[i] = o
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for _, i := range indices {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o, err := f.fetchOne(gctx, log, next(), total, points[i])
			if err != nil {
				return err
			}
			// Each goroutine owns one slot
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// fetchOne returns an error only when ctx is done.
func (f *Fetcher) fetchOne(ctx context.Context, log *logger.Logger, attempt, total int, p Point) (Outcome, error) {
	if err := f.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	log.Info("Fetching isochrone", map[string]interface{}{
		"index":       attempt,
		"total":       total,
		"facility_id": p.FacilityID,
	})

	iso, err := f.provider.Isoline(ctx, routing.IsolineRequest{
		Origin:      *p.Location,
		Range:       f.cfg.TimeBudget,
		Mode:        f.cfg.Mode,
		OptimizeFor: f.cfg.OptimizeFor,
		Aggregate:   false,
		Traffic:     f.cfg.Traffic,
	})
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	o := f.classify(p, iso, err)
	if category, msg, failed := categoryOf(o); failed {
		log.Warn("Isochrone fetch failed", map[string]interface{}{
			"facility_id": p.FacilityID,
			"category":    string(category),
			"diagnostic":  msg,
		})
	}
	return o, nil
}

func (f *Fetcher) classify(p Point, iso *routing.Isoline, err error) Outcome {
	switch {
	case err != nil:
		metrics.IsochroneRequestsTotal.WithLabelValues(string(models.FailureError)).Inc()
		return ProviderError{Err: err, Message: err.Error()}
	case iso == nil:
		metrics.IsochroneRequestsTotal.WithLabelValues(string(models.FailureError)).Inc()
		return ProviderError{Message: "provider returned no result"}
	case iso.HasNotices():
		metrics.IsochroneRequestsTotal.WithLabelValues(string(models.FailureWarning)).Inc()
		return ProviderWarning{Message: iso.NoticeText()}
	case len(iso.Geometry) == 0:
		metrics.IsochroneRequestsTotal.WithLabelValues(string(models.FailureError)).Inc()
		return ProviderError{Message: "provider returned an empty polygon"}
	}

	metrics.IsochroneRequestsTotal.WithLabelValues("success").Inc()
	return Success{Polygon: models.IsochronePolygon{
		FetchedAt:  f.now().UTC(),
		Geometry:   models.NewGeometry(iso.Geometry, iso.SRID),
		FacilityID: p.FacilityID,
		Params: models.IsochroneParams{
			TimeBudget: f.cfg.TimeBudget,
			Mode:       f.cfg.Mode,
		},
	}}
}

// duplicateIDMessage marks every point sharing an identifier. None of them
// is fetched, so an identifier never lands in both collections.
const duplicateIDMessage = "duplicate facility identifier"

// checkPoint returns a diagnostic for an unusable point, or "".
func (f *Fetcher) checkPoint(p Point) string {
	in := pointInput{FacilityID: strings.TrimSpace(p.FacilityID)}
	if p.Location != nil {
		lat, lng := p.Location.Lat(), p.Location.Lon()
		in.Lat, in.Lng = &lat, &lng
	}

	err := f.validate.Struct(in)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	var msgs []string
	seen := make(map[string]bool, len(verrs))
	for _, fe := range verrs {
		var msg string
		switch {
		case fe.Tag() == "required" && fe.Field() == "FacilityID":
			msg = "missing facility identifier"
		case fe.Tag() == "required":
			msg = "missing coordinate"
		default:
			msg = fmt.Sprintf("%s out of range", strings.ToLower(fe.Field()))
		}
		if !seen[msg] {
			seen[msg] = true
			msgs = append(msgs, msg)
		}
	}
	return strings.Join(msgs, "; ")
}

func (f *Fetcher) collect(runID string, points []Point, outcomes []Outcome) *Batch {
	batch := &Batch{RunID: runID}
	for i, o := range outcomes {
		if s, ok := o.(Success); ok {
			batch.Successes = append(batch.Successes, s.Polygon)
			continue
		}
		category, msg, _ := categoryOf(o)
		batch.Failures = append(batch.Failures, models.FetchFailure{
			OccurredAt: f.now().UTC(),
			RunID:      runID,
			FacilityID: points[i].FacilityID,
			Category:   category,
			Message:    msg,
		})
	}
	return batch
}
