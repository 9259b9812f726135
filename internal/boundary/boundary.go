// Package boundary downloads administrative boundary polygons.
package boundary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stwalsh4118/reach/internal/models"
)

var (
	// ErrInvalidSelector is returned for selectors the provider cannot serve.
	ErrInvalidSelector = errors.New("invalid boundary selector")
	// ErrUnavailable wraps transport and non-2xx failures.
	ErrUnavailable = errors.New("boundary provider unavailable")
	// ErrBadData is returned when the response is not a usable FeatureCollection.
	ErrBadData = errors.New("invalid boundary data")
)

var stateFIPSPattern = regexp.MustCompile(`^[0-9]{2}$`)

// Selector picks which boundaries to fetch.
type Selector struct {
	StateFIPS  string
	Resolution string
	Year       int
}

// Validate checks the selector before any request is made.
func (s Selector) Validate() error {
	if !stateFIPSPattern.MatchString(s.StateFIPS) {
		return fmt.Errorf("%w: state FIPS code must be two digits, got %q", ErrInvalidSelector, s.StateFIPS)
	}
	if s.Year < 1990 || s.Year > 2100 {
		return fmt.Errorf("%w: year %d out of range", ErrInvalidSelector, s.Year)
	}
	return nil
}

// Provider returns boundaries in their native CRS; callers reproject.
type Provider interface {
	Boundaries(ctx context.Context, sel Selector) ([]models.Boundary, error)
}

// HTTPClient fetches a GeoJSON FeatureCollection from a URL template with
// {state}, {year} and {resolution} placeholders. Features are NAD83.
type HTTPClient struct {
	httpClient  *http.Client
	urlTemplate string
}

// NewHTTPClient creates a client for urlTemplate.
func NewHTTPClient(urlTemplate string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient:  &http.Client{Timeout: timeout},
		urlTemplate: urlTemplate,
	}
}

// ExpandTemplate substitutes the selector into a URL template.
func ExpandTemplate(urlTemplate string, sel Selector) string {
	return strings.NewReplacer(
		"{state}", sel.StateFIPS,
		"{year}", strconv.Itoa(sel.Year),
		"{resolution}", sel.Resolution,
	).Replace(urlTemplate)
}

type esriError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Boundaries implements Provider.
func (c *HTTPClient) Boundaries(ctx context.Context, sel Selector) ([]models.Boundary, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ExpandTemplate(c.urlTemplate, sel), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build boundary request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	return parseFeatureCollection(body)
}

func parseFeatureCollection(body []byte) ([]models.Boundary, error) {
	// ArcGIS reports query errors with a 200 and an error object
	var ee esriError
	if err := json.Unmarshal(body, &ee); err == nil && ee.Error != nil {
		return nil, fmt.Errorf("%w: %d %s", ErrUnavailable, ee.Error.Code, ee.Error.Message)
	}

	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadData, err)
	}

	boundaries := make([]models.Boundary, 0, len(fc.Features))
	for i, f := range fc.Features {
		geoid := property(f.Properties, "GEOID", "geoid")
		if geoid == "" {
			return nil, fmt.Errorf("%w: feature %d has no GEOID", ErrBadData, i)
		}
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			return nil, fmt.Errorf("%w: feature %s is not polygonal", ErrBadData, geoid)
		}

		state := property(f.Properties, "STATE", "STATEFP", "statefp")
		if state == "" && len(geoid) >= 2 {
			state = geoid[:2]
		}
		boundaries = append(boundaries, models.Boundary{
			Geometry:  models.NewGeometry(f.Geometry, models.SRIDNAD83),
			GEOID:     geoid,
			Name:      property(f.Properties, "NAME", "name", "NAMELSAD"),
			StateFIPS: state,
		})
	}
	return boundaries, nil
}

func property(props geojson.Properties, keys ...string) string {
	for _, key := range keys {
		if v, ok := props[key]; ok && v != nil {
			return strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return ""
}
