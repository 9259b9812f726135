package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/stwalsh4118/reach/internal/metrics"
	"github.com/stwalsh4118/reach/internal/pacer"
)

// CensusClient calls the US Census Bureau one-line-address geocoder.
type CensusClient struct {
	httpClient *http.Client
	pacer      *pacer.Pacer
	baseURL    string
	benchmark  string
}

// NewCensusClient creates a client that spaces requests interval apart.
func NewCensusClient(baseURL, benchmark string, timeout, interval time.Duration) *CensusClient {
	return &CensusClient{
		httpClient: &http.Client{Timeout: timeout},
		pacer:      pacer.New(interval),
		baseURL:    strings.TrimRight(baseURL, "/"),
		benchmark:  benchmark,
	}
}

type censusResponse struct {
	Result struct {
		AddressMatches []struct {
			MatchedAddress string `json:"matchedAddress"`
			Coordinates    struct {
				X float64 `json:"x"`
				Y float64 `json:"y"`
			} `json:"coordinates"`
		} `json:"addressMatches"`
	} `json:"result"`
}

// Geocode returns the first candidate. Several candidates are reported
// through MatchCount rather than treated as an error.
func (c *CensusClient) Geocode(ctx context.Context, address string) (*Result, error) {
	if strings.TrimSpace(address) == "" {
		return nil, ErrEmptyAddress
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("address", address)
	q.Set("benchmark", c.benchmark)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/locations/onelineaddress?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geocode request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.GeocodeRequestsTotal.WithLabelValues("error").Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.GeocodeRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.GeocodeRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed censusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.GeocodeRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to decode geocode response: %w", err)
	}

	matches := parsed.Result.AddressMatches
	if len(matches) == 0 {
		metrics.GeocodeRequestsTotal.WithLabelValues("no_match").Inc()
		return nil, fmt.Errorf("%w: %q", ErrNoMatch, address)
	}

	best := matches[0]
	result := &Result{
		Point:          orb.Point{best.Coordinates.X, best.Coordinates.Y},
		MatchedAddress: best.MatchedAddress,
		MatchCount:     len(matches),
	}
	if result.Ambiguous() {
		metrics.GeocodeRequestsTotal.WithLabelValues("ambiguous").Inc()
	} else {
		metrics.GeocodeRequestsTotal.WithLabelValues("matched").Inc()
	}
	return result, nil
}
