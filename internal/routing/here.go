package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/stwalsh4118/reach/internal/metrics"
	"github.com/stwalsh4118/reach/internal/models"
)

// ProviderHERE identifies the HERE Isoline Routing v8 API in errors.
const ProviderHERE = "here"

// maxErrorBody caps how much of a failed response is kept as diagnostic text.
const maxErrorBody = 4096

// HereClient calls the HERE Isoline Routing v8 API.
type HereClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHereClient creates a client. The credential is held by the client only.
func NewHereClient(baseURL, apiKey string, timeout time.Duration) *HereClient {
	return &HereClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

type hereIsolineResponse struct {
	Isolines []hereIsoline `json:"isolines"`
	Notices  []hereNotice  `json:"notices"`
}

type hereIsoline struct {
	Range struct {
		Type  string `json:"type"`
		Value int    `json:"value"`
	} `json:"range"`
	Polygons []struct {
		Outer string   `json:"outer"`
		Inner []string `json:"inner"`
	} `json:"polygons"`
}

type hereNotice struct {
	Title    string `json:"title"`
	Code     string `json:"code"`
	Severity string `json:"severity"`
}

// hereErrorResponse covers both the routing error body and the
// authentication gateway's OAuth-style body.
type hereErrorResponse struct {
	Title            string `json:"title"`
	Cause            string `json:"cause"`
	Code             string `json:"code"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Isoline requests a single time-range isoline around req.Origin.
func (c *HereClient) Isoline(ctx context.Context, req IsolineRequest) (*Isoline, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/isolines?" + c.query(req).Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewProviderError(ErrorInternal, ProviderHERE, "failed to build request", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	metrics.IsochroneRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewProviderError(ErrorProviderOutage, ProviderHERE, "failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := NewProviderError(categoryForStatus(resp.StatusCode), ProviderHERE, errorMessage(body), nil)
		perr.StatusCode = resp.StatusCode
		return nil, perr
	}

	return parseIsolineResponse(body, req)
}

func (c *HereClient) query(req IsolineRequest) url.Values {
	q := url.Values{}
	q.Set("origin", formatLatLng(req.Origin))
	q.Set("range[type]", "time")
	q.Set("range[values]", strconv.Itoa(int(req.Range/time.Second)))
	q.Set("transportMode", string(req.Mode))
	optimize := req.OptimizeFor
	if optimize == "" {
		optimize = OptimizeQuality
	}
	q.Set("optimizeFor", optimize)
	if !req.Traffic {
		// Without a departure time the provider ignores live and historic traffic
		q.Set("departureTime", "any")
	}
	q.Set("apiKey", c.apiKey)
	return q
}

func validateRequest(req IsolineRequest) error {
	if req.Range < time.Second {
		return fmt.Errorf("%w: range must be at least one second, got %s", ErrInvalidRequest, req.Range)
	}
	if req.Mode == "" {
		return fmt.Errorf("%w: transport mode is required", ErrInvalidRequest)
	}
	lon, lat := req.Origin.Lon(), req.Origin.Lat()
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: origin %v is out of range", ErrInvalidRequest, req.Origin)
	}
	return nil
}

func formatLatLng(p orb.Point) string {
	return strconv.FormatFloat(p.Lat(), 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon(), 'f', -1, 64)
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		return ctxErr
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewProviderError(ErrorTimeout, ProviderHERE, "request timed out", err)
	}
	return NewProviderError(ErrorProviderOutage, ProviderHERE, "request failed", err)
}

func errorMessage(body []byte) string {
	var parsed hereErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Title != "" && parsed.Cause != "":
			return parsed.Title + ": " + parsed.Cause
		case parsed.Title != "":
			return parsed.Title
		case parsed.ErrorDescription != "":
			return parsed.ErrorDescription
		case parsed.Error != "":
			return parsed.Error
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}

func parseIsolineResponse(body []byte, req IsolineRequest) (*Isoline, error) {
	var parsed hereIsolineResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewProviderError(ErrorBadData, ProviderHERE, "malformed isoline response", err)
	}

	result := &Isoline{
		SRID:         models.SRIDWGS84,
		RangeSeconds: int(req.Range / time.Second),
	}
	for _, n := range parsed.Notices {
		result.Notices = append(result.Notices, Notice{Code: n.Code, Title: n.Title})
	}

	if len(parsed.Isolines) == 0 {
		if result.HasNotices() {
			return nil, NewProviderError(ErrorNotFound, ProviderHERE, result.NoticeText(), nil)
		}
		return nil, NewProviderError(ErrorBadData, ProviderHERE, "response contains no isoline", nil)
	}
	if len(parsed.Isolines) > 1 && !req.Aggregate {
		result.Notices = append(result.Notices, Notice{
			Code:  "ambiguousGeometry",
			Title: fmt.Sprintf("expected one isoline, provider returned %d", len(parsed.Isolines)),
		})
	}

	for _, iso := range parsed.Isolines {
		if iso.Range.Value != 0 {
			result.RangeSeconds = iso.Range.Value
		}
		for _, p := range iso.Polygons {
			outer, err := decodeFlexRing(p.Outer)
			if err != nil {
				return nil, NewProviderError(ErrorBadData, ProviderHERE, "undecodable polygon", err)
			}
			polygon := orb.Polygon{outer}
			for _, hole := range p.Inner {
				inner, err := decodeFlexRing(hole)
				if err != nil {
					return nil, NewProviderError(ErrorBadData, ProviderHERE, "undecodable polygon hole", err)
				}
				polygon = append(polygon, inner)
			}
			result.Geometry = append(result.Geometry, polygon)
		}
	}

	if len(result.Geometry) == 0 {
		return nil, NewProviderError(ErrorBadData, ProviderHERE, "isoline contains no polygon", nil)
	}
	return result, nil
}
