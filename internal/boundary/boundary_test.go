package boundary

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/reach/internal/models"
)

const countiesBody = `{
	"type": "FeatureCollection",
	"features": [
		{
			"type": "Feature",
			"properties": {"GEOID": "17167", "NAME": "Sangamon County", "STATE": "17"},
			"geometry": {"type": "Polygon", "coordinates": [[[-89.9,39.5],[-89.4,39.5],[-89.4,40.0],[-89.9,40.0],[-89.9,39.5]]]}
		},
		{
			"type": "Feature",
			"properties": {"GEOID": "17143", "NAME": "Peoria County"},
			"geometry": {"type": "MultiPolygon", "coordinates": [[[[-89.9,40.5],[-89.5,40.5],[-89.5,41.0],[-89.9,41.0],[-89.9,40.5]]]]}
		}
	]
}`

func testSelector() Selector {
	return Selector{StateFIPS: "17", Resolution: "20m", Year: 2023}
}

func TestExpandTemplate(t *testing.T) {
	got := ExpandTemplate("https://example.test/{year}/cb_{year}_{state}_county_{resolution}.geojson", testSelector())
	assert.Equal(t, "https://example.test/2023/cb_2023_17_county_20m.geojson", got)
}

func TestSelector_Validate(t *testing.T) {
	assert.NoError(t, testSelector().Validate())
	assert.ErrorIs(t, Selector{StateFIPS: "IL", Year: 2023}.Validate(), ErrInvalidSelector)
	assert.ErrorIs(t, Selector{StateFIPS: "17", Year: 0}.Validate(), ErrInvalidSelector)
}

func TestHTTPClient_Boundaries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2023/17/20m", r.URL.Path)
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(countiesBody))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/{year}/{state}/{resolution}", time.Second)
	boundaries, err := client.Boundaries(context.Background(), testSelector())
	require.NoError(t, err)
	require.Len(t, boundaries, 2)

	assert.Equal(t, "17167", boundaries[0].GEOID)
	assert.Equal(t, "Sangamon County", boundaries[0].Name)
	assert.Equal(t, "17", boundaries[0].StateFIPS)
	assert.Equal(t, models.SRIDNAD83, boundaries[0].Geometry.SRID)

	assert.Equal(t, "17", boundaries[1].StateFIPS, "state falls back to the GEOID prefix")
	_, err = boundaries[1].Geometry.AsMultiPolygon()
	assert.NoError(t, err)
}

func TestHTTPClient_Boundaries_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "server error", status: http.StatusBadGateway, body: "bad gateway", wantErr: ErrUnavailable},
		{name: "arcgis error object", status: http.StatusOK, body: `{"error":{"code":400,"message":"Invalid query"}}`, wantErr: ErrUnavailable},
		{name: "not geojson", status: http.StatusOK, body: `{"features":`, wantErr: ErrBadData},
		{
			name:    "missing geoid",
			status:  http.StatusOK,
			body:    `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}]}`,
			wantErr: ErrBadData,
		},
		{
			name:    "point geometry",
			status:  http.StatusOK,
			body:    `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"GEOID":"17001"},"geometry":{"type":"Point","coordinates":[0,0]}}]}`,
			wantErr: ErrBadData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL, time.Second)
			_, err := client.Boundaries(context.Background(), testSelector())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHTTPClient_Boundaries_InvalidSelectorMakesNoCall(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second)
	_, err := client.Boundaries(context.Background(), Selector{StateFIPS: "", Year: 2023})
	assert.ErrorIs(t, err, ErrInvalidSelector)
	assert.False(t, called)
}
