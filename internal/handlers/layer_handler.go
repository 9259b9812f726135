package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb/geojson"
	apierrors "github.com/stwalsh4118/reach/internal/errors"
	"github.com/stwalsh4118/reach/internal/middleware"
	"github.com/stwalsh4118/reach/internal/models"
	"github.com/stwalsh4118/reach/internal/services"
)

// GeoJSONContentType is the media type of layer responses.
const GeoJSONContentType = "application/geo+json"

// LayerHandler serves the persisted layers to the map renderer.
type LayerHandler struct {
	service services.LayerService
}

// NewLayerHandler creates a new LayerHandler instance.
func NewLayerHandler(service services.LayerService) *LayerHandler {
	return &LayerHandler{
		service: service,
	}
}

// AtPointRequest represents the query parameters for the at-point endpoint.
type AtPointRequest struct {
	Lat *float64 `form:"lat" binding:"required,latitude"`
	Lng *float64 `form:"lng" binding:"required,longitude"`
}

// FailuresRequest represents the query parameters for the failures endpoint.
type FailuresRequest struct {
	RunID string `form:"run_id" binding:"omitempty,uuid"`
}

// ServiceAreaData is a facility whose service area covers a queried point.
type ServiceAreaData struct {
	Geometry   models.Geometry `json:"geometry"`
	FacilityID string          `json:"facility_id"`
	Name       string          `json:"name"`
	Address    string          `json:"address"`
	Available  bool            `json:"available"`
}

// AtPointResponse represents the response for the at-point endpoint.
type AtPointResponse struct {
	Facilities []ServiceAreaData `json:"facilities"`
	Count      int               `json:"count"`
}

// FailureData is one failed facility of a fetch run.
type FailureData struct {
	FacilityID string `json:"facility_id"`
	Category   string `json:"category"`
	Message    string `json:"message"`
	OccurredAt string `json:"occurred_at"`
}

// FailuresResponse represents the response for the failures endpoint.
type FailuresResponse struct {
	RunID    string        `json:"run_id"`
	Failures []FailureData `json:"failures"`
	Count    int           `json:"count"`
}

// ServiceAreas handles GET /api/v1/layers/service-areas.
func (h *LayerHandler) ServiceAreas(c *gin.Context) {
	layer, err := h.service.ServiceAreas(c.Request.Context())
	if err != nil {
		h.layerError(c, "service-area", err)
		return
	}
	writeGeoJSON(c, layer.FeatureCollection())
}

// Facilities handles GET /api/v1/layers/facilities.
func (h *LayerHandler) Facilities(c *gin.Context) {
	facilities, err := h.service.Facilities(c.Request.Context())
	if err != nil {
		h.layerError(c, "facility", err)
		return
	}
	writeGeoJSON(c, models.FacilityFeatureCollection(facilities))
}

// Boundaries handles GET /api/v1/layers/boundaries.
func (h *LayerHandler) Boundaries(c *gin.Context) {
	boundaries, err := h.service.Boundaries(c.Request.Context())
	if err != nil {
		h.layerError(c, "boundary", err)
		return
	}
	writeGeoJSON(c, models.BoundaryFeatureCollection(boundaries))
}

// Failures handles GET /api/v1/failures endpoint.
// Without run_id it reports the most recent fetch run.
func (h *LayerHandler) Failures(c *gin.Context) {
	var req FailuresRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}

	report, err := h.service.Failures(c.Request.Context(), req.RunID)
	if err != nil {
		if errors.Is(err, services.ErrNoRuns) {
			apierrors.NotFound(c, "No isochrone run has been recorded")
			return
		}
		apierrors.InternalServerError(c, "Failed to load fetch failures", err)
		return
	}

	failures := make([]FailureData, 0, len(report.Failures))
	for _, f := range report.Failures {
		failures = append(failures, mapFailureToDTO(f))
	}

	c.JSON(http.StatusOK, FailuresResponse{
		RunID:    report.RunID,
		Failures: failures,
		Count:    len(failures),
	})
}

// AtPoint handles GET /api/v1/service-areas/at-point endpoint.
// It lists the facilities whose service area covers the given lat/lng point.
func (h *LayerHandler) AtPoint(c *gin.Context) {
	log := middleware.GetLogger(c)

	// Bind and validate query parameters
	var req AtPointRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		// Generic bad request for other binding errors
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}

	if log != nil {
		log.Info("Processing at-point request", map[string]interface{}{
			"lat": *req.Lat,
			"lng": *req.Lng,
		})
	}

	areas, err := h.service.AtPoint(c.Request.Context(), *req.Lat, *req.Lng)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCoordinates) {
			apierrors.BadRequest(c, err.Error(), nil)
			return
		}
		apierrors.InternalServerError(c, "Failed to query service areas", err)
		return
	}

	facilities := make([]ServiceAreaData, 0, len(areas))
	for _, a := range areas {
		facilities = append(facilities, mapServiceAreaToDTO(a))
	}

	c.JSON(http.StatusOK, AtPointResponse{
		Facilities: facilities,
		Count:      len(facilities),
	})
}

// layerError maps a LayerService error onto the error envelope.
func (h *LayerHandler) layerError(c *gin.Context, layer string, err error) {
	if errors.Is(err, services.ErrLayerNotBuilt) {
		apierrors.ServiceUnavailable(c, "The "+layer+" layer has not been built yet")
		return
	}
	apierrors.InternalServerError(c, "Failed to load "+layer+" layer", err)
}

func writeGeoJSON(c *gin.Context, fc *geojson.FeatureCollection) {
	data, err := fc.MarshalJSON()
	if err != nil {
		apierrors.InternalServerError(c, "Failed to encode layer", err)
		return
	}
	c.Data(http.StatusOK, GeoJSONContentType, data)
}

func mapServiceAreaToDTO(a models.ServiceArea) ServiceAreaData {
	return ServiceAreaData{
		Geometry:   a.Geometry,
		FacilityID: a.FacilityID,
		Name:       a.Name,
		Address:    a.Address,
		Available:  a.Available,
	}
}

func mapFailureToDTO(f models.FetchFailure) FailureData {
	return FailureData{
		FacilityID: f.FacilityID,
		Category:   string(f.Category),
		Message:    f.Message,
		OccurredAt: f.OccurredAt.UTC().Format(time.RFC3339),
	}
}
