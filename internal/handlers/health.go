package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/reach/internal/middleware"
	"github.com/stwalsh4118/reach/internal/services"
)

const (
	// APIVersion is the current version of the API
	APIVersion = "0.1.0"
	// HealthCheckTimeout bounds the store ping and the layer counts together
	HealthCheckTimeout = 2 * time.Second
)

// Pinger reports whether the layer store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LayerStatusReader reports how much of each served layer has been built.
type LayerStatusReader interface {
	Status(ctx context.Context) (*services.LayerStatus, error)
}

// HealthHandler serves liveness, readiness and build information.
type HealthHandler struct {
	db        Pinger
	layers    LayerStatusReader
	startTime time.Time
	env       string
}

// NewHealthHandler creates a new HealthHandler instance.
func NewHealthHandler(db Pinger, layers LayerStatusReader, env string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		layers:    layers,
		startTime: time.Now(),
		env:       env,
	}
}

// HealthResponse represents the basic health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse reports the store connection and the served layers.
type ReadyResponse struct {
	Status   string                `json:"status"`
	Database string                `json:"database"`
	Layers   *services.LayerStatus `json:"layers,omitempty"`
}

// InfoResponse represents the API information response.
type InfoResponse struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
	Uptime      string `json:"uptime"`
}

// Health handles GET /health. It checks no dependencies.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}

// Ready handles GET /health/ready.
// The API is ready once the store answers and the service-area layer has rows.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), HealthCheckTimeout)
	defer cancel()

	log := middleware.GetLogger(c)

	if err := h.db.Ping(ctx); err != nil {
		if log != nil {
			log.Error("Database health check failed", err, map[string]interface{}{
				"timeout": HealthCheckTimeout.String(),
			})
		}
		c.JSON(http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Database: "disconnected"})
		return
	}

	status, err := h.layers.Status(ctx)
	if err != nil {
		if log != nil {
			log.Error("Layer status check failed", err, nil)
		}
		c.JSON(http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Database: "connected"})
		return
	}

	if !status.Ready() {
		if log != nil {
			log.Warn("Service-area layer has not been built", map[string]interface{}{
				"boundaries":    status.Boundaries,
				"latest_run_id": status.LatestRunID,
			})
		}
		c.JSON(http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Database: "connected", Layers: status})
		return
	}

	c.JSON(http.StatusOK, ReadyResponse{Status: "ready", Database: "connected", Layers: status})
}

// Info handles GET /api/v1/info.
func (h *HealthHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, InfoResponse{
		Version:     APIVersion,
		Environment: h.env,
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
	})
}
