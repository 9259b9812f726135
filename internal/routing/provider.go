// Package routing talks to isoline routing providers.
package routing

import (
	"context"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/stwalsh4118/reach/internal/models"
)

// Optimization preferences accepted by the provider.
const (
	OptimizeQuality     = "quality"
	OptimizePerformance = "performance"
	OptimizeBalanced    = "balanced"
)

// ValidOptimizeFor reports whether s is an optimization preference the provider accepts.
func ValidOptimizeFor(s string) bool {
	switch s {
	case OptimizeQuality, OptimizePerformance, OptimizeBalanced:
		return true
	}
	return false
}

// Provider computes drive-time polygons around an origin.
type Provider interface {
	Isoline(ctx context.Context, req IsolineRequest) (*Isoline, error)
}

// IsolineRequest describes a single-threshold isoline around Origin.
// Origin is [lon, lat].
type IsolineRequest struct {
	Origin      orb.Point
	Range       time.Duration
	Mode        models.TransportMode
	OptimizeFor string
	Aggregate   bool
	Traffic     bool
}

// Notice is a provider-signalled data-quality issue attached to a response.
type Notice struct {
	Code  string `json:"code"`
	Title string `json:"title"`
}

// Isoline is the provider's answer. A non-empty Notices means the geometry is
// degraded and must not be treated as a clean result.
type Isoline struct {
	Geometry     orb.MultiPolygon
	Notices      []Notice
	SRID         int
	RangeSeconds int
}

// HasNotices reports whether the provider flagged the result.
func (i *Isoline) HasNotices() bool {
	return i != nil && len(i.Notices) > 0
}

// NoticeText joins every notice into one diagnostic line.
func (i *Isoline) NoticeText() string {
	if i == nil {
		return ""
	}
	parts := make([]string, 0, len(i.Notices))
	for _, n := range i.Notices {
		switch {
		case n.Code != "" && n.Title != "":
			parts = append(parts, n.Code+": "+n.Title)
		case n.Title != "":
			parts = append(parts, n.Title)
		default:
			parts = append(parts, n.Code)
		}
	}
	return strings.Join(parts, "; ")
}
