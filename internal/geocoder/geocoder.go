// Package geocoder turns postal addresses into WGS84 points.
package geocoder

import (
	"context"
	"errors"
	"strings"

	"github.com/paulmach/orb"
)

var (
	// ErrNoMatch is returned when the geocoder found no candidate for an address.
	ErrNoMatch = errors.New("no address match")
	// ErrEmptyAddress is returned for blank input without calling the provider.
	ErrEmptyAddress = errors.New("address is empty")
	// ErrUnavailable wraps transport and non-2xx failures.
	ErrUnavailable = errors.New("geocoder unavailable")
)

// Result is the best match for an address. Point is [lon, lat].
type Result struct {
	Point          orb.Point `json:"point"`
	MatchedAddress string    `json:"matchedAddress"`
	MatchCount     int       `json:"matchCount"`
}

// Ambiguous reports whether the provider returned several candidates.
func (r *Result) Ambiguous() bool {
	return r != nil && r.MatchCount > 1
}

// Geocoder resolves one free-text address.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*Result, error)
}

// NormalizeAddress produces the cache key form of an address:
// lower case, single spaces, no trailing punctuation.
func NormalizeAddress(address string) string {
	fields := strings.Fields(strings.ToLower(address))
	return strings.TrimRight(strings.Join(fields, " "), " ,.")
}
