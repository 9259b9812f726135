package routing

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// HERE flexible polyline: a header (format version, precision, optional third
// dimension) followed by zig-zag varint deltas, 5 bits per character.

const flexAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

const flexFormatVersion = 1

var errBadPolyline = errors.New("invalid flexible polyline")

var flexDecodeTable = func() [128]int8 {
	var table [128]int8
	for i := range table {
		table[i] = -1
	}
	for i := 0; i < len(flexAlphabet); i++ {
		table[flexAlphabet[i]] = int8(i)
	}
	return table
}()

type flexReader struct {
	s   string
	pos int
}

func (r *flexReader) done() bool {
	return r.pos >= len(r.s)
}

func (r *flexReader) unsigned() (uint64, error) {
	var result uint64
	var shift uint
	for {
		if r.done() {
			return 0, fmt.Errorf("%w: truncated value at offset %d", errBadPolyline, r.pos)
		}
		c := r.s[r.pos]
		r.pos++
		if c >= 128 || flexDecodeTable[c] < 0 {
			return 0, fmt.Errorf("%w: unexpected character %q", errBadPolyline, c)
		}
		v := uint64(flexDecodeTable[c])
		result |= (v & 0x1f) << shift
		if v&0x20 == 0 {
			return result, nil
		}
		shift += 5
		if shift > 60 {
			return 0, fmt.Errorf("%w: value overflow", errBadPolyline)
		}
	}
}

func (r *flexReader) signed() (int64, error) {
	u, err := r.unsigned()
	if err != nil {
		return 0, err
	}
	if u&1 == 1 {
		return ^int64(u >> 1), nil
	}
	return int64(u >> 1), nil
}

// decodeFlexPolyline returns the polyline as [lon, lat] points.
// A third dimension, if present, is read and discarded.
func decodeFlexPolyline(encoded string) ([]orb.Point, error) {
	r := &flexReader{s: encoded}

	version, err := r.unsigned()
	if err != nil {
		return nil, err
	}
	if version != flexFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", errBadPolyline, version)
	}
	header, err := r.unsigned()
	if err != nil {
		return nil, err
	}
	precision := int(header & 15)
	thirdDim := (header >> 4) & 7
	factor := math.Pow10(precision)

	var points []orb.Point
	var lat, lng int64
	for !r.done() {
		dLat, err := r.signed()
		if err != nil {
			return nil, err
		}
		dLng, err := r.signed()
		if err != nil {
			return nil, err
		}
		if thirdDim != 0 {
			if _, err := r.signed(); err != nil {
				return nil, err
			}
		}
		lat += dLat
		lng += dLng
		points = append(points, orb.Point{float64(lng) / factor, float64(lat) / factor})
	}
	return points, nil
}

// decodeFlexRing decodes a polygon ring and closes it if the provider left it open.
func decodeFlexRing(encoded string) (orb.Ring, error) {
	points, err := decodeFlexPolyline(encoded)
	if err != nil {
		return nil, err
	}
	if len(points) < 3 {
		return nil, fmt.Errorf("%w: ring has %d points", errBadPolyline, len(points))
	}
	ring := orb.Ring(points)
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring, nil
}
