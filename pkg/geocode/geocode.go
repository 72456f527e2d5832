// Package geocode resolves free-form address strings to coordinates through
// external geocoding services (Nominatim, Census, Google), classifying every
// failure as transient or permanent, and memoizes terminal results.
package geocode

import (
	"context"
	"fmt"
	"math"

	"github.com/rotisserie/eris"
)

// AddressKey is the canonical lookup form of an address. Equality of keys is
// cache identity: two rows with the same key share one external lookup.
type AddressKey string

// Client resolves one address with a single external lookup. It never retries.
//
// Errors are classified with the resilience package: a *resilience.PermanentError
// wrapping ErrNotFound means the service cleanly found nothing; a
// *resilience.TransientError means the call may succeed if repeated. Context
// cancellation is returned unwrapped.
type Client interface {
	Name() string
	Geocode(ctx context.Context, key AddressKey) (Coordinate, error)
}

var (
	// ErrNotFound is returned (wrapped as permanent) when a service has no match.
	ErrNotFound = eris.New("geocode: address not found")

	// ErrInvalidCoordinate is returned when a latitude/longitude pair is out of range.
	ErrInvalidCoordinate = eris.New("geocode: invalid coordinate")
)

// Coordinate is a validated WGS84 latitude/longitude pair.
type Coordinate struct {
	Lat float64
	Lon float64
}

// NewCoordinate validates lat/lon: both finite, lat in [-90,90], lon in [-180,180].
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return Coordinate{}, eris.Wrapf(ErrInvalidCoordinate, "latitude %v", lat)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return Coordinate{}, eris.Wrapf(ErrInvalidCoordinate, "longitude %v", lon)
	}
	return Coordinate{Lat: lat, Lon: lon}, nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Lat, c.Lon)
}

// Unresolved reasons.
const (
	ReasonNotFound         = "not found"
	ReasonRetriesExhausted = "retries exhausted"
	ReasonInvalidAddress   = "invalid address value"
)

// Result is the outcome of resolving one address: either a Coordinate or an
// unresolved reason. The zero Result is unresolved with an empty reason.
type Result struct {
	coord    Coordinate
	resolved bool
	reason   string
}

// Resolved returns a successful Result.
func Resolved(c Coordinate) Result {
	return Result{coord: c, resolved: true}
}

// Unresolved returns a failed Result carrying reason.
func Unresolved(reason string) Result {
	return Result{reason: reason}
}

// IsResolved reports whether the Result carries a coordinate.
func (r Result) IsResolved() bool { return r.resolved }

// Coordinate returns the resolved coordinate; ok is false for unresolved results.
func (r Result) Coordinate() (c Coordinate, ok bool) {
	return r.coord, r.resolved
}

// Reason returns why the address is unresolved, or "" when resolved.
func (r Result) Reason() string { return r.reason }

// Terminal reports whether the Result can never change on a later attempt in
// the same run: a coordinate, or a clean "not found".
func (r Result) Terminal() bool {
	return r.resolved || r.reason == ReasonNotFound
}

func (r Result) String() string {
	if r.resolved {
		return "resolved " + r.coord.String()
	}
	return "unresolved: " + r.reason
}
