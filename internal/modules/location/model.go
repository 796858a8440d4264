// README: Position fixes, acquisition tiers and location errors.
package location

import (
	"errors"
	"math"
	"time"

	"tricykol/internal/geo"
	"tricykol/internal/types"
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrServicesDisabled    = errors.New("location services disabled")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrFixTimeout          = errors.New("timed out waiting for a fix")
	ErrInvalidPosition     = errors.New("invalid position")
)

// Position is a single fix from the device. Accuracy is the 68% confidence
// radius in metres.
type Position struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

func (p Position) Point() types.Point {
	return types.Point{Lat: p.Lat, Lng: p.Lng}
}

// Valid requires real coordinates, a positive accuracy radius and a capture
// time. A zero accuracy is what an empty payload decodes to, never a reading.
func (p Position) Valid() bool {
	if !geo.ValidPoint(p.Point()) {
		return false
	}
	if math.IsNaN(p.Accuracy) || math.IsInf(p.Accuracy, 0) || p.Accuracy <= 0 {
		return false
	}
	return !p.CapturedAt.IsZero()
}

func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.CapturedAt)
}

type Permission string

const (
	PermissionUndetermined Permission = "undetermined"
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
)

// Tier is one step of the one-shot acquisition ladder.
type Tier struct {
	Name         string
	HighAccuracy bool
	Timeout      time.Duration
	// MaxAge lets the provider answer with a recent fix instead of waiting.
	MaxAge    time.Duration
	LastKnown bool
}

var DefaultTiers = []Tier{
	{Name: "balanced", Timeout: 5 * time.Second, MaxAge: 10 * time.Second},
	{Name: "high_accuracy", HighAccuracy: true, Timeout: 15 * time.Second},
	{Name: "last_known", LastKnown: true},
}

type WatchConfig struct {
	HighAccuracy   bool
	MinInterval    time.Duration
	DistanceFilter float64
}

type Subscription interface {
	Stop()
}

// Snapshot is a coarse position sample kept for trip history and replay.
type Snapshot struct {
	ID         int64       `json:"id"`
	OwnerID    types.ID    `json:"ownerId"`
	Position   types.Point `json:"position"`
	Accuracy   float64     `json:"accuracy"`
	RecordedAt time.Time   `json:"recordedAt"`
}
