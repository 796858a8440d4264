// README: Distance tracker accumulating the travelled path while a trip is in progress.
package trip

import (
	"math"
	"sync"
	"time"

	"tricykol/internal/geo"
	"tricykol/internal/modules/location"
	"tricykol/internal/types"
)

const (
	DefaultSampleInterval = 500 * time.Millisecond

	// MaxPlausibleSpeed is in metres per second, well above a loaded
	// tricycle's top speed.
	MaxPlausibleSpeed = 25.0

	// reanchorAfter consecutive implausible steps means the anchor itself
	// was the bad fix.
	reanchorAfter = 3
)

type DistanceTracker struct {
	mu         sync.Mutex
	dropoff    types.Point
	interval   time.Duration
	total      float64
	remaining  float64
	anchor     *location.Position
	lastSample time.Time
	outliers   int
}

// NewDistanceTracker starts from initial metres, e.g. a distance restored
// from the active trip after a restart.
func NewDistanceTracker(dropoff types.Point, interval time.Duration, initial float64) *DistanceTracker {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &DistanceTracker{dropoff: dropoff, interval: interval, total: math.Max(initial, 0), remaining: -1}
}

// Sample feeds a fix. Fixes closer together than the sample interval are
// skipped, and steps smaller than the fixes' accuracy are treated as jitter
// and held against the last anchor. Steps faster than MaxPlausibleSpeed are
// dropped as outliers. Reports whether the total grew.
func (d *DistanceTracker) Sample(p location.Position) bool {
	if !p.Valid() {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.lastSample.IsZero() && p.CapturedAt.Sub(d.lastSample) < d.interval {
		return false
	}
	d.lastSample = p.CapturedAt
	d.remaining = geo.HaversineMeters(p.Point(), d.dropoff)

	if d.anchor == nil {
		cp := p
		d.anchor = &cp
		return false
	}
	step := geo.HaversineMeters(d.anchor.Point(), p.Point())
	if step <= math.Max(d.anchor.Accuracy, p.Accuracy) {
		return false
	}
	cp := p
	elapsed := p.CapturedAt.Sub(d.anchor.CapturedAt).Seconds()
	if elapsed <= 0 || step/elapsed > MaxPlausibleSpeed {
		d.outliers++
		if d.outliers >= reanchorAfter {
			d.anchor = &cp
			d.outliers = 0
		}
		return false
	}
	d.outliers = 0
	d.total += step
	d.anchor = &cp
	return true
}

func (d *DistanceTracker) Total() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

// Remaining is the straight-line distance to dropoff from the last sample,
// or -1 before the first sample.
func (d *DistanceTracker) Remaining() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remaining
}
