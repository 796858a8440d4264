// README: Tracker runs continuous location tracking for one driver and publishes position events.
package location

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"tricykol/internal/events"
	"tricykol/internal/types"
)

type Publisher interface {
	Publish(ctx context.Context, ev events.Event)
}

type Tracker struct {
	driverID types.ID
	acquirer *Acquirer
	cache    *Cache
	bus      Publisher
	logger   *slog.Logger

	mu    sync.Mutex
	sub   Subscription
	onFix []func(context.Context, Position)
	alive atomic.Bool
}

func NewTracker(driverID types.ID, acquirer *Acquirer, cache *Cache, bus Publisher, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		driverID: driverID,
		acquirer: acquirer,
		cache:    cache,
		bus:      bus,
		logger:   logger.With("driver_id", driverID),
	}
}

// OnFix registers fn to run for every accepted watch fix.
func (t *Tracker) OnFix(fn func(context.Context, Position)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFix = append(t.onFix, fn)
}

// Start checks access, seeds the cache with an initial fix and begins
// watching. ctx bounds the watch and must outlive the calling request.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	running := t.sub != nil
	t.mu.Unlock()
	if running {
		return nil
	}
	if err := t.acquirer.EnsureAccess(ctx); err != nil {
		return err
	}
	t.cache.ResetTracking()
	t.alive.Store(true)

	if p, err := t.acquirer.CurrentFix(ctx); err != nil {
		if !errors.Is(err, ErrLocationUnavailable) {
			t.alive.Store(false)
			return err
		}
		t.logger.Warn("no initial fix; waiting for watch updates")
	} else {
		t.handleFix(ctx, p)
	}

	sub, err := t.acquirer.Watch(ctx, func(p Position) { t.handleFix(ctx, p) }, nil)
	if err != nil {
		t.alive.Store(false)
		return err
	}
	t.mu.Lock()
	if t.sub != nil {
		t.mu.Unlock()
		sub.Stop()
		return nil
	}
	t.sub = sub
	t.mu.Unlock()
	t.logger.Info("location tracking started")
	return nil
}

func (t *Tracker) Stop() {
	t.alive.Store(false)
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()
	if sub != nil {
		sub.Stop()
		t.logger.Info("location tracking stopped")
	}
}

func (t *Tracker) Running() bool {
	return t.alive.Load()
}

// Latest returns the last known position without touching the device.
func (t *Tracker) Latest(ctx context.Context) (Position, bool, error) {
	return t.cache.Read(ctx)
}

// Fresh acquires a new fix through the full tier ladder.
func (t *Tracker) Fresh(ctx context.Context) (Position, error) {
	p, err := t.acquirer.CurrentFix(ctx)
	if err != nil {
		return Position{}, err
	}
	return p, nil
}

func (t *Tracker) handleFix(ctx context.Context, p Position) {
	if !t.alive.Load() {
		return
	}
	if t.bus != nil {
		t.bus.Publish(ctx, events.Event{
			Kind:     events.PositionUpdated,
			DriverID: t.driverID,
			Payload:  p,
		})
	}
	t.mu.Lock()
	hooks := append([]func(context.Context, Position){}, t.onFix...)
	t.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx, p)
	}
}
