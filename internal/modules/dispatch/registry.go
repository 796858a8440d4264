// README: Registry owning one session per driver, built from shared dependencies.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tricykol/internal/cache"
	"tricykol/internal/modules/booking"
	"tricykol/internal/modules/location"
	"tricykol/internal/modules/trip"
	"tricykol/internal/types"
)

// Deps are shared by every session. Snapshots, Routes, Guardian and Index
// are optional.
type Deps struct {
	Local     cache.Store
	Remote    location.RemoteStore
	Snapshots location.SnapshotAppender
	Pending   booking.Feed
	Namer     booking.Namer
	Bookings  Bookings
	Trips     trip.Repository
	Settler   trip.Settler
	Routes    trip.RoutePlanner
	Guardian  trip.GuardianNotifier
	Drivers   StatusWriter
	Index     Index
	Bus       Publisher

	Acquirer location.AcquirerConfig
	Cache    location.CacheConfig
	Trip     trip.Config
}

type Registry struct {
	deps   Deps
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	sessions map[types.ID]*Session
}

// NewRegistry ties every session's lifetime to ctx.
func NewRegistry(ctx context.Context, deps Deps, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Registry{
		deps:     deps,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[types.ID]*Session),
	}
}

// Session returns the driver's session, creating it and restoring any
// active trip on first use.
func (r *Registry) Session(ctx context.Context, driverID types.ID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if s, ok := r.sessions[driverID]; ok {
		return s, nil
	}

	at, err := r.deps.Bookings.ActiveForDriver(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("restoring active trip for %s: %w", driverID, err)
	}
	s := r.build(driverID)
	s.machine.Load(at)
	r.sessions[driverID] = s
	return s, nil
}

// Lookup returns an existing session without creating one.
func (r *Registry) Lookup(driverID types.ID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[driverID]
	return s, ok
}

func (r *Registry) build(driverID types.ID) *Session {
	logger := r.logger.With("driver_id", driverID)
	ctx, cancel := context.WithCancel(r.ctx)

	feed := location.NewDeviceFeed()
	positions := location.NewCache(driverID, r.deps.Local, r.deps.Remote, r.deps.Snapshots, r.deps.Cache, logger)
	acquirer := location.NewAcquirer(feed, positions, r.deps.Acquirer, logger)
	tracker := location.NewTracker(driverID, acquirer, positions, r.deps.Bus, logger)
	matcher := booking.NewMatcher(driverID, r.deps.Pending, r.deps.Namer, r.deps.Bus, logger)
	machine := trip.NewMachine(driverID, trip.Deps{
		Positions: tracker,
		Store:     r.deps.Trips,
		Settler:   r.deps.Settler,
		Routes:    r.deps.Routes,
		Guardian:  r.deps.Guardian,
		Bus:       r.deps.Bus,
	}, r.deps.Trip, logger)

	s := &Session{
		driverID: driverID,
		feed:     feed,
		tracker:  tracker,
		matcher:  matcher,
		machine:  machine,
		bookings: r.deps.Bookings,
		status:   r.deps.Drivers,
		index:    r.deps.Index,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	tracker.OnFix(s.onFix)
	return s
}

// Accept assigns a booking to a driver on the passenger's behalf and hands
// the new trip to the driver's session if one is live.
func (r *Registry) Accept(ctx context.Context, cmd booking.AcceptCommand) (*booking.ActiveTrip, error) {
	at, err := r.deps.Bookings.Accept(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if s, ok := r.Lookup(cmd.DriverID); ok {
		s.LoadTrip(at)
	}
	return at, nil
}

// Close takes every driver offline. Sessions cannot be created afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing session %s: %w", s.driverID, err))
		}
	}
	r.cancel()
	return errors.Join(errs...)
}
