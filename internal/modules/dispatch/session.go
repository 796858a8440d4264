// README: Per-driver session fanning device fixes out to tracking, matching and the trip machine.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"tricykol/internal/modules/booking"
	"tricykol/internal/modules/location"
	"tricykol/internal/modules/trip"
	"tricykol/internal/observability"
	"tricykol/internal/types"
)

type Session struct {
	driverID types.ID
	feed     *location.DeviceFeed
	tracker  *location.Tracker
	matcher  *booking.Matcher
	machine  *trip.Machine
	bookings Bookings
	status   StatusWriter
	index    Index
	logger   *slog.Logger

	// ctx outlives individual requests; watches and feeds hang off it.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	online       bool
	starting     bool
	stopTracking context.CancelFunc
}

func (s *Session) DriverID() types.ID {
	return s.driverID
}

// SetAccess records the device's permission and services state.
func (s *Session) SetAccess(permission location.Permission, servicesEnabled bool) {
	s.feed.SetAccess(permission, servicesEnabled)
}

// PushFix hands a device fix to the location feed.
func (s *Session) PushFix(p location.Position) error {
	return s.feed.Push(p)
}

// PromptRequested reports whether the device should show the permission
// prompt.
func (s *Session) PromptRequested() bool {
	return s.feed.PromptRequested()
}

func (s *Session) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// GoOnline starts tracking and connects the pending-booking feed.
// Permission and services errors are returned unchanged. The initial fix
// is awaited without the session lock; GoOffline or the end of ctx abort
// the wait.
func (s *Session) GoOnline(ctx context.Context) error {
	s.mu.Lock()
	if s.online {
		s.mu.Unlock()
		return nil
	}
	if s.starting {
		s.mu.Unlock()
		return ErrGoingOnline
	}
	trackCtx, cancel := context.WithCancel(s.ctx)
	s.starting = true
	s.stopTracking = cancel
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, cancel)
	err := s.tracker.Start(trackCtx)
	requestDone := !stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	switch {
	case requestDone:
		err = ctx.Err()
	case trackCtx.Err() != nil:
		err = ErrOnlineAborted
	}
	if err == nil {
		err = s.status.SetStatus(ctx, s.driverID, DriverOnline)
	}
	if err != nil {
		s.tracker.Stop()
		cancel()
		s.stopTracking = nil
		return err
	}
	s.matcher.SetOnline(s.ctx, true)
	if p, ok, err := s.tracker.Latest(ctx); err == nil && ok {
		s.matcher.UpdatePosition(ctx, p.Point())
	}
	s.online = true
	observability.DriversOnline.Inc()
	s.logger.Info("driver online")
	return nil
}

func (s *Session) GoOffline(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopTracking != nil {
		s.stopTracking()
		s.stopTracking = nil
	}
	if !s.online {
		return nil
	}
	s.matcher.SetOnline(s.ctx, false)
	s.tracker.Stop()
	s.online = false
	observability.DriversOnline.Dec()
	if s.index != nil {
		if err := s.index.Remove(ctx, s.driverID); err != nil {
			s.logger.Warn("removing driver from online index", "error", err)
		}
	}
	if err := s.status.SetStatus(ctx, s.driverID, DriverOffline); err != nil {
		return err
	}
	s.logger.Info("driver offline")
	return nil
}

func (s *Session) onFix(ctx context.Context, p location.Position) {
	observability.FixesAccepted.Inc()
	s.matcher.UpdatePosition(ctx, p.Point())
	s.machine.OnPosition(ctx, p)
	if s.index != nil {
		if err := s.index.Upsert(ctx, s.driverID, p.Point()); err != nil {
			s.logger.Warn("updating online index", "error", err)
		}
	}
}

func (s *Session) Nearby() []booking.Group {
	return s.matcher.Results()
}

func (s *Session) RequestBooking(ctx context.Context, bookingID types.ID) error {
	return s.bookings.RequestRide(ctx, booking.RequestCommand{BookingID: bookingID, DriverID: s.driverID})
}

func (s *Session) Trip() (booking.ActiveTrip, bool) {
	return s.machine.Current()
}

func (s *Session) LoadTrip(at *booking.ActiveTrip) {
	s.machine.Load(at)
}

func (s *Session) Transition(ctx context.Context, next trip.Status) (trip.Result, error) {
	return s.machine.RequestTransition(ctx, next)
}

// LastPosition is the latest cached position, if any.
func (s *Session) LastPosition(ctx context.Context) (location.Position, bool, error) {
	return s.tracker.Latest(ctx)
}

// Close takes the driver offline and waits for background trip work.
func (s *Session) Close(ctx context.Context) error {
	err := s.GoOffline(ctx)
	s.cancel()
	s.machine.Wait()
	return err
}
