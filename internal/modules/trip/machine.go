// README: Trip state machine for one driver's active trip: proximity-gated, optimistic transitions.
package trip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tricykol/internal/events"
	"tricykol/internal/geo"
	"tricykol/internal/modules/booking"
	"tricykol/internal/modules/location"
	"tricykol/internal/modules/settlement"
	"tricykol/internal/observability"
	"tricykol/internal/types"
)

type Positions interface {
	Latest(ctx context.Context) (location.Position, bool, error)
	Fresh(ctx context.Context) (location.Position, error)
}

type Repository interface {
	UpdateStatus(ctx context.Context, bookingID types.ID, from, to Status, patch Patch) error
	SaveRoutes(ctx context.Context, bookingID types.ID, pickup, dropoff []types.Point, at time.Time) error
	UpdateProgress(ctx context.Context, bookingID types.ID, loc types.Point, trackedDistance float64) error
	MarkGuardianNotified(ctx context.Context, bookingID types.ID) error
}

type RoutePlanner interface {
	Route(ctx context.Context, origin, destination types.Point) ([]types.Point, error)
}

type GuardianNotifier interface {
	NotifyTripStarted(ctx context.Context, at booking.ActiveTrip) error
}

type Settler interface {
	Settled(ctx context.Context, bookingID types.ID) (bool, error)
	Quote(ctx context.Context, at booking.ActiveTrip, trackedDistance float64) (settlement.Breakdown, error)
	Settle(ctx context.Context, at booking.ActiveTrip, trackedDistance float64) (*settlement.Receipt, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev events.Event)
}

// Deps are the machine's collaborators. Routes, Guardian and Bus are
// optional.
type Deps struct {
	Positions Positions
	Store     Repository
	Settler   Settler
	Routes    RoutePlanner
	Guardian  GuardianNotifier
	Bus       Publisher
}

type Config struct {
	ArrivalRadiusMeters  float64
	PrecheckRadiusMeters float64
	SampleInterval       time.Duration
	ProgressSyncInterval time.Duration
	RouteTimeout         time.Duration
}

func DefaultConfig() Config {
	return Config{
		ArrivalRadiusMeters:  geo.ArrivalRadiusMeters,
		PrecheckRadiusMeters: geo.ArrivalPrecheckRadiusMeters,
		SampleInterval:       DefaultSampleInterval,
		ProgressSyncInterval: 15 * time.Second,
		RouteTimeout:         30 * time.Second,
	}
}

type Machine struct {
	driverID types.ID
	deps     Deps
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	busy        atomic.Bool
	calculating atomic.Bool
	wg          sync.WaitGroup

	mu                 sync.Mutex
	trip               *booking.ActiveTrip
	distance           *DistanceTracker
	lastProximityState proximityState
	lastProgressSync   time.Time
}

func NewMachine(driverID types.ID, deps Deps, cfg Config, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		driverID: driverID,
		deps:     deps,
		cfg:      cfg,
		logger:   logger.With("driver_id", driverID),
		tracer:   otel.Tracer("tricykol/trip"),
		now:      time.Now,
	}
}

// Load installs the driver's active trip, or clears it when at is nil.
func (m *Machine) Load(at *booking.ActiveTrip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastProximityState.reset()
	m.distance = nil
	if at == nil {
		m.trip = nil
		return
	}
	cp := *at
	if !Status(cp.Status).Valid() {
		cp.Status = string(StatusAccepted)
	}
	m.trip = &cp
	if Status(cp.Status) == StatusInProgress {
		m.distance = NewDistanceTracker(cp.Dropoff.Point(), m.cfg.SampleInterval, cp.TrackedDistance)
	}
}

func (m *Machine) Current() (booking.ActiveTrip, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trip == nil {
		return booking.ActiveTrip{}, false
	}
	return *m.trip, true
}

func (m *Machine) Status() (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trip == nil {
		return "", false
	}
	return Status(m.trip.Status), true
}

// TrackedDistance is the path distance travelled since pickup.
func (m *Machine) TrackedDistance() float64 {
	m.mu.Lock()
	d := m.distance
	m.mu.Unlock()
	if d == nil {
		return 0
	}
	return d.Total()
}

// Wait blocks until background route and guardian work has finished.
func (m *Machine) Wait() {
	m.wg.Wait()
}

// RequestTransition moves the active trip to next. Asking for the status
// the trip is already in is a no-op.
func (m *Machine) RequestTransition(ctx context.Context, next Status) (Result, error) {
	start := m.now()
	ctx, span := m.tracer.Start(ctx, "trip.RequestTransition", trace.WithAttributes(
		attribute.String("driver.id", string(m.driverID)),
		attribute.String("trip.to", string(next)),
	))
	defer span.End()

	res, err := m.requestTransition(ctx, next)
	observability.TransitionsTotal.WithLabelValues(string(next), transitionOutcome(res, err)).Inc()
	observability.TransitionDuration.WithLabelValues(string(next)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return res, err
}

func (m *Machine) requestTransition(ctx context.Context, next Status) (Result, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return Result{}, ErrConcurrentTransition
	}
	defer m.busy.Store(false)

	at, ok := m.Current()
	if !ok {
		return Result{}, ErrNoActiveTrip
	}
	from := Status(at.Status)
	if from == next {
		return Result{From: from, To: next, Noop: true}, nil
	}
	if !CanTransition(from, next) {
		return Result{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}

	switch next {
	case StatusOnTheWay:
		if err := m.commit(ctx, at, next, Patch{}, nil); err != nil {
			return Result{}, err
		}
		m.computeRoutes(ctx, at)

	case StatusArrived:
		if err := m.checkProximity(ctx, at.Pickup.Point(), targetPickup, true); err != nil {
			return Result{}, err
		}
		if err := m.commit(ctx, at, next, Patch{}, nil); err != nil {
			return Result{}, err
		}

	case StatusInProgress:
		pickupTime := m.now()
		if err := m.commit(ctx, at, next, Patch{PickupTime: &pickupTime}, nil); err != nil {
			return Result{}, err
		}
		m.mu.Lock()
		m.distance = NewDistanceTracker(at.Dropoff.Point(), m.cfg.SampleInterval, 0)
		m.lastProximityState.reset()
		m.mu.Unlock()
		at.Status = string(next)
		at.PickupTime = &pickupTime
		m.notifyGuardian(ctx, at)

	case StatusCompleted:
		return m.complete(ctx, at)
	}

	return Result{From: from, To: next}, nil
}

func (m *Machine) complete(ctx context.Context, at booking.ActiveTrip) (Result, error) {
	// An existing trip record means an earlier attempt settled the booking
	// and its reply was lost. The wallet may not cover a second quote.
	settled, err := m.deps.Settler.Settled(ctx, at.BookingID)
	if err != nil {
		m.logger.Warn("checking for an earlier settlement", "booking_id", at.BookingID, "error", err)
	}
	if settled {
		m.publishStatus(ctx, at.BookingID, StatusInProgress, StatusCompleted, false, false)
		return m.closeSettled(at), nil
	}

	if err := m.checkProximity(ctx, at.Dropoff.Point(), targetDropoff, false); err != nil {
		return Result{}, err
	}
	tracked := m.TrackedDistance()
	if _, err := m.deps.Settler.Quote(ctx, at, tracked); err != nil {
		return Result{}, err
	}

	var receipt *settlement.Receipt
	settle := func(ctx context.Context) error {
		r, err := m.deps.Settler.Settle(ctx, at, tracked)
		if errors.Is(err, settlement.ErrAlreadySettled) {
			settled = true
			return nil
		}
		if err != nil {
			return err
		}
		receipt = r
		return nil
	}
	if err := m.commit(ctx, at, StatusCompleted, Patch{}, settle); err != nil {
		return Result{}, err
	}
	if settled {
		return m.closeSettled(at), nil
	}

	m.clearTrip()
	m.publish(ctx, events.Event{
		Kind:      events.SettlementCompleted,
		BookingID: at.BookingID,
		Payload:   receipt,
	})
	return Result{From: StatusInProgress, To: StatusCompleted, Receipt: receipt}, nil
}

// closeSettled drops a trip that an earlier settlement already closed. No
// SettlementCompleted is published: the first commit owns the receipt.
func (m *Machine) closeSettled(at booking.ActiveTrip) Result {
	m.clearTrip()
	m.logger.Info("trip already settled, closing locally", "booking_id", at.BookingID)
	return Result{From: StatusInProgress, To: StatusCompleted, AlreadySettled: true}
}

func (m *Machine) clearTrip() {
	m.mu.Lock()
	m.trip = nil
	m.distance = nil
	m.lastProximityState.reset()
	m.mu.Unlock()
}

// commit applies the new status locally, then runs remote. A nil remote
// writes the status through the store. On failure the local trip is
// restored to its previous value.
func (m *Machine) commit(ctx context.Context, at booking.ActiveTrip, to Status, patch Patch, remote func(context.Context) error) error {
	from := Status(at.Status)
	if remote == nil {
		remote = func(ctx context.Context) error {
			return m.deps.Store.UpdateStatus(ctx, at.BookingID, from, to, patch)
		}
	}

	var prev booking.ActiveTrip
	apply := func() {
		m.mu.Lock()
		if m.trip != nil {
			prev = *m.trip
			m.trip.Status = string(to)
			m.trip.UpdatedAt = m.now()
			if patch.PickupTime != nil {
				m.trip.PickupTime = patch.PickupTime
			}
		}
		m.mu.Unlock()
		m.publishStatus(ctx, at.BookingID, from, to, true, false)
	}
	revert := func() {
		m.mu.Lock()
		if m.trip != nil && m.trip.BookingID == at.BookingID {
			*m.trip = prev
		}
		m.mu.Unlock()
		m.publishStatus(ctx, at.BookingID, to, from, false, true)
	}

	if err := WithOptimisticUpdate(ctx, apply, revert, remote); err != nil {
		m.logger.Warn("trip transition rolled back",
			"booking_id", at.BookingID, "from", from, "to", to, "error", err)
		if isDomainError(err) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrRemoteWriteFailed, err)
	}

	m.publishStatus(ctx, at.BookingID, from, to, false, false)
	m.logger.Info("trip status changed", "booking_id", at.BookingID, "from", from, "to", to)
	return nil
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrConflict,
		ErrNoActiveTrip,
		settlement.ErrInsufficientBalance,
		settlement.ErrSettlementInFlight,
		settlement.ErrWalletNotFound,
		settlement.ErrBookingNotFound,
		settlement.ErrNotAssigned,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// checkProximity requires a fresh fix within the arrival radius of target.
// With precheck set, the last known position is tried first against the
// looser radius so obviously distant attempts skip the fresh fix.
func (m *Machine) checkProximity(ctx context.Context, target types.Point, name string, precheck bool) error {
	if precheck {
		latest, ok, err := m.deps.Positions.Latest(ctx)
		if err != nil {
			m.logger.Warn("reading last known position for precheck", "error", err)
		}
		if ok {
			d := geo.HaversineMeters(latest.Point(), target)
			if d > m.cfg.PrecheckRadiusMeters {
				m.noteProximity(ctx, name, false, d)
				return &OutOfProximityError{Target: name, DistanceMeters: d, RadiusMeters: m.cfg.ArrivalRadiusMeters}
			}
		}
	}

	fix, err := m.deps.Positions.Fresh(ctx)
	if err != nil {
		return err
	}
	d := geo.HaversineMeters(fix.Point(), target)
	within := d <= m.cfg.ArrivalRadiusMeters
	m.noteProximity(ctx, name, within, d)
	if !within {
		return &OutOfProximityError{Target: name, DistanceMeters: d, RadiusMeters: m.cfg.ArrivalRadiusMeters}
	}
	return nil
}

// OnPosition feeds a new fix into the active trip: proximity notices,
// distance tracking and periodic progress sync.
func (m *Machine) OnPosition(ctx context.Context, p location.Position) {
	if !p.Valid() {
		return
	}
	m.mu.Lock()
	if m.trip == nil {
		m.mu.Unlock()
		return
	}
	pt := p.Point()
	m.trip.DriverCurrentLocation = &pt
	at := *m.trip
	dist := m.distance
	m.mu.Unlock()

	switch Status(at.Status) {
	case StatusOnTheWay:
		d := geo.HaversineMeters(pt, at.Pickup.Point())
		m.noteProximity(ctx, targetPickup, d <= m.cfg.ArrivalRadiusMeters, d)
	case StatusInProgress:
		d := geo.HaversineMeters(pt, at.Dropoff.Point())
		m.noteProximity(ctx, targetDropoff, d <= m.cfg.ArrivalRadiusMeters, d)
		if dist != nil {
			dist.Sample(p)
			m.syncProgress(ctx, at.BookingID, pt, dist.Total())
		}
	}
}

func (m *Machine) syncProgress(ctx context.Context, bookingID types.ID, pt types.Point, tracked float64) {
	now := m.now()
	m.mu.Lock()
	due := m.lastProgressSync.IsZero() || now.Sub(m.lastProgressSync) >= m.cfg.ProgressSyncInterval
	if due {
		m.lastProgressSync = now
	}
	if m.trip != nil {
		m.trip.TrackedDistance = tracked
	}
	m.mu.Unlock()
	if !due {
		return
	}
	if err := m.deps.Store.UpdateProgress(ctx, bookingID, pt, tracked); err != nil {
		m.logger.Warn("syncing trip progress", "booking_id", bookingID, "error", err)
	}
}

func (m *Machine) noteProximity(ctx context.Context, target string, within bool, distance float64) {
	m.mu.Lock()
	changed := m.lastProximityState.update(target, within, distance)
	var bookingID types.ID
	if m.trip != nil {
		bookingID = m.trip.BookingID
	}
	m.mu.Unlock()
	if !changed {
		return
	}
	m.publish(ctx, events.Event{
		Kind:      events.ProximityChanged,
		BookingID: bookingID,
		Payload:   events.Proximity{Target: target, Within: within, DistanceMeters: distance},
	})
}

// computeRoutes fetches the driver to pickup and pickup to dropoff routes
// in the background. Only one computation runs at a time.
func (m *Machine) computeRoutes(ctx context.Context, at booking.ActiveTrip) {
	if m.deps.Routes == nil {
		return
	}
	if !m.calculating.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.calculating.Store(false)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.RouteTimeout)
		defer cancel()

		var pickupRoute []types.Point
		if latest, ok, _ := m.deps.Positions.Latest(ctx); ok {
			r, err := m.deps.Routes.Route(ctx, latest.Point(), at.Pickup.Point())
			if err != nil {
				m.logger.Warn("computing pickup route", "booking_id", at.BookingID, "error", err)
			}
			pickupRoute = r
		}
		dropoffRoute, err := m.deps.Routes.Route(ctx, at.Pickup.Point(), at.Dropoff.Point())
		if err != nil {
			m.logger.Warn("computing dropoff route", "booking_id", at.BookingID, "error", err)
		}
		if pickupRoute == nil && dropoffRoute == nil {
			return
		}

		now := m.now()
		m.mu.Lock()
		if m.trip != nil && m.trip.BookingID == at.BookingID {
			m.trip.PickupRoute = pickupRoute
			m.trip.DropoffRoute = dropoffRoute
			m.trip.RoutesCalculatedAt = &now
		}
		m.mu.Unlock()
		if err := m.deps.Store.SaveRoutes(ctx, at.BookingID, pickupRoute, dropoffRoute, now); err != nil {
			m.logger.Warn("saving routes", "booking_id", at.BookingID, "error", err)
		}
	}()
}

// notifyGuardian enqueues the trip-started alert. Failures are logged and
// never affect the transition.
func (m *Machine) notifyGuardian(ctx context.Context, at booking.ActiveTrip) {
	if m.deps.Guardian == nil || at.Guardian == nil || at.Guardian.Notified {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx := context.WithoutCancel(ctx)
		if err := m.deps.Guardian.NotifyTripStarted(ctx, at); err != nil {
			m.logger.Warn("guardian notification failed", "booking_id", at.BookingID, "error", err)
			return
		}
		m.mu.Lock()
		if m.trip != nil && m.trip.BookingID == at.BookingID && m.trip.Guardian != nil {
			g := *m.trip.Guardian
			g.Notified = true
			m.trip.Guardian = &g
		}
		m.mu.Unlock()
		if err := m.deps.Store.MarkGuardianNotified(ctx, at.BookingID); err != nil {
			m.logger.Warn("marking guardian notified", "booking_id", at.BookingID, "error", err)
		}
	}()
}

func (m *Machine) publishStatus(ctx context.Context, bookingID types.ID, from, to Status, tentative, rolledBack bool) {
	m.publish(ctx, events.Event{
		Kind:      events.TripStatusChanged,
		BookingID: bookingID,
		Payload: events.StatusChange{
			From:       string(from),
			To:         string(to),
			Tentative:  tentative,
			RolledBack: rolledBack,
		},
	})
}

func (m *Machine) publish(ctx context.Context, ev events.Event) {
	if m.deps.Bus == nil {
		return
	}
	ev.DriverID = m.driverID
	m.deps.Bus.Publish(ctx, ev)
}

func transitionOutcome(res Result, err error) string {
	switch {
	case err == nil && res.Noop:
		return "noop"
	case err == nil && res.AlreadySettled:
		return "already_settled"
	case err == nil:
		return "ok"
	case errors.Is(err, ErrOutOfProximity):
		return "out_of_proximity"
	case errors.Is(err, settlement.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrConcurrentTransition):
		return "concurrent"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, ErrRemoteWriteFailed):
		return "rolled_back"
	default:
		return "error"
	}
}
