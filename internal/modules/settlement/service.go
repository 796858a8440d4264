// README: Settlement service prices a finished trip and commits it atomically.
package settlement

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tricykol/internal/geo"
	"tricykol/internal/modules/booking"
	"tricykol/internal/observability"
	"tricykol/internal/types"
)

type Repository interface {
	WalletBalance(ctx context.Context, driverID types.ID) (float64, error)
	// Settled reports whether a trip record already exists for the booking.
	Settled(ctx context.Context, bookingID types.ID) (bool, error)
	// Commit must create the trip record, debit the wallet, create the fee
	// transaction and delete the booking atomically.
	Commit(ctx context.Context, s Settlement) (*Receipt, error)
}

type Service struct {
	repo     Repository
	rates    Rates
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time
	inFlight sync.Map
}

func NewService(repo Repository, rates Rates, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		rates:  rates,
		tracer: otel.Tracer("tricykol/settlement"),
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) Rates() Rates {
	return s.rates
}

// Breakdown prices the trip using the tracked distance when there is one.
func (s *Service) Breakdown(at booking.ActiveTrip, trackedDistance float64) Breakdown {
	direct := geo.HaversineMeters(at.Pickup.Point(), at.Dropoff.Point())
	distance := SettlementDistance(trackedDistance, direct)
	return s.rates.ComputeForPassengers(distance, at.PassengerCount)
}

// Settled reports whether the booking was already closed by an earlier
// settlement, e.g. one whose reply never reached the caller.
func (s *Service) Settled(ctx context.Context, bookingID types.ID) (bool, error) {
	return s.repo.Settled(ctx, bookingID)
}

// Quote prices the trip and checks the wallet can cover the system fee.
// Nothing is written.
func (s *Service) Quote(ctx context.Context, at booking.ActiveTrip, trackedDistance float64) (Breakdown, error) {
	b := s.Breakdown(at, trackedDistance)
	balance, err := s.repo.WalletBalance(ctx, types.ID(at.DriverID))
	if err != nil {
		return Breakdown{}, err
	}
	if balance < float64(b.SystemFee.Amount) {
		return Breakdown{}, &InsufficientBalanceError{Balance: balance, Required: b.SystemFee.Amount}
	}
	return b, nil
}

// Settle closes the trip. At most one attempt per booking runs at a time.
func (s *Service) Settle(ctx context.Context, at booking.ActiveTrip, trackedDistance float64) (*Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "settlement.Settle", trace.WithAttributes(
		attribute.String("booking.id", string(at.BookingID)),
		attribute.String("driver.id", at.DriverID),
	))
	defer span.End()

	if _, loaded := s.inFlight.LoadOrStore(at.BookingID, struct{}{}); loaded {
		observability.SettlementsTotal.WithLabelValues("in_flight").Inc()
		return nil, ErrSettlementInFlight
	}
	defer s.inFlight.Delete(at.BookingID)

	receipt, err := s.settle(ctx, at, trackedDistance)
	if err != nil {
		observability.SettlementsTotal.WithLabelValues(outcome(err)).Inc()
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	observability.SettlementsTotal.WithLabelValues("ok").Inc()
	observability.SystemFeesCollected.Add(float64(receipt.Breakdown.SystemFee.Amount))
	s.logger.Info("trip settled",
		"booking_id", at.BookingID,
		"driver_id", at.DriverID,
		"distance_m", receipt.Breakdown.DistanceMeters,
		"fare", receipt.Breakdown.Fare.Amount,
		"system_fee", receipt.Breakdown.SystemFee.Amount,
		"balance_after", receipt.BalanceAfter,
	)
	return receipt, nil
}

func (s *Service) settle(ctx context.Context, at booking.ActiveTrip, trackedDistance float64) (*Receipt, error) {
	b, err := s.Quote(ctx, at, trackedDistance)
	if err != nil {
		return nil, err
	}
	at.TrackedDistance = trackedDistance
	return s.repo.Commit(ctx, Settlement{
		Trip:          at,
		Breakdown:     b,
		TransactionID: uuid.NewString(),
		SettledAt:     s.now(),
	})
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrAlreadySettled):
		return "already_settled"
	default:
		return "error"
	}
}
