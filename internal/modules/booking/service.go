// README: Booking service validates driver requests and acceptance before hitting the store.
package booking

import (
	"context"
	"log/slog"

	"tricykol/internal/types"
)

type Repository interface {
	Get(ctx context.Context, id types.ID) (*Booking, error)
	ActiveForDriver(ctx context.Context, driverID types.ID) (*ActiveTrip, error)
	RequestRide(ctx context.Context, cmd RequestCommand) error
	Accept(ctx context.Context, cmd AcceptCommand) (*ActiveTrip, error)
}

type Service struct {
	store  Repository
	logger *slog.Logger
}

func NewService(store Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Booking, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return s.store.Get(ctx, id)
}

func (s *Service) ActiveForDriver(ctx context.Context, driverID types.ID) (*ActiveTrip, error) {
	return s.store.ActiveForDriver(ctx, driverID)
}

// RequestRide refuses drivers that already own an active trip. The store
// re-checks inside its transaction.
func (s *Service) RequestRide(ctx context.Context, cmd RequestCommand) error {
	if cmd.BookingID == "" || cmd.DriverID == "" {
		return ErrBadRequest
	}
	active, err := s.store.ActiveForDriver(ctx, cmd.DriverID)
	if err != nil {
		return err
	}
	if active != nil {
		return ErrDriverBusy
	}
	if err := s.store.RequestRide(ctx, cmd); err != nil {
		return err
	}
	s.logger.Info("ride requested", "booking_id", cmd.BookingID, "driver_id", cmd.DriverID)
	return nil
}

func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*ActiveTrip, error) {
	if cmd.BookingID == "" || cmd.DriverID == "" {
		return nil, ErrBadRequest
	}
	active, err := s.store.ActiveForDriver(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, ErrDriverBusy
	}
	at, err := s.store.Accept(ctx, cmd)
	if err != nil {
		return nil, err
	}
	s.logger.Info("booking accepted", "booking_id", cmd.BookingID, "driver_id", cmd.DriverID)
	return at, nil
}
