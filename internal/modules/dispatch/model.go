// README: Driver session types shared by the registry, stores and HTTP layer.
package dispatch

import (
	"context"
	"errors"

	"tricykol/internal/events"
	"tricykol/internal/modules/booking"
	"tricykol/internal/types"
)

var (
	ErrClosed        = errors.New("dispatch registry closed")
	ErrGoingOnline   = errors.New("driver is already going online")
	ErrOnlineAborted = errors.New("going online was cancelled")
)

type DriverStatus string

const (
	DriverOnline  DriverStatus = "online"
	DriverOffline DriverStatus = "offline"
)

type Bookings interface {
	ActiveForDriver(ctx context.Context, driverID types.ID) (*booking.ActiveTrip, error)
	RequestRide(ctx context.Context, cmd booking.RequestCommand) error
	Accept(ctx context.Context, cmd booking.AcceptCommand) (*booking.ActiveTrip, error)
}

type StatusWriter interface {
	SetStatus(ctx context.Context, driverID types.ID, status DriverStatus) error
}

// Index tracks where online drivers are.
type Index interface {
	Upsert(ctx context.Context, driverID types.ID, p types.Point) error
	Remove(ctx context.Context, driverID types.ID) error
}

type Publisher interface {
	Publish(ctx context.Context, ev events.Event)
}
