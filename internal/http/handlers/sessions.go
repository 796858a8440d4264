// README: Session surface consumed by the driver, trip and booking handlers.
package handlers

import (
	"context"

	"tricykol/internal/modules/booking"
	"tricykol/internal/modules/dispatch"
	"tricykol/internal/modules/location"
	"tricykol/internal/modules/trip"
	"tricykol/internal/types"
)

// DriverSession is implemented by *dispatch.Session.
type DriverSession interface {
	SetAccess(permission location.Permission, servicesEnabled bool)
	PromptRequested() bool
	PushFix(p location.Position) error
	Online() bool
	GoOnline(ctx context.Context) error
	GoOffline(ctx context.Context) error
	Nearby() []booking.Group
	RequestBooking(ctx context.Context, bookingID types.ID) error
	Trip() (booking.ActiveTrip, bool)
	Transition(ctx context.Context, next trip.Status) (trip.Result, error)
	LastPosition(ctx context.Context) (location.Position, bool, error)
}

type Sessions interface {
	Session(ctx context.Context, driverID types.ID) (DriverSession, error)
	Accept(ctx context.Context, cmd booking.AcceptCommand) (*booking.ActiveTrip, error)
}

// RegistrySessions exposes a dispatch registry as Sessions.
func RegistrySessions(r *dispatch.Registry) Sessions {
	return registrySessions{registry: r}
}

type registrySessions struct {
	registry *dispatch.Registry
}

func (r registrySessions) Session(ctx context.Context, driverID types.ID) (DriverSession, error) {
	s, err := r.registry.Session(ctx, driverID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r registrySessions) Accept(ctx context.Context, cmd booking.AcceptCommand) (*booking.ActiveTrip, error) {
	return r.registry.Accept(ctx, cmd)
}
