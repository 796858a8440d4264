// README: Trip status writes against the activeTrips and bookings documents.
package trip

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tricykol/internal/types"
)

const (
	bookingsCollection    = "bookings"
	activeTripsCollection = "activeTrips"
)

// Patch carries the extra fields a transition writes alongside the status.
type Patch struct {
	PickupTime *time.Time
}

type Store struct {
	client *firestore.Client
	now    func() time.Time
}

func NewStore(client *firestore.Client) *Store {
	return &Store{client: client, now: time.Now}
}

// UpdateStatus moves the trip from one status to the next. A trip already
// at the target status is left alone so retries are safe; any other
// status means someone else moved it and ErrConflict is returned.
func (s *Store) UpdateStatus(ctx context.Context, bookingID types.ID, from, to Status, patch Patch) error {
	tripRef := s.client.Collection(activeTripsCollection).Doc(string(bookingID))
	bookingRef := s.client.Collection(bookingsCollection).Doc(string(bookingID))

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(tripRef)
		if status.Code(err) == codes.NotFound {
			return ErrNoActiveTrip
		}
		if err != nil {
			return err
		}
		current, _ := doc.Data()["status"].(string)
		if Status(current) == to {
			return nil
		}
		if Status(current) != from {
			return fmt.Errorf("%w: expected %s, found %s", ErrConflict, from, current)
		}

		now := s.now()
		updates := []firestore.Update{
			{Path: "status", Value: string(to)},
			{Path: "updatedAt", Value: now},
		}
		if patch.PickupTime != nil {
			updates = append(updates, firestore.Update{Path: "pickupTime", Value: *patch.PickupTime})
		}
		if err := tx.Update(tripRef, updates); err != nil {
			return err
		}
		return tx.Update(bookingRef, []firestore.Update{
			{Path: "status", Value: string(to)},
			{Path: "updatedAt", Value: now},
		})
	})
}

func (s *Store) SaveRoutes(ctx context.Context, bookingID types.ID, pickup, dropoff []types.Point, at time.Time) error {
	_, err := s.client.Collection(activeTripsCollection).Doc(string(bookingID)).Update(ctx, []firestore.Update{
		{Path: "pickupRoute", Value: pickup},
		{Path: "dropoffRoute", Value: dropoff},
		{Path: "routesCalculatedAt", Value: at},
	})
	if err != nil {
		return fmt.Errorf("saving routes for %s: %w", bookingID, err)
	}
	return nil
}

func (s *Store) UpdateProgress(ctx context.Context, bookingID types.ID, loc types.Point, trackedDistance float64) error {
	_, err := s.client.Collection(activeTripsCollection).Doc(string(bookingID)).Update(ctx, []firestore.Update{
		{Path: "driverCurrentLocation", Value: loc},
		{Path: "trackedDistance", Value: trackedDistance},
		{Path: "updatedAt", Value: s.now()},
	})
	if err != nil {
		return fmt.Errorf("updating progress for %s: %w", bookingID, err)
	}
	return nil
}

func (s *Store) MarkGuardianNotified(ctx context.Context, bookingID types.ID) error {
	_, err := s.client.Collection(activeTripsCollection).Doc(string(bookingID)).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"guardianNotification", "notified"}, Value: true},
	})
	if err != nil {
		return fmt.Errorf("marking guardian notified for %s: %w", bookingID, err)
	}
	return nil
}
