// README: Booking store backed by Firestore (bookings and activeTrips collections).
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tricykol/internal/types"
)

type Store struct {
	client *firestore.Client
	now    func() time.Time
}

func NewStore(client *firestore.Client) *Store {
	return &Store{client: client, now: time.Now}
}

func (s *Store) bookingRef(id types.ID) *firestore.DocumentRef {
	return s.client.Collection(bookingsCollection).Doc(string(id))
}

func (s *Store) activeTripRef(id types.ID) *firestore.DocumentRef {
	return s.client.Collection(activeTripsCollection).Doc(string(id))
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Booking, error) {
	doc, err := s.bookingRef(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting booking %s: %w", id, err)
	}
	return decodeBooking(doc)
}

func decodeBooking(doc *firestore.DocumentSnapshot) (*Booking, error) {
	var b Booking
	if err := doc.DataTo(&b); err != nil {
		return nil, fmt.Errorf("decoding booking %s: %w", doc.Ref.ID, err)
	}
	b.ID = types.ID(doc.Ref.ID)
	return &b, nil
}

// WatchPending streams the pending-booking feed to fn until ctx is done.
// Every call receives the full current set.
func (s *Store) WatchPending(ctx context.Context, fn func([]Booking)) error {
	q := s.client.Collection(bookingsCollection).Where("status", "==", string(StatusPending))
	it := q.Snapshots(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("pending bookings feed: %w", err)
		}
		docs, err := snap.Documents.GetAll()
		if err != nil {
			return fmt.Errorf("reading pending bookings: %w", err)
		}
		out := make([]Booking, 0, len(docs))
		for _, doc := range docs {
			b, err := decodeBooking(doc)
			if err != nil {
				continue
			}
			out = append(out, *b)
		}
		fn(out)
	}
}

// ActiveForDriver returns the driver's active trip, or nil when idle.
func (s *Store) ActiveForDriver(ctx context.Context, driverID types.ID) (*ActiveTrip, error) {
	docs, err := s.client.Collection(activeTripsCollection).
		Where("driverId", "==", string(driverID)).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("querying active trip for %s: %w", driverID, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	var at ActiveTrip
	if err := docs[0].DataTo(&at); err != nil {
		return nil, fmt.Errorf("decoding active trip: %w", err)
	}
	at.BookingID = types.ID(docs[0].Ref.ID)
	return &at, nil
}

func (s *Store) driverBusy(tx *firestore.Transaction, driverID types.ID) (bool, error) {
	q := s.client.Collection(activeTripsCollection).Where("driverId", "==", string(driverID)).Limit(1)
	docs, err := tx.Documents(q).GetAll()
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

// RequestRide records a pending request from the driver on a pending booking.
func (s *Store) RequestRide(ctx context.Context, cmd RequestCommand) error {
	ref := s.bookingRef(cmd.BookingID)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		busy, err := s.driverBusy(tx, cmd.DriverID)
		if err != nil {
			return err
		}
		if busy {
			return ErrDriverBusy
		}
		doc, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		b, err := decodeBooking(doc)
		if err != nil {
			return err
		}
		if b.Status != StatusPending {
			return ErrConflict
		}
		now := s.now()
		return tx.Update(ref, []firestore.Update{
			{FieldPath: firestore.FieldPath{"driverRequests", string(cmd.DriverID)}, Value: DriverRequest{Status: RequestPending, Timestamp: now}},
			{Path: "hasDriverRequests", Value: true},
			{Path: "updatedAt", Value: now},
		})
	})
}

// Accept assigns the booking to the driver, rejects every sibling request
// and creates the active-trip snapshot in one transaction.
func (s *Store) Accept(ctx context.Context, cmd AcceptCommand) (*ActiveTrip, error) {
	ref := s.bookingRef(cmd.BookingID)
	var created *ActiveTrip
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		busy, err := s.driverBusy(tx, cmd.DriverID)
		if err != nil {
			return err
		}
		if busy {
			return ErrDriverBusy
		}
		doc, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		b, err := decodeBooking(doc)
		if err != nil {
			return err
		}
		if b.Status != StatusPending {
			return ErrConflict
		}
		if !b.HasPendingRequestFrom(cmd.DriverID) {
			return ErrNoRequest
		}

		now := s.now()
		updates := []firestore.Update{
			{Path: "status", Value: string(StatusAccepted)},
			{Path: "driverId", Value: string(cmd.DriverID)},
			{Path: "updatedAt", Value: now},
		}
		for id, req := range b.DriverRequests {
			next := RequestRejected
			if id == string(cmd.DriverID) {
				next = RequestAccepted
			} else if req.Status != RequestPending {
				continue
			}
			updates = append(updates, firestore.Update{
				FieldPath: firestore.FieldPath{"driverRequests", id, "status"},
				Value:     string(next),
			})
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		created = newActiveTrip(b, cmd.DriverID, now)
		return tx.Create(s.activeTripRef(cmd.BookingID), created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
