package booking

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"tricykol/internal/types"
)

// Runs against the Firestore emulator only.
func setupTestStore(t *testing.T) (*Store, *firestore.Client) {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set; skipping integration test")
	}
	client, err := firestore.NewClient(context.Background(), "tricykol-test")
	if err != nil {
		t.Fatalf("firestore client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client), client
}

func seedBooking(t *testing.T, client *firestore.Client, id string) {
	t.Helper()
	now := time.Now()
	_, err := client.Collection(bookingsCollection).Doc(id).Set(context.Background(), Booking{
		Status:         StatusPending,
		PassengerID:    "p1",
		PassengerCount: 1,
		Pickup:         Place{Latitude: 15.4755, Longitude: 120.5963},
		Dropoff:        Place{Latitude: 15.4855, Longitude: 120.5963},
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
}

func TestStore_OneActiveTripPerDriver(t *testing.T) {
	store, client := setupTestStore(t)
	ctx := context.Background()
	suffix := time.Now().UnixNano()
	a, b := fmt.Sprintf("A-%d", suffix), fmt.Sprintf("B-%d", suffix)
	driver := types.ID(fmt.Sprintf("d-%d", suffix))
	seedBooking(t, client, a)
	seedBooking(t, client, b)

	for _, id := range []string{a, b} {
		if err := store.RequestRide(ctx, RequestCommand{BookingID: types.ID(id), DriverID: driver}); err != nil {
			t.Fatalf("request %s: %v", id, err)
		}
	}
	if _, err := store.Accept(ctx, AcceptCommand{BookingID: types.ID(a), DriverID: driver}); err != nil {
		t.Fatalf("accept A: %v", err)
	}
	if _, err := store.Accept(ctx, AcceptCommand{BookingID: types.ID(b), DriverID: driver}); !errors.Is(err, ErrDriverBusy) {
		t.Fatalf("expected ErrDriverBusy, got %v", err)
	}

	at, err := store.ActiveForDriver(ctx, driver)
	if err != nil || at == nil || at.BookingID != types.ID(a) {
		t.Fatalf("ActiveForDriver = %+v, %v", at, err)
	}
	got, err := store.Get(ctx, types.ID(b))
	if err != nil || got.Status != StatusPending {
		t.Fatalf("booking B = %+v, %v", got, err)
	}
}
