package trip

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
func TestStore_UpdateStatusIsForwardOnly(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set; skipping integration test")
	}
	ctx := context.Background()
	client, err := firestore.NewClient(ctx, "tricykol-test")
	if err != nil {
		t.Fatalf("firestore client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	store := NewStore(client)

	id := types.ID(fmt.Sprintf("trip-%d", time.Now().UnixNano()))
	seed := map[string]any{"status": string(StatusAccepted), "driverId": "d1"}
	for _, coll := range []string{bookingsCollection, activeTripsCollection} {
		if _, err := client.Collection(coll).Doc(string(id)).Set(ctx, seed); err != nil {
			t.Fatalf("seed %s: %v", coll, err)
		}
	}

	if err := store.UpdateStatus(ctx, id, StatusAccepted, StatusOnTheWay, Patch{}); err != nil {
		t.Fatalf("accepted -> on_the_way: %v", err)
	}
	if err := store.UpdateStatus(ctx, id, StatusAccepted, StatusOnTheWay, Patch{}); err != nil {
		t.Errorf("repeating the same write should be a no-op, got %v", err)
	}
	if err := store.UpdateStatus(ctx, id, StatusArrived, StatusInProgress, Patch{}); !errors.Is(err, ErrConflict) {
		t.Errorf("stale from status: err = %v, want ErrConflict", err)
	}

	doc, err := client.Collection(bookingsCollection).Doc(string(id)).Get(ctx)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if got := doc.Data()["status"]; got != string(StatusOnTheWay) {
		t.Errorf("booking status = %v, want on_the_way", got)
	}

	missing := types.ID(fmt.Sprintf("missing-%d", time.Now().UnixNano()))
	if err := store.UpdateStatus(ctx, missing, StatusAccepted, StatusOnTheWay, Patch{}); !errors.Is(err, ErrNoActiveTrip) {
		t.Errorf("missing trip: err = %v, want ErrNoActiveTrip", err)
	}
}
