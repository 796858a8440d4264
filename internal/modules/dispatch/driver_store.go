// README: Driver online status persisted to Firestore and the realtime presence tree.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"tricykol/internal/types"
)

const driversCollection = "drivers"

type presence interface {
	SetStatus(ctx context.Context, ownerID types.ID, status string) error
}

type DriverStore struct {
	client   *firestore.Client
	presence presence
	now      func() time.Time
}

// NewDriverStore writes drivers/{id}.status and mirrors it to presence
// when one is given.
func NewDriverStore(client *firestore.Client, presence presence) *DriverStore {
	return &DriverStore{client: client, presence: presence, now: time.Now}
}

func (s *DriverStore) SetStatus(ctx context.Context, driverID types.ID, status DriverStatus) error {
	_, err := s.client.Collection(driversCollection).Doc(string(driverID)).Set(ctx, map[string]interface{}{
		"status":    string(status),
		"updatedAt": s.now(),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("setting driver %s status: %w", driverID, err)
	}
	if s.presence != nil {
		if err := s.presence.SetStatus(ctx, driverID, string(status)); err != nil {
			return err
		}
	}
	return nil
}
