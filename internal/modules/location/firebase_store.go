// README: Remote last-known position stored in Firebase RTDB under driver_locations/{id}.
package location

import (
	"context"
	"fmt"
	"time"

	"firebase.google.com/go/v4/db"

	"tricykol/internal/types"
)

const driverLocationsPath = "driver_locations"

// rtdbLocationEntry mirrors a single entry under driver_locations. The
// passenger app listens on the same node to follow its driver.
type rtdbLocationEntry struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Accuracy  float64  `json:"accuracy"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Status    string   `json:"status,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

type FirebaseStore struct {
	client *db.Client
}

func NewFirebaseStore(client *db.Client) *FirebaseStore {
	return &FirebaseStore{client: client}
}

func (s *FirebaseStore) ref(ownerID types.ID) *db.Ref {
	return s.client.NewRef(driverLocationsPath).Child(string(ownerID))
}

func (s *FirebaseStore) ReadPosition(ctx context.Context, ownerID types.ID) (Position, bool, error) {
	var entry rtdbLocationEntry
	if err := s.ref(ownerID).Get(ctx, &entry); err != nil {
		return Position{}, false, fmt.Errorf("reading %s/%s: %w", driverLocationsPath, ownerID, err)
	}
	if entry.Timestamp == 0 {
		return Position{}, false, nil
	}
	return Position{
		Lat:        entry.Lat,
		Lng:        entry.Lng,
		Accuracy:   entry.Accuracy,
		Heading:    entry.Heading,
		Speed:      entry.Speed,
		CapturedAt: time.UnixMilli(entry.Timestamp),
	}, true, nil
}

// WritePosition updates the coordinates in place so the status field set by
// SetStatus survives.
func (s *FirebaseStore) WritePosition(ctx context.Context, ownerID types.ID, p Position) error {
	fields := map[string]interface{}{
		"lat":       p.Lat,
		"lng":       p.Lng,
		"accuracy":  p.Accuracy,
		"timestamp": p.CapturedAt.UnixMilli(),
	}
	if p.Heading != nil {
		fields["heading"] = *p.Heading
	}
	if p.Speed != nil {
		fields["speed"] = *p.Speed
	}
	if err := s.ref(ownerID).Update(ctx, fields); err != nil {
		return fmt.Errorf("writing %s/%s: %w", driverLocationsPath, ownerID, err)
	}
	return nil
}

func (s *FirebaseStore) SetStatus(ctx context.Context, ownerID types.ID, status string) error {
	if err := s.ref(ownerID).Update(ctx, map[string]interface{}{"status": status}); err != nil {
		return fmt.Errorf("setting %s/%s status: %w", driverLocationsPath, ownerID, err)
	}
	return nil
}
