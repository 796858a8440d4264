// README: Position snapshot history backed by Postgres.
package location

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tricykol/internal/types"
)

type SnapshotStore struct {
	db *pgxpool.Pool
}

func NewSnapshotStore(db *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) AppendSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO position_snapshots (owner_id, lat, lng, accuracy, recorded_at)
        VALUES ($1, $2, $3, $4, $5)`,
		string(snap.OwnerID),
		snap.Position.Lat, snap.Position.Lng,
		snap.Accuracy,
		snap.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting position snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns the owner's snapshots recorded at or after since,
// oldest first.
func (s *SnapshotStore) ListSnapshots(ctx context.Context, ownerID types.ID, since time.Time, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(ctx, `
        SELECT id, owner_id, lat, lng, accuracy, recorded_at
        FROM position_snapshots
        WHERE owner_id = $1 AND recorded_at >= $2
        ORDER BY recorded_at ASC
        LIMIT $3`,
		string(ownerID), since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying position snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var owner string
		if err := rows.Scan(&snap.ID, &owner, &snap.Position.Lat, &snap.Position.Lng, &snap.Accuracy, &snap.RecordedAt); err != nil {
			return nil, err
		}
		snap.OwnerID = types.ID(owner)
		out = append(out, snap)
	}
	return out, rows.Err()
}
