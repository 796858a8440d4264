// README: Position cache with memory -> local durable -> remote fallback for the last known fix.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tricykol/internal/cache"
	"tricykol/internal/types"
)

// RemoteStore holds the shared last-known position of each owner.
type RemoteStore interface {
	ReadPosition(ctx context.Context, ownerID types.ID) (Position, bool, error)
	WritePosition(ctx context.Context, ownerID types.ID, p Position) error
}

type SnapshotAppender interface {
	AppendSnapshot(ctx context.Context, snap Snapshot) error
}

type CacheConfig struct {
	// MaxAge rejects local entries older than this on read.
	MaxAge             time.Duration
	LocalTTL           time.Duration
	RemoteSyncInterval time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxAge:             10 * time.Minute,
		LocalTTL:           24 * time.Hour,
		RemoteSyncInterval: 30 * time.Second,
	}
}

type Cache struct {
	ownerID   types.ID
	local     cache.Store
	remote    RemoteStore
	snapshots SnapshotAppender
	cfg       CacheConfig
	logger    *slog.Logger
	now       func() time.Time

	mu            sync.Mutex
	mem           *Position
	remotePending bool
	lastRemote    time.Time
}

func NewCache(ownerID types.ID, local cache.Store, remote RemoteStore, snapshots SnapshotAppender, cfg CacheConfig, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		ownerID:       ownerID,
		local:         local,
		remote:        remote,
		snapshots:     snapshots,
		cfg:           cfg,
		logger:        logger.With("owner_id", ownerID),
		now:           time.Now,
		remotePending: true,
	}
}

// ResetTracking makes the next Write go to the remote record regardless of
// the sync interval.
func (c *Cache) ResetTracking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remotePending = true
}

// Read returns the freshest trustworthy position, or false when no tier has one.
func (c *Cache) Read(ctx context.Context) (Position, bool, error) {
	c.mu.Lock()
	if c.mem != nil {
		p := *c.mem
		c.mu.Unlock()
		return p, true, nil
	}
	c.mu.Unlock()

	if p, ok := c.readLocal(ctx); ok {
		c.setMem(p)
		return p, true, nil
	}

	if c.remote == nil {
		return Position{}, false, nil
	}
	p, ok, err := c.remote.ReadPosition(ctx, c.ownerID)
	if err != nil {
		return Position{}, false, fmt.Errorf("reading remote position: %w", err)
	}
	if !ok || !p.Valid() {
		return Position{}, false, nil
	}
	c.setMem(p)
	return p, true, nil
}

func (c *Cache) readLocal(ctx context.Context) (Position, bool) {
	if c.local == nil {
		return Position{}, false
	}
	key := cache.PositionKey(c.ownerID)
	raw, ok, err := c.local.Get(ctx, key)
	if err != nil {
		c.logger.Warn("reading cached position", "error", err)
		return Position{}, false
	}
	if !ok {
		return Position{}, false
	}
	var p Position
	if err := json.Unmarshal([]byte(raw), &p); err != nil || !p.Valid() {
		c.logger.Warn("dropping corrupted cached position")
		if err := c.local.Del(ctx, key); err != nil {
			c.logger.Warn("deleting corrupted cached position", "error", err)
		}
		return Position{}, false
	}
	if c.cfg.MaxAge > 0 && p.Age(c.now()) > c.cfg.MaxAge {
		return Position{}, false
	}
	return p, true
}

func (c *Cache) setMem(p Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mem == nil || !p.CapturedAt.Before(c.mem.CapturedAt) {
		c.mem = &p
	}
}

// Write stores p in memory and the local cache. The remote record only gets
// the first fix after ResetTracking and then one fix per RemoteSyncInterval.
func (c *Cache) Write(ctx context.Context, p Position) error {
	if !p.Valid() {
		return ErrInvalidPosition
	}
	c.mu.Lock()
	c.mem = &p
	now := c.now()
	pushRemote := c.remote != nil && (c.remotePending || now.Sub(c.lastRemote) >= c.cfg.RemoteSyncInterval)
	if pushRemote {
		c.remotePending = false
		c.lastRemote = now
	}
	c.mu.Unlock()

	var localErr error
	if c.local != nil {
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding position: %w", err)
		}
		if err := c.local.Set(ctx, cache.PositionKey(c.ownerID), string(b), c.cfg.LocalTTL); err != nil {
			localErr = fmt.Errorf("caching position: %w", err)
		}
	}

	if pushRemote {
		c.syncRemote(ctx, p)
	}
	return localErr
}

func (c *Cache) syncRemote(ctx context.Context, p Position) {
	if err := c.remote.WritePosition(ctx, c.ownerID, p); err != nil {
		c.logger.Warn("syncing remote position", "error", err)
		c.mu.Lock()
		c.remotePending = true
		c.mu.Unlock()
		return
	}
	if c.snapshots == nil {
		return
	}
	snap := Snapshot{
		OwnerID:    c.ownerID,
		Position:   p.Point(),
		Accuracy:   p.Accuracy,
		RecordedAt: p.CapturedAt,
	}
	if err := c.snapshots.AppendSnapshot(ctx, snap); err != nil {
		c.logger.Warn("appending position snapshot", "error", err)
	}
}

// ReadRemote reads another owner's last synced position, e.g. a driver's
// position as seen by the passenger side.
func (c *Cache) ReadRemote(ctx context.Context, ownerID types.ID) (Position, bool, error) {
	if c.remote == nil {
		return Position{}, false, nil
	}
	p, ok, err := c.remote.ReadPosition(ctx, ownerID)
	if err != nil {
		return Position{}, false, fmt.Errorf("reading remote position: %w", err)
	}
	if !ok || !p.Valid() {
		return Position{}, false, nil
	}
	return p, true, nil
}
