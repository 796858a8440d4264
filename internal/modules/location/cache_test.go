package location

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tricykol/internal/cache"
	"tricykol/internal/types"
)

type fakeRemote struct {
	mu     sync.Mutex
	data   map[types.ID]Position
	writes int
}

func newFakeRemote() *fakeRemote { return &fakeRemote{data: make(map[types.ID]Position)} }

func (f *fakeRemote) ReadPosition(_ context.Context, id types.ID) (Position, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.data[id]
	return p, ok, nil
}

func (f *fakeRemote) WritePosition(_ context.Context, id types.ID, p Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[id] = p
	f.writes++
	return nil
}

type fakeSnapshots struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (f *fakeSnapshots) AppendSnapshot(_ context.Context, s Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, s)
	return nil
}

func newTestKV(t *testing.T) (*cache.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedis(client, ""), mr
}

func TestCache_RoundTripThroughLocalTier(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()
	heading := 87.5
	want := Position{
		Lat:        15.475512,
		Lng:        120.596349,
		Accuracy:   7.5,
		Heading:    &heading,
		CapturedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	writer := NewCache("d1", kv, nil, nil, DefaultCacheConfig(), nil)
	if err := writer.Write(ctx, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// a fresh cache has no memory tier, so this read comes from redis
	reader := NewCache("d1", kv, nil, nil, DefaultCacheConfig(), nil)
	got, ok, err := reader.Read(ctx)
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	if got.Lat != want.Lat || got.Lng != want.Lng || got.Accuracy != want.Accuracy {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.Heading == nil || *got.Heading != heading || got.Speed != nil {
		t.Errorf("optional fields not preserved: %+v", got)
	}
	if !got.CapturedAt.Equal(want.CapturedAt) {
		t.Errorf("capturedAt = %v, want %v", got.CapturedAt, want.CapturedAt)
	}
}

func TestCache_CorruptedEntryIsDeleted(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()
	key := cache.PositionKey("d1")

	cases := []string{
		`not json`,
		`{"lat":"NaN","lng":120}`,
		`{"lat":15,"lng":999,"accuracy":5,"capturedAt":"2026-01-01T00:00:00Z"}`,
		`{"lat":15,"lng":120,"accuracy":5}`,
	}
	for _, raw := range cases {
		if err := mr.Set(key, raw); err != nil {
			t.Fatal(err)
		}
		c := NewCache("d1", kv, nil, nil, DefaultCacheConfig(), nil)
		if _, ok, err := c.Read(ctx); err != nil || ok {
			t.Errorf("%s: expected miss, got ok=%v err=%v", raw, ok, err)
		}
		if mr.Exists(key) {
			t.Errorf("%s: corrupted entry should be deleted", raw)
		}
	}
}

func TestCache_StaleEntryFallsThroughToRemote(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()
	remote := newFakeRemote()
	remote.data["d1"] = fixAt(15.3, 120.3, 10)

	cfg := DefaultCacheConfig()
	writer := NewCache("d1", kv, nil, nil, cfg, nil)
	old := fixAt(15.0, 120.0, 5)
	old.CapturedAt = time.Now().Add(-time.Hour)
	if err := writer.Write(ctx, old); err != nil {
		t.Fatal(err)
	}

	reader := NewCache("d1", kv, remote, nil, cfg, nil)
	got, ok, err := reader.Read(ctx)
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	if got.Lat != 15.3 {
		t.Errorf("expected remote fix, got %+v", got)
	}
}

func TestCache_RemoteSyncIsCoarse(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()
	remote := newFakeRemote()
	snaps := &fakeSnapshots{}

	cfg := DefaultCacheConfig()
	cfg.RemoteSyncInterval = 30 * time.Second
	c := NewCache("d1", kv, remote, snaps, cfg, nil)

	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	write := func(offset time.Duration) {
		p := fixAt(15.0, 120.0, 5)
		p.CapturedAt = clock
		if err := c.Write(ctx, p); err != nil {
			t.Fatal(err)
		}
		clock = clock.Add(offset)
	}

	write(5 * time.Second)  // first fix after start goes remote
	write(5 * time.Second)  // t=5s
	write(25 * time.Second) // t=10s
	write(0)                // t=35s goes remote
	if remote.writes != 2 {
		t.Fatalf("expected 2 remote writes, got %d", remote.writes)
	}

	c.ResetTracking()
	write(0)
	if remote.writes != 3 {
		t.Fatalf("expected reset to force a remote write, got %d", remote.writes)
	}
	if len(snaps.snaps) != 3 {
		t.Errorf("expected a snapshot per remote write, got %d", len(snaps.snaps))
	}
}

func TestCache_ReadRemote(t *testing.T) {
	remote := newFakeRemote()
	remote.data["d2"] = fixAt(15.1, 120.1, 10)
	c := NewCache("d1", nil, remote, nil, DefaultCacheConfig(), nil)

	got, ok, err := c.ReadRemote(context.Background(), "d2")
	if err != nil || !ok || got.Lat != 15.1 {
		t.Fatalf("ReadRemote = %+v %v %v", got, ok, err)
	}
	if _, ok, _ := c.ReadRemote(context.Background(), "missing"); ok {
		t.Error("expected miss for unknown owner")
	}
}
