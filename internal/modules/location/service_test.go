package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tricykol/internal/events"
)

func newTestTracker(t *testing.T, feed *DeviceFeed, bus *events.Bus) (*Tracker, *Cache) {
	t.Helper()
	kv, _ := newTestKV(t)
	c := NewCache("d1", kv, newFakeRemote(), nil, DefaultCacheConfig(), nil)
	cfg := testAcquirerConfig()
	cfg.WatchInterval = 0
	acq := NewAcquirer(feed, c, cfg, nil)
	return NewTracker("d1", acq, c, bus, nil), c
}

func TestTracker_StartRequiresPermission(t *testing.T) {
	feed := NewDeviceFeed()
	feed.SetAccess(PermissionDenied, true)
	tr, _ := newTestTracker(t, feed, nil)

	if err := tr.Start(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if tr.Running() {
		t.Error("tracker should not be running")
	}
}

func TestTracker_PublishesAcceptedFixes(t *testing.T) {
	feed := NewDeviceFeed()
	feed.SetAccess(PermissionGranted, true)
	bus := events.NewBus(nil)

	var mu sync.Mutex
	var published []events.Event
	bus.Subscribe(events.ListenerFunc(func(_ context.Context, ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, ev)
	}))

	tr, c := newTestTracker(t, feed, bus)
	var hooked int
	tr.OnFix(func(context.Context, Position) { hooked++ })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = feed.Push(fixAt(15.0, 120.0, 5))
	}()
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	_ = feed.Push(Position{Lat: 15.001, Lng: 120.0, Accuracy: 5, CapturedAt: time.Now().Add(time.Second)})

	mu.Lock()
	n := len(published)
	mu.Unlock()
	if n != 2 || hooked != 2 {
		t.Fatalf("expected 2 events and hooks, got %d events %d hooks", n, hooked)
	}
	latest, ok, err := tr.Latest(ctx)
	if err != nil || !ok || latest.Lat != 15.001 {
		t.Errorf("Latest = %+v %v %v", latest, ok, err)
	}
	if _, ok, _ := c.Read(ctx); !ok {
		t.Error("expected cache populated")
	}

	tr.Stop()
	_ = feed.Push(Position{Lat: 15.01, Lng: 120.0, Accuracy: 5, CapturedAt: time.Now().Add(2 * time.Second)})
	if hooked != 2 {
		t.Errorf("expected no hook after Stop, got %d", hooked)
	}
}
