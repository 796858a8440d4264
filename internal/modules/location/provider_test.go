package location

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDeviceFeed_CurrentFixWaitsForPush(t *testing.T) {
	feed := NewDeviceFeed()
	want := fixAt(15.0, 120.0, 8)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = feed.Push(want)
	}()

	got, err := feed.CurrentFix(context.Background(), Tier{Timeout: time.Second})
	if err != nil {
		t.Fatalf("CurrentFix: %v", err)
	}
	if got.Lat != want.Lat || got.Accuracy != want.Accuracy {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDeviceFeed_CurrentFixServesRecentFix(t *testing.T) {
	feed := NewDeviceFeed()
	_ = feed.Push(fixAt(15.0, 120.0, 8))

	got, err := feed.CurrentFix(context.Background(), Tier{Timeout: 10 * time.Millisecond, MaxAge: time.Minute})
	if err != nil {
		t.Fatalf("CurrentFix: %v", err)
	}
	if got.Lat != 15.0 {
		t.Errorf("expected cached fix, got %+v", got)
	}
}

func TestDeviceFeed_CurrentFixTimeout(t *testing.T) {
	feed := NewDeviceFeed()
	_, err := feed.CurrentFix(context.Background(), Tier{Timeout: 10 * time.Millisecond})
	if !errors.Is(err, ErrFixTimeout) {
		t.Fatalf("expected ErrFixTimeout, got %v", err)
	}
	if len(feed.waiters) != 0 {
		t.Errorf("expected waiter removed after timeout")
	}
}

func TestDeviceFeed_PushMarksAccessGranted(t *testing.T) {
	feed := NewDeviceFeed()
	feed.SetAccess(PermissionDenied, false)
	if _, err := feed.RequestForegroundPermission(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !feed.PromptRequested() {
		t.Fatal("expected prompt to be requested")
	}

	if err := feed.Push(fixAt(15.0, 120.0, 8)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	perm, _ := feed.ForegroundPermission(context.Background())
	enabled, _ := feed.ServicesEnabled(context.Background())
	if perm != PermissionGranted || !enabled || feed.PromptRequested() {
		t.Errorf("expected access granted after push, got perm=%s enabled=%v", perm, enabled)
	}
}

func TestDeviceFeed_RejectsInvalidAndStaleFixes(t *testing.T) {
	feed := NewDeviceFeed()
	for _, p := range []Position{
		{Lat: 95, Lng: 0, Accuracy: 5, CapturedAt: time.Now()},
		{Lat: 0, Lng: 0, Accuracy: 0, CapturedAt: time.Now()},
		{Lat: 15.0, Lng: 120.0, Accuracy: -1, CapturedAt: time.Now()},
		{Lat: 15.0, Lng: 120.0, Accuracy: 5},
	} {
		if err := feed.Push(p); !errors.Is(err, ErrInvalidPosition) {
			t.Fatalf("%+v: expected ErrInvalidPosition, got %v", p, err)
		}
	}
	if _, ok, _ := feed.LastKnown(context.Background()); ok {
		t.Fatal("rejected fix was kept")
	}

	now := time.Now()
	_ = feed.Push(Position{Lat: 15.0, Lng: 120.0, Accuracy: 5, CapturedAt: now})
	_ = feed.Push(Position{Lat: 16.0, Lng: 121.0, Accuracy: 5, CapturedAt: now.Add(-time.Minute)})

	last, ok, _ := feed.LastKnown(context.Background())
	if !ok || last.Lat != 15.0 {
		t.Errorf("out-of-order fix should not replace newer one, got %+v", last)
	}
}

func TestDeviceFeed_WatchIntervalAndStop(t *testing.T) {
	feed := NewDeviceFeed()
	var got int
	sub, err := feed.Watch(context.Background(), WatchConfig{MinInterval: time.Second}, func(Position) { got++ }, nil)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	_ = feed.Push(Position{Lat: 15.0, Lng: 120.0, Accuracy: 5, CapturedAt: now})
	_ = feed.Push(Position{Lat: 15.0, Lng: 120.0, Accuracy: 5, CapturedAt: now.Add(200 * time.Millisecond)})
	_ = feed.Push(Position{Lat: 15.0, Lng: 120.0, Accuracy: 5, CapturedAt: now.Add(1500 * time.Millisecond)})
	if got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}

	sub.Stop()
	_ = feed.Push(Position{Lat: 15.0, Lng: 120.0, Accuracy: 5, CapturedAt: now.Add(5 * time.Second)})
	if got != 2 {
		t.Errorf("expected no delivery after Stop, got %d", got)
	}
}

func TestDeviceFeed_WatchStopsWithContext(t *testing.T) {
	feed := NewDeviceFeed()
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := feed.Watch(ctx, WatchConfig{}, func(Position) {}, nil); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		feed.mu.Lock()
		n := len(feed.subs)
		feed.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscription not removed after context cancel")
}
