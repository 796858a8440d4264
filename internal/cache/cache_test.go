package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tricykol/internal/types"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "test"), mr
}

func TestRedis_SetGetDel(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	if _, ok, err := r.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := r.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("test:k") {
		t.Fatalf("expected prefixed key in redis")
	}
	v, ok, err := r.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("get = %q %v %v", v, ok, err)
	}

	if err := r.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, ok, _ := r.Get(ctx, "k"); ok {
		t.Fatalf("expected key removed")
	}
}

func TestRedis_TTL(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	if err := r.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := r.Get(ctx, "k"); ok {
		t.Fatalf("expected key to expire")
	}
}

func TestGeocodeKey_Rounds(t *testing.T) {
	a := GeocodeKey(types.Point{Lat: 15.475512, Lng: 120.596349})
	b := GeocodeKey(types.Point{Lat: 15.475548, Lng: 120.596301})
	if a != b {
		t.Errorf("expected shared key, got %s and %s", a, b)
	}
	if a != "geocode:15.4755,120.5963" {
		t.Errorf("unexpected key %s", a)
	}
}
