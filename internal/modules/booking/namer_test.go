package booking

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tricykol/internal/cache"
	"tricykol/internal/types"
)

func TestDeriveLocationName(t *testing.T) {
	cases := []struct {
		name string
		addr *types.Address
		want string
	}{
		{"nil address", nil, UnknownLocation},
		{"street wins", &types.Address{Street: "MacArthur Hwy", City: "Tarlac City"}, "MacArthur Hwy"},
		{"city fallback", &types.Address{City: "Tarlac City", Formatted: "X, Y"}, "Tarlac City"},
		{"formatted fragment", &types.Address{Formatted: "Zamora St, San Roque, Tarlac"}, "Zamora St"},
		{"skips plus code", &types.Address{Formatted: "7Q63+2M Tarlac City, Tarlac"}, "Tarlac City"},
		{"skips bare plus code and postcode", &types.Address{Formatted: "7Q63+2M, 2300, Paniqui"}, "Paniqui"},
		{"nothing usable", &types.Address{Formatted: " , 2300"}, UnknownLocation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveLocationName(tc.addr); got != tc.want {
				t.Errorf("DeriveLocationName() = %q, want %q", got, tc.want)
			}
		})
	}
}

type fakeGeocoder struct {
	addr  types.Address
	err   error
	calls int
}

func (f *fakeGeocoder) ReverseGeocode(context.Context, types.Point) (types.Address, error) {
	f.calls++
	return f.addr, f.err
}

func newNamerCache(t *testing.T) cache.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedis(client, "")
}

func TestLocationNamer_CachesGeocodedNames(t *testing.T) {
	g := &fakeGeocoder{addr: types.Address{City: "Capas"}}
	n := NewLocationNamer(g, newNamerCache(t), nil)
	ctx := context.Background()

	p := Place{Latitude: 15.33051, Longitude: 120.59021}
	if got := n.Name(ctx, p); got != "Capas" {
		t.Fatalf("Name() = %q, want Capas", got)
	}
	// same 4-decimal cell
	p2 := Place{Latitude: 15.33049, Longitude: 120.59019}
	if got := n.Name(ctx, p2); got != "Capas" {
		t.Fatalf("Name() = %q, want Capas", got)
	}
	if g.calls != 1 {
		t.Errorf("expected one geocode call, got %d", g.calls)
	}
}

func TestLocationNamer_Fallbacks(t *testing.T) {
	ctx := context.Background()

	withAddr := NewLocationNamer(&fakeGeocoder{err: errors.New("unused")}, nil, nil)
	p := Place{Address: &types.Address{Street: "Rizal Ave"}}
	if got := withAddr.Name(ctx, p); got != "Rizal Ave" {
		t.Errorf("stored address should win, got %q", got)
	}

	failing := NewLocationNamer(&fakeGeocoder{err: errors.New("quota")}, nil, nil)
	if got := failing.Name(ctx, Place{Name: "SM Tarlac"}); got != "SM Tarlac" {
		t.Errorf("expected place name fallback, got %q", got)
	}
	if got := failing.Name(ctx, Place{}); got != UnknownLocation {
		t.Errorf("expected unknown, got %q", got)
	}
}
