package maps

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"googlemaps.github.io/maps"

	"tricykol/internal/cache"
	"tricykol/internal/types"
)

type fakeClient struct {
	routes     []maps.Route
	results    []maps.GeocodingResult
	err        error
	directions int
	lastReq    *maps.DirectionsRequest
}

func (f *fakeClient) Directions(_ context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error) {
	f.directions++
	f.lastReq = r
	return f.routes, nil, f.err
}

func (f *fakeClient) ReverseGeocode(context.Context, *maps.GeocodingRequest) ([]maps.GeocodingResult, error) {
	return f.results, f.err
}

var samplePath = []maps.LatLng{
	{Lat: 15.47550, Lng: 120.59630},
	{Lat: 15.47800, Lng: 120.59700},
	{Lat: 15.48100, Lng: 120.59900},
}

func routeClient() *fakeClient {
	return &fakeClient{routes: []maps.Route{{OverviewPolyline: maps.Polyline{Points: maps.Encode(samplePath)}}}}
}

func TestRouteService_DecodesOverviewPolyline(t *testing.T) {
	client := routeClient()
	svc := NewRouteService(client, "ph")

	path, err := svc.Route(context.Background(), types.Point{Lat: 15.4755, Lng: 120.5963}, types.Point{Lat: 15.481, Lng: 120.599})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(path) != len(samplePath) {
		t.Fatalf("len(path) = %d, want %d", len(path), len(samplePath))
	}
	for i := range path {
		if math.Abs(path[i].Lat-samplePath[i].Lat) > 1e-5 || math.Abs(path[i].Lng-samplePath[i].Lng) > 1e-5 {
			t.Errorf("path[%d] = %v, want %v", i, path[i], samplePath[i])
		}
	}
	if client.lastReq.Mode != maps.TravelModeDriving || client.lastReq.Region != "ph" {
		t.Errorf("request = %+v", client.lastReq)
	}
}

func TestRouteService_NoRoute(t *testing.T) {
	svc := NewRouteService(&fakeClient{}, "ph")
	if _, err := svc.Route(context.Background(), types.Point{}, types.Point{Lat: 1}); !errors.Is(err, ErrNoRoute) {
		t.Errorf("err = %v, want ErrNoRoute", err)
	}
}

func TestGeocodeService_PicksStreetAndCity(t *testing.T) {
	client := &fakeClient{results: []maps.GeocodingResult{{
		FormattedAddress: "MacArthur Hwy, Tarlac City, Tarlac, Philippines",
		AddressComponents: []maps.AddressComponent{
			{LongName: "MacArthur Highway", Types: []string{"route"}},
			{LongName: "Tarlac City", Types: []string{"locality", "political"}},
		},
	}}}
	addr, err := NewGeocodeService(client).ReverseGeocode(context.Background(), types.Point{Lat: 15.4755, Lng: 120.5963})
	if err != nil {
		t.Fatalf("ReverseGeocode: %v", err)
	}
	if addr.Street != "MacArthur Highway" || addr.City != "Tarlac City" || addr.Formatted == "" {
		t.Errorf("addr = %+v", addr)
	}
}

func TestGeocodeService_FallsBackToDistrict(t *testing.T) {
	client := &fakeClient{results: []maps.GeocodingResult{{
		AddressComponents: []maps.AddressComponent{
			{LongName: "Tarlac", Types: []string{"administrative_area_level_2"}},
		},
	}}}
	addr, err := NewGeocodeService(client).ReverseGeocode(context.Background(), types.Point{})
	if err != nil {
		t.Fatalf("ReverseGeocode: %v", err)
	}
	if addr.City != "Tarlac" || addr.Street != "" {
		t.Errorf("addr = %+v", addr)
	}
	if _, err := NewGeocodeService(&fakeClient{}).ReverseGeocode(context.Background(), types.Point{}); !errors.Is(err, ErrNoAddress) {
		t.Errorf("empty results: err = %v, want ErrNoAddress", err)
	}
}

func TestCachedRoutes_HitsCacheSecondTime(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	client := routeClient()
	cached := NewCachedRoutes(NewRouteService(client, "ph"), cache.NewRedis(rdb, "test"), 0, nil)
	o, d := types.Point{Lat: 15.4755, Lng: 120.5963}, types.Point{Lat: 15.481, Lng: 120.599}
	ctx := context.Background()

	first, err := cached.Route(ctx, o, d)
	if err != nil {
		t.Fatalf("first Route: %v", err)
	}
	second, err := cached.Route(ctx, o, d)
	if err != nil {
		t.Fatalf("second Route: %v", err)
	}
	if client.directions != 1 {
		t.Errorf("directions calls = %d, want 1", client.directions)
	}
	if len(first) != len(second) {
		t.Errorf("cached path differs: %v vs %v", first, second)
	}
	if !mr.Exists("test:" + cache.RouteKey(o, d)) {
		t.Error("route not stored in redis")
	}
}
