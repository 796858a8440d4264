package maps

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"

	"tricykol/internal/types"
)

var ErrNoRoute = errors.New("no route found")

// Client is the subset of the Google Maps client used here.
type Client interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

func NewClient(apiKey string) (*maps.Client, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return client, nil
}

// RouteService fetches driving routes from the Directions API.
type RouteService struct {
	client Client
	region string
}

func NewRouteService(client Client, region string) *RouteService {
	return &RouteService{client: client, region: region}
}

// Route returns the decoded overview polyline of the first driving route
// from origin to destination.
func (s *RouteService) Route(ctx context.Context, origin, destination types.Point) ([]types.Point, error) {
	r := &maps.DirectionsRequest{
		Origin:      origin.String(),
		Destination: destination.String(),
		Mode:        maps.TravelModeDriving,
		Region:      s.region,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 {
		return nil, ErrNoRoute
	}

	path, err := routes[0].OverviewPolyline.Decode()
	if err != nil {
		return nil, fmt.Errorf("decoding route polyline: %w", err)
	}
	out := make([]types.Point, 0, len(path))
	for _, ll := range path {
		out = append(out, types.Point{Lat: ll.Lat, Lng: ll.Lng})
	}
	return out, nil
}
