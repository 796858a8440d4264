package maps

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"

	"tricykol/internal/types"
)

var ErrNoAddress = errors.New("no address found")

type GeocodeService struct {
	client Client
}

func NewGeocodeService(client Client) *GeocodeService {
	return &GeocodeService{client: client}
}

// ReverseGeocode resolves p to the street and city of the closest result.
func (s *GeocodeService) ReverseGeocode(ctx context.Context, p types.Point) (types.Address, error) {
	results, err := s.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
	})
	if err != nil {
		return types.Address{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(results) == 0 {
		return types.Address{}, ErrNoAddress
	}

	best := results[0]
	addr := types.Address{Formatted: best.FormattedAddress}
	for _, c := range best.AddressComponents {
		switch {
		case addr.Street == "" && hasType(c.Types, "route"):
			addr.Street = c.LongName
		case addr.City == "" && hasType(c.Types, "locality"):
			addr.City = c.LongName
		}
	}
	if addr.City == "" {
		for _, c := range best.AddressComponents {
			if hasType(c.Types, "administrative_area_level_2") {
				addr.City = c.LongName
				break
			}
		}
	}
	return addr, nil
}

func hasType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
