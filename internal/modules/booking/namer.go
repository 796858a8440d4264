// README: Location names used to group nearby bookings, with cached reverse geocoding.
package booking

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"tricykol/internal/cache"
	"tricykol/internal/types"
)

const UnknownLocation = "Unknown location"

var (
	plusCodePattern = regexp.MustCompile(`^[23456789CFGHJMPQRVWX]{2,8}\+[23456789CFGHJMPQRVWX]{0,3}\b`)
	numericPattern  = regexp.MustCompile(`^[0-9\s-]+$`)
)

// DeriveLocationName picks street, then city, then the first meaningful
// fragment of the formatted address.
func DeriveLocationName(a *types.Address) string {
	if a == nil {
		return UnknownLocation
	}
	if s := strings.TrimSpace(a.Street); s != "" {
		return s
	}
	if c := strings.TrimSpace(a.City); c != "" {
		return c
	}
	for _, part := range strings.Split(a.Formatted, ",") {
		part = strings.TrimSpace(part)
		if part == "" || numericPattern.MatchString(part) {
			continue
		}
		if loc := plusCodePattern.FindStringIndex(part); loc != nil {
			part = strings.TrimSpace(part[loc[1]:])
			if part == "" {
				continue
			}
		}
		return part
	}
	return UnknownLocation
}

type Geocoder interface {
	ReverseGeocode(ctx context.Context, p types.Point) (types.Address, error)
}

// LocationNamer names a place from its stored address, falling back to a
// cached reverse-geocode lookup.
type LocationNamer struct {
	geocoder Geocoder
	cache    cache.Store
	ttl      time.Duration
	logger   *slog.Logger
}

func NewLocationNamer(geocoder Geocoder, store cache.Store, logger *slog.Logger) *LocationNamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocationNamer{geocoder: geocoder, cache: store, ttl: 7 * 24 * time.Hour, logger: logger}
}

func (n *LocationNamer) Name(ctx context.Context, p Place) string {
	if name := DeriveLocationName(p.Address); name != UnknownLocation {
		return name
	}
	if name := n.lookup(ctx, p.Point()); name != UnknownLocation {
		return name
	}
	if s := strings.TrimSpace(p.Name); s != "" {
		return s
	}
	return UnknownLocation
}

func (n *LocationNamer) lookup(ctx context.Context, pt types.Point) string {
	key := cache.GeocodeKey(pt)
	if n.cache != nil {
		if v, ok, err := n.cache.Get(ctx, key); err == nil && ok && v != "" {
			return v
		}
	}
	if n.geocoder == nil {
		return UnknownLocation
	}
	addr, err := n.geocoder.ReverseGeocode(ctx, pt)
	if err != nil {
		n.logger.Warn("reverse geocode failed", "point", pt.String(), "error", err)
		return UnknownLocation
	}
	name := DeriveLocationName(&addr)
	if name != UnknownLocation && n.cache != nil {
		if err := n.cache.Set(ctx, key, name, n.ttl); err != nil {
			n.logger.Warn("caching location name", "error", err)
		}
	}
	return name
}
