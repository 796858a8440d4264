// README: Online driver index backed by Redis GEO.
package dispatch

import (
	"context"

	"github.com/redis/go-redis/v9"

	"tricykol/internal/types"
)

const onlineDriversKey = "dispatch:online_drivers"

type NearbyDriver struct {
	DriverID       types.ID    `json:"driverId"`
	Position       types.Point `json:"position"`
	DistanceMeters float64     `json:"distanceMeters"`
}

type OnlineIndex struct {
	redis *redis.Client
	key   string
}

func NewOnlineIndex(client *redis.Client, prefix string) *OnlineIndex {
	key := onlineDriversKey
	if prefix != "" {
		key = prefix + ":" + key
	}
	return &OnlineIndex{redis: client, key: key}
}

func (x *OnlineIndex) Upsert(ctx context.Context, driverID types.ID, p types.Point) error {
	return x.redis.GeoAdd(ctx, x.key, &redis.GeoLocation{
		Name:      string(driverID),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (x *OnlineIndex) Remove(ctx context.Context, driverID types.ID) error {
	return x.redis.ZRem(ctx, x.key, string(driverID)).Err()
}

// Nearby lists online drivers within radiusMeters of p, nearest first.
func (x *OnlineIndex) Nearby(ctx context.Context, p types.Point, radiusMeters float64, limit int) ([]NearbyDriver, error) {
	locs, err := x.redis.GeoRadius(ctx, x.key, p.Lng, p.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]NearbyDriver, 0, len(locs))
	for _, l := range locs {
		out = append(out, NearbyDriver{
			DriverID:       types.ID(l.Name),
			Position:       types.Point{Lat: l.Latitude, Lng: l.Longitude},
			DistanceMeters: l.Dist,
		})
	}
	return out, nil
}
