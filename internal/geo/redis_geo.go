package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/Ivanxdigital/Project-Isla-GO-sub000/internal/models"
)

// RedisGeo is the area index backed by Redis GEO commands. Unavailable
// drivers are removed from the set so radius queries only see drivers taking
// trips.
type RedisGeo struct {
	client redis.UniversalClient
	key    string
}

func NewRedisGeo(client redis.UniversalClient, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, pos models.DriverPosition) error {
	if !pos.Available {
		return r.client.ZRem(ctx, r.key, pos.DriverID).Err()
	}
	return r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: pos.Lon, Latitude: pos.Lat, Name: pos.DriverID}).Err()
}

func (r *RedisGeo) Within(ctx context.Context, center models.Coord, radiusM float64) ([]string, error) {
	res, err := r.client.GeoSearch(ctx, r.key, &redis.GeoSearchQuery{
		Longitude:  center.Lon,
		Latitude:   center.Lat,
		Radius:     radiusM,
		RadiusUnit: "m",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	return res, nil
}
