package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"emergency-rescue-system/pkg/locations"

	"github.com/redis/go-redis/v9"
)

const landmarksKey = "location:landmarks"

// landmarkCache holds the full landmark list. Landmarks are read-only to
// clients so a TTL is the only invalidation.
type landmarkCache interface {
	Get(ctx context.Context) ([]locations.Landmark, bool, error)
	Set(ctx context.Context, list []locations.Landmark) error
}

type redisLandmarkCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func newRedisLandmarkCache(client redis.UniversalClient, ttl time.Duration) *redisLandmarkCache {
	return &redisLandmarkCache{client: client, ttl: ttl}
}

func (c *redisLandmarkCache) Get(ctx context.Context) ([]locations.Landmark, bool, error) {
	data, err := c.client.Get(ctx, landmarksKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var list []locations.Landmark
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, false, err
	}
	return list, true, nil
}

func (c *redisLandmarkCache) Set(ctx context.Context, list []locations.Landmark) error {
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, landmarksKey, data, c.ttl).Err()
}
