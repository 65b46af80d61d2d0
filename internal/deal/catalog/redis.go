// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package catalog

import (
	"context"
	"strconv"

	redis "github.com/redis/go-redis/v9"

	"flashdeal/internal/deal/rediskey"
)

// RedisGeo adapts a go-redis client to the GeoIndex interface.
type RedisGeo struct{ c redis.Cmdable }

// NewRedisGeo wraps an existing go-redis client.
func NewRedisGeo(c redis.Cmdable) *RedisGeo { return &RedisGeo{c: c} }

func (r *RedisGeo) Add(ctx context.Context, typeID, shopID int64, x, y float64) error {
	return r.c.GeoAdd(ctx, rediskey.ShopGeo(typeID), &redis.GeoLocation{
		Name:      strconv.FormatInt(shopID, 10),
		Longitude: x,
		Latitude:  y,
	}).Err()
}

func (r *RedisGeo) SearchNearby(ctx context.Context, typeID int64, x, y, radiusMeters float64, limit int) ([]GeoHit, error) {
	locs, err := r.c.GeoSearchLocation(ctx, rediskey.ShopGeo(typeID), &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  x,
			Latitude:   y,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      limit,
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]GeoHit, 0, len(locs))
	for _, l := range locs {
		id, err := strconv.ParseInt(l.Name, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, GeoHit{ShopID: id, DistanceM: l.Dist})
	}
	return out, nil
}
