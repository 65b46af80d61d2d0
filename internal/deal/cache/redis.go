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

package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore adapts a go-redis client to the Store interface. A missing key
// (redis.Nil) maps to ok=false so the empty-string negative marker stays
// distinguishable from absence.
type RedisStore struct{ c redis.Cmdable }

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(c redis.Cmdable) *RedisStore { return &RedisStore{c: c} }

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) Del(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}
