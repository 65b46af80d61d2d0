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

package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore adapts a go-redis client to the Store interface.
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
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	return r.c.HSet(ctx, key, fields).Err()
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.c.HGetAll(ctx, key).Result()
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.c.Expire(ctx, key, ttl).Err()
}

func (r *RedisStore) SetBit(ctx context.Context, key string, offset int64, value int) error {
	return r.c.SetBit(ctx, key, offset, value).Err()
}

func (r *RedisStore) BitFieldGet(ctx context.Context, key string, bits int, offset int64) (int64, error) {
	res, err := r.c.BitField(ctx, key, "GET", fmt.Sprintf("u%d", bits), offset).Result()
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}
