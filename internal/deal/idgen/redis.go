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

package idgen

import (
	"context"

	redis "github.com/redis/go-redis/v9"
)

// RedisCounter adapts a go-redis client to the Counter interface.
type RedisCounter struct{ c redis.Cmdable }

// NewRedisCounter wraps an existing go-redis client.
func NewRedisCounter(c redis.Cmdable) *RedisCounter { return &RedisCounter{c: c} }

func (r *RedisCounter) Incr(ctx context.Context, key string) (int64, error) {
	return r.c.Incr(ctx, key).Result()
}
