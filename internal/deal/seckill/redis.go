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

package seckill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"flashdeal/internal/deal/rediskey"
)

// RedisEvaler adapts a go-redis client to the Evaler interface.
type RedisEvaler struct{ c redis.Cmdable }

// NewRedisEvaler wraps an existing go-redis client.
func NewRedisEvaler(c redis.Cmdable) *RedisEvaler { return &RedisEvaler{c: c} }

func (r *RedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return r.c.Eval(ctx, script, keys, args...).Result()
}

// RedisStreams adapts a go-redis client to the StreamStore interface.
type RedisStreams struct{ c redis.Cmdable }

// NewRedisStreams wraps an existing go-redis client.
func NewRedisStreams(c redis.Cmdable) *RedisStreams { return &RedisStreams{c: c} }

func (r *RedisStreams) EnsureGroup(ctx context.Context, stream, group string) error {
	err := r.c.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *RedisStreams) ReadGroup(ctx context.Context, group, consumer, stream, from string, count int64, block time.Duration) ([]Message, error) {
	// go-redis treats Block==0 as "block forever"; a negative value omits
	// the BLOCK argument entirely, which is what pending-list reads need.
	if block <= 0 {
		block = -1
	}
	streams, err := r.c.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, from},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			fields := make(map[string]string, len(m.Values))
			for k, v := range m.Values {
				fields[k] = fmt.Sprint(v)
			}
			out = append(out, Message{ID: m.ID, Fields: fields})
		}
	}
	return out, nil
}

func (r *RedisStreams) Ack(ctx context.Context, stream, group, msgID string) error {
	return r.c.XAck(ctx, stream, group, msgID).Err()
}

// RedisStocks adapts a go-redis client to the StockSeeder interface.
type RedisStocks struct{ c redis.Cmdable }

// NewRedisStocks wraps an existing go-redis client.
func NewRedisStocks(c redis.Cmdable) *RedisStocks { return &RedisStocks{c: c} }

func (r *RedisStocks) SetStock(ctx context.Context, voucherID int64, stock int) error {
	return r.c.Set(ctx, rediskey.SeckillStock(voucherID), strconv.Itoa(stock), 0).Err()
}
