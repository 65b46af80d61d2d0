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

// Package idgen produces unique, monotonically increasing 64-bit identifiers
// from a coarse logical clock plus a store-held per-day counter.
package idgen

import (
	"context"
	"fmt"
	"time"

	"flashdeal/internal/deal/rediskey"
)

// counterBits is the width of the per-day sequence in the low bits of an id.
// The high bits carry whole seconds since the epoch below, which keeps ids
// sortable by creation time and bounds the usable lifetime to decades.
const counterBits = 32

// epoch is 2022-01-01T00:00:00Z.
const epoch = 1640995200

// Counter is the single store operation the generator needs: an atomic
// increment returning the new value.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// Worker generates ids for named buckets. It keeps no local state beyond the
// bucket key naming rule; every call is exactly one increment round-trip.
type Worker struct {
	counter Counter
	now     func() time.Time
}

// New creates a Worker backed by the given counter.
func New(counter Counter) *Worker {
	return &Worker{counter: counter, now: time.Now}
}

// NextID returns the next identifier for the bucket. Ids observed in
// timestamp order are strictly increasing for a given bucket.
func (w *Worker) NextID(ctx context.Context, bucket string) (int64, error) {
	now := w.now()
	seq, err := w.counter.Incr(ctx, rediskey.IDCounter(bucket, now))
	if err != nil {
		return 0, fmt.Errorf("idgen incr bucket=%s: %w", bucket, err)
	}
	ts := now.Unix() - epoch
	return ts<<counterBits | seq, nil
}
