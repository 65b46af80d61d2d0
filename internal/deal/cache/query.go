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
	"encoding/json"
	"time"

	"flashdeal/internal/deal/lock"
	"flashdeal/internal/deal/rediskey"
	"flashdeal/internal/deal/telemetry"
)

// QueryPassThrough resolves keyPrefix+id through the cache, loading from the
// source of truth on a miss. A loader miss writes an empty marker with a
// short TTL so repeated lookups of absent ids never reach the source of
// truth (penetration guard).
//
// There is no locking: concurrent misses may all invoke the loader. This
// path is reserved for low-contention lookups; hot keys use
// QueryLogicalExpire.
func QueryPassThrough[T any](ctx context.Context, c *Client, keyPrefix, id string, ttl time.Duration, load Loader[T]) (*T, error) {
	key := keyPrefix + id

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		if raw == "" {
			// Negative-cache hit: confirmed absent.
			telemetry.CacheHit("pass_through")
			return nil, ErrNotFound
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			telemetry.CacheHit("pass_through")
			return &v, nil
		}
		// Malformed payload: log and treat as a miss so the loader
		// overwrites it on the next write.
		logf("malformed payload at %s, reloading", key)
	}

	telemetry.CacheMiss("pass_through")
	v, err := load(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		if err := c.store.Set(ctx, key, "", rediskey.CacheNullTTL); err != nil {
			logf("negative write %s: %v", key, err)
		}
		telemetry.NegativeWrite()
		return nil, ErrNotFound
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		// The value is good even if the write-back failed.
		logf("write-back %s: %v", key, err)
	}
	return v, nil
}

// QueryLogicalExpire resolves keyPrefix+id through the logical-expiration
// strategy. A cold key returns ErrColdKey (this strategy never populates one
// itself). A stale entry is returned immediately while at most one worker
// rebuilds it in the background under the rebuild lock.
func QueryLogicalExpire[T any](ctx context.Context, c *Client, keyPrefix, id string, ttl time.Duration, load Loader[T]) (*T, error) {
	key := keyPrefix + id

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		telemetry.CacheMiss("logical_expire")
		return nil, ErrColdKey
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		logf("malformed envelope at %s: %v", key, err)
		return nil, ErrColdKey
	}
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		logf("malformed payload at %s: %v", key, err)
		return nil, ErrColdKey
	}

	if c.now().Before(env.ExpireAt) {
		telemetry.CacheHit("logical_expire")
		return &v, nil
	}

	// Expired: serve the stale payload and try to kick off exactly one
	// rebuild. Losing the lock means another worker is already on it.
	telemetry.CacheHit("logical_expire_stale")
	mu := lock.New(c.locks, lockNameFor(key))
	got, err := mu.TryLock(ctx, rediskey.MutexTTL)
	if err != nil {
		logf("rebuild lock %s: %v", key, err)
		return &v, nil
	}
	if got {
		submitted := c.submit(func() {
			// The requesting context is long gone by the time this
			// runs; the rebuild gets its own bounded context.
			rctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
			defer cancel()
			defer func() {
				if err := mu.Unlock(rctx); err != nil {
					logf("rebuild unlock %s: %v", key, err)
				}
			}()

			fresh, err := load(rctx, id)
			if err != nil {
				logf("rebuild load %s: %v", key, err)
				return
			}
			if fresh == nil {
				// Gone from the source of truth: drop the entry.
				if err := c.store.Del(rctx, key); err != nil {
					logf("rebuild delete %s: %v", key, err)
				}
				return
			}
			if err := c.SetWithLogicalExpire(rctx, key, fresh, ttl); err != nil {
				logf("rebuild write %s: %v", key, err)
				return
			}
			telemetry.CacheRebuild()
		})
		if !submitted {
			logf("rebuild queue full, skipping %s", key)
			if err := mu.Unlock(ctx); err != nil {
				logf("rebuild unlock %s: %v", key, err)
			}
		}
	}
	return &v, nil
}
