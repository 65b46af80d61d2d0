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

// Package cache implements the two read-through strategies that keep hot
// lookups off the source of truth: pass-through with negative caching, and
// logical expiration with asynchronous background rebuild.
//
// A given key is used with exactly one strategy; the two representations
// (bare payload vs envelope) share the key namespace but never the same key.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"flashdeal/internal/deal/lock"
)

// ErrNotFound reports that the entity is confirmed absent from both the
// cache and the source of truth (a negative-cache hit or a loader miss).
var ErrNotFound = errors.New("cache: entity not found")

// ErrColdKey reports that a logical-expiration key has never been warmed.
// The strategy never populates a cold key itself; callers fall back to the
// pass-through strategy or to an explicit warm-up.
var ErrColdKey = errors.New("cache: cold key")

// Store abstracts the store surface the cache needs. Get distinguishes a
// missing key (ok=false) from a present-but-empty value, which is the
// negative marker.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set writes a value; ttl <= 0 means no store-side expiry (used by the
	// logical-expiration strategy, whose freshness lives in the envelope).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Loader fetches an entity from the source of truth. Returning (nil, nil)
// means the entity does not exist.
type Loader[T any] func(ctx context.Context, id string) (*T, error)

// envelope wraps a payload with its application-tracked expiry for the
// logical-expiration strategy.
type envelope struct {
	Data     json.RawMessage `json:"data"`
	ExpireAt time.Time       `json:"expireAt"`
}

const (
	defaultRebuildWorkers = 10
	rebuildQueueCap       = 256
	rebuildTimeout        = 5 * time.Second
)

// Client is the shared cache front end. Rebuild work runs on a small fixed
// worker pool so a stale hot key degrades to serving stale data plus a
// single rebuild, never a stampede.
type Client struct {
	store Store
	locks lock.Store

	tasks     chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once

	now func() time.Time
}

// NewClient creates a cache client with the given rebuild pool size
// (0 uses the default).
func NewClient(store Store, locks lock.Store, rebuildWorkers int) *Client {
	if rebuildWorkers <= 0 {
		rebuildWorkers = defaultRebuildWorkers
	}
	c := &Client{
		store: store,
		locks: locks,
		tasks: make(chan func(), rebuildQueueCap),
		now:   time.Now,
	}
	c.wg.Add(rebuildWorkers)
	for i := 0; i < rebuildWorkers; i++ {
		go func() {
			defer c.wg.Done()
			for fn := range c.tasks {
				fn()
			}
		}()
	}
	return c
}

// Set serializes value and writes it with a store-side TTL (pass-through
// strategy representation).
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, string(raw), ttl)
}

// SetWithLogicalExpire writes value wrapped in an envelope whose expiry is
// now+ttl. No store-side TTL is set: the entry must remain servable (stale)
// while a rebuild is in flight.
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	env, err := json.Marshal(envelope{Data: raw, ExpireAt: c.now().Add(ttl)})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, string(env), 0)
}

// Delete removes a cache entry. Source-of-truth writes invalidate (delete)
// rather than update the cache.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.store.Del(ctx, key)
}

// Close stops the rebuild pool after draining queued tasks. Safe to call
// multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.tasks)
	})
	c.wg.Wait()
}

// submit hands a task to the rebuild pool without blocking. It reports
// whether the task was accepted; a full queue is a signal the pool is
// saturated and the caller should give up (the stale value keeps serving).
func (c *Client) submit(fn func()) bool {
	select {
	case c.tasks <- fn:
		return true
	default:
		return false
	}
}

// lockNameFor maps a cache key to its rebuild lock name: cache:shop:1 is
// guarded by lock:shop:1 (the lock package adds the "lock:" segment).
func lockNameFor(key string) string {
	return strings.TrimPrefix(key, "cache:")
}

func logf(format string, args ...interface{}) {
	log.Printf("cache: "+format, args...)
}
