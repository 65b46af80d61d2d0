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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flashdeal/internal/deal/rediskey"
)

type entry struct {
	value string
	ttl   time.Duration
}

// fakeStore is an in-memory Store. TTLs are recorded, never enforced.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]entry
	setErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]entry)}
}

func (f *fakeStore) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	return e.value, ok, nil
}

func (f *fakeStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.entries[key] = entry{value: value, ttl: ttl}
	return nil
}

func (f *fakeStore) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key)
	return nil
}

func (f *fakeStore) get(key string) (entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	return e, ok
}

// fakeLocks is an in-memory lock.Store implementing SETNX plus the
// owner-checked unlock script.
type fakeLocks struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{tokens: make(map[string]string)}
}

func (f *fakeLocks) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.tokens[key]; held {
		return false, nil
	}
	f.tokens[key] = value
	return true, nil
}

func (f *fakeLocks) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, _ := args[0].(string)
	if f.tokens[keys[0]] == token {
		delete(f.tokens, keys[0])
		return int64(1), nil
	}
	return int64(0), nil
}

type shop struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func shopLoader(calls *atomic.Int64, result *shop, err error) Loader[shop] {
	return func(ctx context.Context, id string) (*shop, error) {
		calls.Add(1)
		return result, err
	}
}

func newTestClient(store *fakeStore) *Client {
	return NewClient(store, newFakeLocks(), 2)
}

func TestQueryPassThrough_MissLoadsAndWritesBack(t *testing.T) {
	store := newFakeStore()
	c := newTestClient(store)
	defer c.Close()

	var calls atomic.Int64
	got, err := QueryPassThrough(context.Background(), c, rediskey.CacheShop, "1",
		rediskey.CacheShopTTL, shopLoader(&calls, &shop{ID: 1, Name: "cafe"}, nil))
	if err != nil {
		t.Fatalf("QueryPassThrough: %v", err)
	}
	if got.Name != "cafe" {
		t.Fatalf("got %+v, want the loaded shop", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("loader calls = %d, want 1", calls.Load())
	}
	e, ok := store.get("cache:shop:1")
	if !ok {
		t.Fatal("miss did not write back to the cache")
	}
	if e.ttl != rediskey.CacheShopTTL {
		t.Fatalf("write-back ttl = %v, want %v", e.ttl, rediskey.CacheShopTTL)
	}
}

func TestQueryPassThrough_HitSkipsLoader(t *testing.T) {
	store := newFakeStore()
	c := newTestClient(store)
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "cache:shop:1", &shop{ID: 1, Name: "cafe"}, time.Minute); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var calls atomic.Int64
	got, err := QueryPassThrough(ctx, c, rediskey.CacheShop, "1", time.Minute,
		shopLoader(&calls, nil, errors.New("loader must not run")))
	if err != nil {
		t.Fatalf("QueryPassThrough: %v", err)
	}
	if got.Name != "cafe" || calls.Load() != 0 {
		t.Fatalf("hit returned %+v with %d loader calls", got, calls.Load())
	}
}

func TestQueryPassThrough_NegativeCachingGuardsTheSource(t *testing.T) {
	store := newFakeStore()
	c := newTestClient(store)
	defer c.Close()

	ctx := context.Background()
	var calls atomic.Int64
	load := shopLoader(&calls, nil, nil)

	// First lookup of an absent id reaches the source and plants the marker.
	if _, err := QueryPassThrough(ctx, c, rediskey.CacheShop, "404", time.Minute, load); !errors.Is(err, ErrNotFound) {
		t.Fatalf("first lookup err = %v, want ErrNotFound", err)
	}
	e, ok := store.get("cache:shop:404")
	if !ok || e.value != "" {
		t.Fatalf("negative marker = (%q, %v), want empty string present", e.value, ok)
	}
	if e.ttl != rediskey.CacheNullTTL {
		t.Fatalf("negative marker ttl = %v, want %v", e.ttl, rediskey.CacheNullTTL)
	}

	// Repeated lookups are absorbed by the marker.
	for i := 0; i < 50; i++ {
		if _, err := QueryPassThrough(ctx, c, rediskey.CacheShop, "404", time.Minute, load); !errors.Is(err, ErrNotFound) {
			t.Fatalf("lookup #%d err = %v, want ErrNotFound", i, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("loader calls = %d, want 1 (marker must absorb repeats)", calls.Load())
	}
}

func TestQueryPassThrough_MalformedPayloadReloads(t *testing.T) {
	store := newFakeStore()
	c := newTestClient(store)
	defer c.Close()

	ctx := context.Background()
	store.entries["cache:shop:1"] = entry{value: "{not json"}

	var calls atomic.Int64
	got, err := QueryPassThrough(ctx, c, rediskey.CacheShop, "1", time.Minute,
		shopLoader(&calls, &shop{ID: 1, Name: "cafe"}, nil))
	if err != nil || got.Name != "cafe" {
		t.Fatalf("QueryPassThrough = (%+v, %v), want reloaded shop", got, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("loader calls = %d, want 1", calls.Load())
	}
}

func TestQueryPassThrough_WriteBackFailureStillServes(t *testing.T) {
	store := newFakeStore()
	store.setErr = errors.New("store read-only")
	c := newTestClient(store)
	defer c.Close()

	var calls atomic.Int64
	got, err := QueryPassThrough(context.Background(), c, rediskey.CacheShop, "1",
		time.Minute, shopLoader(&calls, &shop{ID: 1, Name: "cafe"}, nil))
	if err != nil || got == nil {
		t.Fatalf("QueryPassThrough = (%+v, %v), want the loaded value despite write-back failure", got, err)
	}
}

func TestQueryLogicalExpire_ColdKey(t *testing.T) {
	store := newFakeStore()
	c := newTestClient(store)
	defer c.Close()

	var calls atomic.Int64
	_, err := QueryLogicalExpire(context.Background(), c, rediskey.CacheShop, "9",
		time.Minute, shopLoader(&calls, &shop{ID: 9}, nil))
	if !errors.Is(err, ErrColdKey) {
		t.Fatalf("err = %v, want ErrColdKey", err)
	}
	if calls.Load() != 0 {
		t.Fatal("cold key must not reach the source of truth")
	}
}

func TestQueryLogicalExpire_FreshHit(t *testing.T) {
	store := newFakeStore()
	c := newTestClient(store)
	defer c.Close()

	ctx := context.Background()
	if err := c.SetWithLogicalExpire(ctx, "cache:shop:1", &shop{ID: 1, Name: "cafe"}, time.Hour); err != nil {
		t.Fatalf("warm: %v", err)
	}
	// Envelope entries carry no store-side TTL.
	if e, _ := store.get("cache:shop:1"); e.ttl != 0 {
		t.Fatalf("store ttl = %v, want none", e.ttl)
	}

	var calls atomic.Int64
	got, err := QueryLogicalExpire(ctx, c, rediskey.CacheShop, "1", time.Hour,
		shopLoader(&calls, nil, errors.New("loader must not run")))
	if err != nil || got.Name != "cafe" {
		t.Fatalf("QueryLogicalExpire = (%+v, %v), want fresh hit", got, err)
	}
	if calls.Load() != 0 {
		t.Fatal("fresh hit must not rebuild")
	}
}

func TestQueryLogicalExpire_StaleServesAndRebuildsOnce(t *testing.T) {
	store := newFakeStore()
	c := newTestClient(store)

	ctx := context.Background()
	// Negative ttl puts the envelope expiry in the past.
	if err := c.SetWithLogicalExpire(ctx, "cache:shop:1", &shop{ID: 1, Name: "stale"}, -time.Minute); err != nil {
		t.Fatalf("warm: %v", err)
	}

	// The loader holds the rebuild lock long enough for every reader below
	// to attempt (and lose) it, so exactly one rebuild can run.
	var calls atomic.Int64
	load := Loader[shop](func(ctx context.Context, id string) (*shop, error) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		return &shop{ID: 1, Name: "fresh"}, nil
	})

	const readers = 16
	var wg sync.WaitGroup
	results := make([]*shop, readers)
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func(i int) {
			defer wg.Done()
			got, err := QueryLogicalExpire(ctx, c, rediskey.CacheShop, "1", time.Hour, load)
			if err != nil {
				t.Errorf("reader %d: %v", i, err)
				return
			}
			results[i] = got
		}(i)
	}
	wg.Wait()

	// Every reader got an answer immediately, stale or fresh.
	for i, got := range results {
		if got == nil {
			t.Fatalf("reader %d got nothing", i)
		}
		if got.Name != "stale" && got.Name != "fresh" {
			t.Fatalf("reader %d got %+v", i, got)
		}
	}

	// Drain the rebuild pool, then confirm a single rebuild ran and wrote a
	// fresh envelope.
	c.Close()
	if calls.Load() != 1 {
		t.Fatalf("loader calls = %d, want exactly 1 rebuild", calls.Load())
	}
	got, err := QueryLogicalExpire(ctx, c, rediskey.CacheShop, "1", time.Hour,
		shopLoader(&calls, nil, errors.New("loader must not run")))
	if err != nil || got.Name != "fresh" {
		t.Fatalf("post-rebuild read = (%+v, %v), want fresh", got, err)
	}
}

func TestQueryLogicalExpire_RebuildDropsDeletedEntity(t *testing.T) {
	store := newFakeStore()
	c := newTestClient(store)

	ctx := context.Background()
	if err := c.SetWithLogicalExpire(ctx, "cache:shop:1", &shop{ID: 1, Name: "stale"}, -time.Minute); err != nil {
		t.Fatalf("warm: %v", err)
	}

	var calls atomic.Int64
	got, err := QueryLogicalExpire(ctx, c, rediskey.CacheShop, "1", time.Hour,
		shopLoader(&calls, nil, nil))
	if err != nil || got.Name != "stale" {
		t.Fatalf("stale read = (%+v, %v)", got, err)
	}

	c.Close()
	if _, ok := store.get("cache:shop:1"); ok {
		t.Fatal("entry for an entity gone from the source of truth was not dropped")
	}
}

func TestQueryLogicalExpire_MalformedEnvelopeIsCold(t *testing.T) {
	store := newFakeStore()
	c := newTestClient(store)
	defer c.Close()

	store.entries["cache:shop:1"] = entry{value: "{broken"}
	var calls atomic.Int64
	_, err := QueryLogicalExpire(context.Background(), c, rediskey.CacheShop, "1",
		time.Minute, shopLoader(&calls, &shop{ID: 1}, nil))
	if !errors.Is(err, ErrColdKey) {
		t.Fatalf("err = %v, want ErrColdKey", err)
	}
}
