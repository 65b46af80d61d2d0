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

// In-memory fakes shared by the tests in this package. The evaler reproduces
// the admission script's semantics under a single mutex, which is exactly the
// atomicity the store gives the real script.

package seckill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flashdeal/internal/deal/storage"
)

// fakeStreams is an in-memory consumer-group stream for a single consumer:
// entries are delivered once via ">" and stay pending until acknowledged.
type fakeStreams struct {
	mu        sync.Mutex
	seq       int
	entries   []Message
	delivered map[string]bool
	acked     map[string]bool
	groups    map[string]bool
	failReads int
}

func newFakeStreams() *fakeStreams {
	return &fakeStreams{
		delivered: make(map[string]bool),
		acked:     make(map[string]bool),
		groups:    make(map[string]bool),
	}
}

func (f *fakeStreams) add(fields map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.entries = append(f.entries, Message{ID: fmt.Sprintf("%d-0", f.seq), Fields: fields})
}

func (f *fakeStreams) EnsureGroup(ctx context.Context, stream, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[stream+"/"+group] = true
	return nil
}

func (f *fakeStreams) ReadGroup(ctx context.Context, group, consumer, stream, from string, count int64, block time.Duration) ([]Message, error) {
	f.mu.Lock()
	if from == ">" && f.failReads > 0 {
		f.failReads--
		f.mu.Unlock()
		return nil, errors.New("stream read failed")
	}
	for _, m := range f.entries {
		if from == ">" && !f.delivered[m.ID] {
			f.delivered[m.ID] = true
			f.mu.Unlock()
			return []Message{m}, nil
		}
		if from == "0" && f.delivered[m.ID] && !f.acked[m.ID] {
			f.mu.Unlock()
			return []Message{m}, nil
		}
	}
	f.mu.Unlock()
	if from == ">" && block != 0 {
		// Stand in for the bounded block so the receive loop does not spin.
		time.Sleep(2 * time.Millisecond)
	}
	return nil, nil
}

func (f *fakeStreams) Ack(ctx context.Context, stream, group, msgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked[msgID] = true
	return nil
}

func (f *fakeStreams) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id := range f.delivered {
		if !f.acked[id] {
			n++
		}
	}
	return n
}

// fakeEvaler reproduces the admission script against in-memory state.
type fakeEvaler struct {
	mu      sync.Mutex
	stock   map[string]int
	members map[string]map[string]bool
	streams *fakeStreams
}

func newFakeEvaler(streams *fakeStreams) *fakeEvaler {
	return &fakeEvaler{
		stock:   make(map[string]int),
		members: make(map[string]map[string]bool),
		streams: streams,
	}
}

func (f *fakeEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(keys) != 3 || len(args) != 3 {
		return nil, errors.New("unexpected script call")
	}
	stockKey, orderKey := keys[0], keys[1]
	userID := args[0].(string)

	if f.members[orderKey][userID] {
		return int64(2), nil
	}
	stock, ok := f.stock[stockKey]
	if !ok || stock <= 0 {
		return int64(1), nil
	}
	f.stock[stockKey]--
	if f.members[orderKey] == nil {
		f.members[orderKey] = make(map[string]bool)
	}
	f.members[orderKey][userID] = true
	f.streams.add(map[string]string{
		"id":        args[1].(string),
		"userId":    userID,
		"voucherId": args[2].(string),
	})
	return int64(0), nil
}

// fakeStocks seeds the evaler's stock counters.
type fakeStocks struct{ evaler *fakeEvaler }

func (f *fakeStocks) SetStock(ctx context.Context, voucherID int64, stock int) error {
	f.evaler.mu.Lock()
	defer f.evaler.mu.Unlock()
	f.evaler.stock[fmt.Sprintf("seckill:stock:%d", voucherID)] = stock
	return nil
}

// fakeLocks is an in-memory lock.Store with SETNX and owner-checked unlock.
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

func (f *fakeLocks) hold(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[key] = "someone-else"
}

func (f *fakeLocks) release(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, key)
}

// memOrders is an in-memory storage.OrderStore with the same uniqueness rule
// as the relational schema.
type memOrders struct {
	mu     sync.Mutex
	byID   map[int64]storage.Order
	byPair map[[2]int64]bool
}

func newMemOrders() *memOrders {
	return &memOrders{byID: make(map[int64]storage.Order), byPair: make(map[[2]int64]bool)}
}

func (m *memOrders) Insert(ctx context.Context, o *storage.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair := [2]int64{o.UserID, o.VoucherID}
	if m.byPair[pair] {
		return storage.ErrDuplicate
	}
	if _, ok := m.byID[o.ID]; ok {
		return storage.ErrDuplicate
	}
	m.byID[o.ID] = *o
	m.byPair[pair] = true
	return nil
}

func (m *memOrders) CountByUserVoucher(ctx context.Context, userID, voucherID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byPair[[2]int64{userID, voucherID}] {
		return 1, nil
	}
	return 0, nil
}

func (m *memOrders) GetByID(ctx context.Context, id int64) (*storage.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &o, nil
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// memVouchers is an in-memory storage.VoucherStore.
type memVouchers struct {
	mu       sync.Mutex
	vouchers map[int64]storage.Voucher
}

func newMemVouchers() *memVouchers {
	return &memVouchers{vouchers: make(map[int64]storage.Voucher)}
}

func (m *memVouchers) Create(ctx context.Context, v *storage.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vouchers[v.ID] = *v
	return nil
}

func (m *memVouchers) GetByID(ctx context.Context, id int64) (*storage.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &v, nil
}

// cacheEntry / fakeCacheStore back the cache client without a real store.
type cacheEntry struct{ value string }

type fakeCacheStore struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newFakeCacheStore() *fakeCacheStore {
	return &fakeCacheStore{entries: make(map[string]cacheEntry)}
}

func (f *fakeCacheStore) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	return e.value, ok, nil
}

func (f *fakeCacheStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = cacheEntry{value: value}
	return nil
}

func (f *fakeCacheStore) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key)
	return nil
}

// fakeCounter backs the id generator.
type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: make(map[string]int64)}
}

func (f *fakeCounter) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t interface {
	Helper()
	Fatalf(format string, args ...interface{})
}, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
