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

// Package lock implements a named, TTL-bounded mutual-exclusion primitive on
// top of the shared store's conditional SET-if-absent.
//
// The lock is advisory and unfenced: a holder that outlives its TTL can be
// silently superseded. Callers keep critical sections short relative to the
// TTL.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const keyPrefix = "lock:"

// Store abstracts the minimal store surface the lock needs.
// Implementations may wrap github.com/redis/go-redis/v9 or any equivalent.
type Store interface {
	// SetNX sets key to value with a TTL only if the key is absent, and
	// reports whether the set happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Eval runs a server-side script atomically.
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// unlockScript deletes the lock only when it is still owned by the caller's
// token, so a holder that lost the lock to TTL expiry cannot release a
// successor's lock.
const unlockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// Mutex is a single named lock. It is not reentrant and a Mutex value is not
// safe for concurrent use; create one per acquisition attempt.
type Mutex struct {
	store Store
	key   string
	token string
}

// New creates a mutex for the given name. The name is scoped under the
// "lock:" namespace; the owner token is unique per Mutex value.
func New(store Store, name string) *Mutex {
	return &Mutex{
		store: store,
		key:   keyPrefix + name,
		token: uuid.NewString(),
	}
}

// TryLock attempts a single acquisition with the given hold TTL.
// Contention is a normal outcome reported as false, not an error; only I/O
// failure against the store is an error.
func (m *Mutex) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	return m.store.SetNX(ctx, m.key, m.token, ttl)
}

// LockWithWait retries acquisition until it succeeds or the bounded wait
// elapses. It is used where losing the lock must not silently drop work
// (order materialization); best-effort callers use TryLock directly.
func (m *Mutex) LockWithWait(ctx context.Context, wait, ttl time.Duration) (bool, error) {
	const pollInterval = 50 * time.Millisecond

	deadline := time.Now().Add(wait)
	for {
		ok, err := m.TryLock(ctx, ttl)
		if err != nil || ok {
			return ok, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Unlock releases the lock if this mutex still owns it. Releasing a lock
// that expired (and was possibly re-acquired by someone else) is a no-op.
func (m *Mutex) Unlock(ctx context.Context) error {
	_, err := m.store.Eval(ctx, unlockScript, []string{m.key}, m.token)
	return err
}
