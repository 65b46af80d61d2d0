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

// This file implements the order materialization pipeline: a single
// dedicated consumer that turns admitted stubs from the durable queue into
// persisted order rows, with pending-list replay for crash recovery.

package seckill

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"flashdeal/internal/deal/lock"
	"flashdeal/internal/deal/rediskey"
	"flashdeal/internal/deal/storage"
	"flashdeal/internal/deal/telemetry"
)

// Message is one queue entry: the store-assigned monotonic id plus the flat
// string fields of the order stub.
type Message struct {
	ID     string
	Fields map[string]string
}

// StreamStore abstracts the consumer-group queue surface the pipeline needs.
type StreamStore interface {
	// EnsureGroup creates the consumer group (and the stream if missing);
	// an already-existing group is not an error.
	EnsureGroup(ctx context.Context, stream, group string) error
	// ReadGroup reads up to count entries for consumer in group. from is
	// ">" for new entries (blocking up to block) or "0" for this
	// consumer's pending entries (non-blocking). An empty result is
	// (nil, nil).
	ReadGroup(ctx context.Context, group, consumer, stream, from string, count int64, block time.Duration) ([]Message, error)
	// Ack acknowledges one entry by id.
	Ack(ctx context.Context, stream, group, msgID string) error
}

const recoveryBackoff = 20 * time.Millisecond

// Pipeline is the single consumer of the order stream. Run one per process;
// in-process ordering of persistence attempts comes from the single
// goroutine, cross-process ordering from the per-user lock.
type Pipeline struct {
	streams  StreamStore
	orders   storage.OrderStore
	locks    lock.Store
	stream   string
	group    string
	consumer string
	block    time.Duration
}

// NewPipeline wires a pipeline. consumer is the fixed identity of this
// process instance within the group.
func NewPipeline(streams StreamStore, orders storage.OrderStore, locks lock.Store, stream, group, consumer string, block time.Duration) *Pipeline {
	if stream == "" {
		stream = rediskey.OrderStream
	}
	if group == "" {
		group = rediskey.OrderGroup
	}
	if block <= 0 {
		block = 2 * time.Second
	}
	return &Pipeline{
		streams:  streams,
		orders:   orders,
		locks:    locks,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    block,
	}
}

// Run drives the main receive loop until ctx is cancelled. Any error on the
// loop drops into pending-list recovery before resuming, so an entry that
// was delivered but not acknowledged is never lost.
func (p *Pipeline) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := p.streams.EnsureGroup(ctx, p.stream, p.group); err != nil {
			log.Printf("pipeline: create group: %v", err)
			sleep(ctx, time.Second)
			continue
		}
		break
	}

	for ctx.Err() == nil {
		msgs, err := p.streams.ReadGroup(ctx, p.group, p.consumer, p.stream, ">", 1, p.block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("pipeline: read: %v", err)
			p.recoverPending(ctx)
			continue
		}
		for _, m := range msgs {
			ack, err := p.process(ctx, m)
			if err != nil {
				log.Printf("pipeline: process %s: %v", m.ID, err)
				p.recoverPending(ctx)
				continue
			}
			if !ack {
				// Dropped without ack (lock contention or data
				// fault); it stays on the pending list and
				// resurfaces via recovery.
				continue
			}
			if err := p.streams.Ack(ctx, p.stream, p.group, m.ID); err != nil {
				log.Printf("pipeline: ack %s: %v", m.ID, err)
				p.recoverPending(ctx)
			}
		}
	}
}

// recoverPending replays this consumer's delivered-but-unacknowledged
// entries from the start of the pending list through the same
// persist-then-acknowledge path, and returns once the list is empty.
func (p *Pipeline) recoverPending(ctx context.Context) {
	log.Printf("pipeline: recovering pending entries")
	for ctx.Err() == nil {
		msgs, err := p.streams.ReadGroup(ctx, p.group, p.consumer, p.stream, "0", 1, 0)
		if err != nil {
			log.Printf("pipeline: pending read: %v", err)
			sleep(ctx, recoveryBackoff)
			continue
		}
		if len(msgs) == 0 {
			return
		}
		m := msgs[0]
		ack, err := p.process(ctx, m)
		if err != nil {
			log.Printf("pipeline: pending process %s: %v", m.ID, err)
			sleep(ctx, recoveryBackoff)
			continue
		}
		if !ack {
			// Still not processable (e.g. lock held elsewhere); back
			// off rather than spin on the same entry.
			sleep(ctx, recoveryBackoff)
			continue
		}
		if err := p.streams.Ack(ctx, p.stream, p.group, m.ID); err != nil {
			log.Printf("pipeline: pending ack %s: %v", m.ID, err)
			sleep(ctx, recoveryBackoff)
			continue
		}
		telemetry.OrderRecovered()
	}
}

// process materializes one stub. The returned bool reports whether the entry
// should be acknowledged; a false with nil error means the entry is dropped
// for now and left pending on purpose.
func (p *Pipeline) process(ctx context.Context, m Message) (bool, error) {
	o, err := parseStub(m)
	if err != nil {
		// Data fault: not retryable, abandon this unit of work.
		log.Printf("pipeline: bad message %s: %v", m.ID, err)
		return false, nil
	}

	mu := lock.New(p.locks, rediskey.OrderLock(o.UserID))
	got, err := mu.LockWithWait(ctx, rediskey.OrderLockWait, rediskey.OrderLockTTL)
	if err != nil {
		return false, err
	}
	if !got {
		// Intentional: dropped without ack, the pending list brings it
		// back rather than silently losing it.
		telemetry.LockContention()
		log.Printf("pipeline: order lock busy for user %d, leaving %s pending", o.UserID, m.ID)
		return false, nil
	}
	defer func() {
		if err := mu.Unlock(ctx); err != nil {
			log.Printf("pipeline: unlock user %d: %v", o.UserID, err)
		}
	}()

	// Defense in depth: the admission script already enforces one order per
	// user per voucher, but replay after a partial failure can present an
	// admitted order twice.
	n, err := p.orders.CountByUserVoucher(ctx, o.UserID, o.VoucherID)
	if err != nil {
		return false, err
	}
	if n > 0 {
		log.Printf("pipeline: order for user %d voucher %d already persisted", o.UserID, o.VoucherID)
		return true, nil
	}

	// Stock is not decremented here; the gate already reserved it
	// atomically.
	err = p.orders.Insert(ctx, &storage.Order{
		ID:        o.ID,
		UserID:    o.UserID,
		VoucherID: o.VoucherID,
		Status:    storage.OrderStatusUnpaid,
		CreatedAt: time.Now(),
	})
	if errors.Is(err, storage.ErrDuplicate) {
		log.Printf("pipeline: duplicate insert for user %d voucher %d", o.UserID, o.VoucherID)
		return true, nil
	}
	if err != nil {
		return false, err
	}
	telemetry.OrderPersisted()
	return true, nil
}

type orderStub struct {
	ID        int64
	UserID    int64
	VoucherID int64
}

func parseStub(m Message) (orderStub, error) {
	var o orderStub
	var err error
	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{"id", &o.ID},
		{"userId", &o.UserID},
		{"voucherId", &o.VoucherID},
	} {
		raw, ok := m.Fields[f.name]
		if !ok {
			return o, errors.New("missing field " + f.name)
		}
		if *f.dst, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return o, errors.New("bad field " + f.name + ": " + raw)
		}
	}
	return o, nil
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
