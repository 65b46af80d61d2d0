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

// Package seckill implements the flash-sale core: the atomic admission gate
// executed inside the store, the purchase service in front of it, and the
// pipeline that materializes admitted requests into persisted orders.
package seckill

import (
	"context"
	"fmt"
	"strconv"

	"flashdeal/internal/deal/rediskey"
	"flashdeal/internal/deal/telemetry"
)

// AdmitResult is the outcome of the admission gate. Contention outcomes are
// results, not errors.
type AdmitResult int

const (
	Admitted AdmitResult = iota
	OutOfStock
	DuplicateOrder
)

func (r AdmitResult) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case OutOfStock:
		return "out_of_stock"
	case DuplicateOrder:
		return "duplicate_order"
	default:
		return fmt.Sprintf("AdmitResult(%d)", int(r))
	}
}

// Evaler abstracts the minimal store surface the gate needs: atomic
// server-side script execution.
type Evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// admitScript is the whole admission decision in one atomic round trip:
// duplicate-user check, stock check, stock reservation, and enqueue of the
// order stub. Everything downstream assumes admission already happened.
//
// The duplicate check runs before the stock check so a user who already
// holds an order keeps getting DuplicateOrder after sell-out.
//
// KEYS[1] = seckill:stock:{voucherId}
// KEYS[2] = seckill:order:{voucherId}
// KEYS[3] = order stream
// ARGV    = userId, orderId, voucherId
// Returns 0 admitted, 1 out of stock, 2 duplicate order.
const admitScript = `
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
  return 2
end
local stock = tonumber(redis.call('GET', KEYS[1]))
if stock == nil or stock <= 0 then
  return 1
end
redis.call('INCRBY', KEYS[1], -1)
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('XADD', KEYS[3], '*', 'id', ARGV[2], 'userId', ARGV[1], 'voucherId', ARGV[3])
return 0
`

// Gate runs the admission script. It is stateless; all state lives in the
// store so concurrent gates on any number of processes stay race-free.
type Gate struct {
	store  Evaler
	stream string
}

// NewGate creates a gate appending admitted stubs to the given stream.
func NewGate(store Evaler, stream string) *Gate {
	if stream == "" {
		stream = rediskey.OrderStream
	}
	return &Gate{store: store, stream: stream}
}

// TryAdmit validates eligibility and reserves stock in a single round trip.
func (g *Gate) TryAdmit(ctx context.Context, voucherID, userID, orderID int64) (AdmitResult, error) {
	keys := []string{
		rediskey.SeckillStock(voucherID),
		rediskey.SeckillOrders(voucherID),
		g.stream,
	}
	res, err := g.store.Eval(ctx, admitScript, keys,
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(orderID, 10),
		strconv.FormatInt(voucherID, 10))
	if err != nil {
		return 0, fmt.Errorf("admit voucher=%d user=%d: %w", voucherID, userID, err)
	}
	code, ok := res.(int64)
	if !ok || code < 0 || code > 2 {
		return 0, fmt.Errorf("admit voucher=%d: unexpected script result %v", voucherID, res)
	}
	r := AdmitResult(code)
	telemetry.Admission(r.String())
	return r, nil
}
