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
	"time"

	"flashdeal/internal/deal/cache"
	"flashdeal/internal/deal/idgen"
	"flashdeal/internal/deal/rediskey"
	"flashdeal/internal/deal/storage"
)

// Purchase outcomes surfaced to callers. Everything else presents as a
// generic failure without internal detail.
var (
	ErrOutOfStock     = errors.New("seckill: out of stock")
	ErrDuplicateOrder = errors.New("seckill: duplicate order")
	ErrNotStarted     = errors.New("seckill: sale not started")
	ErrEnded          = errors.New("seckill: sale ended")
	ErrUnknownVoucher = errors.New("seckill: unknown voucher")
)

// StockSeeder warms the store-side stock counter when a voucher goes live.
type StockSeeder interface {
	SetStock(ctx context.Context, voucherID int64, stock int) error
}

// Service fronts the admission gate: it resolves the voucher (through the
// cache), generates the order id, and runs the gate.
type Service struct {
	gate     *Gate
	ids      *idgen.Worker
	vouchers storage.VoucherStore
	cache    *cache.Client
	stocks   StockSeeder
	now      func() time.Time
}

// NewService wires the purchase path.
func NewService(gate *Gate, ids *idgen.Worker, vouchers storage.VoucherStore, c *cache.Client, stocks StockSeeder) *Service {
	return &Service{
		gate:     gate,
		ids:      ids,
		vouchers: vouchers,
		cache:    c,
		stocks:   stocks,
		now:      time.Now,
	}
}

// SeedVoucher persists a flash-sale voucher and warms the store-side stock
// counter the admission gate decrements.
func (s *Service) SeedVoucher(ctx context.Context, v *storage.Voucher) error {
	if err := s.vouchers.Create(ctx, v); err != nil {
		return err
	}
	if err := s.stocks.SetStock(ctx, v.ID, v.Stock); err != nil {
		return fmt.Errorf("seed stock voucher=%d: %w", v.ID, err)
	}
	return nil
}

// Purchase runs one flash-sale attempt and returns the order id on
// admission. The order row does not exist yet at return time; the pipeline
// materializes it asynchronously with the returned id as correlation key.
func (s *Service) Purchase(ctx context.Context, voucherID, userID int64) (int64, error) {
	v, err := s.voucher(ctx, voucherID)
	if err != nil {
		return 0, err
	}
	now := s.now()
	if now.Before(v.BeginTime) {
		return 0, ErrNotStarted
	}
	if !now.Before(v.EndTime) {
		return 0, ErrEnded
	}

	orderID, err := s.ids.NextID(ctx, "order")
	if err != nil {
		return 0, err
	}

	res, err := s.gate.TryAdmit(ctx, voucherID, userID, orderID)
	if err != nil {
		return 0, err
	}
	switch res {
	case OutOfStock:
		return 0, ErrOutOfStock
	case DuplicateOrder:
		return 0, ErrDuplicateOrder
	}
	return orderID, nil
}

// voucher resolves sale metadata through the pass-through cache; voucher
// rows are small, mutate rarely, and the admission path reads them on every
// attempt.
func (s *Service) voucher(ctx context.Context, voucherID int64) (*storage.Voucher, error) {
	id := strconv.FormatInt(voucherID, 10)
	v, err := cache.QueryPassThrough(ctx, s.cache, rediskey.CacheVoucher, id, rediskey.CacheShopTTL,
		func(ctx context.Context, id string) (*storage.Voucher, error) {
			vid, err := strconv.ParseInt(id, 10, 64)
			if err != nil {
				return nil, err
			}
			v, err := s.vouchers.GetByID(ctx, vid)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil
			}
			return v, err
		})
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrUnknownVoucher
	}
	return v, err
}
