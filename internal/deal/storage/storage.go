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

// Package storage defines the source-of-truth interface boundary consumed by
// the domain services, plus the entity types that cross it.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that the requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate reports a uniqueness violation (one order per user per
// voucher, one user per phone).
var ErrDuplicate = errors.New("storage: duplicate")

// Shop is a listed local business.
type Shop struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	TypeID  int64   `json:"typeId"`
	Address string  `json:"address"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Score   int     `json:"score"`
}

// ShopType is a catalog category, ordered by Sort.
type ShopType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
	Sort int    `json:"sort"`
}

// Voucher is a flash-sale voucher. Stock here is the durable count; the
// store-side counter seeded from it is the one the admission gate decrements.
type Voucher struct {
	ID        int64     `json:"id"`
	ShopID    int64     `json:"shopId"`
	Title     string    `json:"title"`
	Stock     int       `json:"stock"`
	BeginTime time.Time `json:"beginTime"`
	EndTime   time.Time `json:"endTime"`
}

// Order statuses.
const (
	OrderStatusUnpaid = 1
	OrderStatusPaid   = 2
)

// Order is a persisted voucher order. Immutable once created; created
// exactly once per (UserID, VoucherID).
type Order struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	VoucherID int64     `json:"voucherId"`
	Status    int       `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is a registered account, keyed by phone at sign-up.
type User struct {
	ID        int64     `json:"id"`
	Phone     string    `json:"phone"`
	NickName  string    `json:"nickName"`
	CreatedAt time.Time `json:"createdAt"`
}

// OrderStore persists orders. Insert returns ErrDuplicate when an order for
// the same (user, voucher) already exists; the pipeline treats that as
// already materialized.
type OrderStore interface {
	Insert(ctx context.Context, o *Order) error
	CountByUserVoucher(ctx context.Context, userID, voucherID int64) (int64, error)
	GetByID(ctx context.Context, id int64) (*Order, error)
}

// VoucherStore persists flash-sale vouchers.
type VoucherStore interface {
	Create(ctx context.Context, v *Voucher) error
	GetByID(ctx context.Context, id int64) (*Voucher, error)
}

// ShopStore persists shops.
type ShopStore interface {
	GetByID(ctx context.Context, id int64) (*Shop, error)
	// GetByIDs returns shops in the order of ids, skipping missing ones.
	GetByIDs(ctx context.Context, ids []int64) ([]Shop, error)
	Update(ctx context.Context, s *Shop) error
	ListByType(ctx context.Context, typeID int64, offset, limit int) ([]Shop, error)
}

// ShopTypeStore lists catalog categories.
type ShopTypeStore interface {
	ListOrdered(ctx context.Context) ([]ShopType, error)
}

// UserStore persists users.
type UserStore interface {
	GetByPhone(ctx context.Context, phone string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, u *User) error
}
