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

// Package rediskey centralizes the key namespace used in the shared store.
//
// Every component addresses the store through these helpers so the full
// keyspace is auditable from one file. The convention is prefix:entity:id;
// a cache key and its rebuild lock differ only in the leading segment
// (cache:shop:1 vs lock:shop:1).
package rediskey

import (
	"fmt"
	"time"
)

// Cache key prefixes. The bare prefix is concatenated with the entity id.
const (
	CacheShop     = "cache:shop:"
	CacheShopType = "cache:shop-type:"
	CacheVoucher  = "cache:voucher:"
)

// Seckill state keys.
const (
	seckillStockFmt = "seckill:stock:%d"
	seckillOrderFmt = "seckill:order:%d"

	// OrderStream is the durable queue carrying admitted order stubs.
	OrderStream = "stream.orders"
	// OrderGroup is the consumer group that materializes orders.
	OrderGroup = "g1"
)

// Login and sign-in keys.
const (
	loginCodeFmt  = "login:code:%s"
	loginTokenFmt = "login:token:%s"
	signFmt       = "sign:%d:%s"
	shopGeoFmt    = "shop:geo:%d"
)

// TTL policy. Cache TTLs are minutes-scale; lock TTLs are seconds-scale and
// intentionally short relative to the work they guard (the lock is advisory
// and unfenced, so the TTL bounds the takeover window).
const (
	CacheShopTTL  = 30 * time.Minute
	CacheNullTTL  = 2 * time.Minute
	LoginCodeTTL  = 2 * time.Minute
	LoginTokenTTL = 30 * time.Minute

	MutexTTL      = 10 * time.Second
	OrderLockTTL  = 10 * time.Second
	OrderLockWait = 1 * time.Second
)

// SeckillStock returns the key holding the remaining stock counter for a voucher.
func SeckillStock(voucherID int64) string { return fmt.Sprintf(seckillStockFmt, voucherID) }

// SeckillOrders returns the key of the set of user ids that already ordered a voucher.
func SeckillOrders(voucherID int64) string { return fmt.Sprintf(seckillOrderFmt, voucherID) }

// OrderLock names the per-user lock serializing order materialization.
func OrderLock(userID int64) string { return fmt.Sprintf("order:%d", userID) }

// IDCounter returns the daily counter bucket for the id generator.
// Rolling the key daily keeps counters small and human-inspectable.
func IDCounter(bucket string, day time.Time) string {
	return fmt.Sprintf("icr:%s:%s", bucket, day.UTC().Format("20060102"))
}

// LoginCode returns the key holding a pending verification code for a phone.
func LoginCode(phone string) string { return fmt.Sprintf(loginCodeFmt, phone) }

// LoginToken returns the session hash key for a login token.
func LoginToken(token string) string { return fmt.Sprintf(loginTokenFmt, token) }

// SignBitmap returns the per-user monthly sign-in bitmap key.
func SignBitmap(userID int64, month time.Time) string {
	return fmt.Sprintf(signFmt, userID, month.UTC().Format("200601"))
}

// ShopGeo returns the geo index key for a shop type.
func ShopGeo(typeID int64) string { return fmt.Sprintf(shopGeoFmt, typeID) }
