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

// Package catalog serves shop and category reads through the cache client
// and keeps the cache coherent with source-of-truth writes by invalidation.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"flashdeal/internal/deal/cache"
	"flashdeal/internal/deal/rediskey"
	"flashdeal/internal/deal/storage"
)

// ErrShopNotFound reports a shop absent from cache and source of truth.
var ErrShopNotFound = errors.New("catalog: shop not found")

const defaultPageSize = 10

// GeoHit is one result from the store-side geo index.
type GeoHit struct {
	ShopID    int64
	DistanceM float64
}

// GeoIndex is the thin boundary to the store-side nearest-shop index.
type GeoIndex interface {
	Add(ctx context.Context, typeID, shopID int64, x, y float64) error
	// SearchNearby returns up to limit shops within radiusMeters of (x, y),
	// closest first.
	SearchNearby(ctx context.Context, typeID int64, x, y, radiusMeters float64, limit int) ([]GeoHit, error)
}

// ShopWithDistance augments a shop with its distance from the query point.
type ShopWithDistance struct {
	storage.Shop
	DistanceM float64 `json:"distance"`
}

// ShopService is the read/write front for shops. Reads prefer the
// logical-expiration strategy (hot keys, pre-warmed) and fall back to
// pass-through for keys that were never warmed.
type ShopService struct {
	shops storage.ShopStore
	cache *cache.Client
	geo   GeoIndex
}

// NewShopService wires the shop front.
func NewShopService(shops storage.ShopStore, c *cache.Client, geo GeoIndex) *ShopService {
	return &ShopService{shops: shops, cache: c, geo: geo}
}

func (s *ShopService) loader() cache.Loader[storage.Shop] {
	return func(ctx context.Context, id string) (*storage.Shop, error) {
		shopID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, err
		}
		sh, err := s.shops.GetByID(ctx, shopID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return sh, err
	}
}

// GetByID resolves a shop through the cache.
func (s *ShopService) GetByID(ctx context.Context, id int64) (*storage.Shop, error) {
	key := strconv.FormatInt(id, 10)
	sh, err := cache.QueryLogicalExpire(ctx, s.cache, rediskey.CacheShop, key, rediskey.CacheShopTTL, s.loader())
	if errors.Is(err, cache.ErrColdKey) {
		sh, err = cache.QueryPassThrough(ctx, s.cache, rediskey.CacheShop, key, rediskey.CacheShopTTL, s.loader())
	}
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrShopNotFound
	}
	return sh, err
}

// Update writes the row, republishes coordinates to the geo index, and then
// deletes the cache entry. Invalidation, not update: the next read reloads
// from the source of truth.
func (s *ShopService) Update(ctx context.Context, sh *storage.Shop) error {
	if sh.ID == 0 {
		return errors.New("catalog: shop id is required")
	}
	if err := s.shops.Update(ctx, sh); err != nil {
		return err
	}
	if sh.X != 0 || sh.Y != 0 {
		if err := s.Index(ctx, sh); err != nil {
			return err
		}
	}
	return s.cache.Delete(ctx, rediskey.CacheShop+strconv.FormatInt(sh.ID, 10))
}

// Warm proactively writes a shop into the logical-expiration cache. Hot keys
// are expected to be warmed before the sale window opens.
func (s *ShopService) Warm(ctx context.Context, id int64, ttl time.Duration) error {
	sh, err := s.shops.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.cache.SetWithLogicalExpire(ctx, rediskey.CacheShop+strconv.FormatInt(id, 10), sh, ttl)
}

// Index publishes a shop's coordinates to the geo index.
func (s *ShopService) Index(ctx context.Context, sh *storage.Shop) error {
	return s.geo.Add(ctx, sh.TypeID, sh.ID, sh.X, sh.Y)
}

// Nearby returns one page of shops of a type ordered by distance from
// (x, y). Without coordinates it degrades to a plain paged listing.
func (s *ShopService) Nearby(ctx context.Context, typeID int64, x, y float64, page int) ([]ShopWithDistance, error) {
	if page < 1 {
		page = 1
	}
	from := (page - 1) * defaultPageSize
	end := page * defaultPageSize

	if x == 0 && y == 0 {
		shops, err := s.shops.ListByType(ctx, typeID, from, defaultPageSize)
		if err != nil {
			return nil, err
		}
		out := make([]ShopWithDistance, len(shops))
		for i, sh := range shops {
			out[i] = ShopWithDistance{Shop: sh}
		}
		return out, nil
	}

	const radiusMeters = 5000
	hits, err := s.geo.SearchNearby(ctx, typeID, x, y, radiusMeters, end)
	if err != nil {
		return nil, fmt.Errorf("geo search type=%d: %w", typeID, err)
	}
	if len(hits) <= from {
		return nil, nil
	}
	hits = hits[from:]

	ids := make([]int64, len(hits))
	dist := make(map[int64]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ShopID
		dist[h.ShopID] = h.DistanceM
	}
	shops, err := s.shops.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]ShopWithDistance, len(shops))
	for i, sh := range shops {
		out[i] = ShopWithDistance{Shop: sh, DistanceM: dist[sh.ID]}
	}
	return out, nil
}

// ShopTypeService serves the (small, rarely changing) category list through
// the pass-through cache.
type ShopTypeService struct {
	types storage.ShopTypeStore
	cache *cache.Client
}

// NewShopTypeService wires the category front.
func NewShopTypeService(types storage.ShopTypeStore, c *cache.Client) *ShopTypeService {
	return &ShopTypeService{types: types, cache: c}
}

// List returns all categories ordered by sort weight.
func (s *ShopTypeService) List(ctx context.Context) ([]storage.ShopType, error) {
	out, err := cache.QueryPassThrough(ctx, s.cache, rediskey.CacheShopType, "all", rediskey.CacheShopTTL,
		func(ctx context.Context, _ string) (*[]storage.ShopType, error) {
			list, err := s.types.ListOrdered(ctx)
			if err != nil {
				return nil, err
			}
			if len(list) == 0 {
				return nil, nil
			}
			return &list, nil
		})
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return *out, nil
}
