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

// Package sqlite provides the SQLite-backed source-of-truth store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"flashdeal/internal/deal/storage"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  phone      TEXT NOT NULL UNIQUE,
  nick_name  TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS shops (
  id      INTEGER PRIMARY KEY AUTOINCREMENT,
  name    TEXT NOT NULL,
  type_id INTEGER NOT NULL,
  address TEXT NOT NULL DEFAULT '',
  x       REAL NOT NULL DEFAULT 0,
  y       REAL NOT NULL DEFAULT 0,
  score   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_shops_type ON shops(type_id);
CREATE TABLE IF NOT EXISTS shop_types (
  id   INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  icon TEXT NOT NULL DEFAULT '',
  sort INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS vouchers (
  id         INTEGER PRIMARY KEY,
  shop_id    INTEGER NOT NULL,
  title      TEXT NOT NULL,
  stock      INTEGER NOT NULL,
  begin_time INTEGER NOT NULL,
  end_time   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS orders (
  id         INTEGER PRIMARY KEY,
  user_id    INTEGER NOT NULL,
  voucher_id INTEGER NOT NULL,
  status     INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  UNIQUE(user_id, voucher_id)
);
`

// Store persists all source-of-truth entities in SQLite. It implements the
// storage interfaces consumed by the domain services.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMillis(t time.Time) int64   { return t.UTC().UnixMilli() }
func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

// ---- orders ----

// Orders returns the order-facing view of the store.
func (s *Store) Orders() *OrderStore { return &OrderStore{db: s.db} }

// OrderStore implements storage.OrderStore.
type OrderStore struct{ db *sql.DB }

func (s *OrderStore) Insert(ctx context.Context, o *storage.Order) error {
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, voucher_id, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.VoucherID, o.Status, toMillis(created))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert order %d: %w", o.ID, err)
	}
	return nil
}

func (s *OrderStore) CountByUserVoucher(ctx context.Context, userID, voucherID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = ? AND voucher_id = ?`,
		userID, voucherID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count orders user=%d voucher=%d: %w", userID, voucherID, err)
	}
	return n, nil
}

func (s *OrderStore) GetByID(ctx context.Context, id int64) (*storage.Order, error) {
	var o storage.Order
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, voucher_id, status, created_at FROM orders WHERE id = ?`,
		id).Scan(&o.ID, &o.UserID, &o.VoucherID, &o.Status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	o.CreatedAt = fromMillis(created)
	return &o, nil
}

// ---- vouchers ----

// Vouchers returns the voucher-facing view of the store.
func (s *Store) Vouchers() *VoucherStore { return &VoucherStore{db: s.db} }

// VoucherStore implements storage.VoucherStore.
type VoucherStore struct{ db *sql.DB }

func (s *VoucherStore) Create(ctx context.Context, v *storage.Voucher) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vouchers (id, shop_id, title, stock, begin_time, end_time) VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.ShopID, v.Title, v.Stock, toMillis(v.BeginTime), toMillis(v.EndTime))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("create voucher %d: %w", v.ID, err)
	}
	return nil
}

func (s *VoucherStore) GetByID(ctx context.Context, id int64) (*storage.Voucher, error) {
	var v storage.Voucher
	var begin, end int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, shop_id, title, stock, begin_time, end_time FROM vouchers WHERE id = ?`,
		id).Scan(&v.ID, &v.ShopID, &v.Title, &v.Stock, &begin, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get voucher %d: %w", id, err)
	}
	v.BeginTime, v.EndTime = fromMillis(begin), fromMillis(end)
	return &v, nil
}

// ---- shops ----

// Shops returns the shop-facing view of the store.
func (s *Store) Shops() *ShopStore { return &ShopStore{db: s.db} }

// ShopStore implements storage.ShopStore.
type ShopStore struct{ db *sql.DB }

func scanShop(row interface{ Scan(...interface{}) error }) (*storage.Shop, error) {
	var sh storage.Shop
	err := row.Scan(&sh.ID, &sh.Name, &sh.TypeID, &sh.Address, &sh.X, &sh.Y, &sh.Score)
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

const shopCols = `id, name, type_id, address, x, y, score`

func (s *ShopStore) GetByID(ctx context.Context, id int64) (*storage.Shop, error) {
	sh, err := scanShop(s.db.QueryRowContext(ctx,
		`SELECT `+shopCols+` FROM shops WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shop %d: %w", id, err)
	}
	return sh, nil
}

func (s *ShopStore) GetByIDs(ctx context.Context, ids []int64) ([]storage.Shop, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+shopCols+` FROM shops WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get shops: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]storage.Shop, len(ids))
	for rows.Next() {
		sh, err := scanShop(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shop: %w", err)
		}
		byID[sh.ID] = *sh
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Preserve caller order (distance order from the geo index).
	out := make([]storage.Shop, 0, len(ids))
	for _, id := range ids {
		if sh, ok := byID[id]; ok {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (s *ShopStore) Update(ctx context.Context, sh *storage.Shop) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE shops SET name = ?, type_id = ?, address = ?, x = ?, y = ?, score = ? WHERE id = ?`,
		sh.Name, sh.TypeID, sh.Address, sh.X, sh.Y, sh.Score, sh.ID)
	if err != nil {
		return fmt.Errorf("update shop %d: %w", sh.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *ShopStore) ListByType(ctx context.Context, typeID int64, offset, limit int) ([]storage.Shop, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+shopCols+` FROM shops WHERE type_id = ? ORDER BY id LIMIT ? OFFSET ?`,
		typeID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list shops type=%d: %w", typeID, err)
	}
	defer rows.Close()
	var out []storage.Shop
	for rows.Next() {
		sh, err := scanShop(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shop: %w", err)
		}
		out = append(out, *sh)
	}
	return out, rows.Err()
}

// ---- shop types ----

// ShopTypes returns the category-facing view of the store.
func (s *Store) ShopTypes() *ShopTypeStore { return &ShopTypeStore{db: s.db} }

// ShopTypeStore implements storage.ShopTypeStore.
type ShopTypeStore struct{ db *sql.DB }

func (s *ShopTypeStore) ListOrdered(ctx context.Context) ([]storage.ShopType, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, icon, sort FROM shop_types ORDER BY sort ASC`)
	if err != nil {
		return nil, fmt.Errorf("list shop types: %w", err)
	}
	defer rows.Close()
	var out []storage.ShopType
	for rows.Next() {
		var t storage.ShopType
		if err := rows.Scan(&t.ID, &t.Name, &t.Icon, &t.Sort); err != nil {
			return nil, fmt.Errorf("scan shop type: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- users ----

// Users returns the user-facing view of the store.
func (s *Store) Users() *UserStore { return &UserStore{db: s.db} }

// UserStore implements storage.UserStore.
type UserStore struct{ db *sql.DB }

func (s *UserStore) GetByPhone(ctx context.Context, phone string) (*storage.User, error) {
	return s.getUser(ctx, `SELECT id, phone, nick_name, created_at FROM users WHERE phone = ?`, phone)
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*storage.User, error) {
	return s.getUser(ctx, `SELECT id, phone, nick_name, created_at FROM users WHERE id = ?`, id)
}

func (s *UserStore) getUser(ctx context.Context, query string, arg interface{}) (*storage.User, error) {
	var u storage.User
	var created int64
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Phone, &u.NickName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

func (s *UserStore) Create(ctx context.Context, u *storage.User) error {
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (phone, nick_name, created_at) VALUES (?, ?, ?)`,
		u.Phone, u.NickName, toMillis(created))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	u.CreatedAt = created
	return nil
}
