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

// Package user implements phone-code login with store-held sessions and the
// monthly sign-in bitmap.
package user

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"flashdeal/internal/deal/rediskey"
	"flashdeal/internal/deal/storage"
)

var (
	// ErrBadPhone reports an invalid phone number.
	ErrBadPhone = errors.New("user: invalid phone number")
	// ErrBadCode reports a wrong or expired verification code.
	ErrBadCode = errors.New("user: invalid verification code")
	// ErrNoSession reports a missing or expired login token.
	ErrNoSession = errors.New("user: no session")
)

var phoneRe = regexp.MustCompile(`^1[3-9]\d{9}$`)

// Store abstracts the store surface the user service needs.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	SetBit(ctx context.Context, key string, offset int64, value int) error
	// BitFieldGet reads an unsigned field of the given bit width starting
	// at offset.
	BitFieldGet(ctx context.Context, key string, bits int, offset int64) (int64, error)
}

// Session is the token-resolved identity attached to authenticated requests.
type Session struct {
	UserID   int64  `json:"userId"`
	NickName string `json:"nickName"`
}

// Service implements login and sign-in flows.
type Service struct {
	store Store
	users storage.UserStore
	now   func() time.Time
}

// NewService wires the user service.
func NewService(store Store, users storage.UserStore) *Service {
	return &Service{store: store, users: users, now: time.Now}
}

// SendCode generates a 6-digit verification code for the phone and holds it
// in the store for a short window. Delivery (SMS) is out of scope; the code
// is logged instead.
func (s *Service) SendCode(ctx context.Context, phone string) error {
	if !phoneRe.MatchString(phone) {
		return ErrBadPhone
	}
	code := fmt.Sprintf("%06d", rand.IntN(1000000))
	if err := s.store.Set(ctx, rediskey.LoginCode(phone), code, rediskey.LoginCodeTTL); err != nil {
		return err
	}
	log.Printf("user: verification code for %s: %s", phone, code)
	return nil
}

// Login verifies the code, creates the account on first login, and opens a
// token session held as a store hash with a sliding TTL.
func (s *Service) Login(ctx context.Context, phone, code string) (string, error) {
	if !phoneRe.MatchString(phone) {
		return "", ErrBadPhone
	}
	want, ok, err := s.store.Get(ctx, rediskey.LoginCode(phone))
	if err != nil {
		return "", err
	}
	if !ok || want != code {
		return "", ErrBadCode
	}

	u, err := s.users.GetByPhone(ctx, phone)
	if errors.Is(err, storage.ErrNotFound) {
		u = &storage.User{
			Phone:    phone,
			NickName: "user_" + fmt.Sprintf("%010d", rand.Int64N(1e10)),
		}
		err = s.users.Create(ctx, u)
	}
	if err != nil {
		return "", err
	}

	token := uuid.NewString()
	key := rediskey.LoginToken(token)
	err = s.store.HSet(ctx, key, map[string]string{
		"id":       strconv.FormatInt(u.ID, 10),
		"nickName": u.NickName,
	})
	if err != nil {
		return "", err
	}
	if err := s.store.Expire(ctx, key, rediskey.LoginTokenTTL); err != nil {
		return "", err
	}
	return token, nil
}

// ByToken resolves a session and refreshes its sliding TTL.
func (s *Service) ByToken(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	key := rediskey.LoginToken(token)
	fields, err := s.store.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNoSession
	}
	id, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil {
		return nil, ErrNoSession
	}
	if err := s.store.Expire(ctx, key, rediskey.LoginTokenTTL); err != nil {
		return nil, err
	}
	return &Session{UserID: id, NickName: fields["nickName"]}, nil
}

// Sign marks today in the user's monthly sign-in bitmap.
func (s *Service) Sign(ctx context.Context, userID int64) error {
	now := s.now()
	key := rediskey.SignBitmap(userID, now)
	return s.store.SetBit(ctx, key, int64(now.Day()-1), 1)
}

// SignStreak counts the consecutive signed-in days ending today.
func (s *Service) SignStreak(ctx context.Context, userID int64) (int, error) {
	now := s.now()
	day := now.Day()
	bits, err := s.store.BitFieldGet(ctx, rediskey.SignBitmap(userID, now), day, 0)
	if err != nil {
		return 0, err
	}
	// The lowest bit is today; count trailing set bits.
	streak := 0
	for bits&1 == 1 {
		streak++
		bits >>= 1
	}
	return streak, nil
}
