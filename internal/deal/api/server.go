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

// Package api implements the public-facing HTTP server. It parses requests,
// delegates to the domain services, and maps their typed outcomes onto HTTP
// responses; contention outcomes are responses, not failures.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"flashdeal/internal/deal/catalog"
	"flashdeal/internal/deal/rediskey"
	"flashdeal/internal/deal/seckill"
	"flashdeal/internal/deal/storage"
	"flashdeal/internal/deal/user"
)

// Server handles the HTTP requests for the flash-sale service.
type Server struct {
	sale      *seckill.Service
	shops     *catalog.ShopService
	shopTypes *catalog.ShopTypeService
	users     *user.Service
}

// NewServer creates a server over the wired domain services.
func NewServer(sale *seckill.Service, shops *catalog.ShopService, shopTypes *catalog.ShopTypeService, users *user.Service) *Server {
	return &Server{sale: sale, shops: shops, shopTypes: shopTypes, users: users}
}

// RegisterRoutes sets up the HTTP routes on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /seckill", s.handleSeckill)
	mux.HandleFunc("GET /shop", s.handleShop)
	mux.HandleFunc("POST /shop/update", s.handleShopUpdate)
	mux.HandleFunc("POST /shop/warm", s.handleShopWarm)
	mux.HandleFunc("GET /shop/nearby", s.handleNearby)
	mux.HandleFunc("GET /shop-type", s.handleShopTypes)
	mux.HandleFunc("POST /user/code", s.handleSendCode)
	mux.HandleFunc("POST /user/login", s.handleLogin)
	mux.HandleFunc("POST /user/sign", s.handleSign)
	mux.HandleFunc("GET /user/sign/streak", s.handleSignStreak)
}

// ListenAndServe starts the HTTP server on the specified address.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	log.Printf("api: listening on %s", addr)
	return srv.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// session resolves the caller from the authorization header, refreshing the
// token's sliding TTL.
func (s *Server) session(r *http.Request) (*user.Session, error) {
	return s.users.ByToken(r.Context(), r.Header.Get("authorization"))
}

func (s *Server) handleSeckill(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "login required")
		return
	}
	voucherID, err := strconv.ParseInt(r.URL.Query().Get("voucher_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "voucher_id is required")
		return
	}

	orderID, err := s.sale.Purchase(r.Context(), voucherID, sess.UserID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]int64{"orderId": orderID})
	case errors.Is(err, seckill.ErrOutOfStock):
		writeError(w, http.StatusConflict, "out of stock")
	case errors.Is(err, seckill.ErrDuplicateOrder):
		writeError(w, http.StatusConflict, "duplicate order")
	case errors.Is(err, seckill.ErrNotStarted):
		writeError(w, http.StatusBadRequest, "sale not started")
	case errors.Is(err, seckill.ErrEnded):
		writeError(w, http.StatusBadRequest, "sale ended")
	case errors.Is(err, seckill.ErrUnknownVoucher):
		writeError(w, http.StatusNotFound, "unknown voucher")
	default:
		log.Printf("api: seckill voucher=%d: %v", voucherID, err)
		writeError(w, http.StatusInternalServerError, "try again")
	}
}

func (s *Server) handleShop(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	sh, err := s.shops.GetByID(r.Context(), id)
	if errors.Is(err, catalog.ErrShopNotFound) {
		writeError(w, http.StatusNotFound, "shop not found")
		return
	}
	if err != nil {
		log.Printf("api: shop %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "try again")
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (s *Server) handleShopUpdate(w http.ResponseWriter, r *http.Request) {
	var sh storage.Shop
	if err := json.NewDecoder(r.Body).Decode(&sh); err != nil {
		writeError(w, http.StatusBadRequest, "bad shop payload")
		return
	}
	if err := s.shops.Update(r.Context(), &sh); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "shop not found")
			return
		}
		log.Printf("api: shop update %d: %v", sh.ID, err)
		writeError(w, http.StatusInternalServerError, "try again")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleShopWarm pre-warms the logical-expiration entry for a hot shop ahead
// of a sale window.
func (s *Server) handleShopWarm(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	ttl := rediskey.CacheShopTTL
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		if ttl, err = time.ParseDuration(raw); err != nil {
			writeError(w, http.StatusBadRequest, "bad ttl")
			return
		}
	}
	if err := s.shops.Warm(r.Context(), id, ttl); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "shop not found")
			return
		}
		log.Printf("api: shop warm %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "try again")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typeID, err := strconv.ParseInt(q.Get("type_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "type_id is required")
		return
	}
	x, _ := strconv.ParseFloat(q.Get("x"), 64)
	y, _ := strconv.ParseFloat(q.Get("y"), 64)
	page, _ := strconv.Atoi(q.Get("page"))

	shops, err := s.shops.Nearby(r.Context(), typeID, x, y, page)
	if err != nil {
		log.Printf("api: nearby type=%d: %v", typeID, err)
		writeError(w, http.StatusInternalServerError, "try again")
		return
	}
	writeJSON(w, http.StatusOK, shops)
}

func (s *Server) handleShopTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.shopTypes.List(r.Context())
	if err != nil {
		log.Printf("api: shop types: %v", err)
		writeError(w, http.StatusInternalServerError, "try again")
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (s *Server) handleSendCode(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	err := s.users.SendCode(r.Context(), phone)
	if errors.Is(err, user.ErrBadPhone) {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}
	if err != nil {
		log.Printf("api: send code: %v", err)
		writeError(w, http.StatusInternalServerError, "try again")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token, err := s.users.Login(r.Context(), q.Get("phone"), q.Get("code"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	case errors.Is(err, user.ErrBadPhone):
		writeError(w, http.StatusBadRequest, "invalid phone number")
	case errors.Is(err, user.ErrBadCode):
		writeError(w, http.StatusBadRequest, "invalid verification code")
	default:
		log.Printf("api: login: %v", err)
		writeError(w, http.StatusInternalServerError, "try again")
	}
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "login required")
		return
	}
	if err := s.users.Sign(r.Context(), sess.UserID); err != nil {
		log.Printf("api: sign user=%d: %v", sess.UserID, err)
		writeError(w, http.StatusInternalServerError, "try again")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSignStreak(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "login required")
		return
	}
	streak, err := s.users.SignStreak(r.Context(), sess.UserID)
	if err != nil {
		log.Printf("api: sign streak user=%d: %v", sess.UserID, err)
		writeError(w, http.StatusInternalServerError, "try again")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"streak": streak})
}
