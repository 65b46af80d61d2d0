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

// Package telemetry provides opt-in Prometheus counters for the cache, the
// admission gate, the order pipeline, and lock contention. It is safe to call
// from hot paths: when disabled, all public functions are no-ops.
package telemetry

import (
	"log"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls the telemetry module.
//
// MetricsAddr, when non-empty, starts a dedicated HTTP server that serves
// /metrics. If you already expose Prometheus elsewhere, leave it empty and
// register promhttp yourself.
type Config struct {
	Enabled     bool
	MetricsAddr string
}

var modEnabled atomic.Bool

var (
	cacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flashdeal_cache_hits_total",
		Help: "Cache hits by read strategy (pass_through, logical_expire, logical_expire_stale)",
	}, []string{"strategy"})
	cacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flashdeal_cache_misses_total",
		Help: "Cache misses by read strategy (includes cold keys for logical_expire)",
	}, []string{"strategy"})
	cacheRebuildsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flashdeal_cache_rebuilds_total",
		Help: "Asynchronous logical-expiration rebuild tasks executed",
	})
	negativeWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flashdeal_cache_negative_writes_total",
		Help: "Empty-marker writes recorded by the pass-through penetration guard",
	})
	admissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flashdeal_admissions_total",
		Help: "Flash-sale admission outcomes (admitted, out_of_stock, duplicate_order)",
	}, []string{"outcome"})
	ordersPersistedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flashdeal_orders_persisted_total",
		Help: "Orders materialized from the durable queue",
	})
	ordersRecoveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flashdeal_orders_recovered_total",
		Help: "Orders re-processed through the pending-list recovery path",
	})
	lockContentionTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flashdeal_lock_contention_total",
		Help: "Lock acquisitions that gave up after the bounded wait",
	})
)

func init() {
	// Register eagerly. If no Prometheus endpoint is exposed, the
	// registration is harmless.
	prometheus.MustRegister(cacheHitsTotal, cacheMissesTotal, cacheRebuildsTotal,
		negativeWritesTotal, admissionsTotal, ordersPersistedTotal,
		ordersRecoveredTotal, lockContentionTotal)
}

// Enable configures the module. Safe to call multiple times.
func Enable(cfg Config) {
	modEnabled.Store(cfg.Enabled)
	if cfg.Enabled && cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Printf("telemetry: metrics server stopped: %v", err)
			}
		}()
	}
}

// CacheHit records a hit for a strategy label.
func CacheHit(strategy string) {
	if modEnabled.Load() {
		cacheHitsTotal.WithLabelValues(strategy).Inc()
	}
}

// CacheMiss records a miss for a strategy label.
func CacheMiss(strategy string) {
	if modEnabled.Load() {
		cacheMissesTotal.WithLabelValues(strategy).Inc()
	}
}

// CacheRebuild records one background rebuild execution.
func CacheRebuild() {
	if modEnabled.Load() {
		cacheRebuildsTotal.Inc()
	}
}

// NegativeWrite records one empty-marker write.
func NegativeWrite() {
	if modEnabled.Load() {
		negativeWritesTotal.Inc()
	}
}

// Admission records one admission outcome.
func Admission(outcome string) {
	if modEnabled.Load() {
		admissionsTotal.WithLabelValues(outcome).Inc()
	}
}

// OrderPersisted records one materialized order.
func OrderPersisted() {
	if modEnabled.Load() {
		ordersPersistedTotal.Inc()
	}
}

// OrderRecovered records one order handled via pending-list recovery.
func OrderRecovered() {
	if modEnabled.Load() {
		ordersRecoveredTotal.Inc()
	}
}

// LockContention records one bounded-wait acquisition failure.
func LockContention() {
	if modEnabled.Load() {
		lockContentionTotal.Inc()
	}
}
