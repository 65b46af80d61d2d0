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

// Package main runs the flash-sale service: the HTTP API, the cache client
// with its rebuild pool, and the order materialization pipeline, all sharing
// one Redis connection and one SQLite source of truth.
//
// The hot path never writes the relational store directly: the admission
// gate decides in Redis in a single atomic round trip, and the pipeline
// consumer materializes admitted orders asynchronously from the durable
// stream. Orders survive a crash between admission and persistence via the
// consumer group's pending list.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	redis "github.com/redis/go-redis/v9"

	"flashdeal/internal/deal/api"
	"flashdeal/internal/deal/cache"
	"flashdeal/internal/deal/catalog"
	"flashdeal/internal/deal/idgen"
	"flashdeal/internal/deal/lock"
	"flashdeal/internal/deal/rediskey"
	"flashdeal/internal/deal/seckill"
	"flashdeal/internal/deal/storage/sqlite"
	"flashdeal/internal/deal/telemetry"
	"flashdeal/internal/deal/user"
)

// envConfig carries the deploy-time addresses; flags below override them.
type envConfig struct {
	RedisAddr string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	DBPath    string `env:"DB_PATH" envDefault:"flashdeal.db"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
}

func main() {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		log.Fatalf("parse env: %v", err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "c1"
	}

	redisAddr := flag.String("redis_addr", ec.RedisAddr, "Redis address")
	dbPath := flag.String("db_path", ec.DBPath, "SQLite database path")
	httpAddr := flag.String("http_addr", ec.HTTPAddr, "HTTP listen address (e.g., :8080)")
	stream := flag.String("order_stream", rediskey.OrderStream, "Durable stream carrying admitted order stubs")
	group := flag.String("order_group", rediskey.OrderGroup, "Consumer group for order materialization")
	consumer := flag.String("consumer", hostname, "Fixed consumer identity of this instance within the group")
	blockTimeout := flag.Duration("block_timeout", 2*time.Second, "Bounded block timeout for queue reads")
	rebuildWorkers := flag.Int("rebuild_workers", 10, "Workers in the cache rebuild pool")
	metricsEnabled := flag.Bool("metrics", false, "Enable Prometheus telemetry (opt-in)")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g., :9090)")
	flag.Parse()

	telemetry.Enable(telemetry.Config{Enabled: *metricsEnabled, MetricsAddr: *metricsAddr})

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer rdb.Close()

	store, err := sqlite.Open(*dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	cacheClient := cache.NewClient(cache.NewRedisStore(rdb), lock.NewRedisStore(rdb), *rebuildWorkers)

	ids := idgen.New(idgen.NewRedisCounter(rdb))
	gate := seckill.NewGate(seckill.NewRedisEvaler(rdb), *stream)
	sale := seckill.NewService(gate, ids, store.Vouchers(), cacheClient, seckill.NewRedisStocks(rdb))
	pipeline := seckill.NewPipeline(seckill.NewRedisStreams(rdb), store.Orders(),
		lock.NewRedisStore(rdb), *stream, *group, *consumer, *blockTimeout)

	shops := catalog.NewShopService(store.Shops(), cacheClient, catalog.NewRedisGeo(rdb))
	shopTypes := catalog.NewShopTypeService(store.ShopTypes(), cacheClient)
	users := user.NewService(user.NewRedisStore(rdb), store.Users())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Exactly one pipeline consumer per process.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.Run(ctx)
	}()

	mux := http.NewServeMux()
	api.NewServer(sale, shops, shopTypes, users).RegisterRoutes(mux)
	srv := &http.Server{
		Addr:         *httpAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Printf("api: listening on %s", *httpAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("api: server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("api: shutdown: %v", err)
	}
	// The pipeline exits on ctx cancel; wait for in-flight work, then stop
	// the rebuild pool.
	wg.Wait()
	cacheClient.Close()
	log.Println("bye")
}
