// Copyright 2015 Google Inc. All Rights Reserved.
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

package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/afio/llfiogo/threadpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics published by dirwalk.RemoveAll's Callback (§5, §6.4) and
// kvstore.Transaction.Commit, the way SPEC_FULL.md §2's domain-stack table
// describes: the core packages only ever compute the numbers, this bench
// CLI is what chooses to publish them.
var (
	dirwalkRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llfio_bench_dirwalk_removed_total",
		Help: "Entries removed by dirwalk.RemoveAll across all rm invocations.",
	})
	dirwalkNotRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llfio_bench_dirwalk_not_removed_total",
		Help: "Entries dirwalk.RemoveAll left behind, including entries it parked under the root.",
	})
	kvCommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llfio_bench_kvstore_commit_seconds",
		Help:    "Transaction.Commit latency during the kv bench subcommand.",
		Buckets: prometheus.DefBuckets,
	})
)

// registerPoolGauges installs GaugeFunc collectors that read p.Stats() on
// every scrape, the worker-pool-size/active-thread gauges SPEC_FULL.md §2
// assigns to threadpool.
func registerPoolGauges(p *threadpool.Pool) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "llfio_bench_pool_workers",
		Help: "Current worker goroutine count in the bench threadpool.Pool.",
	}, func() float64 { return float64(p.Stats().Workers) })
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "llfio_bench_pool_idle",
		Help: "Idle worker goroutines in the bench threadpool.Pool.",
	}, func() float64 { return float64(p.Stats().Idle) })
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "llfio_bench_pool_target",
		Help: "Worker count the pool is currently trying to reach.",
	}, func() float64 { return float64(p.Stats().Target) })
}

// serveMetricsIfRequested starts a /metrics HTTP server for the lifetime of
// the calling command when --metrics-addr was given. The returned func
// shuts the server down; callers defer it.
func serveMetricsIfRequested() func() {
	if metricsAddr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
