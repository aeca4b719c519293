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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/afio/llfiogo/threadpool"
	"github.com/spf13/cobra"
)

var (
	poolItems    int
	poolItemWork time.Duration
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Run a synthetic work group on threadpool.Pool, publishing worker-count gauges",
	RunE:  runPool,
}

func init() {
	poolCmd.Flags().IntVar(&poolItems, "items", 100, "number of synthetic work items to submit")
	poolCmd.Flags().DurationVar(&poolItemWork, "item-work", time.Millisecond, "simulated work duration per item")
}

// busyWorkItem is a WorkItem with a single unit of work: sleep for a fixed
// duration, then report no more work remains.
type busyWorkItem struct {
	work time.Duration
	done int32
}

func (w *busyWorkItem) Next() (int64, time.Time) {
	if atomic.CompareAndSwapInt32(&w.done, 0, 1) {
		return 1, time.Time{}
	}
	return -1, time.Time{}
}

func (w *busyWorkItem) Execute(int64) error {
	time.Sleep(w.work)
	return nil
}

func (w *busyWorkItem) Complete(error) {}

func runPool(cmd *cobra.Command, args []string) error {
	if bindErr != nil {
		return bindErr
	}
	stop := serveMetricsIfRequested()
	defer stop()

	p := threadpool.New(0)
	defer p.Close()
	registerPoolGauges(p)

	start := time.Now()
	group := p.NewGroup()
	for i := 0; i < poolItems; i++ {
		group.Submit(&busyWorkItem{work: poolItemWork})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("work group failed: %w", err)
	}

	stats := p.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "%d items in %s, workers at exit: %d (idle %d, target %d)\n",
		poolItems, time.Since(start), stats.Workers, stats.Idle, stats.Target)
	return nil
}
