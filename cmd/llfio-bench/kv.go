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
	"time"

	"github.com/afio/llfiogo"
	"github.com/afio/llfiogo/kvstore"
	"github.com/spf13/cobra"
)

var (
	kvKeys      int
	kvValueSize int
	kvDir       string
)

var kvCmd = &cobra.Command{
	Use:   "kv <store-dir>",
	Short: "Benchmark kvstore.Store by inserting --keys values and timing Commit",
	Args:  cobra.ExactArgs(1),
	RunE:  runKV,
}

func init() {
	kvCmd.Flags().IntVar(&kvKeys, "keys", 1000, "number of keys to insert")
	kvCmd.Flags().IntVar(&kvValueSize, "value-size", 64, "size in bytes of each value")
}

func runKV(cmd *cobra.Command, args []string) error {
	if bindErr != nil {
		return bindErr
	}
	stop := serveMetricsIfRequested()
	defer stop()

	kvDir = args[0]
	root, err := llfio.Open(nil, kvDir, llfio.KindDirectory, llfio.OpenExisting, llfio.CachingUnchanged, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", kvDir, err)
	}
	defer root.Close()

	store, err := kvstore.Open(root, "bench", kvstore.Options{
		Buckets:    uint32(kvKeys * 2),
		Writer:     true,
		Durability: kvstore.DurabilityFull,
	})
	if err != nil {
		return fmt.Errorf("opening kvstore: %w", err)
	}
	defer store.Close()

	value := make([]byte, kvValueSize)
	start := time.Now()
	for i := 0; i < kvKeys; i++ {
		txn := store.Begin()
		key := kvstore.KeyFromUint64(uint64(i))
		if _, err := txn.Fetch(key); err != nil {
			return fmt.Errorf("fetch key %d: %w", i, err)
		}
		if err := txn.Update(key, value); err != nil {
			return fmt.Errorf("update key %d: %w", i, err)
		}
		commitStart := time.Now()
		err := txn.Commit()
		kvCommitDuration.Observe(time.Since(commitStart).Seconds())
		if err != nil {
			return fmt.Errorf("commit key %d: %w", i, err)
		}
	}
	elapsed := time.Since(start)

	fmt.Fprintf(cmd.OutOrStdout(), "%d keys in %s (%.0f commits/sec)\n",
		kvKeys, elapsed, float64(kvKeys)/elapsed.Seconds())
	return nil
}
