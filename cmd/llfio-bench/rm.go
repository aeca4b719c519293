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

	"github.com/afio/llfiogo"
	"github.com/afio/llfiogo/dirwalk"
	"github.com/spf13/cobra"
)

var rmThreads int

var rmCmd = &cobra.Command{
	Use:   "rm <dir>",
	Short: "Remove an entire directory tree with dirwalk.RemoveAll",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func init() {
	rmCmd.Flags().IntVar(&rmThreads, "threads", 0, "worker count (0 picks dirwalk's default)")
}

func runRemove(cmd *cobra.Command, args []string) error {
	if bindErr != nil {
		return bindErr
	}
	stop := serveMetricsIfRequested()
	defer stop()

	dirh, err := llfio.Open(nil, args[0], llfio.KindDirectory, llfio.OpenExisting, llfio.CachingUnchanged, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}

	var finalRemoved, finalNotRemoved uint64
	callback := func(ev dirwalk.Event) error {
		switch ev.Reason {
		case dirwalk.ReasonFinished:
			// NotRemoved/Removed here are totals across the whole tree (the
			// only point at which they're final), so the counters are bumped
			// once rather than on every ReasonProgressEnumeration event.
			finalRemoved = ev.Removed
			finalNotRemoved = ev.NotRemoved
			dirwalkRemoved.Add(float64(ev.Removed))
			dirwalkNotRemoved.Add(float64(ev.NotRemoved))
		case dirwalk.ReasonUnremoveable:
			fmt.Fprintf(cmd.ErrOrStderr(), "unremoveable: %s/%s\n", ev.DirPath, ev.Leaf)
		}
		return nil
	}

	opts := []dirwalk.Option{dirwalk.WithCallback(callback)}
	if rmThreads > 0 {
		opts = append(opts, dirwalk.WithThreads(rmThreads))
	}
	if err := dirwalk.RemoveAll(dirh, opts...); err != nil {
		return fmt.Errorf("removing %s: %w", args[0], err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "removed=%d not_removed=%d\n", finalRemoved, finalNotRemoved)
	return nil
}
