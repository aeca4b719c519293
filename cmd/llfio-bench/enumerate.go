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

var enumerateCmd = &cobra.Command{
	Use:   "enumerate <dir>",
	Short: "Enumerate a directory's entries with dirwalk.Read, printing each entry and the count",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnumerate,
}

func runEnumerate(cmd *cobra.Command, args []string) error {
	if bindErr != nil {
		return bindErr
	}
	stop := serveMetricsIfRequested()
	defer stop()

	dirh, err := llfio.Open(nil, args[0], llfio.KindDirectory, llfio.OpenExisting, llfio.CachingUnchanged, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	defer dirh.Close()

	var total int
	var bufs *dirwalk.Buffers
	for {
		bufs, err = dirwalk.Read(dirh, dirwalk.ReadRequest{Buffers: bufs, Want: llfio.WantType | llfio.WantSize})
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		total += len(bufs.Entries())
		for _, e := range bufs.Entries() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Stat.Kind, e.Leafname.String())
		}
		if bufs.Done() {
			break
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d entries\n", total)
	return nil
}
