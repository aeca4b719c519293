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

//go:build linux

package threadpool

import (
	"os"
	"strings"
)

// sampleThreads reads /proc/self/task/*/stat to distinguish running from
// blocked OS threads (§4.G.2). Field 3 (the process state letter) is 'R'
// for running/runnable and anything else (S, D, Z, ...) for
// blocked/sleeping; total is simply the number of task directories found.
// Any read failure for one task is treated as "not running" rather than
// aborting the whole sample — a transient ESRCH racing against the task
// exiting is expected, not exceptional.
func sampleThreads() (running, total int) {
	entries, err := os.ReadDir("/proc/self/task")
	if err != nil {
		return 0, 0
	}
	for _, e := range entries {
		total++
		data, err := os.ReadFile("/proc/self/task/" + e.Name() + "/stat")
		if err != nil {
			continue
		}
		if isRunningState(string(data)) {
			running++
		}
	}
	return running, total
}

// isRunningState parses the third whitespace-delimited field of a
// /proc/<pid>/task/<tid>/stat line. The second field is "(comm)" and may
// itself contain spaces or parens, so the state letter is found by
// scanning from the last ')' rather than naive field-splitting.
func isRunningState(stat string) bool {
	i := strings.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return false
	}
	rest := strings.Fields(stat[i+2:])
	if len(rest) == 0 {
		return false
	}
	return rest[0] == "R"
}
