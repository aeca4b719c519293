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

//go:build !linux

package threadpool

import "runtime"

// sampleThreads has no /proc/self/task equivalent outside Linux (§4.G.2
// names the mechanism as Linux-specific); reporting every worker as
// running is a safe default that never starves the grow decision and
// leaves shrink decisions to the idle-timeout path instead.
func sampleThreads() (running, total int) {
	n := runtime.GOMAXPROCS(0)
	return n, n
}
