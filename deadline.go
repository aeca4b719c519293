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

package llfio

import (
	"time"

	"github.com/jacobsa/timeutil"
)

// clk is swapped out in tests that need to control elapsed time precisely,
// e.g. the byte-range-lock-timeout scenario (§8 scenario 6).
var clk timeutil.Clock = timeutil.RealClock()

// Deadline bounds how long a blocking operation may wait (§5). A Deadline
// is either steady (relative, measured off a monotonic clock) or absolute
// (a wall-clock time point). The zero Deadline is not a valid argument —
// callers that want "try once" must construct Now() explicitly, matching
// §5's "a zero duration means try once."
type Deadline struct {
	Steady bool
	Rel    time.Duration
	Abs    time.Time
}

// Now returns a Deadline that has already elapsed: a non-blocking try-once.
func Now() Deadline { return Deadline{Steady: true, Rel: 0} }

// After returns a steady Deadline that elapses d from when it is resolved,
// which NewWaiter does when it is constructed.
func After(d time.Duration) Deadline { return Deadline{Steady: true, Rel: d} }

// At returns an absolute Deadline expiring at t.
func At(t time.Time) Deadline { return Deadline{Steady: false, Abs: t} }

// resolved pins a Deadline to a concrete expiry instant the first time it is
// consulted, so repeated Remaining calls measure against one fixed instant
// rather than restarting the clock on every call.
type resolved struct {
	expiry time.Time
}

func (d Deadline) resolve() resolved {
	if d.Steady {
		return resolved{expiry: clk.Now().Add(d.Rel)}
	}
	return resolved{expiry: d.Abs}
}

// Remaining reports the time left before expiry, never negative. It also
// reports whether the deadline has already elapsed.
func (r resolved) Remaining() (time.Duration, bool) {
	left := r.expiry.Sub(clk.Now())
	if left <= 0 {
		return 0, true
	}
	return left, false
}

// Waiter tracks elapsed time across a multi-step blocking operation (e.g.
// parent_path_handle's retry loop, §4.C.1 step 5). Construct with
// NewWaiter, then call Expired before each retry and after each syscall
// that might have blocked.
type Waiter struct {
	r resolved
}

func NewWaiter(d Deadline) *Waiter {
	return &Waiter{r: d.resolve()}
}

// Expired reports whether the deadline has elapsed. On expiry, operations
// must return errs.KindTimedOut without issuing further I/O (§5).
func (w *Waiter) Expired() bool {
	_, expired := w.r.Remaining()
	return expired
}

// Remaining returns the time left for a syscall-level timeout argument
// (e.g. poll/pselect on a lock wait), never negative.
func (w *Waiter) Remaining() time.Duration {
	left, expired := w.r.Remaining()
	if expired {
		return 0
	}
	return left
}
