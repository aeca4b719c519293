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

package dirwalk

import (
	"sync"
	"time"

	"github.com/afio/llfiogo/errs"
)

// Reason identifies which stage of RemoveAll a Callback is being invoked
// for (§4.F.2 step 4, §6.4).
type Reason int

const (
	// ReasonBeginEnumeration fires once, before the parallel pass starts.
	// BaseRenamed reports whether the initial rename-to-random of the root
	// directory succeeded.
	ReasonBeginEnumeration Reason = iota
	// ReasonProgressEnumeration fires after one directory's entries have
	// all been processed by the current worker. NotRemoved counts that
	// directory's non-directory entries that were parked or could not be
	// removed, Removed those that were unlinked.
	ReasonProgressEnumeration
	// ReasonEndEnumeration fires once the parallel pass finishes.
	// NotRemoved/Removed are the running totals across the whole tree.
	ReasonEndEnumeration
	// ReasonFinished fires just before RemoveAll returns, with final
	// totals in NotRemoved and Removed.
	ReasonFinished
	// ReasonUnrenameable is part of the reason set, but RemoveAll never
	// fires it: an entry that can be neither unlinked nor parked is
	// reported as ReasonUnremoveable.
	ReasonUnrenameable
	// ReasonUnremoveable fires for an entry that stays where it is: one
	// that could be neither removed nor parked, a directory whose own
	// removal failed, or a file the sequential retry could not unlink.
	// DirPath/Leaf name the entry.
	ReasonUnremoveable
)

func (r Reason) String() string {
	switch r {
	case ReasonBeginEnumeration:
		return "begin_enumeration"
	case ReasonProgressEnumeration:
		return "progress_enumeration"
	case ReasonEndEnumeration:
		return "end_enumeration"
	case ReasonFinished:
		return "finished"
	case ReasonUnrenameable:
		return "unrenameable"
	case ReasonUnremoveable:
		return "unremoveable"
	default:
		return "unknown"
	}
}

// Event is one Callback invocation's payload. Which fields are meaningful
// depends on Reason (§6.4).
type Event struct {
	Reason      Reason
	BaseRenamed bool
	NotRemoved  uint64
	Removed     uint64
	DirPath     string
	Leaf        string
}

// Callback observes RemoveAll's progress. It may be called concurrently
// from any worker. Returning an error cancels the whole operation as soon
// as practical, and that error is returned from RemoveAll (§6.4).
type Callback func(Event) error

// DefaultCallback reports a deadline-exceeded error if more than Timeout
// elapses after the first ReasonUnremoveable event seen outside of an
// active enumeration pass (§4.F.2 step 4, grounded on remove_all.hpp's
// ten-second default). Timeout defaults to 10 seconds when zero.
type DefaultCallback struct {
	Timeout time.Duration

	mu      sync.Mutex
	started time.Time
}

// Func returns a Callback bound to this DefaultCallback's state.
func (d *DefaultCallback) Func() Callback {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var enumerating bool
	return func(ev Event) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		switch ev.Reason {
		case ReasonBeginEnumeration:
			enumerating = true
			return nil
		case ReasonEndEnumeration:
			enumerating = false
			return nil
		case ReasonUnremoveable:
			if enumerating {
				return nil
			}
		default:
			return nil
		}
		if d.started.IsZero() {
			d.started = time.Now()
			return nil
		}
		if time.Since(d.started) > timeout {
			return errs.New("dirwalk.remove_all", errs.KindTimedOut, nil)
		}
		return nil
	}
}
