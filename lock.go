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
	"fmt"
	"sort"
	"time"

	"github.com/afio/llfiogo/errs"
	"github.com/afio/llfiogo/internal/syscallshim"
	"github.com/jacobsa/gcloud/syncutil"
)

// windowsReservedLockOffset is the byte offset LockFile/TryLockFile use to
// emulate a whole-file lock on Windows via a byte-range lock (§4.E.1).
// Callers that take real byte-range locks should avoid this offset.
const windowsReservedLockOffset = ^uint64(0) - 1

// fileLockState tracks the locks currently held through one handle
// (§3.6), guarded by an InvariantMutex so a coding error that leaves
// Ranges unsorted or overlapping panics immediately in tests rather than
// corrupting state silently.
type fileLockState struct {
	mu    syncutil.InvariantMutex
	state LockState
}

func (s *fileLockState) checkInvariants() {
	for i := 1; i < len(s.state.Ranges); i++ {
		prev, cur := s.state.Ranges[i-1], s.state.Ranges[i]
		if prev.Offset > cur.Offset {
			panic(fmt.Sprintf("llfio: lock ranges out of order: %+v before %+v", prev, cur))
		}
		if prev.Offset+prev.Length > cur.Offset {
			panic(fmt.Sprintf("llfio: overlapping lock ranges: %+v and %+v", prev, cur))
		}
	}
}

// record adds offset/length/kind to the tracked set, first dropping any
// existing entry it overlaps. Atomic upgrade/downgrade (§4.E.2) acquires
// the new range lock before releasing the old one, so a record() call can
// momentarily see the new range overlap one already tracked; the new lock
// has already superseded the old one at the kernel level (POSIX range
// locks from the same process replace rather than stack), so the tracked
// set should reflect that instead of carrying both and tripping
// checkInvariants.
func (s *fileLockState) record(offset, length uint64, kind LockKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := offset + length
	kept := s.state.Ranges[:0]
	for _, r := range s.state.Ranges {
		if r.Offset < end && offset < r.Offset+r.Length {
			continue
		}
		kept = append(kept, r)
	}
	s.state.Ranges = append(kept, RangeLock{Offset: offset, Length: length, Kind: kind})
	sort.Slice(s.state.Ranges, func(i, j int) bool { return s.state.Ranges[i].Offset < s.state.Ranges[j].Offset })
}

func (s *fileLockState) forget(offset, length uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.state.Ranges[:0]
	for _, r := range s.state.Ranges {
		if r.Offset == offset && r.Length == length {
			continue
		}
		kept = append(kept, r)
	}
	s.state.Ranges = kept
}

// LockFile acquires a blocking whole-file lock (§4.E.1).
func (h *Handle) LockFile(exclusive bool) error { return h.flockOp(exclusive, true) }

// TryLockFile attempts a non-blocking whole-file lock (§4.E.1).
func (h *Handle) TryLockFile(exclusive bool) error { return h.flockOp(exclusive, false) }

// UnlockFile releases a whole-file lock taken by LockFile/TryLockFile.
func (h *Handle) UnlockFile() error {
	if err := syscallshim.FlockUnlock(h.native); err != nil {
		return errs.New("unlock_file", classifyErrno(err), err)
	}
	h.locks.mu.Lock()
	h.locks.state.Whole = LockNone
	h.locks.mu.Unlock()
	return nil
}

func (h *Handle) flockOp(exclusive, blocking bool) error {
	if err := syscallshim.Flock(h.native, exclusive, blocking); err != nil {
		if err == syscallshim.ErrAgain {
			return errs.New("lock_file", errs.KindResourceUnavailableTryAgain, err)
		}
		return errs.New("lock_file", classifyErrno(err), err)
	}
	kind := LockShared
	if exclusive {
		kind = LockExclusive
	}
	h.locks.mu.Lock()
	h.locks.state.Whole = kind
	h.locks.mu.Unlock()
	return nil
}

// RangeLockGuard is the scoped handle returned by LockRange; Go has no
// destructors, so callers must explicitly defer Release() (§4.E.2).
type RangeLockGuard struct {
	h      *Handle
	offset uint64
	length uint64
}

// Release unlocks the range this guard covers. Safe to call once; a
// second call is a no-op.
func (g *RangeLockGuard) Release() error {
	if g == nil || g.h == nil {
		return nil
	}
	h := g.h
	g.h = nil
	var err error
	if h.flags.Has(FlagByteLockInsanity) {
		err = syscallshim.ProcessUnlock(h.native, int64(g.offset), int64(g.length))
	} else {
		err = syscallshim.OFDUnlock(h.native, int64(g.offset), int64(g.length))
	}
	h.locks.forget(g.offset, g.length)
	if err != nil {
		return errs.New("unlock_range", classifyErrno(err), err)
	}
	return nil
}

// LockRange acquires a byte-range lock (§4.E.2). A zero Deadline means
// "try once, non-blocking." On Linux, OFD locks (F_OFD_SETLK) are
// preferred; if the kernel rejects them, the handle falls back to
// traditional whole-process locks and FlagByteLockInsanity is set to warn
// callers that closing any descriptor on the same inode may release the
// lock, and that a second lock from the same process replaces rather than
// queues behind the first.
func (h *Handle) LockRange(offset, length uint64, kind LockKind, deadline Deadline) (*RangeLockGuard, error) {
	if kind == LockNone {
		return nil, errs.New("lock_range", errs.KindInvalidArgument, nil)
	}
	offset, length = h.maskLockRangeIfNeeded(offset, length)

	exclusive := kind == LockExclusive
	waiter := NewWaiter(deadline)
	backoff := time.Millisecond
	for {
		err := h.lockRangeOnce(exclusive, offset, length)
		if err == nil {
			h.locks.record(offset, length, kind)
			return &RangeLockGuard{h: h, offset: offset, length: length}, nil
		}
		if err != syscallshim.ErrAgain {
			return nil, errs.New("lock_range", classifyErrno(err), err)
		}
		if waiter.Expired() {
			return nil, errs.New("lock_range", errs.KindTimedOut, nil)
		}
		if remaining := waiter.Remaining(); remaining < backoff {
			backoff = remaining
		}
		time.Sleep(backoff)
		if backoff < 50*time.Millisecond {
			backoff *= 2
		}
	}
}

func (h *Handle) lockRangeOnce(exclusive bool, offset, length uint64) error {
	err := syscallshim.OFDSetlk(h.native, exclusive, int64(offset), int64(length), false)
	if err == nil {
		return nil
	}
	if err != syscallshim.ErrNotSupported {
		return err
	}
	h.flags |= FlagByteLockInsanity
	return syscallshim.ProcessSetlk(h.native, exclusive, int64(offset), int64(length), false)
}

func (h *Handle) maskLockRangeIfNeeded(offset, length uint64) (uint64, uint64) {
	maskedOffset, maskedLength, changed := maskTopBitPOSIX(offset, length)
	if changed {
		h.logger.Warnf("llfio: lock_range offset/length top bit cleared for POSIX signed lock offsets")
	}
	return maskedOffset, maskedLength
}
