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
	"sync"

	"github.com/afio/llfiogo/errs"
	"github.com/afio/llfiogo/internal/syscallshim"
	"github.com/jacobsa/gcloud/syncutil"
)

// Handle owns exactly one OS resource: a regular file, a directory, a
// path reference, or a symlink descriptor (§3.1). It is constructed by
// opening, moved but never copied, and closed exactly once — Go has no
// move semantics, so callers must not retain a Handle value after passing
// it somewhere that takes ownership (e.g. dirwalk's work queue).
type Handle struct {
	native syscallshim.Handle
	kind   Kind
	flags  OpenFlags
	mode   CachingMode
	logger Logger

	closeOnce sync.Once
	closeErr  error

	// inode is the lazily-fetched (§3.2) identity; 0 means "not yet
	// fetched." Accessed with atomic loads/stores so concurrent callers
	// of FetchInode race safely onto the same first-write value.
	inodeDev uint64
	inodeIno uint64

	// locks is the per-handle byte-range/whole-file lock bookkeeping
	// (§3.6), guarded the way the teacher's samples guard their mutable
	// state: an InvariantMutex that panics if Ranges is ever left
	// unsorted or overlapping.
	locks *fileLockState
}

// newHandle wraps a freshly opened native descriptor.
func newHandle(native syscallshim.Handle, kind Kind, mode CachingMode, flags OpenFlags) *Handle {
	h := &Handle{native: native, kind: kind, mode: mode, flags: flags, logger: defaultLogger}
	h.locks = &fileLockState{}
	h.locks.mu = syncutil.NewInvariantMutex(h.locks.checkInvariants)
	return h
}

// WithLogger overrides the Logger used by this handle's operations,
// independent of the process-wide default installed via SetLogger.
func (h *Handle) WithLogger(l Logger) *Handle {
	if l == nil {
		l = nopLogger{}
	}
	h.logger = l
	return h
}

// Kind reports what this handle owns.
func (h *Handle) Kind() Kind { return h.kind }

// Flags reports the open flags this handle was constructed with.
func (h *Handle) Flags() OpenFlags { return h.flags }

// CachingMode reports this handle's current caching mode.
func (h *Handle) CachingMode() CachingMode { return h.mode }

// Fd exposes the native descriptor for callers that need to hand it to a
// lower-level API (e.g. the kvstore package's mmap calls).
func (h *Handle) Fd() syscallshim.Handle { return h.native }

// Close releases the native descriptor. It is idempotent: calling Close
// twice returns the first call's result. If FlagUnlinkOnFirstClose was set
// at open time, Close attempts an unlink first, swallowing a not-found
// result and surfacing any other error (§3.1).
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		if h.flags.Has(FlagUnlinkOnFirstClose) {
			if err := h.unlinkSelfBestEffort(); err != nil && !errs.Is(err, errs.KindNotFound) {
				h.closeErr = err
				// Still attempt to close the descriptor even though the
				// unlink failed, so we don't leak it.
			}
		}
		if err := syscallshim.Close(h.native); err != nil && h.closeErr == nil {
			h.closeErr = errs.New("close", errs.KindUnknown, err)
		}
	})
	return h.closeErr
}

// CurrentPath returns the OS-reported path of this handle's descriptor, or
// "" if the entry has been unlinked (§4.A). It never uses cached state:
// every call re-queries the OS.
func (h *Handle) CurrentPath() (string, error) {
	p, err := syscallshim.CurrentPath(h.native)
	if err != nil {
		return "", errs.New("current_path", errs.KindUnknown, err)
	}
	return p, nil
}

// Clone duplicates this handle, optionally with a different CachingMode.
// On POSIX, a caching-mode change requires re-opening (fcntl can't flip
// O_DIRECT on every platform); otherwise the descriptor is merely
// duplicated (§4.A clone).
func (h *Handle) Clone(newMode CachingMode) (*Handle, error) {
	if newMode == CachingUnchanged || newMode == h.mode {
		dupFd, err := dupNative(h.native)
		if err != nil {
			return nil, errs.New("clone", errs.KindUnknown, err)
		}
		return newHandle(dupFd, h.kind, h.mode, h.flags), nil
	}

	// Re-open by current path and verify we landed on the same inode,
	// since the entry may have been relinked between the CurrentPath call
	// and the re-open (§4.A clone: "Mode changes require re-opening by
	// current path until the re-opened inode matches the original").
	wantID, err := h.FetchInode()
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < maxReopenAttempts; attempt++ {
		path, err := h.CurrentPath()
		if err != nil {
			return nil, err
		}
		if path == "" {
			return nil, errs.New("clone", errs.KindNotFound, nil)
		}
		reopened, err := openPath(path, h.kind, newMode, h.flags&^FlagUnlinkOnFirstClose)
		if err != nil {
			return nil, errs.New("clone", errs.KindUnknown, err)
		}
		gotID, err := reopened.FetchInode()
		if err != nil {
			reopened.Close()
			return nil, err
		}
		if gotID == wantID {
			return reopened, nil
		}
		reopened.Close()
	}
	return nil, errs.New("clone", errs.KindTimedOut, nil)
}

const maxReopenAttempts = 8

func (h *Handle) unlinkSelfBestEffort() error {
	return h.Unlink(After(0))
}
