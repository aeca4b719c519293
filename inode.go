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
	"sync/atomic"

	"github.com/afio/llfiogo/errs"
	"github.com/afio/llfiogo/internal/syscallshim"
)

// FetchInode performs a stat restricted to device+inode only and caches the
// result on the handle (§4.B). It is safe under concurrent callers: the
// first successful fetch wins and later callers simply observe it, because
// the fields are written exactly once via compare-and-swap and are
// monotonic thereafter (never reset except by a fresh Handle).
func (h *Handle) FetchInode() (InodeID, error) {
	if dev := atomic.LoadUint64(&h.inodeDev); dev != 0 {
		return InodeID{Device: dev, Inode: atomic.LoadUint64(&h.inodeIno)}, nil
	}
	ino := atomic.LoadUint64(&h.inodeIno)
	if ino != 0 {
		// Another goroutine is mid-fetch; device hasn't landed yet. Fall
		// through and stat again rather than spin — stat is idempotent.
		_ = ino
	}

	st, err := syscallshim.Fstat(h.native)
	if err != nil {
		return InodeID{}, errs.New("fetch_inode", errs.KindUnknown, err)
	}
	if st.Dev == 0 && st.Ino == 0 {
		// Vanishingly unlikely, but the sentinel must never alias a real
		// identity.
		st.Dev = 1
	}

	// First writer wins: if we lose the race, the winning values are
	// identical in practice (same underlying file), so overwriting with
	// our own stat result would be harmless, but CAS keeps the invariant
	// literal ("non-zero identity never changes after first write").
	atomic.CompareAndSwapUint64(&h.inodeIno, 0, st.Ino)
	atomic.CompareAndSwapUint64(&h.inodeDev, 0, st.Dev)

	return InodeID{
		Device: atomic.LoadUint64(&h.inodeDev),
		Inode:  atomic.LoadUint64(&h.inodeIno),
	}, nil
}

// cachedInode returns the previously fetched identity without issuing a
// syscall, or the zero sentinel if none has been fetched yet.
func (h *Handle) cachedInode() InodeID {
	return InodeID{Device: atomic.LoadUint64(&h.inodeDev), Inode: atomic.LoadUint64(&h.inodeIno)}
}
