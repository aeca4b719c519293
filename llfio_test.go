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

package llfio_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/afio/llfiogo"
	"github.com/afio/llfiogo/errs"
	. "github.com/jacobsa/ogletest"
)

func TestLlfio(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

type HandleTest struct {
	Dir string
}

func init() { RegisterTestSuite(&HandleTest{}) }

func (t *HandleTest) SetUp(ti *TestInfo) {
	dir, err := os.MkdirTemp("", "llfio_test")
	AssertEq(nil, err)
	t.Dir = dir
}

func (t *HandleTest) TearDown() {
	os.RemoveAll(t.Dir)
}

func (t *HandleTest) path(leaf string) string {
	return filepath.Join(t.Dir, leaf)
}

////////////////////////////////////////////////////////////////////////
// Open / Close / inode identity
////////////////////////////////////////////////////////////////////////

func (t *HandleTest) OpenCreate_RoundTrips() {
	h, err := llfio.Open(nil, t.path("foo"), llfio.KindFile, llfio.OnlyIfNotExist, llfio.CachingAll, 0)
	AssertEq(nil, err)
	defer h.Close()

	ExpectEq(llfio.KindFile, h.Kind())

	id, err := h.FetchInode()
	AssertEq(nil, err)
	ExpectFalse(id.IsZero())
}

func (t *HandleTest) OpenCreate_AlreadyExists_Fails() {
	_, err := llfio.Open(nil, t.path("foo"), llfio.KindFile, llfio.OnlyIfNotExist, llfio.CachingAll, 0)
	AssertEq(nil, err)

	_, err = llfio.Open(nil, t.path("foo"), llfio.KindFile, llfio.OnlyIfNotExist, llfio.CachingAll, 0)
	AssertNe(nil, err)
	ExpectTrue(errs.Is(err, errs.KindAlreadyExists))
}

func (t *HandleTest) Clone_SameMode_SameInode() {
	h, err := llfio.Open(nil, t.path("foo"), llfio.KindFile, llfio.OnlyIfNotExist, llfio.CachingAll, 0)
	AssertEq(nil, err)
	defer h.Close()

	wantID, err := h.FetchInode()
	AssertEq(nil, err)

	clone, err := h.Clone(llfio.CachingUnchanged)
	AssertEq(nil, err)
	defer clone.Close()

	gotID, err := clone.FetchInode()
	AssertEq(nil, err)
	ExpectEq(wantID, gotID)
}

////////////////////////////////////////////////////////////////////////
// Relink / Unlink
////////////////////////////////////////////////////////////////////////

func (t *HandleTest) Relink_MovesEntry() {
	h, err := llfio.Open(nil, t.path("foo"), llfio.KindFile, llfio.OnlyIfNotExist, llfio.CachingAll, 0)
	AssertEq(nil, err)
	defer h.Close()

	wantID, err := h.FetchInode()
	AssertEq(nil, err)

	err = h.Relink(nil, t.path("bar"), false, llfio.After(time.Second))
	AssertEq(nil, err)

	_, statErr := os.Stat(t.path("foo"))
	ExpectTrue(os.IsNotExist(statErr))

	st, statErr := os.Stat(t.path("bar"))
	AssertEq(nil, statErr)
	ExpectFalse(st.IsDir())

	gotID, err := h.FetchInode()
	AssertEq(nil, err)
	ExpectEq(wantID, gotID)
}

func (t *HandleTest) Unlink_RemovesEntry() {
	h, err := llfio.Open(nil, t.path("foo"), llfio.KindFile, llfio.OnlyIfNotExist, llfio.CachingAll, 0)
	AssertEq(nil, err)
	defer h.Close()

	err = h.Unlink(llfio.Now())
	AssertEq(nil, err)

	_, statErr := os.Stat(t.path("foo"))
	ExpectTrue(os.IsNotExist(statErr))
}

func (t *HandleTest) UnlinkOnFirstClose_RemovesEntry() {
	h, err := llfio.Open(nil, t.path("foo"), llfio.KindFile, llfio.OnlyIfNotExist, llfio.CachingAll, llfio.FlagUnlinkOnFirstClose)
	AssertEq(nil, err)

	AssertEq(nil, h.Close())

	_, statErr := os.Stat(t.path("foo"))
	ExpectTrue(os.IsNotExist(statErr))
}

////////////////////////////////////////////////////////////////////////
// Extents
////////////////////////////////////////////////////////////////////////

func (t *HandleTest) Truncate_SetsMaximumExtent() {
	h, err := llfio.Open(nil, t.path("foo"), llfio.KindFile, llfio.OnlyIfNotExist, llfio.CachingAll, 0)
	AssertEq(nil, err)
	defer h.Close()

	AssertEq(nil, h.Truncate(4096))

	size, err := h.MaximumExtent()
	AssertEq(nil, err)
	ExpectEq(uint64(4096), size)
}

////////////////////////////////////////////////////////////////////////
// Byte-range locks
////////////////////////////////////////////////////////////////////////

func (t *HandleTest) LockRange_ExclusiveExcludesSecondLocker() {
	h, err := llfio.Open(nil, t.path("foo"), llfio.KindFile, llfio.OnlyIfNotExist, llfio.CachingAll, 0)
	AssertEq(nil, err)
	defer h.Close()

	guard, err := h.LockRange(0, 16, llfio.LockExclusive, llfio.Now())
	AssertEq(nil, err)
	defer guard.Release()

	other, err := llfio.Open(nil, t.path("foo"), llfio.KindFile, llfio.OpenExisting, llfio.CachingAll, 0)
	AssertEq(nil, err)
	defer other.Close()

	_, err = other.LockRange(0, 16, llfio.LockExclusive, llfio.Now())
	AssertNe(nil, err)
	ExpectTrue(errs.Is(err, errs.KindTimedOut))
}

func (t *HandleTest) LockRange_ReleaseAllowsReacquire() {
	h, err := llfio.Open(nil, t.path("foo"), llfio.KindFile, llfio.OnlyIfNotExist, llfio.CachingAll, 0)
	AssertEq(nil, err)
	defer h.Close()

	guard, err := h.LockRange(0, 16, llfio.LockExclusive, llfio.Now())
	AssertEq(nil, err)
	AssertEq(nil, guard.Release())

	guard2, err := h.LockRange(0, 16, llfio.LockExclusive, llfio.Now())
	AssertEq(nil, err)
	ExpectEq(nil, guard2.Release())
}

func (t *HandleTest) LockRange_AtomicUpgradeDoesNotPanic() {
	h, err := llfio.Open(nil, t.path("foo"), llfio.KindFile, llfio.OnlyIfNotExist, llfio.CachingAll, 0)
	AssertEq(nil, err)
	defer h.Close()

	shared, err := h.LockRange(0, 16, llfio.LockShared, llfio.Now())
	AssertEq(nil, err)

	// Atomic upgrade: acquire the new exclusive range before releasing the
	// shared one, so the two overlap on this handle for one instant. This
	// must not panic the tracked-range invariant check.
	exclusive, err := h.LockRange(0, 16, llfio.LockExclusive, llfio.Now())
	AssertEq(nil, err)
	AssertEq(nil, shared.Release())

	ExpectEq(nil, exclusive.Release())
}

func (t *HandleTest) LockRange_AtomicDowngradeDoesNotPanic() {
	h, err := llfio.Open(nil, t.path("foo"), llfio.KindFile, llfio.OnlyIfNotExist, llfio.CachingAll, 0)
	AssertEq(nil, err)
	defer h.Close()

	exclusive, err := h.LockRange(0, 16, llfio.LockExclusive, llfio.Now())
	AssertEq(nil, err)

	shared, err := h.LockRange(0, 16, llfio.LockShared, llfio.Now())
	AssertEq(nil, err)
	AssertEq(nil, exclusive.Release())

	ExpectEq(nil, shared.Release())
}

////////////////////////////////////////////////////////////////////////
// Extended attributes
////////////////////////////////////////////////////////////////////////

func (t *HandleTest) SetGetXattr_RoundTrips() {
	h, err := llfio.Open(nil, t.path("foo"), llfio.KindFile, llfio.OnlyIfNotExist, llfio.CachingAll, 0)
	AssertEq(nil, err)
	defer h.Close()

	err = h.SetXattr("user.llfio.test", []byte("hello"))
	if err != nil && errs.Is(err, errs.KindNotSupported) {
		// Some CI filesystems (overlayfs without xattr, tmpfs variants)
		// reject user xattrs outright; that's an environment limit, not
		// a bug in this package.
		return
	}
	AssertEq(nil, err)

	v, err := h.GetXattr("user.llfio.test")
	AssertEq(nil, err)
	ExpectEq("hello", string(v))
}
