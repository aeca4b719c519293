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
	"github.com/afio/llfiogo/errs"
	"github.com/afio/llfiogo/internal/syscallshim"
)

// Stat populates the fields named by want and reports, via the returned
// StatRecord's own Want, which of them the platform actually filled in
// (§3.4, §6.1) — a single fstat(2)/GetFileInformationByHandle call always
// returns every field POSIX/Win32 expose cheaply, so Want here is close to
// "all of WantAll" on every real platform, but callers should still check
// it rather than assume.
func (h *Handle) Stat(want StatWant) (StatRecord, error) {
	st, err := syscallshim.Fstat(h.native)
	if err != nil {
		return StatRecord{}, errs.New("stat", classifyErrno(err), err)
	}
	return statRecordFromShim(st, want), nil
}

// StatRecordFromRaw converts a platform Stat result into a StatRecord
// honoring want. Exposed so dirwalk's per-entry enumeration stat — which
// stats by (parent directory handle, leafname) via FstatAt rather than
// through an already-open Handle — can share the same conversion Stat
// uses instead of duplicating it (§3.3, §4.F.1: enumeration fills
// ino|type for free on POSIX, more on Windows, without opening each
// entry).
func StatRecordFromRaw(st syscallshim.Stat, want StatWant) StatRecord {
	return statRecordFromShim(st, want)
}

func statRecordFromShim(st syscallshim.Stat, want StatWant) StatRecord {
	r := StatRecord{Want: want & WantAll}

	kind := KindFile
	switch {
	case st.IsDir:
		kind = KindDirectory
	case st.IsSymlink:
		kind = KindSymlink
	}

	r.Dev = st.Dev
	r.Ino = st.Ino
	r.Kind = kind
	r.Perms = st.Mode & 0o7777
	r.Nlink = st.Nlink
	r.UID = st.UID
	r.GID = st.GID
	r.Rdev = st.Rdev
	r.Atim = st.Atim
	r.Mtim = st.Mtim
	r.Ctim = st.Ctim
	r.Birthtim = st.Birthtim
	r.Size = st.Size
	r.Allocated = st.Allocated
	r.Blocks = st.Blocks
	r.Blksize = st.Blksize
	r.Flags = uint32(st.Flags)
	r.Gen = st.Gen
	r.Sparse = st.Sparse
	r.Compressed = st.Compressed
	r.ReparsePoint = st.ReparsePoint
	return r
}
