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
	"path/filepath"
	"strings"

	"github.com/afio/llfiogo"
	"github.com/afio/llfiogo/errs"
	"github.com/afio/llfiogo/internal/pathview"
	"github.com/afio/llfiogo/internal/syscallshim"
)

// ReadRequest configures one enumeration call (§4.F.1).
type ReadRequest struct {
	// Buffers, if non-nil, is reused: its leafname buffer and entry span
	// capacity carry over from a previous Read call, saving an allocation.
	Buffers *Buffers
	// Glob, if set, filters entries (fnmatch-style on POSIX via
	// path/filepath.Match, the closest standard-library equivalent — no
	// glob-matching library appears anywhere in this module's retrieved
	// dependency surface to wire in instead). A glob with no wildcard
	// metacharacters takes the single-entry stat fast path instead of a
	// full enumeration (§4.F.1, §10 supplemented).
	Glob string
	// Filtering selects whether fast-deleted entries are skipped.
	Filtering FilterMode
	// Want selects which StatRecord fields to populate per entry.
	// WantNone skips the per-entry stat call entirely, returning only the
	// cheap type hint the enumeration syscall already carries.
	Want llfio.StatWant
}

// Read fills buffers (allocating a default-sized one if req.Buffers is
// nil) with up to its capacity's worth of entries from dirh, returning the
// same Buffers for chaining into the next call once Done() is false
// (§4.F.1). It is a snapshot read: concurrent modification of dirh during
// the call may or may not be reflected, but never corrupts the result.
func Read(dirh *llfio.Handle, req ReadRequest) (*Buffers, error) {
	bufs := req.Buffers
	if bufs == nil {
		bufs = NewBuffers(256)
	}

	if req.Glob != "" && !pathview.HasGlobMetachars(req.Glob) {
		return readSingleEntry(dirh, req, bufs)
	}

	stream, err := syscallshim.OpenDirStream(dirh.Fd(), "")
	if err != nil {
		return nil, errs.New("dirwalk.read", classifyErrno(err), err)
	}
	defer stream.Close()

	bufs.reset()
	capacity := cap(bufs.entries)

	type kept struct {
		name string
		typ  syscallshim.DirType
	}
	var matches []kept

	for len(matches) < capacity {
		raws, err := stream.Next(capacity - len(matches))
		if err != nil {
			return bufs, errs.New("dirwalk.read", classifyErrno(err), err)
		}
		if len(raws) == 0 {
			bufs.done = true
			break
		}
		for _, r := range raws {
			if req.Filtering == FilterFastDeleted && isFastDeletedName(r.Name) {
				continue
			}
			if req.Glob != "" {
				if ok, _ := filepath.Match(req.Glob, r.Name); !ok {
					continue
				}
			}
			matches = append(matches, kept{r.Name, r.Type})
			if len(matches) == capacity {
				break
			}
		}
	}

	total := 0
	for _, m := range matches {
		total += len(m.name)
	}
	data := bufs.allocateNames(total)

	offset := 0
	var metadata llfio.StatWant
	for _, m := range matches {
		start := offset
		offset += copy(data[offset:], m.name)
		entry := llfio.DirectoryEntry{Leafname: bufs.nameView(start, offset)}
		entry.Stat = statEntry(dirh, m.name, m.typ, req.Want)
		metadata |= entry.Stat.Want
		bufs.entries = append(bufs.entries, entry)
	}
	bufs.metadata = metadata
	return bufs, nil
}

// statEntry fills a StatRecord for one enumerated name. When want asks for
// nothing, it skips the stat syscall entirely and reports only the cheap
// type hint the enumeration itself already carried (§4.F.1: "ino | type
// ... unless the platform's getdents variant omits type").
func statEntry(dirh *llfio.Handle, name string, typ syscallshim.DirType, want llfio.StatWant) llfio.StatRecord {
	if want == llfio.WantNone {
		return llfio.StatRecord{Want: llfio.WantType, Kind: kindFromDirType(typ)}
	}
	st, err := syscallshim.FstatAt(dirh.Fd(), name, false)
	if err != nil {
		// Raced: entry vanished between enumeration and stat. Report what
		// the directory syscall already told us rather than failing the
		// whole batch over one entry.
		return llfio.StatRecord{Want: llfio.WantType, Kind: kindFromDirType(typ)}
	}
	return llfio.StatRecordFromRaw(st, want)
}

func kindFromDirType(t syscallshim.DirType) llfio.Kind {
	switch t {
	case syscallshim.DTDirectory:
		return llfio.KindDirectory
	case syscallshim.DTSymlink:
		return llfio.KindSymlink
	default:
		return llfio.KindFile
	}
}

// readSingleEntry implements the single-entry fast path: when the glob
// names exactly one entry, stat it directly instead of enumerating the
// whole directory (§4.F.1).
func readSingleEntry(dirh *llfio.Handle, req ReadRequest, bufs *Buffers) (*Buffers, error) {
	bufs.reset()
	bufs.done = true

	st, err := syscallshim.FstatAt(dirh.Fd(), req.Glob, false)
	if err != nil {
		if classifyErrno(err) == errs.KindNotFound {
			return bufs, nil
		}
		return nil, errs.New("dirwalk.read", classifyErrno(err), err)
	}

	want := req.Want
	if want == llfio.WantNone {
		want = llfio.WantAll
	}
	data := bufs.allocateNames(len(req.Glob))
	copy(data, req.Glob)
	entry := llfio.DirectoryEntry{
		Leafname: bufs.nameView(0, len(req.Glob)),
		Stat:     llfio.StatRecordFromRaw(st, want),
	}
	bufs.entries = append(bufs.entries, entry)
	bufs.metadata = entry.Stat.Want
	return bufs, nil
}

// isFastDeletedName recognizes the park-step/swap-step naming this
// package's own RemoveAll and llfio.Open's AlwaysNew directory-swap use
// (a leading dot plus a ".deleted" or ".tmp" suffix), so FilterFastDeleted
// can hide this package's own bookkeeping entries from a caller's listing
// (§4.F.1 filter mode, generalized from the Windows-only rationale in the
// original to any platform using the same naming).
func isFastDeletedName(name string) bool {
	if !strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, ".deleted") || strings.HasSuffix(name, ".tmp")
}
