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

// Package llfio implements a race-free, handle-oriented filesystem core:
// every operation is anchored to an inode rather than a path string, so
// that relinks, unlinks, and concurrent mutation of the directory tree
// cannot trick an operation into acting on the wrong entry.
//
// The package is organized the way the teacher this module grew out of
// organizes a FUSE driver: one flat package for the core types and
// operations, with focused sibling packages (threadpool, dirwalk, kvstore)
// built on top of it.
package llfio

import (
	"time"

	"github.com/afio/llfiogo/internal/pathview"
)

// Kind identifies what OS resource a Handle owns (§3.1).
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindPath
	KindSymlink
	KindPipe
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindPath:
		return "path"
	case KindSymlink:
		return "symlink"
	case KindPipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// CachingMode controls how a handle's reads and writes interact with the OS
// page cache (§3.1).
type CachingMode int

const (
	CachingUnchanged CachingMode = iota
	CachingNone
	CachingOnlyMetadata
	CachingReads
	CachingReadsAndMetadata
	CachingAll
	CachingSafetyBarriers
	CachingTemporary
)

// OpenFlags is a bit set of behavioral flags on a Handle (§3.1).
type OpenFlags uint32

const (
	FlagUnlinkOnFirstClose OpenFlags = 1 << iota
	FlagDisableSafetyUnlinks
	FlagDisablePrefetching
	FlagMaximumPrefetching
	FlagMultiplexable
	FlagByteLockInsanity
	FlagAnonymousInode
	FlagWinDisableUnlinkEmulation
	FlagWinDisableSparseFileCreation
	FlagWinCreateCaseSensitiveDirectory
)

func (f OpenFlags) Has(bit OpenFlags) bool { return f&bit != 0 }

// CreationDisposition selects how Open resolves an existing entry at the
// target path (§6.2).
type CreationDisposition int

const (
	OpenExisting CreationDisposition = iota
	OnlyIfNotExist
	IfNeeded
	TruncateExisting
	AlwaysNew
)

// InodeID is the (device, inode) pair anchoring race-free operations
// (§3.2). The zero value is the "not yet fetched" sentinel.
type InodeID struct {
	Device uint64
	Inode  uint64
}

// IsZero reports whether id is the not-yet-fetched sentinel.
func (id InodeID) IsZero() bool { return id.Device == 0 && id.Inode == 0 }

// StatWant is a bitset naming which StatRecord fields a caller wants
// populated, and which were actually filled by the platform (§6.1).
type StatWant uint32

const (
	WantDev StatWant = 1 << iota
	WantIno
	WantType
	WantPerms
	WantNlink
	WantUID
	WantGID
	WantRdev
	WantAtim
	WantMtim
	WantCtim
	WantSize
	WantAllocated
	WantBlocks
	WantBlksize
	WantFlags
	WantGen
	WantBirthtim
	WantSparse
	WantCompressed
	WantReparsePoint

	WantNone StatWant = 0
	WantAll  StatWant = WantDev | WantIno | WantType | WantPerms | WantNlink |
		WantUID | WantGID | WantRdev | WantAtim | WantMtim | WantCtim |
		WantSize | WantAllocated | WantBlocks | WantBlksize | WantFlags |
		WantGen | WantBirthtim | WantSparse | WantCompressed | WantReparsePoint
)

func (w StatWant) Has(bit StatWant) bool { return w&bit != 0 }

// StatRecord holds the optional fields of a stat(2)/GetFileInformationByHandle
// call, with Want tracking which fields are actually populated (§3.4).
type StatRecord struct {
	Want StatWant

	Dev       uint64
	Ino       uint64
	Kind      Kind
	Perms     uint32
	Nlink     uint64
	UID       uint32
	GID       uint32
	Rdev      uint64
	Atim      time.Time
	Mtim      time.Time
	Ctim      time.Time
	Birthtim  time.Time
	Size      int64
	Allocated int64
	Blocks    int64
	Blksize   int64
	Flags     uint32
	Gen       uint64

	Sparse        bool
	Compressed    bool
	ReparsePoint  bool
}

// InodeIDOf extracts the InodeID half of a fully-populated StatRecord.
func (s StatRecord) InodeIDOf() InodeID { return InodeID{Device: s.Dev, Inode: s.Ino} }

// DirectoryEntry is one entry returned by enumeration (§3.3). Leafname
// borrows into the kernel buffer shared across a Buffers and must not
// outlive it.
type DirectoryEntry struct {
	Leafname pathview.View
	Stat     StatRecord
}

// ExtentPair describes a contiguous allocated (or, contextually, to-be-read)
// region of a file (§3.5).
type ExtentPair struct {
	Offset uint64
	Length uint64
}

// WholeFileExtent is the sentinel meaning "the entire file" in APIs that
// accept an ExtentPair range.
var WholeFileExtent = ExtentPair{Offset: ^uint64(0), Length: ^uint64(0)}

// IsWholeFile reports whether e is the WholeFileExtent sentinel.
func (e ExtentPair) IsWholeFile() bool {
	return e.Offset == WholeFileExtent.Offset && e.Length == WholeFileExtent.Length
}

// End returns the exclusive end offset of e.
func (e ExtentPair) End() uint64 { return e.Offset + e.Length }

// LockKind identifies the mode of a held lock (§3.6).
type LockKind int

const (
	LockNone LockKind = iota
	LockShared
	LockExclusive
)

// RangeLock is one byte-range lock currently held on a handle (§3.6).
type RangeLock struct {
	Offset uint64
	Length uint64
	Kind   LockKind
}

// LockState is the lock bookkeeping carried per-handle (§3.6). Ranges is
// kept sorted by Offset.
type LockState struct {
	Whole  LockKind
	Ranges []RangeLock
}
