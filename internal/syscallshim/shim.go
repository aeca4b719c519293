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

// Package syscallshim is the platform seam: every raw syscall the llfio
// core needs lives here, one file per platform (shim_linux.go,
// shim_darwin.go, shim_windows.go), behind a platform-neutral function
// signature. Above this package, only the llfio package's
// fshandle_windows.go imports golang.org/x/sys directly.
package syscallshim

import (
	"errors"
	"time"
)

// Stat is the subset of stat(2)/BY_HANDLE_FILE_INFORMATION fields the core
// consumes, already translated to platform-neutral types.
type Stat struct {
	Dev, Ino           uint64
	Mode               uint32 // low 12 bits permissions; high bits via ModeXxx below
	IsDir, IsSymlink   bool
	Nlink              uint64
	UID, GID           uint32
	Rdev               uint64
	Size               int64
	Allocated          int64
	Blocks, Blksize    int64
	Atim, Mtim, Ctim   time.Time
	Birthtim           time.Time
	Flags, Gen         uint64
	Sparse, Compressed bool
	ReparsePoint       bool
}

// ErrNotSupported is returned by shim functions for syscalls the running
// kernel/filesystem lacks (EINVAL/ENOSYS/ENOTSUP at the syscall layer).
// Callers decide, per emulate_if_unsupported, whether to surface it.
var ErrNotSupported = errors.New("syscallshim: not supported by this platform or filesystem")

// ErrAgain mirrors EAGAIN/WOULDBLOCK from a non-blocking lock attempt.
var ErrAgain = errors.New("syscallshim: resource temporarily unavailable")

// OpenFlags mirrors the O_* flags the shim layer understands, independent
// of the host OS's actual bit values.
type OpenFlags int

const (
	ORead OpenFlags = 1 << iota
	OWrite
	OCreate
	OExclusive
	OTruncate
	OAppend
	ODirectory
	ONonblock
	ODirect
	OSync
	ONofollow
	OCloexec
	OPath // POSIX O_PATH-style path reference handle
)

// RenameFlags controls Rename's atomicity/replace semantics.
type RenameFlags int

const (
	RenameDefault RenameFlags = 0
	RenameNoReplace RenameFlags = 1 << iota
)

// Handle is an opaque native descriptor: an fd on POSIX, a HANDLE token on
// Windows. The llfio package never looks inside it.
type Handle uintptr

// InvalidHandle, with every bit set, is the sentinel for "no descriptor."
const InvalidHandle Handle = ^Handle(0)
