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

//go:build !windows

package llfio

import "errors"

// errUnlinkFastNotApplicable signals that this platform has no
// open-handle-only unlink fast path, so Unlink must fall through to
// parent-path resolution (§4.C.4 POSIX rung: "open parent_path_handle,
// verify inode, call unlinkat").
var errUnlinkFastNotApplicable = errors.New("llfio: no fast unlink path on this platform")

func unlinkFast(h *Handle) error { return errUnlinkFastNotApplicable }

// dirPrivilege is the POSIX no-op: the DELETE-privilege dance in §4.C.2 is
// a Windows-only concern (directories are opened there without DELETE to
// avoid blocking atomic renames into them). On POSIX a regular directory
// descriptor already carries everything rename(2) needs.
type dirPrivilege struct{}

func (dirPrivilege) release() {}

func acquireDeletePrivilege(h *Handle) (dirPrivilege, error) { return dirPrivilege{}, nil }

// toWin32Path is a pass-through of CurrentPath on POSIX (§4.C.6).
func toWin32Path(h *Handle, _ Win32Namespace) (string, error) {
	return h.CurrentPath()
}

// maskTopBitPOSIX clears the top bit of offset and length before a
// byte-range lock syscall, since POSIX lock offsets are signed off_t
// (§4.E.2).
func maskTopBitPOSIX(offset, length uint64) (maskedOffset, maskedLength uint64, changed bool) {
	const topBit = uint64(1) << 63
	maskedOffset, maskedLength = offset, length
	if offset&topBit != 0 {
		maskedOffset &^= topBit
		changed = true
	}
	if length&topBit != 0 {
		maskedLength &^= topBit
		changed = true
	}
	return
}
