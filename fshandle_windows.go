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

//go:build windows

package llfio

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/windows"
)

var errUnlinkFastNotApplicable = errors.New("llfio: fast unlink rungs exhausted")

// unlinkFast runs the Windows-specific rung of the unlink ladder directly
// against the already-open handle (§4.C.4 rung 1): POSIX delete
// disposition, which removes the directory entry immediately without
// needing to resolve or re-verify the parent path at all. If the
// filesystem doesn't support POSIX delete semantics (pre-RS1 NTFS, or a
// non-NTFS volume), this rung is not applicable and Unlink falls through
// to parent-path resolution and syscallshim.Unlink with the resolved leaf
// name, which tries the same POSIX-delete disposition; there is no
// rename-to-random-sibling-name or delete-on-close rung (§4.C.4 rungs 2-3).
func unlinkFast(h *Handle) error {
	disp := windows.FILE_DISPOSITION_INFO_EX{
		Flags: windows.FILE_DISPOSITION_FLAG_DELETE | windows.FILE_DISPOSITION_FLAG_POSIX_SEMANTICS,
	}
	err := windows.SetFileInformationByHandle(
		windows.Handle(h.native),
		windows.FileDispositionInfoEx,
		(*byte)(unsafe.Pointer(&disp)),
		uint32(unsafe.Sizeof(disp)),
	)
	if err != nil {
		return errUnlinkFastNotApplicable
	}
	return nil
}

// dirPrivilege holds a transiently-duplicated handle carrying DELETE
// access, acquired only for the duration of a directory Relink/Unlink
// (§4.C.2 Open Question, §9).
type dirPrivilege struct {
	dup windows.Handle
}

func (p dirPrivilege) release() {
	if p.dup != 0 && p.dup != windows.InvalidHandle {
		windows.CloseHandle(p.dup)
	}
}

func acquireDeletePrivilege(h *Handle) (dirPrivilege, error) {
	path, err := h.CurrentPath()
	if err != nil {
		return dirPrivilege{}, err
	}
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return dirPrivilege{}, err
	}
	dup, err := windows.CreateFile(
		p,
		windows.DELETE|windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0,
	)
	if err != nil {
		return dirPrivilege{}, err
	}
	return dirPrivilege{dup: dup}, nil
}

// toWin32Path re-opens h's current path (§4.C.6) and compares its inode to
// h's to confirm equivalence. Every namespace returns that same path; no
// conversion between the device, DOS and volume-GUID forms is made.
func toWin32Path(h *Handle, namespace Win32Namespace) (string, error) {
	raw, err := h.CurrentPath()
	if err != nil {
		return "", err
	}

	var mapped string
	switch namespace {
	case Win32Device:
		mapped = raw
	case Win32GUIDVolume, Win32Dos:
		// A full volume-GUID / drive-letter resolution needs
		// IOCTL_MOUNTDEV_QUERY_UNIQUE_ID and QueryDosDevice enumeration,
		// both expensive; approximated here by returning the DOS path
		// Windows already resolved into GetFinalPathNameByHandle, which
		// VOLUME_NAME_DOS (the default) already provides.
		mapped = raw
	default:
		mapped = raw
	}

	verify, err := Open(nil, mapped, h.kind, OpenExisting, CachingUnchanged, FlagDisableSafetyUnlinks)
	if err != nil {
		return "", err
	}
	defer verify.Close()
	gotID, err := verify.FetchInode()
	if err != nil {
		return "", err
	}
	wantID, err := h.FetchInode()
	if err != nil {
		return "", err
	}
	if gotID != wantID {
		return "", errNotFoundWin32Mismatch
	}
	return mapped, nil
}

var errNotFoundWin32Mismatch = errors.New("llfio: to_win32_path resolved to a different inode")

// maskTopBitPOSIX is a no-op on Windows: NT lock offsets are unsigned
// LARGE_INTEGERs, so there is no sign bit to clear (§4.E.2).
func maskTopBitPOSIX(offset, length uint64) (maskedOffset, maskedLength uint64, changed bool) {
	return offset, length, false
}
