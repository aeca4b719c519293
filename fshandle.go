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
	"github.com/afio/llfiogo/internal/pathview"
	"github.com/afio/llfiogo/internal/syscallshim"
	"github.com/google/uuid"
)

// ParentPathHandle returns a path handle owning a descriptor to the
// directory currently containing this handle's entry (§4.C.1). Unless
// FlagDisableSafetyUnlinks is set, the returned parent is inode-verified
// against this handle before being trusted, and the whole lookup is
// retried from current_path if verification fails — the entry may have
// been relinked out from under a concurrent caller between the two
// syscalls.
func (h *Handle) ParentPathHandle(deadline Deadline) (*Handle, error) {
	waiter := NewWaiter(deadline)
	for {
		path, err := h.CurrentPath()
		if err != nil {
			return nil, err
		}
		if path == "" {
			return nil, errs.New("parent_path_handle", errs.KindNotFound, nil)
		}

		parent, leaf := pathview.Split(path)
		if parent == "" {
			parent = "/"
		}
		parentHandle, err := Open(nil, parent, KindPath, OpenExisting, CachingUnchanged, 0)
		if err != nil {
			return nil, err
		}

		if h.flags.Has(FlagDisableSafetyUnlinks) {
			return parentHandle, nil
		}

		want := h.cachedInode()
		if want.IsZero() {
			want, err = h.FetchInode()
			if err != nil {
				parentHandle.Close()
				return nil, err
			}
		}

		st, err := syscallshim.FstatAt(parentHandle.native, leaf, false)
		if err == nil && st.Dev == want.Device && st.Ino == want.Inode {
			return parentHandle, nil
		}
		parentHandle.Close()

		if waiter.Expired() {
			return nil, errs.New("parent_path_handle", errs.KindTimedOut, nil)
		}
		// Raced: retry from current_path (§4.C.1 step 5).
	}
}

// Relink moves this handle's entry to newPath relative to base (§4.C.2).
// When atomicReplace is true, any existing entry at the destination is
// silently replaced; otherwise the call fails with KindFileExists.
func (h *Handle) Relink(base *Handle, newPath string, atomicReplace bool, deadline Deadline) error {
	if h.kind == KindDirectory {
		// Directories are opened without DELETE on Windows to avoid
		// blocking atomic renames into them; relinking the directory
		// itself needs a transient handle with that privilege (§4.C.2,
		// Open Question in §9). On POSIX this is a no-op: regular
		// descriptors already carry enough privilege to rename. The
		// acquired privilege is never retained past this call (§4.C.2
		// "Never retained").
		priv, err := acquireDeletePrivilege(h)
		if err != nil {
			return err
		}
		defer priv.release()
	}

	// Neither POSIX's renameat2 nor NT's FileRenameInformation can rename
	// purely by source descriptor without at least resolving the parent
	// directory (renameat2 still wants a dirfd+name; NT's by-handle
	// rename needs the parent resolved to set SourceDirectory /use the
	// RootDirectory field) — so the only real fast path both platforms
	// share is parent-path resolution with inode verification, which is
	// exactly what relinkByPath already does (§4.C.2).
	return h.relinkByPath(base, newPath, atomicReplace, deadline)
}

func (h *Handle) relinkByPath(base *Handle, newPath string, atomicReplace bool, deadline Deadline) error {
	waiter := NewWaiter(deadline)
	for {
		parent, err := h.ParentPathHandle(deadline)
		if err != nil {
			return err
		}

		newParentPath, newLeaf := pathview.Split(newPath)
		newDirFd := syscallshim.Handle(syscallshim.Fd(parent.native))
		if base != nil && newParentPath != "" {
			nd, err := Open(base, newParentPath, KindDirectory, OpenExisting, CachingUnchanged, 0)
			if err != nil {
				parent.Close()
				return err
			}
			newDirFd = nd.native
			defer nd.Close()
		} else if newParentPath == "" {
			newLeaf = newPath
			if base != nil {
				newDirFd = base.native
			}
		}

		rflags := syscallshim.RenameDefault
		if !atomicReplace {
			rflags = syscallshim.RenameNoReplace
		}
		err = syscallshim.Rename(parent.native, pathLeafOf(h, parent), newDirFd, newLeaf, rflags)
		parent.Close()
		if err == nil {
			return nil
		}
		if err == syscallshim.ErrNotSupported {
			// Fall back to link+unlink for no-replace semantics the
			// platform can't do atomically (§4.C.2).
			if linkErr := h.Link(base, newPath, deadline); linkErr != nil {
				return linkErr
			}
			return h.Unlink(deadline)
		}
		if waiter.Expired() {
			return errs.New("relink", errs.KindTimedOut, err)
		}
		return errs.New("relink", classifyRenameError(err, atomicReplace), err)
	}
}

func pathLeafOf(h *Handle, parent *Handle) string {
	path, err := h.CurrentPath()
	if err != nil || path == "" {
		return ""
	}
	_, leaf := pathview.Split(path)
	return leaf
}

func classifyRenameError(err error, atomicReplace bool) errs.Kind {
	k := classifyErrno(err)
	if !atomicReplace && k == errs.KindAlreadyExists {
		return errs.KindFileExists
	}
	return k
}

// Link creates an additional hard link at newPath relative to base
// (§4.C.3). Prefers a by-descriptor syscall; otherwise resolves via the
// parent path with inode verification.
func (h *Handle) Link(base *Handle, newPath string, deadline Deadline) error {
	newParentPath, newLeaf := pathview.Split(newPath)
	var dirFd syscallshim.Handle = syscallshim.InvalidHandle
	if base != nil {
		dirFd = base.native
	}
	if newParentPath != "" {
		nd, err := Open(base, newParentPath, KindDirectory, OpenExisting, CachingUnchanged, 0)
		if err != nil {
			return err
		}
		defer nd.Close()
		dirFd = nd.native
	} else {
		newLeaf = newPath
	}

	if err := syscallshim.Link(h.native, "", dirFd, newLeaf); err == nil {
		return nil
	} else if err != syscallshim.ErrNotSupported {
		return errs.New("link", classifyErrno(err), err)
	}

	parent, err := h.ParentPathHandle(deadline)
	if err != nil {
		return err
	}
	defer parent.Close()
	path, err := h.CurrentPath()
	if err != nil {
		return err
	}
	_, leaf := pathview.Split(path)
	if err := syscallshim.Link(parent.native, leaf, dirFd, newLeaf); err != nil {
		return errs.New("link", classifyErrno(err), err)
	}
	return nil
}

// Unlink removes this handle's current link (§4.C.4). The strategy ladder
// is platform-specific; on POSIX it resolves the parent path, verifies the
// inode, and calls unlinkat with AT_REMOVEDIR for directories.
func (h *Handle) Unlink(deadline Deadline) error {
	if err := unlinkFast(h); err == nil {
		return nil
	} else if err != errUnlinkFastNotApplicable {
		return errs.New("unlink", classifyErrno(err), err)
	}

	parent, err := h.ParentPathHandle(deadline)
	if err != nil {
		return err
	}
	defer parent.Close()
	path, err := h.CurrentPath()
	if err != nil {
		return err
	}
	if path == "" {
		return errs.New("unlink", errs.KindNotFound, nil)
	}
	_, leaf := pathview.Split(path)
	if err := syscallshim.Unlink(parent.native, leaf, h.kind == KindDirectory); err != nil {
		return errs.New("unlink", classifyErrno(err), err)
	}
	return nil
}

// randomSiblingName returns a name suitable for tree removal's "park" step
// and Windows's rename-to-simulate-POSIX-unlink fallback (§4.C.4, §4.F.2).
func randomSiblingName() string {
	return "." + uuid.NewString() + ".deleted"
}

// ToWin32Path returns a Win32 path for this handle (§4.C.6). On Windows
// every namespace yields the path CurrentPath reports, checked against the
// handle by inode; the namespace argument does not change the result. On
// POSIX it is a pass-through of CurrentPath.
func (h *Handle) ToWin32Path(namespace Win32Namespace) (string, error) {
	return toWin32Path(h, namespace)
}

// Win32Namespace selects the path flavor ToWin32Path returns.
type Win32Namespace int

const (
	Win32Any Win32Namespace = iota
	Win32Device
	Win32Dos
	Win32GUIDVolume
)
