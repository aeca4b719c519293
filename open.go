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

// Open opens path (relative to base, or absolute if base is nil) as kind,
// with the given creation disposition, caching mode, and flags (§6.2).
//
// AlwaysNew on a directory swaps in an empty directory atomically: a fresh
// directory is created under a random sibling name and rename()'d over the
// target, so concurrent observers never see a half-initialized directory
// at the target path.
func Open(base *Handle, path string, kind Kind, disposition CreationDisposition, mode CachingMode, flags OpenFlags) (*Handle, error) {
	if kind == KindDirectory && disposition == AlwaysNew {
		return openAlwaysNewDirectory(base, path, mode, flags)
	}

	oflags := toShimFlags(kind, disposition, mode, flags)
	dirfd := -1
	if base != nil {
		dirfd = syscallshim.Fd(base.native)
	}
	native, err := syscallshim.OpenAt(dirfd, path, oflags, 0o666)
	if err != nil {
		return nil, errs.New("open", classifyOpenError(err), err)
	}
	return newHandle(native, kind, mode, flags), nil
}

func openAlwaysNewDirectory(base *Handle, path string, mode CachingMode, flags OpenFlags) (*Handle, error) {
	parent, leaf := pathview.Split(path)
	parentHandle := base
	var openedParent *Handle
	if parent != "" {
		ph, err := Open(base, parent, KindDirectory, OpenExisting, CachingUnchanged, 0)
		if err != nil {
			return nil, err
		}
		openedParent = ph
		parentHandle = ph
	}
	if openedParent != nil {
		defer openedParent.Close()
	}

	scratch := "." + uuid.NewString() + ".tmp"
	dirfd := -1
	if parentHandle != nil {
		dirfd = syscallshim.Fd(parentHandle.native)
	}
	if err := syscallshim.Mkdirat(syscallshim.Handle(dirfd), scratch, 0o777); err != nil {
		return nil, errs.New("open", errs.KindUnknown, err)
	}
	if err := syscallshim.Rename(syscallshim.Handle(dirfd), scratch, syscallshim.Handle(dirfd), leaf, syscallshim.RenameDefault); err != nil {
		syscallshim.Unlink(syscallshim.Handle(dirfd), scratch, true)
		return nil, errs.New("open", errs.KindUnknown, err)
	}
	return Open(base, path, KindDirectory, OpenExisting, mode, flags)
}

func toShimFlags(kind Kind, disposition CreationDisposition, mode CachingMode, flags OpenFlags) syscallshim.OpenFlags {
	var o syscallshim.OpenFlags
	switch kind {
	case KindDirectory:
		o |= syscallshim.ODirectory | syscallshim.ORead
	case KindPath:
		o |= syscallshim.OPath
	default:
		o |= syscallshim.ORead | syscallshim.OWrite
	}
	switch disposition {
	case OnlyIfNotExist:
		o |= syscallshim.OCreate | syscallshim.OExclusive
	case IfNeeded:
		o |= syscallshim.OCreate
	case TruncateExisting:
		o |= syscallshim.OTruncate
	case AlwaysNew:
		o |= syscallshim.OCreate | syscallshim.OTruncate
	}
	if flags.Has(FlagMultiplexable) {
		o |= syscallshim.ONonblock
	}
	switch mode {
	case CachingNone:
		o |= syscallshim.ODirect | syscallshim.OSync
	case CachingTemporary:
		// No portable O_TMPFILE-equivalent hint beyond what the caller's
		// filesystem choice already implies; tracked for documentation
		// only, matching spec's description of it as a hint.
	case CachingSafetyBarriers:
		// Barriers are emitted at close/sync points (extents.go), not via
		// an open flag.
	}
	return o
}

func classifyOpenError(err error) errs.Kind {
	return classifyErrno(err)
}

// openPath re-opens an entry by its current OS-reported path, used by
// Clone when changing caching mode (§4.A).
func openPath(path string, kind Kind, mode CachingMode, flags OpenFlags) (*Handle, error) {
	return Open(nil, path, kind, OpenExisting, mode, flags)
}

// dupNative duplicates a native descriptor without changing its mode,
// used by Clone when the caching mode is unchanged (§4.A).
func dupNative(native syscallshim.Handle) (syscallshim.Handle, error) {
	return syscallshim.DupHandle(native)
}
