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

// maxXattrValue caps each attribute value CopyAllTo copies at 64 KiB
// (§4.C.5 copy_all_to). maxXattrCopyBuffer (130 KiB) is not referenced:
// CopyAllTo reads each name list and value into a newly allocated slice.
const (
	maxXattrValue      = 64 * 1024
	maxXattrCopyBuffer = 130 * 1024
)

// ListXattr lists the names of this handle's extended attributes
// (§4.C.5). On POSIX this maps directly onto flistxattr; on Windows it
// reads the names from the ":xattr.index" stream that SetXattr maintains.
func (h *Handle) ListXattr() ([]string, error) {
	names, err := syscallshim.Listxattr(h.native)
	if err != nil {
		if err == syscallshim.ErrNotSupported {
			return listXattrFallback(h)
		}
		return nil, errs.New("list_xattr", classifyErrno(err), err)
	}
	return names, nil
}

// GetXattr reads the value of a named extended attribute (§4.C.5).
func (h *Handle) GetXattr(name string) ([]byte, error) {
	v, err := syscallshim.Getxattr(h.native, name)
	if err != nil {
		if err == syscallshim.ErrNotSupported {
			return getXattrFallback(h, name)
		}
		return nil, errs.New("get_xattr", classifyErrno(err), err)
	}
	return v, nil
}

// SetXattr writes an extended attribute's value, creating it if absent
// (§4.C.5). On Windows the value is never written in place: a scratch
// stream is created with a random name, written in full, and renamed over
// the target stream name with a replace-existing rename (the POSIX rename
// flag is not used), so a reader never observes a partially-written value
// (§4.C.5 set protocol).
func (h *Handle) SetXattr(name string, value []byte) error {
	if err := syscallshim.Setxattr(h.native, name, value); err != nil {
		if err == syscallshim.ErrNotSupported {
			return setXattrFallback(h, name, value)
		}
		return errs.New("set_xattr", classifyErrno(err), err)
	}
	return nil
}

// RemoveXattr deletes an extended attribute (§4.C.5).
func (h *Handle) RemoveXattr(name string) error {
	if err := syscallshim.Removexattr(h.native, name); err != nil {
		if err == syscallshim.ErrNotSupported {
			return removeXattrFallback(h, name)
		}
		return errs.New("remove_xattr", classifyErrno(err), err)
	}
	return nil
}

// CopyAllTo copies every extended attribute from h to other, implemented
// as list+get+set (§4.C.5 copy_all_to). Each value is read in full into a
// new slice; one longer than 64 KiB stops the copy with value_too_large,
// and attributes copied before it stay on other. If replace is false, an
// attribute already present on other is left untouched.
func (h *Handle) CopyAllTo(other *Handle, replace bool) error {
	names, err := h.ListXattr()
	if err != nil {
		return err
	}
	for _, name := range names {
		if !replace {
			if _, err := other.GetXattr(name); err == nil {
				continue
			}
		}
		value, err := h.GetXattr(name)
		if err != nil {
			return err
		}
		if len(value) > maxXattrValue {
			return errs.New("copy_all_to", errs.KindValueTooLarge, nil)
		}
		if err := other.SetXattr(name, value); err != nil {
			return err
		}
	}
	return nil
}
