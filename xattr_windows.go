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
	"strings"

	"github.com/afio/llfiogo/errs"
	"github.com/afio/llfiogo/internal/syscallshim"
	"github.com/google/uuid"
)

// Extended attributes are backed by alternate data streams named
// "<path>:xattr.<name>" (§4.C.5), since NTFS's native EA records are
// append-only and cannot replace a value in place. A second stream,
// "<path>:xattr.index", holds a newline-separated list of attribute
// names, since Win32 has no API to enumerate a file's streams short of
// FindFirstStreamW/FindNextStreamW, which this shim layer does not wrap.

const xattrStreamPrefix = ":xattr."
const xattrIndexStream = ":xattr.index"

func streamPath(base, suffix string) string { return base + suffix }

func readStream(path string) ([]byte, bool, error) {
	native, err := syscallshim.OpenAt(-1, path, syscallshim.ORead, 0)
	if err != nil {
		return nil, false, nil
	}
	defer syscallshim.Close(native)
	st, err := syscallshim.Fstat(native)
	if err != nil {
		return nil, true, err
	}
	if st.Size == 0 {
		return nil, true, nil
	}
	buf := make([]byte, st.Size)
	n, err := syscallshim.Pread(native, buf, 0)
	if err != nil {
		return nil, true, err
	}
	return buf[:n], true, nil
}

// writeStreamAtomic writes value into a scratch stream under path's
// directory, then renames it over the target stream name, so a
// concurrent reader never observes a partially-written value (§4.C.5 set
// protocol, steps 1-4).
func writeStreamAtomic(basePath, finalSuffix string, value []byte) error {
	scratchSuffix := xattrStreamPrefix + uuid.NewString() + ".tmp"
	scratchPath := streamPath(basePath, scratchSuffix)
	native, err := syscallshim.OpenAt(-1, scratchPath, syscallshim.OCreate|syscallshim.OExclusive|syscallshim.OWrite, 0o666)
	if err != nil {
		return err
	}
	if len(value) > 0 {
		if _, err := syscallshim.Pwrite(native, value, 0); err != nil {
			syscallshim.Close(native)
			syscallshim.Unlink(syscallshim.InvalidHandle, scratchPath, false)
			return err
		}
	}
	syscallshim.Close(native)

	finalPath := streamPath(basePath, finalSuffix)
	if err := syscallshim.Rename(syscallshim.InvalidHandle, scratchPath, syscallshim.InvalidHandle, finalPath, syscallshim.RenameDefault); err != nil {
		syscallshim.Unlink(syscallshim.InvalidHandle, scratchPath, false)
		return err
	}
	return nil
}

func readIndex(basePath string) ([]string, error) {
	data, existed, err := readStream(streamPath(basePath, xattrIndexStream))
	if err != nil {
		return nil, err
	}
	if !existed || len(data) == 0 {
		return nil, nil
	}
	lines := strings.Split(string(data), "\n")
	names := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			names = append(names, l)
		}
	}
	return names, nil
}

func writeIndex(basePath string, names []string) error {
	return writeStreamAtomic(basePath, xattrIndexStream, []byte(strings.Join(names, "\n")))
}

func listXattrFallback(h *Handle) ([]string, error) {
	basePath, err := h.CurrentPath()
	if err != nil {
		return nil, err
	}
	names, err := readIndex(basePath)
	if err != nil {
		return nil, errs.New("list_xattr", classifyErrno(err), err)
	}
	return names, nil
}

func getXattrFallback(h *Handle, name string) ([]byte, error) {
	basePath, err := h.CurrentPath()
	if err != nil {
		return nil, err
	}
	data, existed, err := readStream(streamPath(basePath, xattrStreamPrefix+name))
	if err != nil {
		return nil, errs.New("get_xattr", classifyErrno(err), err)
	}
	if !existed {
		return nil, errs.New("get_xattr", errs.KindNotFound, nil)
	}
	return data, nil
}

func setXattrFallback(h *Handle, name string, value []byte) error {
	basePath, err := h.CurrentPath()
	if err != nil {
		return err
	}
	if err := writeStreamAtomic(basePath, xattrStreamPrefix+name, value); err != nil {
		return errs.New("set_xattr", classifyErrno(err), err)
	}
	names, err := readIndex(basePath)
	if err != nil {
		return errs.New("set_xattr", classifyErrno(err), err)
	}
	for _, n := range names {
		if n == name {
			return nil
		}
	}
	names = append(names, name)
	if err := writeIndex(basePath, names); err != nil {
		return errs.New("set_xattr", classifyErrno(err), err)
	}
	return nil
}

func removeXattrFallback(h *Handle, name string) error {
	basePath, err := h.CurrentPath()
	if err != nil {
		return err
	}
	if err := syscallshim.Unlink(syscallshim.InvalidHandle, streamPath(basePath, xattrStreamPrefix+name), false); err != nil {
		return errs.New("remove_xattr", classifyErrno(err), err)
	}
	names, err := readIndex(basePath)
	if err != nil {
		return errs.New("remove_xattr", classifyErrno(err), err)
	}
	kept := names[:0]
	for _, n := range names {
		if n != name {
			kept = append(kept, n)
		}
	}
	if err := writeIndex(basePath, kept); err != nil {
		return errs.New("remove_xattr", classifyErrno(err), err)
	}
	return nil
}
