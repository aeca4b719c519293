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

import "github.com/afio/llfiogo/internal/syscallshim"

// platformExtents walks SEEK_DATA/SEEK_HOLE until ENXIO (§4.D.2). The
// call is racy against concurrent writers: a data region found by
// SEEK_DATA may be punched out before the matching SEEK_HOLE returns, so
// non-positive-length regions are discarded rather than surfaced.
//
// On ZFS-on-Linux, SEEK_DATA on a freshly mmap-rewritten file reports no
// data until some byte has been read; a one-byte read is issued before
// every SEEK_DATA call to work around it.
func platformExtents(h *Handle) ([]ExtentPair, error) {
	size, err := h.MaximumExtent()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}

	quirkZFS := syscallshim.IsZFS(h.native)
	var result []ExtentPair
	pos := int64(0)
	for uint64(pos) < size {
		if quirkZFS {
			var probe [1]byte
			syscallshim.Pread(h.native, probe[:], pos)
		}
		dataStart, err := syscallshim.SeekData(h.native, pos)
		if err != nil {
			if syscallshim.IsNxio(err) {
				break
			}
			return nil, err
		}
		holeStart, err := syscallshim.SeekHole(h.native, dataStart)
		if err != nil {
			if syscallshim.IsNxio(err) {
				holeStart = int64(size)
			} else {
				return nil, err
			}
		}
		if holeStart > dataStart {
			result = append(result, ExtentPair{Offset: uint64(dataStart), Length: uint64(holeStart - dataStart)})
		}
		if holeStart <= pos {
			break
		}
		pos = holeStart
	}
	return result, nil
}
