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

// fileBufferDefaultSize is the chunk size clone_extents_to and the
// zero-byte fallback operate in (§4.D.3 step 6: "typically 1 MiB").
const fileBufferDefaultSize = 1 << 20

// zeroRunThreshold is the minimum run of zero bytes clone_extents_to will
// skip writing into a newly-grown destination, to preserve sparseness
// (§4.D.3 step 6 copy_bytes).
const zeroRunThreshold = 1024

// MaximumExtent returns the file's current logical size (§4.D.1).
func (h *Handle) MaximumExtent() (uint64, error) {
	st, err := syscallshim.Fstat(h.native)
	if err != nil {
		return 0, errs.New("maximum_extent", classifyErrno(err), err)
	}
	return uint64(st.Size), nil
}

// Truncate sets the file's logical size (§4.D.1). It does not guarantee
// physical block allocation; on handles opened with CachingSafetyBarriers,
// a sync barrier is emitted after the resize.
func (h *Handle) Truncate(newSize uint64) error {
	if err := syscallshim.Ftruncate(h.native, int64(newSize)); err != nil {
		return errs.New("truncate", classifyErrno(err), err)
	}
	if h.mode == CachingSafetyBarriers {
		syscallshim.Fdatasync(h.native)
	}
	return nil
}

// Extents returns the currently allocated (non-hole) regions of the file
// (§4.D.2). If the filesystem rejects extent queries entirely, a single
// extent covering the whole file is synthesized.
func (h *Handle) Extents() ([]ExtentPair, error) {
	extents, err := platformExtents(h)
	if err != nil {
		size, sErr := h.MaximumExtent()
		if sErr != nil {
			return nil, errs.New("extents", classifyErrno(err), err)
		}
		if size == 0 {
			return nil, nil
		}
		return []ExtentPair{{Offset: 0, Length: size}}, nil
	}
	return extents, nil
}

// Zero punches a hole over range, falling back to writing literal zero
// bytes through a reusable scratch buffer when the filesystem rejects
// hole-punching (§4.D.4).
func (h *Handle) Zero(r ExtentPair) error {
	if err := syscallshim.FallocatePunchHole(h.native, int64(r.Offset), int64(r.Length)); err == nil {
		return nil
	} else if err != syscallshim.ErrNotSupported {
		return errs.New("zero", classifyErrno(err), err)
	}
	return h.writeZeros(r.Offset, r.Length)
}

func (h *Handle) writeZeros(offset, length uint64) error {
	buf := make([]byte, minUint64(fileBufferDefaultSize, length))
	for length > 0 {
		n := minUint64(uint64(len(buf)), length)
		if _, err := syscallshim.Pwrite(h.native, buf[:n], int64(offset)); err != nil {
			return errs.New("zero", classifyErrno(err), err)
		}
		offset += n
		length -= n
	}
	return nil
}

// CloneOptions controls clone_extents_to's degrade-to-copy behavior
// (§4.D.3).
type CloneOptions struct {
	ForceCopyNow         bool
	EmulateIfUnsupported bool
}

// CloneExtentsTo copies or shares sourceRange from h to dest at destOffset
// (§4.D.3). force_copy_now implies emulate_if_unsupported and disables
// extent cloning outright.
func (h *Handle) CloneExtentsTo(sourceRange ExtentPair, dest *Handle, destOffset uint64, opts CloneOptions) error {
	if opts.ForceCopyNow {
		opts.EmulateIfUnsupported = true
	}

	srcSize, err := h.MaximumExtent()
	if err != nil {
		return err
	}
	sourceRange = clampExtent(sourceRange, srcSize)
	if sourceRange.Length == 0 {
		return nil
	}

	sameInode, err := sameFile(h, dest)
	if err != nil {
		return err
	}
	overlapping := sameInode && rangesOverlap(sourceRange.Offset, sourceRange.Length, destOffset, sourceRange.Length)
	if overlapping {
		delta := int64(destOffset) - int64(sourceRange.Offset)
		if delta < 0 {
			delta = -delta
		}
		if uint64(delta) < blockSizeHint {
			return errs.New("clone_extents_to", errs.KindInvalidArgument, nil)
		}
	}

	requiredSize := destOffset + sourceRange.Length
	destSize, err := dest.MaximumExtent()
	if err != nil {
		return err
	}
	growing := requiredSize > destSize
	if growing {
		if err := dest.Truncate(requiredSize); err != nil {
			return err
		}
	}

	work := buildCloneWorkList(h, sourceRange, destOffset, destSize)
	if overlapping && destOffset > sourceRange.Offset {
		// Destination lies after source: walk back-to-front so no block
		// is clobbered before being read (§4.D.3 step 4).
		reverseWorkItems(work)
	}

	cloningDisabled := opts.ForceCopyNow
	for _, item := range work {
		switch item.kind {
		case cloneWorkClone:
			if cloningDisabled {
				item.kind = cloneWorkCopy
			} else if err := h.cloneExtentChunk(dest, item); err != nil {
				if err != syscallshim.ErrNotSupported || !opts.EmulateIfUnsupported {
					return errs.New("clone_extents_to", classifyErrno(err), err)
				}
				cloningDisabled = true
				item.kind = cloneWorkCopy
			} else {
				continue
			}
			fallthrough
		case cloneWorkCopy:
			if err := h.copyChunk(dest, item, item.destIsNew); err != nil {
				return errs.New("clone_extents_to", classifyErrno(err), err)
			}
		case cloneWorkZero:
			if err := dest.writeZeros(item.destOffset, item.length); err != nil {
				return err
			}
		case cloneWorkDelete:
			if err := dest.Zero(ExtentPair{Offset: item.destOffset, Length: item.length}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handle) cloneExtentChunk(dest *Handle, item cloneWorkItem) error {
	remaining := item.length
	srcOff := int64(item.srcOffset)
	dstOff := int64(item.destOffset)
	for remaining > 0 {
		n := int(minUint64(fileBufferDefaultSize, remaining))
		copied, err := syscallshim.CopyFileRange(h.native, &srcOff, dest.native, &dstOff, n)
		if err != nil {
			return err
		}
		if copied == 0 {
			return syscallshim.ErrNotSupported
		}
		remaining -= uint64(copied)
	}
	return nil
}

// copyChunk streams item through a scratch buffer. When destIsNew is set
// (the destination region lies past the old EOF, so it reads as zero
// until written), runs of zero bytes at least zeroRunThreshold long are
// skipped rather than written, preserving sparseness (§4.D.3 step 6).
func (h *Handle) copyChunk(dest *Handle, item cloneWorkItem, destIsNew bool) error {
	remaining := item.length
	srcOff := item.srcOffset
	dstOff := item.destOffset
	buf := make([]byte, minUint64(fileBufferDefaultSize, remaining))
	for remaining > 0 {
		n := int(minUint64(uint64(len(buf)), remaining))
		read, err := syscallshim.Pread(h.native, buf[:n], int64(srcOff))
		if err != nil {
			return err
		}
		if read == 0 {
			break
		}
		if destIsNew {
			if err := writeSparsely(dest, buf[:read], dstOff); err != nil {
				return err
			}
		} else if _, err := syscallshim.Pwrite(dest.native, buf[:read], int64(dstOff)); err != nil {
			return err
		}
		srcOff += uint64(read)
		dstOff += uint64(read)
		remaining -= uint64(read)
	}
	return nil
}

func writeSparsely(dest *Handle, data []byte, offset uint64) error {
	i := 0
	for i < len(data) {
		if data[i] == 0 {
			j := i
			for j < len(data) && data[j] == 0 {
				j++
			}
			if uint64(j-i) >= zeroRunThreshold {
				i = j
				continue
			}
		}
		j := i
		for j < len(data) && !(isZeroRun(data, j)) {
			j++
		}
		if _, err := syscallshim.Pwrite(dest.native, data[i:j], int64(offset)+int64(i)); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func isZeroRun(data []byte, from int) bool {
	if from+zeroRunThreshold > len(data) {
		return false
	}
	for k := 0; k < zeroRunThreshold; k++ {
		if data[from+k] != 0 {
			return false
		}
	}
	return true
}

type cloneWorkKind int

const (
	cloneWorkClone cloneWorkKind = iota
	cloneWorkCopy
	cloneWorkZero
	cloneWorkDelete
)

type cloneWorkItem struct {
	kind       cloneWorkKind
	srcOffset  uint64
	destOffset uint64
	length     uint64
	destIsNew  bool
}

// buildCloneWorkList walks h's extents intersected with sourceRange,
// producing clone_extents items for allocated blocks and delete_extents
// items for holes (§4.D.3 step 2), flagging items past the destination's
// old EOF as "destination extents are new" (step 3).
func buildCloneWorkList(h *Handle, sourceRange ExtentPair, destOffset, oldDestSize uint64) []cloneWorkItem {
	extents, err := h.Extents()
	if err != nil || len(extents) == 0 {
		extents = []ExtentPair{sourceRange}
	}

	var work []cloneWorkItem
	cursor := sourceRange.Offset
	end := sourceRange.End()
	for cursor < end {
		allocated, blockEnd := classifyCursor(extents, cursor, end)
		length := blockEnd - cursor
		dOff := destOffset + (cursor - sourceRange.Offset)
		item := cloneWorkItem{
			srcOffset:  cursor,
			destOffset: dOff,
			length:     length,
			destIsNew:  dOff >= oldDestSize,
		}
		if allocated {
			item.kind = cloneWorkClone
		} else {
			item.kind = cloneWorkDelete
		}
		work = append(work, item)
		cursor = blockEnd
	}
	return work
}

// classifyCursor reports whether cursor lies in an allocated extent, and
// the offset where that classification changes (the next boundary, or
// end if none).
func classifyCursor(extents []ExtentPair, cursor, end uint64) (allocated bool, boundary uint64) {
	for _, e := range extents {
		if cursor < e.Offset {
			if e.Offset < end {
				return false, e.Offset
			}
			return false, end
		}
		if cursor < e.End() {
			if e.End() < end {
				return true, e.End()
			}
			return true, end
		}
	}
	return false, end
}

func reverseWorkItems(items []cloneWorkItem) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

func clampExtent(r ExtentPair, size uint64) ExtentPair {
	if r.Offset >= size {
		return ExtentPair{Offset: r.Offset, Length: 0}
	}
	if r.End() > size {
		r.Length = size - r.Offset
	}
	return r
}

func rangesOverlap(aOff, aLen, bOff, bLen uint64) bool {
	return aOff < bOff+bLen && bOff < aOff+aLen
}

func sameFile(a, b *Handle) (bool, error) {
	idA, err := a.FetchInode()
	if err != nil {
		return false, err
	}
	idB, err := b.FetchInode()
	if err != nil {
		return false, err
	}
	return idA == idB, nil
}

// blockSizeHint approximates the "one block-size" overlap threshold
// (§4.D.3 step 4) without a per-filesystem statfs query.
const blockSizeHint = 4096

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
