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

// Package dirwalk implements directory enumeration and whole-tree removal
// (§4.F) on top of llfio's handle model and the threadpool package's
// dynamic worker pool.
package dirwalk

import (
	"github.com/afio/llfiogo"
	"github.com/afio/llfiogo/internal/pathview"
)

// FilterMode selects entry filtering during enumeration (§4.F.1).
type FilterMode int

const (
	// FilterNone performs no filtering at all.
	FilterNone FilterMode = iota
	// FilterFastDeleted skips entries matching the "simulated unlink"
	// naming llfio.Open's AlwaysNew rename-swap and RemoveAll's park step
	// use (a leading "." plus ".deleted"/".tmp" suffix). Meaningful on any
	// platform that lacks true POSIX unlink-while-open semantics; on POSIX
	// itself it is harmless since such names are rare outside this
	// package's own bookkeeping.
	FilterFastDeleted
)

// Buffers holds the result of one Read call and the reusable state behind
// it: a leafname byte buffer that is grown, never reallocated-per-call,
// exactly the "preserve the owned kernel buffer to save allocations"
// requirement (§4.F.1). Pass the same *Buffers back into ReadRequest.Buffers
// on the next call to reuse it, including across different directories.
type Buffers struct {
	entries  []llfio.DirectoryEntry
	names    pathview.Buffer
	metadata llfio.StatWant
	done     bool
}

// NewBuffers allocates a Buffers whose entry span holds up to capacity
// directory entries per Read call before Done() must be checked and Read
// called again.
func NewBuffers(capacity int) *Buffers {
	if capacity <= 0 {
		capacity = 256
	}
	return &Buffers{entries: make([]llfio.DirectoryEntry, 0, capacity)}
}

// Entries returns the filled prefix from the most recent Read call.
func (b *Buffers) Entries() []llfio.DirectoryEntry { return b.entries }

// Metadata reports which StatRecord fields were actually populated across
// Entries — the platform can fill more than was asked for "for free"
// (§4.F.1), but never less without the caller finding out.
func (b *Buffers) Metadata() llfio.StatWant { return b.metadata }

// Done reports whether the directory was exhausted by the most recent
// Read call, as opposed to merely filling the available entry capacity.
func (b *Buffers) Done() bool { return b.done }

// reset clears the entry span for a new Read call while keeping the
// underlying arrays (and their capacity) alive for reuse.
func (b *Buffers) reset() {
	b.entries = b.entries[:0]
	b.metadata = llfio.WantNone
	b.done = false
}

// allocateNames (re)sizes the shared leafname buffer to hold total bytes
// for this Read call and returns it for writing. It must be called exactly
// once per Read call, before any View is taken via nameView — pathview.Buffer
// bumps its generation (invalidating prior Views) on every Reset, so
// calling it per-name rather than once per batch would invalidate each
// name as soon as the next one was written.
func (b *Buffers) allocateNames(total int) []byte {
	return b.names.Reset(total)
}

// nameView returns a View over the [start,end) range of the buffer most
// recently sized by allocateNames.
func (b *Buffers) nameView(start, end int) pathview.View {
	return pathview.NewView(&b.names, start, end)
}
