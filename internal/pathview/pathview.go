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

// Package pathview implements the narrow borrow-into-kernel-buffer contract
// that spec.md treats as an external collaborator ("the lower-level
// path-view string handling"). It is deliberately not a general path
// library: a View only ever borrows from a Buffer, and is invalid once that
// Buffer is reused.
package pathview

import "strings"

// Buffer owns a reusable byte slice that directory enumeration fills with
// leaf names. Callers must not retain a View past the next Reset.
type Buffer struct {
	data []byte
	gen  uint64
}

// Reset grows data to at least n bytes and bumps the generation, which
// invalidates every View previously handed out from this Buffer.
func (b *Buffer) Reset(n int) []byte {
	if cap(b.data) < n {
		b.data = make([]byte, n)
	}
	b.data = b.data[:n]
	b.gen++
	return b.data
}

// View borrows a sub-range of a Buffer's current generation.
type View struct {
	buf   *Buffer
	gen   uint64
	start int
	end   int
}

// NewView returns a View over buf.data[start:end] tagged with buf's current
// generation.
func NewView(buf *Buffer, start, end int) View {
	return View{buf: buf, gen: buf.gen, start: start, end: end}
}

// Valid reports whether the Buffer has not been Reset since this View was
// created.
func (v View) Valid() bool {
	return v.buf != nil && v.buf.gen == v.gen
}

// String materializes the borrowed bytes into an owned string. Panics if
// the view has outlived its buffer's generation — callers that need to
// retain a name across a Reset must call String before the next Reset, not
// after.
func (v View) String() string {
	if !v.Valid() {
		panic("pathview: View used after its Buffer was reset")
	}
	return string(v.buf.data[v.start:v.end])
}

// Len returns the borrowed byte length without validating the generation,
// for callers that only need the size of a live view.
func (v View) Len() int { return v.end - v.start }

// globMeta is the set of fnmatch/NtQueryDirectoryFile wildcard characters
// recognized by the single-entry enumeration fast path (§4.F.1).
const globMeta = "*?["

// HasGlobMetachars reports whether pattern contains any fnmatch-style
// wildcard character. directory_handle.read takes the single-entry stat
// fast path when this is false, mirroring key_value_store's neighbor
// llfio::path_view::contains check in the original C++ source.
func HasGlobMetachars(pattern string) bool {
	return strings.ContainsAny(pattern, globMeta)
}

// Split divides a path into parent and leaf components, the way
// parent_path_handle (§4.C.1) needs to split current_path's result. Leaf
// never contains a separator; parent is empty for a bare leaf name.
func Split(path string) (parent, leaf string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	if i == 0 {
		return "/", path[1:]
	}
	return path[:i], path[i+1:]
}
