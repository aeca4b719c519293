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

package fsutil

import "strings"

// Split divides path into a parent and a leaf component. Leaf never
// contains a separator; parent is empty for a bare leaf name, and "/" for a
// leaf directly under the root. This is the same split llfio's own
// internal/pathview package performs for parent_path_handle (§4.C.1), kept
// here too as an exported helper for callers outside the llfio package that
// just need to split a path string without borrowing llfio's enumeration
// buffers.
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
