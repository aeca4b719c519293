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

import (
	"os"
	"sync"
)

// tempDirCache guards the process-wide temporary-directory discovery cache
// (§5: "A process-wide mutex guards the temporary-directory discovery
// cache..."). The actual discovery heuristic is out of scope (§1 Non-goals:
// "path-discovery heuristics for temporary directories (contract only)") —
// TempDir exists so callers elsewhere in this module have one place to ask,
// not to replicate the full TMPDIR/TEMP/TMP platform search chain.
var tempDirCache struct {
	sync.Mutex
	dir   string
	valid bool
}

// TempDir returns a directory suitable for scratch files, caching the
// result across calls until Invalidate is called. The discovery itself
// defers to os.TempDir (TMPDIR on POSIX, GetTempPath on Windows); this
// function's only contribution is the process-wide cache the spec
// describes, since a richer search is explicitly out of scope here.
func TempDir() (string, error) {
	tempDirCache.Lock()
	defer tempDirCache.Unlock()
	if tempDirCache.valid {
		return tempDirCache.dir, nil
	}
	dir := os.TempDir()
	if _, err := os.Stat(dir); err != nil {
		return "", err
	}
	tempDirCache.dir = dir
	tempDirCache.valid = true
	return dir, nil
}

// Invalidate clears the cached temporary-directory result, forcing the next
// TempDir call to re-stat the discovered path. Tests that change TMPDIR (or
// callers reacting to a deleted scratch directory) should call this before
// the next TempDir.
func Invalidate() {
	tempDirCache.Lock()
	defer tempDirCache.Unlock()
	tempDirCache.valid = false
}
