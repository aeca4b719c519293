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

package fsutil_test

import (
	"testing"

	"github.com/afio/llfiogo/fsutil"
)

func TestTempDirCachesAcrossCalls(t *testing.T) {
	fsutil.Invalidate()
	first, err := fsutil.TempDir()
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	if first == "" {
		t.Fatalf("TempDir returned empty string")
	}
	second, err := fsutil.TempDir()
	if err != nil {
		t.Fatalf("TempDir (cached): %v", err)
	}
	if second != first {
		t.Fatalf("TempDir = %q, want cached %q", second, first)
	}
}

func TestInvalidateForcesRediscovery(t *testing.T) {
	first, err := fsutil.TempDir()
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	fsutil.Invalidate()
	second, err := fsutil.TempDir()
	if err != nil {
		t.Fatalf("TempDir after Invalidate: %v", err)
	}
	if second != first {
		t.Fatalf("TempDir after Invalidate = %q, want %q (same platform default)", second, first)
	}
}

func TestSplit(t *testing.T) {
	cases := []struct {
		path   string
		parent string
		leaf   string
	}{
		{"foo", "", "foo"},
		{"/foo", "/", "foo"},
		{"a/b/c", "a/b", "c"},
		{"/a/b", "/a", "b"},
	}
	for _, c := range cases {
		parent, leaf := fsutil.Split(c.path)
		if parent != c.parent || leaf != c.leaf {
			t.Errorf("Split(%q) = (%q, %q), want (%q, %q)", c.path, parent, leaf, c.parent, c.leaf)
		}
	}
}
