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

import "github.com/afio/llfiogo/internal/syscallshim"

// platformExtents issues FSCTL_QUERY_ALLOCATED_RANGES, growing the output
// buffer on "more data" inside the shim (§4.D.2).
func platformExtents(h *Handle) ([]ExtentPair, error) {
	size, err := h.MaximumExtent()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	raw, err := syscallshim.QueryAllocatedRanges(h.native, 0, int64(size))
	if err != nil {
		return nil, err
	}
	result := make([]ExtentPair, len(raw))
	for i, r := range raw {
		result[i] = ExtentPair{Offset: r.Offset, Length: r.Length}
	}
	return result, nil
}
