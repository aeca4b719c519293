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

package kvstore

import (
	"sync/atomic"
	"unsafe"
)

func (s *Store) counterPtr() *uint64 {
	return (*uint64)(unsafe.Pointer(&s.indexMap[8]))
}

// bumpGlobalCounter atomically advances the index header's transaction
// counter (§4.H.4 step 3): the low 48 bits increment (wrapping is
// permitted), the high 16 bits become keysUpdated. A compare-exchange
// loop races this Store's commits against any other writer's concurrent
// commits on the same mapping.
func (s *Store) bumpGlobalCounter(keysUpdated uint16) uint64 {
	ptr := s.counterPtr()
	for {
		old := atomic.LoadUint64(ptr)
		next := packTxnCounter(txnSequence(old)+1, keysUpdated)
		if atomic.CompareAndSwapUint64(ptr, old, next) {
			return next
		}
	}
}
