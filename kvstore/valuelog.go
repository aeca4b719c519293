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
	"github.com/afio/llfiogo/errs"
	"github.com/afio/llfiogo/internal/syscallshim"
	"github.com/cespare/xxhash/v2"
)

// hashValue computes the 128-bit integrity hash stored in a value tail's
// Hash field when Durability.integrity() is set (§3.7, §4.H.4 step 4).
// xxhash only produces 64 bits per call; the high half is derived from a
// second pass salted with the low half, which is enough to make an
// accidental collision between two different payloads astronomically
// unlikely without pulling in a dedicated 128-bit hash library — no
// teacher or pack dependency offers one, and cespare/xxhash/v2 (vendored
// by gcsfuse, one of the pack's own repos) is already the fastest
// general-purpose option on offer.
func hashValue(value []byte) Key {
	lo := xxhash.Sum64(value)
	d := xxhash.New()
	d.Write(value)
	var loBytes [8]byte
	for i := 0; i < 8; i++ {
		loBytes[i] = byte(lo >> (8 * i))
	}
	d.Write(loBytes[:])
	hi := d.Sum64()
	return Key{Lo: lo, Hi: hi}
}

// appendValue writes one value log record — [value][pad][tail] with the
// tail landing on a 64-byte boundary (§3.7, §6.3) — to this Store's
// claimed writer file, and returns the history entry pointing at it.
// Callers must hold appendMu.
func (s *Store) appendValue(key Key, value []byte, removed bool, txnCounter uint64) (historyEntry, error) {
	if s.writerID < 0 {
		return historyEntry{}, errs.New("kvstore.commit", errs.KindPermissionDenied, nil)
	}
	if removed {
		value = nil
	}
	length := uint64(len(value))
	paddedValueLen := roundUp64(length)
	recordLen := paddedValueLen + 64 // tail (48B) + trailing pad (16B) rounds to 64

	buf := make([]byte, recordLen)
	copy(buf, value)
	var hash Key
	if s.opts.Durability.integrity() {
		hash = hashValue(value)
	}
	tail := valueTail{Hash: hash, Key: key, TxnCounter: txnCounter, Length: length}
	encodeTail(buf[paddedValueLen:paddedValueLen+valueTailSize], tail)

	h := s.valueLogs[s.writerID]
	offset := s.writeCursor
	if _, err := syscallshim.Pwrite(h.Fd(), buf, offset); err != nil {
		return historyEntry{}, errs.New("kvstore.commit", classify(err), err)
	}
	s.writeCursor = offset + int64(recordLen)

	tailStart := uint64(offset) + paddedValueLen
	return historyEntry{
		txnCounter: txnCounter,
		packed:     packOffsetFileID(tailStart/64, uint8(s.writerID)),
		length:     length,
	}, nil
}

// syncWriter flushes this writer's value log and the index to durable
// storage, used by DurabilityFull commits to uphold all_writes_synced
// (§4.H.2, §4.H.5).
func (s *Store) syncWriter() error {
	if s.writerID < 0 {
		return nil
	}
	if err := syscallshim.Fsync(s.valueLogs[s.writerID].Fd()); err != nil {
		return err
	}
	return syscallshim.Fsync(s.index.Fd())
}
