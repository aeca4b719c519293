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
	"fmt"

	"github.com/afio/llfiogo/errs"
	"github.com/afio/llfiogo/internal/syscallshim"
)

// ValueSnapshot is the result of a successful Find: a value together with
// the transaction counter that produced it, which a later Transaction.Fetch
// uses to detect a stale read at commit time (§4.H.3 step 5).
type ValueSnapshot struct {
	Key                Key
	Value              []byte
	TransactionCounter uint64
}

// Find looks up key's value at the given revision (0 = newest, up to 3 —
// §3.7: "four history entries per key, entry 0 = newest"). It returns
// (nil, nil) if the key has never been written, if revision has no entry
// yet, or if the newest write at that revision was a Remove (§4.H.3,
// scenario 1: "find(78, revision=0) = None" after a remove).
func (s *Store) Find(key Key, revision int) (*ValueSnapshot, error) {
	if revision < 0 || revision >= historyPerKey {
		return nil, errs.New("kvstore.Find", errs.KindInvalidArgument, fmt.Errorf("revision out of range"))
	}
	idx, found := s.probe(key)
	if !found {
		return nil, nil
	}
	off := s.bucketOffset(idx)
	acquireBucketLock(s.indexMap, off)
	entry := readHistoryAt(s.indexMap, off, revision)
	releaseBucketLock(s.indexMap, off)

	if entry.empty() {
		return nil, nil
	}
	if entry.length == 0 {
		// Tombstone left by Remove.
		return nil, nil
	}

	value, tail, err := s.readValueRecord(entry)
	if err != nil {
		return nil, err
	}
	if tail.Key != key || tail.Length != entry.length || tail.TxnCounter != entry.txnCounter {
		return nil, errs.New("kvstore.Find", errs.KindCorruptedStore, fmt.Errorf("kvstore: value tail does not match history entry for key"))
	}
	if s.opts.Durability.integrity() {
		if hashValue(value) != tail.Hash {
			return nil, errs.New("kvstore.Find", errs.KindCorruptedStore, fmt.Errorf("kvstore: value hash mismatch"))
		}
	}
	return &ValueSnapshot{Key: key, Value: value, TransactionCounter: entry.txnCounter}, nil
}

// readValueRecord reads the value bytes and tail a history entry points
// at (§4.H.3 step 3: "Multiply value_offset_div_64 × 64 to locate the
// value tail; the record starts at that position minus the padded
// length").
func (s *Store) readValueRecord(entry historyEntry) ([]byte, valueTail, error) {
	fid := entry.valueFileID()
	if int(fid) >= maxValueLogs || s.valueLogs[fid] == nil {
		return nil, valueTail{}, errs.New("kvstore.Find", errs.KindCorruptedStore, fmt.Errorf("kvstore: value log %d not open", fid))
	}
	h := s.valueLogs[fid]

	tailStart := entry.valueOffsetDiv64() * 64
	tailBuf := make([]byte, valueTailSize)
	if _, err := syscallshim.Pread(h.Fd(), tailBuf, int64(tailStart)); err != nil {
		return nil, valueTail{}, errs.New("kvstore.Find", classify(err), err)
	}
	tail := decodeTail(tailBuf)

	recordStart := tailStart - roundUp64(tail.Length)
	value := make([]byte, tail.Length)
	if tail.Length > 0 {
		if _, err := syscallshim.Pread(h.Fd(), value, int64(recordStart)); err != nil {
			return nil, valueTail{}, errs.New("kvstore.Find", classify(err), err)
		}
	}
	return value, tail, nil
}
