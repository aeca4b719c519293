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
	"sort"

	"github.com/afio/llfiogo"
	"github.com/afio/llfiogo/errs"
	"github.com/afio/llfiogo/internal/syscallshim"
)

type recoveredRecord struct {
	key   Key
	entry historyEntry
}

// recover rebuilds the hash index from the value logs when the header's
// magic reads DEADKV01 (§4.H.6). Every value log record ends with its
// 64-byte-aligned tail, so the log is walked from EOF backwards: the
// tail's Length field tells recover where the record (and therefore the
// previous record's end) begins, with no separate index into the log
// needed.
//
// Known simplification: §4.H.6 permits truncating the scan to each log's
// single newest record when all_writes_synced was never false since
// creation. This implementation always performs the full backward walk
// instead — strictly more work, but equally correct, and avoids a second
// recovery code path that would shadow this one.
func (s *Store) recover() error {
	byKey := make(map[Key][]historyEntry)
	for fid, h := range s.valueLogs {
		if h == nil {
			continue
		}
		recs, err := walkValueLogBackward(h, uint8(fid))
		if err != nil {
			return errs.New("kvstore.recover", errs.KindCorruptedStore, err)
		}
		for _, r := range recs {
			byKey[r.key] = append(byKey[r.key], r.entry)
		}
	}

	for key, entries := range byKey {
		sort.Slice(entries, func(i, j int) bool { return txnSequence(entries[i].txnCounter) > txnSequence(entries[j].txnCounter) })
		if len(entries) > historyPerKey {
			entries = entries[:historyPerKey]
		}
		idx, _, err := s.resolveAndLock(key)
		if err != nil {
			return err
		}
		off := s.bucketOffset(idx)
		for slot := 0; slot < historyPerKey; slot++ {
			var e historyEntry
			if slot < len(entries) {
				e = entries[slot]
			}
			putHistoryAt(s.indexMap, off, slot, e)
		}
		releaseBucketLock(s.indexMap, off)
	}

	s.setMagic(magicGood)
	s.setWriteInterrupted(false)
	return nil
}

// walkValueLogBackward reads every record in h from its tail backwards,
// newest-append-last (§4.H.6).
func walkValueLogBackward(h *llfio.Handle, fileID uint8) ([]recoveredRecord, error) {
	size, err := h.MaximumExtent()
	if err != nil {
		return nil, err
	}
	var out []recoveredRecord
	cursor := int64(size)
	for cursor > 0 {
		if cursor < 64 {
			return nil, fmt.Errorf("kvstore: value log truncated mid-record at offset %d", cursor)
		}
		tailBuf := make([]byte, valueTailSize)
		if _, err := syscallshim.Pread(h.Fd(), tailBuf, cursor-64); err != nil {
			return nil, err
		}
		tail := decodeTail(tailBuf)
		paddedValueLen := roundUp64(tail.Length)
		recordLen := int64(paddedValueLen + 64)
		if recordLen > cursor {
			return nil, fmt.Errorf("kvstore: value log record length %d exceeds remaining offset %d", recordLen, cursor)
		}
		tailStart := uint64(cursor - 64)
		out = append(out, recoveredRecord{
			key: tail.Key,
			entry: historyEntry{
				txnCounter: tail.TxnCounter,
				packed:     packOffsetFileID(tailStart/64, fileID),
				length:     tail.Length,
			},
		})
		cursor -= recordLen
	}
	return out, nil
}
