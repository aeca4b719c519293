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
	"sort"

	"github.com/afio/llfiogo/errs"
)

// maxTransactionItems bounds a transaction to 65,535 fetched keys (§4.H.4,
// §8: "A transaction committing 65,535 keys: succeeds. 65,536: fails
// transaction_limit_reached at the 65,536th fetch"), matching the 16-bit
// "keys updated" field packed into the global transaction counter.
const maxTransactionItems = 65535

type txnItem struct {
	key Key

	fetched         bool
	snapshotFound   bool
	snapshotCounter uint64

	hasNewValue bool
	newValue    []byte
	removed     bool
}

// Transaction accumulates fetches and pending updates before an atomic,
// optimistically-concurrent Commit (§4.H.4).
type Transaction struct {
	store *Store
	items map[Key]*txnItem
	order []Key
}

// Begin starts a new Transaction against s. On a Store opened without
// Writer: true, Fetch and Update work but Commit fails with
// permission_denied.
func (s *Store) Begin() *Transaction {
	return &Transaction{store: s, items: make(map[Key]*txnItem)}
}

// Fetch reads key's current value into the transaction, caching it so a
// later call with the same key in this Transaction returns the cached
// result instead of re-reading (§4.H.4 fetch).
func (t *Transaction) Fetch(key Key) (*ValueSnapshot, error) {
	if it, ok := t.items[key]; ok {
		return t.snapshotOf(it), nil
	}
	if len(t.items) >= maxTransactionItems {
		return nil, errs.New("kvstore.Fetch", errs.KindTransactionLimitReached, nil)
	}
	snap, err := t.store.Find(key, 0)
	if err != nil {
		return nil, err
	}
	it := &txnItem{key: key, fetched: true}
	if snap != nil {
		it.snapshotFound = true
		it.snapshotCounter = snap.TransactionCounter
	}
	t.items[key] = it
	t.order = append(t.order, key)
	return snap, nil
}

func (t *Transaction) snapshotOf(it *txnItem) *ValueSnapshot {
	if !it.snapshotFound {
		return nil
	}
	return &ValueSnapshot{Key: it.key, TransactionCounter: it.snapshotCounter}
}

// Update records a pending new value for key, which must have been Fetch'd
// earlier in this Transaction (§4.H.4 update).
func (t *Transaction) Update(key Key, value []byte) error {
	it, ok := t.items[key]
	if !ok || !it.fetched {
		return errs.New("kvstore.Update", errs.KindBadUpdate, nil)
	}
	it.hasNewValue = true
	it.removed = false
	it.newValue = value
	return nil
}

// Remove marks key for deletion — equivalent to Update with an empty
// sentinel (§4.H.4 remove).
func (t *Transaction) Remove(key Key) error {
	it, ok := t.items[key]
	if !ok || !it.fetched {
		return errs.New("kvstore.Remove", errs.KindBadUpdate, nil)
	}
	it.hasNewValue = true
	it.removed = true
	it.newValue = nil
	return nil
}

// Commit attempts to atomically apply every pending Update/Remove in this
// Transaction (§4.H.4 commit). On a stale-snapshot conflict it returns a
// transaction_aborted(key) error and leaves the store unchanged.
func (t *Transaction) Commit() error {
	s := t.store
	if s.writerID < 0 {
		return errs.New("kvstore.Commit", errs.KindPermissionDenied, nil)
	}

	// Step 1: sort by key to establish the global lock order (§4.H.4
	// step 1, deadlock prevention across writers).
	keys := make([]Key, len(t.order))
	copy(keys, t.order)
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Hi != b.Hi {
			return a.Hi < b.Hi
		}
		return a.Lo < b.Lo
	})

	var updated []*txnItem
	for _, k := range keys {
		if it := t.items[k]; it.hasNewValue {
			updated = append(updated, it)
		}
	}
	if len(updated) == 0 {
		return nil
	}

	// Steps 2 and 5 (collapsed, see bucket.go's acquireBucketLock doc):
	// resolve + lock every updated bucket in sorted order, verifying each
	// against what this transaction observed at Fetch time.
	bucketIdx := make([]int, len(updated))
	locked := make([]int, 0, len(updated))
	defer func() {
		for i := len(locked) - 1; i >= 0; i-- {
			releaseBucketLock(s.indexMap, s.bucketOffset(locked[i]))
		}
	}()
	for i, it := range updated {
		idx, existed, err := s.resolveAndLock(it.key)
		if err != nil {
			return err
		}
		if existed != it.snapshotFound {
			releaseBucketLock(s.indexMap, s.bucketOffset(idx))
			return errAborted(it.key)
		}
		if existed {
			cur := readHistoryAt(s.indexMap, s.bucketOffset(idx), 0)
			if cur.txnCounter != it.snapshotCounter {
				releaseBucketLock(s.indexMap, s.bucketOffset(idx))
				return errAborted(it.key)
			}
		}
		bucketIdx[i] = idx
		locked = append(locked, idx)
	}

	// Step 3: atomically bump the global transaction counter.
	newCounter := s.bumpGlobalCounter(uint16(len(updated)))

	// Step 4: append every updated value to this writer's log.
	pending := make([]historyEntry, len(updated))
	s.appendMu.Lock()
	for i, it := range updated {
		entry, err := s.appendValue(it.key, it.newValue, it.removed, newCounter)
		if err != nil {
			s.appendMu.Unlock()
			return err
		}
		pending[i] = entry
	}
	if s.opts.Durability == DurabilityFull {
		if err := s.syncWriter(); err != nil {
			s.appendMu.Unlock()
			return errs.New("kvstore.Commit", errs.KindUnknown, err)
		}
	}
	s.appendMu.Unlock()

	// Step 6: splice each updated bucket's history.
	for i, it := range updated {
		off := s.bucketOffset(bucketIdx[i])
		shiftHistory(s.indexMap, off)
		putHistoryAt(s.indexMap, off, 0, pending[i])
		_ = it
	}
	// Step 7: locks released by the deferred loop above.
	return nil
}
