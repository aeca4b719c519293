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

package kvstore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/afio/llfiogo"
	"github.com/afio/llfiogo/errs"
	"github.com/afio/llfiogo/kvstore"
)

func mkTempDir(t *testing.T) *llfio.Handle {
	t.Helper()
	dir, err := os.MkdirTemp("", "kvstore_test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	h, err := llfio.Open(nil, dir, llfio.KindDirectory, llfio.OpenExisting, llfio.CachingUnchanged, 0)
	if err != nil {
		t.Fatalf("Open(%s): %v", dir, err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func openStore(t *testing.T, root *llfio.Handle, name string, writer bool) *kvstore.Store {
	t.Helper()
	s, err := kvstore.Open(root, name, kvstore.Options{
		Buckets:    64,
		Writer:     writer,
		Durability: kvstore.DurabilityFast,
	})
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Scenario 1: a key is inserted, found, updated, found again, removed, and
// found as absent.
func TestInsertFindUpdateRemove(t *testing.T) {
	root := mkTempDir(t)
	s := openStore(t, root, "store", true)

	key78 := kvstore.KeyFromUint64(78)
	key79 := kvstore.KeyFromUint64(79)

	txn := s.Begin()
	if _, err := txn.Fetch(key78); err != nil {
		t.Fatalf("Fetch(78): %v", err)
	}
	if _, err := txn.Fetch(key79); err != nil {
		t.Fatalf("Fetch(79): %v", err)
	}
	if err := txn.Update(key78, []byte("hello")); err != nil {
		t.Fatalf("Update(78): %v", err)
	}
	if err := txn.Update(key79, []byte("world")); err != nil {
		t.Fatalf("Update(79): %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	snap, err := s.Find(key78, 0)
	if err != nil {
		t.Fatalf("Find(78): %v", err)
	}
	if snap == nil || string(snap.Value) != "hello" {
		t.Fatalf("Find(78) = %v, want %q", snap, "hello")
	}

	txn2 := s.Begin()
	prev, err := txn2.Fetch(key78)
	if err != nil || prev == nil {
		t.Fatalf("Fetch(78) after insert: %v, %v", prev, err)
	}
	if err := txn2.Update(key78, []byte("goodbye")); err != nil {
		t.Fatalf("Update(78) second time: %v", err)
	}
	if err := txn2.Commit(); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}

	snap, err = s.Find(key78, 0)
	if err != nil || snap == nil || string(snap.Value) != "goodbye" {
		t.Fatalf("Find(78) after update = %v, %v", snap, err)
	}
	// The prior revision is still reachable as history entry 1.
	snap, err = s.Find(key78, 1)
	if err != nil || snap == nil || string(snap.Value) != "hello" {
		t.Fatalf("Find(78, revision=1) = %v, %v, want %q", snap, err, "hello")
	}

	txn3 := s.Begin()
	if _, err := txn3.Fetch(key78); err != nil {
		t.Fatalf("Fetch(78) before remove: %v", err)
	}
	if err := txn3.Remove(key78); err != nil {
		t.Fatalf("Remove(78): %v", err)
	}
	if err := txn3.Commit(); err != nil {
		t.Fatalf("Commit 3: %v", err)
	}

	snap, err = s.Find(key78, 0)
	if err != nil {
		t.Fatalf("Find(78) after remove: %v", err)
	}
	if snap != nil {
		t.Fatalf("Find(78) after remove = %v, want nil", snap)
	}

	snap, err = s.Find(key79, 0)
	if err != nil || snap == nil || string(snap.Value) != "world" {
		t.Fatalf("Find(79) = %v, %v, want %q", snap, err, "world")
	}
}

// Scenario 5: a transaction that fetched a key, then sees a concurrent
// transaction commit a change to it before committing itself, aborts
// instead of clobbering the concurrent write.
func TestCommitAbortsOnStaleSnapshot(t *testing.T) {
	root := mkTempDir(t)
	s := openStore(t, root, "store", true)

	key := kvstore.KeyFromUint64(1)

	seed := s.Begin()
	if _, err := seed.Fetch(key); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if err := seed.Update(key, []byte("v1")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("seed Commit: %v", err)
	}

	stale := s.Begin()
	if _, err := stale.Fetch(key); err != nil {
		t.Fatalf("stale Fetch: %v", err)
	}

	racer := s.Begin()
	if _, err := racer.Fetch(key); err != nil {
		t.Fatalf("racer Fetch: %v", err)
	}
	if err := racer.Update(key, []byte("v2")); err != nil {
		t.Fatalf("racer Update: %v", err)
	}
	if err := racer.Commit(); err != nil {
		t.Fatalf("racer Commit: %v", err)
	}

	if err := stale.Update(key, []byte("v3")); err != nil {
		t.Fatalf("stale Update: %v", err)
	}
	err := stale.Commit()
	if err == nil {
		t.Fatalf("stale Commit succeeded, want transaction_aborted")
	}
	if !errs.Is(err, errs.KindTransactionAborted) {
		t.Fatalf("stale Commit err = %v, want KindTransactionAborted", err)
	}

	snap, err := s.Find(key, 0)
	if err != nil || snap == nil || string(snap.Value) != "v2" {
		t.Fatalf("Find after aborted commit = %v, %v, want %q", snap, err, "v2")
	}
}

// A transaction can fetch the maximum number of keys; fetching one more
// fails with transaction_limit_reached.
func TestTransactionItemLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("builds 65536 keys; skipped in -short")
	}
	root := mkTempDir(t)
	s := openStore(t, root, "store", true)

	txn := s.Begin()
	for i := 0; i < 65535; i++ {
		if _, err := txn.Fetch(kvstore.KeyFromUint64(uint64(i))); err != nil {
			t.Fatalf("Fetch(%d): %v", i, err)
		}
	}
	if _, err := txn.Fetch(kvstore.KeyFromUint64(65535)); err == nil {
		t.Fatalf("Fetch of 65536th key succeeded, want transaction_limit_reached")
	} else if !errs.Is(err, errs.KindTransactionLimitReached) {
		t.Fatalf("65536th Fetch err = %v, want KindTransactionLimitReached", err)
	}
}

// A reader-only Store (Writer: false) can Find but not Begin a committing
// Transaction.
func TestReaderOnlyStoreCannotCommit(t *testing.T) {
	root := mkTempDir(t)
	writer := openStore(t, root, "store", true)

	key := kvstore.KeyFromUint64(42)
	txn := writer.Begin()
	if _, err := txn.Fetch(key); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if err := txn.Update(key, []byte("payload")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reader, err := kvstore.Open(root, "store", kvstore.Options{Writer: false, Durability: kvstore.DurabilityFast})
	if err != nil {
		t.Fatalf("Open reader: %v", err)
	}
	defer reader.Close()

	snap, err := reader.Find(key, 0)
	if err != nil || snap == nil || string(snap.Value) != "payload" {
		t.Fatalf("reader Find = %v, %v, want %q", snap, err, "payload")
	}

	rtxn := reader.Begin()
	if _, err := rtxn.Fetch(key); err != nil {
		t.Fatalf("reader Fetch: %v", err)
	}
	if err := rtxn.Update(key, []byte("nope")); err != nil {
		t.Fatalf("reader Update: %v", err)
	}
	if err := rtxn.Commit(); err == nil {
		t.Fatalf("reader Commit succeeded, want permission_denied")
	} else if !errs.Is(err, errs.KindPermissionDenied) {
		t.Fatalf("reader Commit err = %v, want KindPermissionDenied", err)
	}
}

// Durability.integrity() detects a corrupted value by rejecting the read.
func TestIntegrityDurabilityCatchesHashMismatch(t *testing.T) {
	root := mkTempDir(t)
	s, err := kvstore.Open(root, "store", kvstore.Options{
		Buckets:    16,
		Writer:     true,
		Durability: kvstore.DurabilityIntegrity,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	key := kvstore.KeyFromUint64(7)
	txn := s.Begin()
	if _, err := txn.Fetch(key); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if err := txn.Update(key, []byte("integrity-checked")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	snap, err := s.Find(key, 0)
	if err != nil || snap == nil || string(snap.Value) != "integrity-checked" {
		t.Fatalf("Find = %v, %v", snap, err)
	}

	// The only record sits at offset 0 of writer 0's value log; overwrite
	// the value's first byte so its stored hash no longer matches.
	dir, err := root.CurrentPath()
	if err != nil {
		t.Fatalf("CurrentPath: %v", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "store", "0"), os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteAt([]byte{'X'}, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	f.Close()

	if _, err := s.Find(key, 0); !errs.Is(err, errs.KindCorruptedStore) {
		t.Fatalf("Find after corruption err = %v, want KindCorruptedStore", err)
	}
}
