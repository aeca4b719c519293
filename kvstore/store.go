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
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/afio/llfiogo"
	"github.com/afio/llfiogo/errs"
	"github.com/afio/llfiogo/internal/syscallshim"
)

// Durability selects one of the four configurations in §4.H.5.
type Durability int

const (
	// DurabilityFast: no integrity, no durability, read+append. Fastest;
	// survives a clean close only.
	DurabilityFast Durability = iota
	// DurabilityIntegrity: value tails are hashed, but the index may lag
	// on crash.
	DurabilityIntegrity
	// DurabilityMmapOnly: no integrity, no durability. Find reads the
	// value log with pread as in the other modes and returns a copy of
	// the value, not a view into a mapping of the value log.
	DurabilityMmapOnly
	// DurabilityFull: integrity hashing plus all_writes_synced durability.
	// Open rebuilds the index from the value logs when the index magic
	// reads DEADKV01; no code in this package writes that magic, so a
	// crash does not by itself lead to a rebuild.
	DurabilityFull
)

func (d Durability) integrity() bool {
	return d == DurabilityIntegrity || d == DurabilityFull
}

// indexCachingMode and valueLogCachingMode implement the §4.H.5 table.
func (d Durability) valueLogCachingMode() llfio.CachingMode {
	if d == DurabilityFull {
		return llfio.CachingReads
	}
	return llfio.CachingTemporary
}

func (d Durability) indexCachingMode() llfio.CachingMode {
	if d == DurabilityFull {
		return llfio.CachingReads
	}
	return llfio.CachingTemporary
}

// Options configures Open.
type Options struct {
	// Buckets sizes the hash table when creating a fresh store. Ignored
	// when opening an existing one (the on-disk bucket count wins).
	Buckets uint32
	// Writer requests a writer slot (one of the 48 value log files). A
	// reader-only Store can Find but not Begin a committing Transaction.
	Writer bool
	Durability Durability
	Logger     llfio.Logger
}

// Store is an open key-value store: a memory-mapped index file plus the
// value log files currently visible to this process (§4.H.1).
type Store struct {
	opts Options
	root *llfio.Handle

	index    *llfio.Handle
	indexMap []byte
	buckets  int

	valueLogs  [maxValueLogs]*llfio.Handle // nil where unopened
	writerID   int                         // -1 if this Store is reader-only
	writeCursor int64

	allocMu  sync.Mutex // serializes bucket-slot reservation (§9 simplification, see DESIGN.md)
	appendMu sync.Mutex // serializes this process's appends to its own value log

	logger llfio.Logger
}

// Open opens (or creates) a store rooted at dir/name, a directory
// (§4.H.1: "Root directory contains: one index file, and N numerically
// named value log files").
func Open(dir *llfio.Handle, name string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = llfio.Logger(nopLoggerInstance{})
	}

	root, err := openOrCreateDir(dir, name)
	if err != nil {
		return nil, errs.New("kvstore.Open", classify(err), err)
	}

	s := &Store{opts: opts, root: root, writerID: -1, logger: opts.Logger}
	if err := s.openIndex(opts); err != nil {
		root.Close()
		return nil, err
	}
	if opts.Writer {
		if err := s.claimWriter(opts); err != nil {
			s.Close()
			return nil, err
		}
	}
	if err := s.openReadOnlyValueLogs(opts); err != nil {
		s.Close()
		return nil, err
	}

	if s.header().magic == magicDead {
		if err := s.recover(); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close unmaps the index and releases every handle this Store opened.
func (s *Store) Close() error {
	var firstErr error
	if s.indexMap != nil {
		if err := syscallshim.Munmap(s.indexMap); err != nil && firstErr == nil {
			firstErr = err
		}
		s.indexMap = nil
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, h := range s.valueLogs {
		if h != nil {
			if err := h.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if s.root != nil {
		if err := s.root.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return errs.New("kvstore.Close", errs.KindUnknown, firstErr)
	}
	return nil
}

type decodedHeader struct {
	magic             [8]byte
	transactionCounter uint64
	writeInterrupted  bool
	allWritesSynced   bool
}

func (s *Store) header() decodedHeader {
	var h decodedHeader
	copy(h.magic[:], s.indexMap[0:8])
	h.transactionCounter = leUint64(s.indexMap[8:16])
	h.writeInterrupted = s.indexMap[16] != 0
	h.allWritesSynced = s.indexMap[17] != 0
	return h
}

func (s *Store) setWriteInterrupted(v bool) {
	if v {
		s.indexMap[16] = 1
	} else {
		s.indexMap[16] = 0
	}
}

func (s *Store) setAllWritesSynced(v bool) {
	if v {
		s.indexMap[17] = 1
	} else {
		s.indexMap[17] = 0
	}
}

func (s *Store) setMagic(m [8]byte) { copy(s.indexMap[0:8], m[:]) }

func (s *Store) openIndex(opts Options) error {
	index, err := llfio.Open(s.root, "index", llfio.KindFile, llfio.IfNeeded, opts.Durability.indexCachingMode(), 0)
	if err != nil {
		return errs.New("kvstore.Open", classify(err), err)
	}
	s.index = index

	size, err := index.MaximumExtent()
	if err != nil {
		return errs.New("kvstore.Open", classify(err), err)
	}
	if size == 0 {
		if opts.Buckets == 0 {
			return errs.New("kvstore.Open", errs.KindInvalidArgument, fmt.Errorf("kvstore: Buckets required to create a fresh store"))
		}
		if err := s.initializeFreshIndex(opts.Buckets); err != nil {
			return err
		}
		size, err = index.MaximumExtent()
		if err != nil {
			return errs.New("kvstore.Open", classify(err), err)
		}
	}

	s.buckets = int((size - headerSize) / bucketSize)
	m, err := syscallshim.Mmap(index.Fd(), int(size), true)
	if err != nil {
		return errs.New("kvstore.Open", classify(err), err)
	}
	s.indexMap = m

	if s.header().magic != magicGood && s.header().magic != magicDead {
		return errs.New("kvstore.Open", errs.KindUnknownStore, fmt.Errorf("kvstore: unrecognized index magic"))
	}
	return nil
}

// initializeFreshIndex implements the first-writer protocol of §4.H.2:
// grab an exclusive lock on the index's reserved claim offset, size the
// file if another racing opener hasn't already done so, write the magic,
// release the lock.
func (s *Store) initializeFreshIndex(buckets uint32) error {
	guard, err := tryClaimLock(s.index, 2*time.Second)
	if err != nil {
		return errs.New("kvstore.Open", errs.KindTimedOut, err)
	}
	defer guard.Release()

	size, err := s.index.MaximumExtent()
	if err != nil {
		return errs.New("kvstore.Open", classify(err), err)
	}
	if size != 0 {
		// Lost the race to another opener that already sized the file.
		return nil
	}

	pageSize := uint64(os.Getpagesize())
	want := headerSize + uint64(buckets)*bucketSize
	rounded := ((want + pageSize - 1) / pageSize) * pageSize
	if err := s.index.Truncate(rounded); err != nil {
		return errs.New("kvstore.Open", classify(err), err)
	}
	header := make([]byte, headerSize)
	copy(header[0:8], magicGood[:])
	if _, err := syscallshim.Pwrite(s.index.Fd(), header, 0); err != nil {
		return errs.New("kvstore.Open", classify(err), err)
	}
	return nil
}

// claimWriter implements §4.H.2's "subsequent writers" protocol: try every
// value log index 0..47 in turn until one is claimed with an exclusive
// whole-file lock.
func (s *Store) claimWriter(opts Options) error {
	for id := 0; id < maxValueLogs; id++ {
		name := strconv.Itoa(id)
		h, err := llfio.Open(s.root, name, llfio.KindFile, llfio.IfNeeded, opts.Durability.valueLogCachingMode(), 0)
		if err != nil {
			continue
		}
		guard, err := h.LockRange(^uint64(0), 1, llfio.LockExclusive, llfio.Now())
		if err != nil {
			h.Close()
			continue
		}
		_ = guard // held for the Store's lifetime; released on Close via h.Close()
		size, err := h.MaximumExtent()
		if err != nil {
			h.Close()
			return errs.New("kvstore.Open", classify(err), err)
		}
		s.valueLogs[id] = h
		s.writerID = id
		s.writeCursor = int64(size)
		s.setWriteInterrupted(false)
		s.setAllWritesSynced(opts.Durability == DurabilityFull)
		return nil
	}
	return errs.New("kvstore.Open", errs.KindMaximumWritersReached, nil)
}

// openReadOnlyValueLogs opens every value log file that already exists
// (other than the one this process just claimed as a writer) read-only,
// per §4.H.2 ("Readers open all existing value log files read-only").
func (s *Store) openReadOnlyValueLogs(opts Options) error {
	for id := 0; id < maxValueLogs; id++ {
		if s.valueLogs[id] != nil {
			continue
		}
		h, err := llfio.Open(s.root, strconv.Itoa(id), llfio.KindFile, llfio.OpenExisting, opts.Durability.valueLogCachingMode(), 0)
		if err != nil {
			continue
		}
		s.valueLogs[id] = h
	}
	return nil
}

// tryClaimLock polls for the exclusive claim lock on offset u64::MAX via
// repeated non-blocking attempts, the same backoff shape LockRange itself
// uses internally, since two first-writers racing to size a brand-new
// index file only ever contend for a few milliseconds.
func tryClaimLock(h *llfio.Handle, timeout time.Duration) (*llfio.RangeLockGuard, error) {
	deadline := time.Now().Add(timeout)
	backoff := time.Millisecond
	for {
		guard, err := h.LockRange(^uint64(0), 1, llfio.LockExclusive, llfio.Now())
		if err == nil {
			return guard, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(backoff)
		if backoff < 50*time.Millisecond {
			backoff *= 2
		}
	}
}

// openOrCreateDir opens dir/name as a directory, creating it first if
// missing. open(2) with O_CREAT|O_DIRECTORY cannot create a directory (it
// can only create a regular file, which then fails the O_DIRECTORY check),
// so a missing root requires a separate mkdirat before the retry — the same
// two-step openAlwaysNewDirectory already uses for its scratch directory.
func openOrCreateDir(dir *llfio.Handle, name string) (*llfio.Handle, error) {
	h, err := llfio.Open(dir, name, llfio.KindDirectory, llfio.OpenExisting, llfio.CachingUnchanged, 0)
	if err == nil {
		return h, nil
	}
	if classify(err) != errs.KindNotFound {
		return nil, err
	}
	dirfd := syscallshim.Handle(^uintptr(0))
	if dir != nil {
		dirfd = dir.Fd()
	}
	if mkErr := syscallshim.Mkdirat(dirfd, name, 0o777); mkErr != nil && classify(mkErr) != errs.KindAlreadyExists {
		return nil, mkErr
	}
	return llfio.Open(dir, name, llfio.KindDirectory, llfio.OpenExisting, llfio.CachingUnchanged, 0)
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func classify(err error) errs.Kind {
	if err == nil {
		return errs.KindUnknown
	}
	if e, ok := err.(*errs.Error); ok {
		return e.Kind
	}
	if name, ok := syscallshim.ClassifyErrno(err); ok {
		switch name {
		case "not_found":
			return errs.KindNotFound
		case "already_exists":
			return errs.KindAlreadyExists
		case "permission_denied":
			return errs.KindPermissionDenied
		case "timed_out":
			return errs.KindTimedOut
		case "resource_unavailable_try_again":
			return errs.KindResourceUnavailableTryAgain
		case "invalid_argument":
			return errs.KindInvalidArgument
		}
	}
	return errs.KindUnknown
}

type nopLoggerInstance struct{}

func (nopLoggerInstance) Debugf(string, ...interface{}) {}
func (nopLoggerInstance) Warnf(string, ...interface{})  {}
