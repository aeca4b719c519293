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

package dirwalk

import (
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/afio/llfiogo"
	"github.com/afio/llfiogo/internal/pathview"
	"github.com/afio/llfiogo/internal/syscallshim"
	"github.com/afio/llfiogo/threadpool"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// config collects RemoveAll's options (§4.F.2).
type config struct {
	threads      int
	callback     Callback
	emfileBudget int64
	deadline     llfio.Deadline
}

// Option configures RemoveAll.
type Option func(*config)

// WithThreads overrides the worker count. Zero (the default) picks half the
// detected hardware concurrency, with a floor of 4 (§4.F.2 step 5).
func WithThreads(n int) Option { return func(c *config) { c.threads = n } }

// WithCallback overrides the progress callback. The default is a
// DefaultCallback with its standard 10s unremoveable timeout.
func WithCallback(cb Callback) Option { return func(c *config) { c.callback = cb } }

// WithEMFILEBudget caps how many directory descriptors RemoveAll holds open
// concurrently, avoiding EMFILE exhaustion on trees with a wide fan-out
// (§4.F.2 Design Note, SPEC wiring of golang.org/x/sync/semaphore).
func WithEMFILEBudget(n int64) Option { return func(c *config) { c.emfileBudget = n } }

// WithDeadline bounds the whole operation, including the initial rename and
// the final parent-path lookups it performs.
func WithDeadline(d llfio.Deadline) Option { return func(c *config) { c.deadline = d } }

// dirTask is one directory's removal work: enumerate its entries, unlink
// what can be unlinked, enqueue subdirectories as further tasks, and once
// every descendant has finished, remove the directory itself.
type dirTask struct {
	handle *llfio.Handle
	name   string // leaf name within parent.handle
	parent *dirTask

	// pendingChildren starts at 1 (representing this task's own
	// enumeration work) and gets one more added per subdirectory
	// discovered. Each completion — this task's own enumeration, or a
	// child task finishing all the way down — decrements it. Reaching
	// zero means every descendant is gone and this directory itself can
	// be removed.
	pendingChildren int32

	// notRemovedSentinel is non-zero once any entry directly inside this
	// directory (or, once set by a child, the child itself) could not be
	// removed — it gates whether finishOne even attempts to unlink the
	// directory once pendingChildren reaches zero.
	notRemovedSentinel int32

	// ownsFD is true for tasks whose handle was opened through openChild
	// (and therefore counted against the EMFILE budget) — the root task
	// and the synthetic parent-of-root task borrow handles the caller
	// already owns, and must not release a permit they never acquired.
	ownsFD bool
}

// removalState is the bookkeeping shared by every dirTask in one RemoveAll
// call.
type removalState struct {
	callback Callback
	emfile   *semaphore.Weighted
	deadline llfio.Deadline
	root     *llfio.Handle

	removed    uint64
	notRemoved uint64

	errOnce  sync.Once
	firstErr error
}

func (st *removalState) fail(err error) {
	st.errOnce.Do(func() { st.firstErr = err })
}

func (st *removalState) fire(ev Event) {
	if err := st.callback(ev); err != nil {
		st.fail(err)
	}
}

// acquireFD blocks (with jittered backoff) until a descriptor slot is free,
// per the EMFILE back-off design in SPEC_FULL §5.
func (st *removalState) acquireFD() {
	for !st.emfile.TryAcquire(1) {
		time.Sleep(time.Duration(1+rand.Intn(5)) * time.Millisecond)
	}
}

func (st *removalState) releaseFD() { st.emfile.Release(1) }

// RemoveAll deletes every entry beneath dirh and, finally, dirh itself
// (§4.F.2). dirh is renamed to a randomly-generated sibling name first so
// concurrent openers resolving the original path race against removal
// rather than silently reusing a handle to a tree mid-deletion. When dirh
// itself is removed, RemoveAll closes it. Otherwise dirh is left open (at
// its possibly new location) for the caller to inspect or retry; that
// includes a nil return with entries left behind, which the
// ReasonFinished event's NotRemoved total reports.
func RemoveAll(dirh *llfio.Handle, opts ...Option) error {
	cfg := config{emfileBudget: 4096}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.callback == nil {
		cfg.callback = (&DefaultCallback{}).Func()
	}
	threads := cfg.threads
	if threads <= 0 {
		threads = runtime.NumCPU() / 2
		if threads < 4 {
			threads = 4
		}
	}

	randomName := "." + uuid.NewString() + ".removing"
	baseRenamed := dirh.Relink(nil, randomName, true, cfg.deadline) == nil

	rootParent, err := dirh.ParentPathHandle(cfg.deadline)
	var rootLeaf string
	if err == nil {
		if baseRenamed {
			rootLeaf = randomName
		} else if path, perr := dirh.CurrentPath(); perr == nil {
			_, rootLeaf = pathview.Split(path)
		}
	}

	st := &removalState{
		callback: cfg.callback,
		emfile:   semaphore.NewWeighted(cfg.emfileBudget),
		deadline: cfg.deadline,
		root:     dirh,
	}
	st.fire(Event{Reason: ReasonBeginEnumeration, BaseRenamed: baseRenamed})

	pool := threadpool.New(threads)
	group := pool.NewGroup()

	rootParentTask := &dirTask{handle: rootParent}
	rootTask := &dirTask{handle: dirh, name: rootLeaf, parent: rootParentTask, pendingChildren: 1}

	st.submit(group, rootTask)
	groupErr := group.Wait()
	pool.Close()
	if groupErr != nil {
		st.fail(groupErr)
	}

	notRemoved := atomic.LoadUint64(&st.notRemoved)
	removed := atomic.LoadUint64(&st.removed)
	st.fire(Event{Reason: ReasonEndEnumeration, NotRemoved: notRemoved, Removed: removed})

	if st.firstErr == nil && notRemoved > 0 {
		st.sequentialFallback(dirh, rootParent)
	}

	if rootParent != nil {
		rootParent.Close()
	}

	finalNotRemoved := atomic.LoadUint64(&st.notRemoved)
	finalRemoved := atomic.LoadUint64(&st.removed)
	st.fire(Event{Reason: ReasonFinished, NotRemoved: finalNotRemoved, Removed: finalRemoved})

	return st.firstErr
}

// submit enqueues task as a WorkItem on group. Called both for the root
// directory and for every subdirectory discovered during enumeration —
// subdirectories are submitted to the very same group, so the pool's own
// worker scaling (not a second hand-rolled priority queue) provides the
// concurrency across levels. Because a parent directory starts enumerating,
// and therefore starts submitting its children, strictly before any of its
// own descendants exist, submission order alone already biases work towards
// completing outer levels first — the forward-progress guarantee §4.F.2.3
// asks for — without needing to duplicate threadpool's nesting-level queue
// inverted.
func (st *removalState) submit(group *threadpool.Group, task *dirTask) {
	group.Submit(&dirWorkItem{state: st, group: group, task: task})
}

// dirWorkItem adapts one dirTask into threadpool.WorkItem: a single
// Execute call processes the whole directory, then the item retires.
type dirWorkItem struct {
	state *removalState
	group *threadpool.Group
	task  *dirTask
	ran   bool
}

func (w *dirWorkItem) Next() (int64, time.Time) {
	if w.ran {
		return -1, time.Time{}
	}
	return 1, time.Time{}
}

func (w *dirWorkItem) Execute(int64) error {
	w.ran = true
	w.state.processDirectory(w.group, w.task)
	return nil
}

func (w *dirWorkItem) Complete(error) {}

// processDirectory enumerates task's directory, removing what it can,
// parking what it can't, and submitting subdirectories as new tasks
// (§4.F.2 step 2).
func (st *removalState) processDirectory(group *threadpool.Group, task *dirTask) {
	var removed, notRemoved uint64
	var bufs *Buffers
	for {
		var err error
		bufs, err = Read(task.handle, ReadRequest{Buffers: bufs, Want: llfio.WantNone})
		if err != nil {
			st.fail(err)
			break
		}
		for _, e := range bufs.Entries() {
			name := e.Leafname.String()
			if e.Stat.Kind == llfio.KindDirectory {
				st.openChild(group, task, name)
				continue
			}
			if err := syscallshim.Unlink(task.handle.Fd(), name, false); err == nil {
				removed++
				continue
			}
			if st.park(task.handle, name) {
				notRemoved++
			} else {
				st.fire(Event{Reason: ReasonUnremoveable, DirPath: dirPathOf(task), Leaf: name})
				notRemoved++
			}
		}
		if bufs.Done() {
			break
		}
	}

	atomic.AddUint64(&st.removed, removed)
	atomic.AddUint64(&st.notRemoved, notRemoved)
	st.fire(Event{Reason: ReasonProgressEnumeration, NotRemoved: notRemoved, Removed: removed})

	if notRemoved > 0 {
		atomic.AddInt32(&task.notRemovedSentinel, 1)
	}
	st.finishOne(task)
}

// openChild opens name (a subdirectory of task) and submits it as a further
// task one recursion level deeper, or parks it if it cannot be opened
// (§4.F.2 step 2b/2c).
func (st *removalState) openChild(group *threadpool.Group, task *dirTask, name string) {
	st.acquireFD()
	child, err := llfio.Open(task.handle, name, llfio.KindDirectory, llfio.OpenExisting, llfio.CachingUnchanged, 0)
	if err != nil {
		st.releaseFD()
		if st.park(task.handle, name) {
			atomic.AddUint64(&st.notRemoved, 1)
			atomic.AddInt32(&task.notRemovedSentinel, 1)
		} else {
			st.fire(Event{Reason: ReasonUnremoveable, DirPath: dirPathOf(task), Leaf: name})
			atomic.AddUint64(&st.notRemoved, 1)
			atomic.AddInt32(&task.notRemovedSentinel, 1)
		}
		return
	}
	atomic.AddInt32(&task.pendingChildren, 1)
	childTask := &dirTask{handle: child, name: name, parent: task, pendingChildren: 1, ownsFD: true}
	st.submit(group, childTask)
}

// park renames name, which could not be removed directly, out of from and
// into the root directory under a random name, mirroring the original
// library's "dump unremoveable survivors at the root for later sweep"
// design (§4.F.2 step 2c) — this keeps a failure deep in the tree from
// blocking that subtree's ancestors from becoming empty and being removed
// in turn.
func (st *removalState) park(from *llfio.Handle, name string) bool {
	newName := "." + uuid.NewString() + ".deleted"
	err := syscallshim.Rename(from.Fd(), name, st.root.Fd(), newName, syscallshim.RenameNoReplace)
	if err != nil {
		return false
	}
	return true
}

// finishOne decrements task's own pending-work bias and, if that and every
// submitted child have now completed, attempts to remove task's directory
// and recurses the same bookkeeping up to its parent (§4.F.2 step 2, the
// "finally the directory itself" half of the contract).
func (st *removalState) finishOne(task *dirTask) {
	if atomic.AddInt32(&task.pendingChildren, -1) != 0 {
		return
	}
	if task.parent == nil {
		return
	}
	if atomic.LoadInt32(&task.notRemovedSentinel) == 0 {
		var unlinkErr error
		if task.parent.handle != nil {
			unlinkErr = syscallshim.Unlink(task.parent.handle.Fd(), task.name, true)
		} else {
			// The parent directory handle could not be resolved up front
			// (e.g. the initial rename-to-random also failed) — fall back
			// to by-path removal, which re-resolves the parent itself.
			unlinkErr = task.handle.Unlink(st.deadline)
		}
		if unlinkErr != nil {
			atomic.AddUint64(&st.notRemoved, 1)
			atomic.AddInt32(&task.parent.notRemovedSentinel, 1)
			st.fire(Event{Reason: ReasonUnremoveable, DirPath: dirPathOf(task.parent), Leaf: task.name})
			if task.handle != st.root {
				task.handle.Close()
			}
			if task.ownsFD {
				st.releaseFD()
			}
		} else {
			task.handle.Close()
			if task.ownsFD {
				st.releaseFD()
			}
			atomic.AddUint64(&st.removed, 1)
		}
	}
	st.finishOne(task.parent)
}

func dirPathOf(task *dirTask) string {
	if task == nil || task.handle == nil {
		return ""
	}
	path, err := task.handle.CurrentPath()
	if err != nil {
		return ""
	}
	return path
}

// sequentialFallback retries anything the parallel pass left behind —
// entries parked under the root by a concurrent holder that released its
// lock mid-pass, say — with bounded concurrency instead of the full worker
// pool (§4.F.2 step 6).
func (st *removalState) sequentialFallback(root, rootParent *llfio.Handle) {
	var eg errgroup.Group
	eg.SetLimit(4)

	fallbackPool := threadpool.New(4)
	fallbackGroup := fallbackPool.NewGroup()
	defer fallbackPool.Close()

	var bufs *Buffers
	for {
		var err error
		bufs, err = Read(root, ReadRequest{Buffers: bufs, Want: llfio.WantNone})
		if err != nil {
			st.fail(err)
			return
		}
		for _, e := range bufs.Entries() {
			name := e.Leafname.String()
			isDir := e.Stat.Kind == llfio.KindDirectory
			eg.Go(func() error {
				if isDir {
					child, err := llfio.Open(root, name, llfio.KindDirectory, llfio.OpenExisting, llfio.CachingUnchanged, 0)
					if err != nil {
						return nil
					}
					leftoverTask := &dirTask{handle: child, name: name, parent: &dirTask{handle: root}, pendingChildren: 1}
					st.processDirectory(fallbackGroup, leftoverTask)
					return nil
				}
				if err := syscallshim.Unlink(root.Fd(), name, false); err == nil {
					atomic.AddUint64(&st.removed, 1)
					atomic.AddUint64(&st.notRemoved, ^uint64(0))
				} else {
					st.fire(Event{Reason: ReasonUnremoveable, DirPath: dirPathOf(&dirTask{handle: root}), Leaf: name})
				}
				return nil
			})
		}
		if bufs.Done() {
			break
		}
	}
	eg.Wait()
	fallbackGroup.Wait()

	if atomic.LoadUint64(&st.notRemoved) == 0 && rootParent != nil {
		if rootPath, err := root.CurrentPath(); err == nil {
			_, leaf := pathview.Split(rootPath)
			if err := syscallshim.Unlink(rootParent.Fd(), leaf, true); err == nil {
				root.Close()
				atomic.AddUint64(&st.removed, 1)
			}
		}
	}
}
