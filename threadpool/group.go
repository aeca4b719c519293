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

package threadpool

import (
	"sync"
	"time"
)

// Group is a set of WorkItems submitted together (§4.G.1). Items of one
// group run freely in parallel across workers; no single item ever runs on
// two workers at once. A Group created from inside another group's item
// (NewSubGroup) gets a nesting level one higher, scheduled preferentially
// so deep work trees drain front-to-back instead of exploding breadth-first
// (§4.G.1, §10 supplemented from dynamic_thread_pool_group.hpp).
type Group struct {
	pool         *Pool
	nestingLevel int

	mu       sync.Mutex
	cond     *sync.Cond
	stopping bool
	firstErr error
	pending  int
	deferred []WorkItem
	total    int
}

// groupItem pairs a WorkItem with the group it belongs to, the unit the
// ready queue actually schedules.
type groupItem struct {
	group *Group
	wi    WorkItem
}

// NewGroup creates a top-level (nesting level 0) work group on this pool.
func (p *Pool) NewGroup() *Group {
	return newGroup(p, 0)
}

// NewSubGroup creates a group nested one level deeper than g, scheduled
// preferentially over g's own remaining items (§4.G.1).
func (g *Group) NewSubGroup() *Group {
	return newGroup(g.pool, g.nestingLevel+1)
}

func newGroup(p *Pool, level int) *Group {
	g := &Group{pool: p, nestingLevel: level}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Submit adds a WorkItem to the group. If the group is currently stopping,
// the item is held back until the group drains to idle and automatically
// promoted then (§4.G.4: "new submissions... are queued until the group
// transitions back to idle").
func (g *Group) Submit(wi WorkItem) {
	g.mu.Lock()
	if g.stopping {
		g.deferred = append(g.deferred, wi)
		g.mu.Unlock()
		return
	}
	g.pending++
	g.total++
	total := g.total
	g.mu.Unlock()

	g.pool.ensureWorkers(total)
	g.scheduleFromNext(wi)
}

// Stop requests cancellation of every still-running item in the group
// (§4.G.4). Workers observe the stopping flag at their next next/execute
// boundary and finish the item immediately without further work.
func (g *Group) Stop() {
	g.mu.Lock()
	g.stopping = true
	g.mu.Unlock()
}

func (g *Group) isStopping() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopping
}

// recordFailure keeps the first failure seen across the group as its
// completion cause (§4.G.5) and puts the group into the stopping state so
// remaining items wind down rather than keep scheduling new work.
func (g *Group) recordFailure(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.firstErr == nil {
		g.firstErr = err
	}
	g.stopping = true
}

// Wait blocks until every submitted item (including any later promoted
// from the deferred queue) has called Complete, then returns the group's
// recorded failure, if any.
func (g *Group) Wait() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.pending > 0 || len(g.deferred) > 0 {
		g.cond.Wait()
	}
	return g.firstErr
}

// Done reports, without blocking, whether every item submitted so far has
// completed, and the group's recorded failure if any. A WorkItem whose
// Next() implementation waits on a sub-group should poll Done (returning 0
// from Next to be re-asked later) rather than call Wait, which would block
// the worker thread running it and could starve the very sub-group it is
// waiting on (§4.G.1 nesting exists precisely so this doesn't deadlock).
func (g *Group) Done() (finished bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending == 0 && len(g.deferred) == 0, g.firstErr
}

// scheduleFromNext asks wi for its first unit of work and drives it
// through the same next/execute decision runStep makes after every
// Execute call.
func (g *Group) scheduleFromNext(wi WorkItem) {
	item := &groupItem{group: g, wi: wi}
	next, at := wi.Next()
	g.advance(item, next, at)
}

// advance applies one (sentinel, callAgainAt) result from WorkItem.Next:
// -1 finishes the item, 0 re-asks later (possibly not before callAgainAt),
// and anything positive is queued for execution (§4.G, Next's contract).
func (g *Group) advance(item *groupItem, sentinel int64, callAgainAt time.Time) {
	switch {
	case sentinel < 0:
		g.finishItem(item, nil)
	case sentinel == 0:
		g.scheduleLater(item, callAgainAt)
	default:
		g.pool.enqueue(item, sentinel)
	}
}

// scheduleLater arranges for item to be re-offered to the ready queue no
// earlier than at (the zero time means "immediately", §4.G.3). Go's
// runtime timer wheel already is the priority queue of deadlines the spec
// describes as two explicit steady/absolute queues; time.AfterFunc reuses
// it rather than re-implementing a heap by hand.
func (g *Group) scheduleLater(item *groupItem, at time.Time) {
	redo := func() {
		next, nextAt := item.wi.Next()
		g.advance(item, next, nextAt)
	}
	if at.IsZero() || !at.After(time.Now()) {
		go redo()
		return
	}
	time.AfterFunc(time.Until(at), redo)
}

// finishItem calls the item's Complete hook with the group's cancellation
// cause (nil if none) and tracks the group towards idle, promoting any
// deferred submissions once it gets there (§4.G.4, §4.G.5).
func (g *Group) finishItem(item *groupItem, _ error) {
	g.mu.Lock()
	cause := g.firstErr
	g.mu.Unlock()

	item.wi.Complete(cause)

	g.mu.Lock()
	g.pending--
	var promote []WorkItem
	if g.pending == 0 && len(g.deferred) > 0 {
		promote = g.deferred
		g.deferred = nil
		g.stopping = false
	}
	g.cond.Broadcast()
	g.mu.Unlock()

	for _, wi := range promote {
		g.Submit(wi)
	}
}
