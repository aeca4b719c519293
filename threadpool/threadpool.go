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

// Package threadpool implements the dynamic worker pool described in §4.G:
// a single process-wide pool of goroutine workers executing "work groups,"
// each made of WorkItems that hand back one unit of work at a time. It is
// deliberately standalone (no dependency on the root llfio package), the
// same way the teacher keeps fuseutil and fusetesting as freestanding
// helper packages that llfio-equivalents (dirwalk, cmd/llfio-bench) import.
package threadpool

import (
	"runtime"
	"sync"
	"time"
)

// WorkItem is the three-method contract every unit of work in a group
// implements (§4.G, Design Note: "no deeper hierarchy than next/execute/
// group_complete").
//
// Next returns the sentinel for the next unit of work to run, or -1 when
// the item has no more work, or 0 to be asked again later — optionally not
// before callAgainAt (the zero time means "ask again as soon as a worker
// is free").
//
// Execute runs the unit identified by sentinel. Any error cancels the rest
// of the item's group (§4.G.5).
//
// Complete is called exactly once per item, with the first failure seen
// anywhere in the group (nil if the group finished cleanly).
type WorkItem interface {
	Next() (sentinel int64, callAgainAt time.Time)
	Execute(sentinel int64) error
	Complete(groupErr error)
}

// Pool is a process-wide dynamic worker pool. The zero value is not usable;
// construct with New.
type Pool struct {
	mu    sync.Mutex
	cond  *sync.Cond
	ready *nestingQueue

	hardwareConcurrency int
	workers             int
	idle                int
	closed              bool
	lastTotal           int
	shrinkRequests      int

	idleTimeout time.Duration
	sampler     func() (running, total int)

	// resample controls how often the grow/shrink loop re-reads thread
	// state (§4.G.2); a field rather than a constant so tests can speed
	// it up.
	resampleInterval time.Duration
	samplerStarted   bool
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithIdleTimeout overrides the default 20s idle-worker exit timeout
// (§4.G.2).
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Pool) { p.idleTimeout = d }
}

// WithResampleInterval overrides how often the pool re-checks thread state
// to decide whether to grow or shrink (§4.G.2). Default 250ms.
func WithResampleInterval(d time.Duration) Option {
	return func(p *Pool) { p.resampleInterval = d }
}

// withSampler overrides the thread-state sampler, used by tests to force
// grow/shrink decisions deterministically instead of depending on the real
// /proc/self/task contents.
func withSampler(f func() (running, total int)) Option {
	return func(p *Pool) { p.sampler = f }
}

// New constructs a Pool. hardwareConcurrency is normally
// runtime.GOMAXPROCS(0); callers pass an explicit value so tests can shrink
// it to force grow/shrink decisions deterministically.
func New(hardwareConcurrency int, opts ...Option) *Pool {
	if hardwareConcurrency <= 0 {
		hardwareConcurrency = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		ready:               newNestingQueue(),
		hardwareConcurrency: hardwareConcurrency,
		idleTimeout:         20 * time.Second,
		sampler:             sampleThreads,
		resampleInterval:    250 * time.Millisecond,
	}
	p.cond = sync.NewCond(&p.mu)
	for _, o := range opts {
		o(p)
	}
	return p
}

// PoolStats is a point-in-time snapshot of a Pool's worker accounting,
// exposed so callers (e.g. a /metrics endpoint) can publish gauges without
// reaching into Pool's internal locking.
type PoolStats struct {
	Workers int // goroutines currently running workerLoop
	Idle    int // of those, how many are parked in waitForWork
	Target  int // desired worker count given the last observed submission total
}

// Stats returns a snapshot of the pool's current worker accounting.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Workers: p.workers, Idle: p.idle, Target: p.target(p.lastTotal)}
}

// Close marks the pool closed and wakes idle workers, which exit once the
// ready queue is empty; the sampler loop stops at its next tick. Close
// returns without waiting for workers to exit, and Submit does not check
// the closed flag. Groups with items still running are not interrupted;
// call Group.Stop first if you need to cancel outstanding work.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// target reports the number of worker goroutines the pool should be
// running given totalSubmitted items currently known across all live
// groups: min(hardware_concurrency, total_submitted_items), per §4.G.2.
func (p *Pool) target(totalSubmitted int) int {
	t := p.hardwareConcurrency
	if totalSubmitted < t {
		t = totalSubmitted
	}
	if t < 1 {
		t = 1
	}
	return t
}

// ensureWorkers grows the pool towards target(totalSubmitted), spawning new
// worker goroutines as needed. It never shrinks directly — shrinking
// happens organically when an idle worker's condvar wait times out, or is
// forced by the periodic sampler loop finding total running threads over
// hardware_concurrency+3 (§4.G.2).
func (p *Pool) ensureWorkers(totalSubmitted int) {
	p.mu.Lock()
	p.lastTotal = totalSubmitted
	want := p.target(totalSubmitted)
	for p.workers < want {
		p.workers++
		go p.workerLoop()
	}
	startSampler := !p.samplerStarted
	p.samplerStarted = true
	p.mu.Unlock()

	if startSampler {
		go p.samplerLoop()
	}
}

// samplerLoop periodically re-reads OS thread state to correct the
// grow/shrink decision beyond what raw submission counts capture: growing
// when runnable threads fall below target, and requesting shrinkage when
// total running threads exceed hardware_concurrency+3 (§4.G.2). It exits
// once the pool is closed.
func (p *Pool) samplerLoop() {
	for {
		time.Sleep(p.resampleInterval)

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		total := p.lastTotal
		hc := p.hardwareConcurrency
		workers := p.workers
		p.mu.Unlock()

		running, totalThreads := p.sampler()
		want := p.target(total)

		p.mu.Lock()
		if running < want && p.workers < want {
			p.workers++
			go p.workerLoop()
		}
		if totalThreads > hc+3 && workers > 1 {
			p.shrinkRequests++
			p.cond.Broadcast()
		}
		p.mu.Unlock()
	}
}

// workerLoop is the body of one pool worker goroutine: pull the highest
// priority ready item, run one step of it, and repeat until idle for
// longer than idleTimeout.
func (p *Pool) workerLoop() {
	for {
		item, sentinel, ok := p.dequeueReady()
		if !ok {
			if !p.waitForWork() {
				p.mu.Lock()
				p.workers--
				p.mu.Unlock()
				return
			}
			continue
		}
		p.runStep(item, sentinel)
	}
}

// dequeueReady pops the next runnable step without blocking.
func (p *Pool) dequeueReady() (*groupItem, int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready.pop()
}

// waitForWork blocks until either new work is queued (returns true) or the
// idle timeout elapses / the pool is closed (returns false, the caller
// exits, §4.G.2 "idle threads sleep on a condvar with a configurable
// timeout; after the timeout they exit").
func (p *Pool) waitForWork() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.idle++
	defer func() { p.idle-- }()

	if p.shrinkRequests > 0 {
		p.shrinkRequests--
		return false
	}

	deadline := time.Now().Add(p.idleTimeout)
	for p.ready.empty() && !p.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		waited := make(chan struct{})
		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
			close(waited)
		})
		p.cond.Wait()
		timer.Stop()
		select {
		case <-waited:
		default:
		}
	}
	if p.closed && p.ready.empty() {
		return false
	}
	return true
}

// runStep executes one Execute() call for item at the given sentinel, then
// re-asks Next() and reschedules or completes the item.
func (p *Pool) runStep(item *groupItem, sentinel int64) {
	g := item.group

	if g.isStopping() {
		g.finishItem(item, nil)
		return
	}

	err := item.wi.Execute(sentinel)
	if err != nil {
		g.recordFailure(err)
		g.finishItem(item, err)
		return
	}

	next, at := item.wi.Next()
	g.advance(item, next, at)
}

func (p *Pool) enqueue(item *groupItem, sentinel int64) {
	p.mu.Lock()
	p.ready.push(item, sentinel)
	p.cond.Broadcast()
	p.mu.Unlock()
}
