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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingItem runs a fixed number of steps, recording how many times each
// method fired.
type countingItem struct {
	stepsLeft int32
	executed  int32
	completed int32
	err       error
}

func (c *countingItem) Next() (int64, time.Time) {
	if atomic.LoadInt32(&c.stepsLeft) <= 0 {
		return -1, time.Time{}
	}
	atomic.AddInt32(&c.stepsLeft, -1)
	return 1, time.Time{}
}

func (c *countingItem) Execute(int64) error {
	atomic.AddInt32(&c.executed, 1)
	return c.err
}

func (c *countingItem) Complete(err error) {
	atomic.AddInt32(&c.completed, 1)
	c.err = err
}

func TestGroupRunsAllItemsToCompletion(t *testing.T) {
	p := New(4)
	defer p.Close()
	g := p.NewGroup()

	items := make([]*countingItem, 8)
	for i := range items {
		items[i] = &countingItem{stepsLeft: 3}
		g.Submit(items[i])
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	for i, it := range items {
		if got := atomic.LoadInt32(&it.executed); got != 3 {
			t.Errorf("item %d executed %d times, want 3", i, got)
		}
	}
}

var errBoom = errors.New("boom")

type failingItem struct {
	countingItem
}

func (f *failingItem) Execute(sentinel int64) error {
	f.countingItem.Execute(sentinel)
	return errBoom
}

func TestGroupFailureCancelsSiblings(t *testing.T) {
	p := New(4)
	defer p.Close()
	g := p.NewGroup()

	bad := &failingItem{countingItem: countingItem{stepsLeft: 5}}
	g.Submit(bad)

	var mu sync.Mutex
	var completeErrs []error
	for i := 0; i < 4; i++ {
		g.Submit(&trackingItem{
			countingItem: &countingItem{stepsLeft: 1000},
			onComplete: func(err error) {
				mu.Lock()
				completeErrs = append(completeErrs, err)
				mu.Unlock()
			},
		})
	}

	err := g.Wait()
	if !errors.Is(err, errBoom) {
		t.Fatalf("Wait() = %v, want %v", err, errBoom)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(completeErrs) != 4 {
		t.Fatalf("got %d Complete calls, want 4", len(completeErrs))
	}
	for _, e := range completeErrs {
		if !errors.Is(e, errBoom) {
			t.Errorf("Complete called with %v, want %v", e, errBoom)
		}
	}
}

// trackingItem lets a test observe exactly what error Complete was called
// with, on top of countingItem's step-counting behavior.
type trackingItem struct {
	*countingItem
	onComplete func(error)
}

func (t *trackingItem) Complete(err error) {
	t.countingItem.Complete(err)
	t.onComplete(err)
}

// subGroupWaiter submits one inner item to a sub-group on its first
// Execute, then polls the sub-group's completion from Next (§4.G.1 nesting
// model: a work item that spawns a sub-group must poll it rather than
// block a worker thread waiting for it, or it could starve the very
// sub-group it depends on when the pool has few workers).
type subGroupWaiter struct {
	parent    *Group
	sub       *Group
	submitted bool
	record    func(string)
	onDone    func()
}

func (o *subGroupWaiter) Next() (int64, time.Time) {
	if !o.submitted {
		return 1, time.Time{}
	}
	if finished, _ := o.sub.Done(); !finished {
		return 0, time.Now().Add(time.Millisecond)
	}
	return -1, time.Time{}
}

func (o *subGroupWaiter) Execute(int64) error {
	o.record("outer")
	o.sub = o.parent.NewSubGroup()
	o.sub.Submit(&funcItem{steps: []func() error{
		func() error { o.record("inner"); return nil },
	}})
	o.submitted = true
	return nil
}

func (o *subGroupWaiter) Complete(error) {
	if o.onDone != nil {
		o.onDone()
	}
}

func TestSubGroupRunsDeeperNestingFirst(t *testing.T) {
	p := New(2)
	defer p.Close()

	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	g := p.NewGroup()
	done := make(chan struct{})

	g.Submit(&subGroupWaiter{parent: g, record: record, onDone: func() { close(done) }})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for nested group")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("got order %v, want [outer inner]", order)
	}
}

// funcItem runs a fixed sequence of step functions, one per Execute call.
type funcItem struct {
	steps  []func() error
	i      int
	onDone func()
}

func (f *funcItem) Next() (int64, time.Time) {
	if f.i >= len(f.steps) {
		return -1, time.Time{}
	}
	return 1, time.Time{}
}

func (f *funcItem) Execute(int64) error {
	err := f.steps[f.i]()
	f.i++
	return err
}

func (f *funcItem) Complete(error) {
	if f.onDone != nil {
		f.onDone()
	}
}

// TestPoolGrowsWorkersUnderConcurrentLoad submits six items that each block
// a worker until released and checks that all six run at once. Each Submit
// grows the pool towards min(hardware_concurrency, items submitted), so the
// sixth submission already asks for six workers; the sampler loop runs
// alongside with a stub that reports a single running thread (§4.G.2).
func TestPoolGrowsWorkersUnderConcurrentLoad(t *testing.T) {
	p := New(8,
		WithResampleInterval(5*time.Millisecond),
		withSampler(func() (running, total int) { return 1, 1 }),
	)
	defer p.Close()
	g := p.NewGroup()

	var started int32
	items := make([]*blockingItem, 6)
	release := make(chan struct{})
	for i := range items {
		items[i] = &blockingItem{started: &started, release: release}
		g.Submit(items[i])
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&started) < 6 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	close(release)

	if got := atomic.LoadInt32(&started); got < 6 {
		t.Fatalf("only %d of 6 blocking items ever started executing", got)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
}

// blockingItem occupies a worker until release is closed.
type blockingItem struct {
	started *int32
	release chan struct{}
	ran     bool
}

func (b *blockingItem) Next() (int64, time.Time) {
	if b.ran {
		return -1, time.Time{}
	}
	return 1, time.Time{}
}

func (b *blockingItem) Execute(int64) error {
	atomic.AddInt32(b.started, 1)
	<-b.release
	b.ran = true
	return nil
}

func (b *blockingItem) Complete(error) {}

func TestIOAwareWorkItemThrottlesUnderSaturation(t *testing.T) {
	inner := &countingItem{stepsLeft: 1}
	busy := 0.99
	inflight := 40
	sample := func(string) (float64, int, error) { return busy, inflight, nil }

	w := NewIOAwareWorkItem(inner, []string{"/tmp"}, sample)
	for i := 0; i < 20; i++ {
		w.Next()
	}
	if w.delay == 0 {
		t.Fatalf("expected a positive throttle delay once saturated")
	}

	busy, inflight = 0.1, 2
	for i := 0; i < 5; i++ {
		w.Next()
	}
	if w.delay != 0 {
		t.Fatalf("expected throttle delay to clear once load subsides, got %v", w.delay)
	}
}
