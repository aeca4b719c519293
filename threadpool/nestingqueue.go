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

// pendingStep is one ready-to-run unit: a group item plus the sentinel
// Next() returned for it.
type pendingStep struct {
	item     *groupItem
	sentinel int64
}

// nestingQueue holds ready steps bucketed by nesting level and always pops
// from the deepest non-empty level first, so a work tree that spawns
// sub-groups from within its own items drains front-to-back rather than
// breadth-first (§4.G.1).
type nestingQueue struct {
	byLevel map[int][]pendingStep
	count   int
}

func newNestingQueue() *nestingQueue {
	return &nestingQueue{byLevel: make(map[int][]pendingStep)}
}

func (q *nestingQueue) push(item *groupItem, sentinel int64) {
	level := item.group.nestingLevel
	q.byLevel[level] = append(q.byLevel[level], pendingStep{item: item, sentinel: sentinel})
	q.count++
}

func (q *nestingQueue) pop() (*groupItem, int64, bool) {
	if q.count == 0 {
		return nil, 0, false
	}
	best := -1
	for level, steps := range q.byLevel {
		if len(steps) > 0 && level > best {
			best = level
		}
	}
	steps := q.byLevel[best]
	step := steps[0]
	if len(steps) == 1 {
		delete(q.byLevel, best)
	} else {
		q.byLevel[best] = steps[1:]
	}
	q.count--
	return step.item, step.sentinel, true
}

func (q *nestingQueue) empty() bool { return q.count == 0 }
