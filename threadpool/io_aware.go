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

import "time"

// StatfsBusySampler reports the current busy fraction and in-flight I/O
// count for the device backing path, the shape
// internal/syscallshim.StatfsBusy already exposes to the root llfio
// package. Declared here as an interface (rather than importing
// syscallshim directly) so this package stays buildable without a
// dependency on llfio's internal tree for callers that only want the
// throttling policy, e.g. in tests.
type StatfsBusySampler func(path string) (busyFraction float64, inflight int, err error)

// IOAwareThresholds holds the tunables §4.G.6 defaults for SSDs.
type IOAwareThresholds struct {
	MaxBusyFraction  float64
	MinInFlight      int
	MaxInFlight      int
	ThrottleStep     time.Duration
	MaxThrottleDelay time.Duration
}

// DefaultIOAwareThresholds are the spec's tuned-for-SSD defaults.
func DefaultIOAwareThresholds() IOAwareThresholds {
	return IOAwareThresholds{
		MaxBusyFraction:  0.95,
		MinInFlight:      16,
		MaxInFlight:      32,
		ThrottleStep:     10 * time.Millisecond,
		MaxThrottleDelay: 200 * time.Millisecond,
	}
}

// IOAwareWorkItem wraps a WorkItem whose Next calls should be delayed when
// the backing device(s) look saturated (§4.G.6): before each call it
// samples busy-time/inflight for every watched path, keeps a moving
// average of busy fraction, and — once that average crosses
// MaxBusyFraction while inflight is at least MaxInFlight — inserts a small
// extra delay into the deadline it would otherwise return, growing it on
// each such call (capped at MaxThrottleDelay), dropping it back to zero
// once inflight falls below MinInFlight, and otherwise leaving it as is.
type IOAwareWorkItem struct {
	Inner      WorkItem
	Paths      []string
	Sample     StatfsBusySampler
	Thresholds IOAwareThresholds

	avgBusy float64
	delay   time.Duration
}

// NewIOAwareWorkItem wraps inner with the default thresholds, sampling the
// given backing paths via sample (normally syscallshim.StatfsBusy).
func NewIOAwareWorkItem(inner WorkItem, paths []string, sample StatfsBusySampler) *IOAwareWorkItem {
	return &IOAwareWorkItem{
		Inner:      inner,
		Paths:      paths,
		Sample:     sample,
		Thresholds: DefaultIOAwareThresholds(),
	}
}

// Next samples load, updates the throttle delay, then calls through to
// Inner.Next and extends whatever deadline it returns by the current
// throttle delay.
func (w *IOAwareWorkItem) Next() (int64, time.Time) {
	w.sampleAndAdjust()

	sentinel, at := w.Inner.Next()
	if w.delay == 0 || sentinel < 0 {
		return sentinel, at
	}
	if at.IsZero() {
		at = time.Now()
	}
	return sentinel, at.Add(w.delay)
}

func (w *IOAwareWorkItem) Execute(sentinel int64) error { return w.Inner.Execute(sentinel) }
func (w *IOAwareWorkItem) Complete(groupErr error)      { w.Inner.Complete(groupErr) }

func (w *IOAwareWorkItem) sampleAndAdjust() {
	if w.Sample == nil || len(w.Paths) == 0 {
		return
	}

	var maxBusy float64
	var maxInflight int
	for _, p := range w.Paths {
		busy, inflight, err := w.Sample(p)
		if err != nil {
			continue
		}
		if busy > maxBusy {
			maxBusy = busy
		}
		if inflight > maxInflight {
			maxInflight = inflight
		}
	}

	// Exponential moving average with a 0.2 weight on the new sample,
	// smooth enough to avoid flapping the delay on a single noisy read.
	const weight = 0.2
	w.avgBusy = w.avgBusy*(1-weight) + maxBusy*weight

	t := w.Thresholds
	saturated := w.avgBusy > t.MaxBusyFraction && maxInflight > t.MinInFlight
	switch {
	case saturated && maxInflight >= t.MaxInFlight:
		w.delay += t.ThrottleStep
		if w.delay > t.MaxThrottleDelay {
			w.delay = t.MaxThrottleDelay
		}
	case maxInflight < t.MinInFlight:
		w.delay = 0
	}
}
