// Copyright 2026 The Servo Authors
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

package metrics

import (
	"runtime"
	"sync/atomic"
)

const minRingCapacity = 64

// RingBuffer is a bounded multi-producer, single-consumer event queue.
// Producers never block: when the buffer is full, the event is dropped and
// counted. Exactly one goroutine may call Drain; concurrent draining is
// undefined and must be prevented by construction (see Writer).
type RingBuffer struct {
	slots    []atomic.Pointer[eventSlot]
	mask     uint64
	writeSeq atomic.Uint64
	readSeq  atomic.Uint64
	dropped  atomic.Uint64
}

type eventSlot struct {
	event Event
}

// NewRingBuffer creates a buffer with capacity rounded up to the next power
// of two, minimum 64.
func NewRingBuffer(capacity int) *RingBuffer {
	size := nextPowerOfTwo(capacity)
	if size < minRingCapacity {
		size = minRingCapacity
	}
	return &RingBuffer{
		slots: make([]atomic.Pointer[eventSlot], size),
		mask:  uint64(size - 1),
	}
}

func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return minRingCapacity
	}
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}

// Capacity returns the rounded slot count.
func (rb *RingBuffer) Capacity() int {
	return len(rb.slots)
}

// Publish offers an event without blocking. Returns false when the buffer is
// full and the event was dropped.
func (rb *RingBuffer) Publish(event Event) bool {
	for {
		w := rb.writeSeq.Load()
		r := rb.readSeq.Load()
		if w-r >= uint64(len(rb.slots)) {
			rb.dropped.Add(1)
			return false
		}
		if rb.writeSeq.CompareAndSwap(w, w+1) {
			// Slot w is exclusively ours; the pointer store publishes the
			// event with release semantics.
			rb.slots[w&rb.mask].Store(&eventSlot{event: event})
			return true
		}
	}
}

// Drain removes up to maxBatch events in publish order. Single consumer only.
func (rb *RingBuffer) Drain(maxBatch int) []Event {
	r := rb.readSeq.Load()
	w := rb.writeSeq.Load()

	available := w - r
	if available == 0 {
		return nil
	}
	if maxBatch > 0 && available > uint64(maxBatch) {
		available = uint64(maxBatch)
	}

	out := make([]Event, 0, available)
	for i := uint64(0); i < available; i++ {
		slot := &rb.slots[(r+i)&rb.mask]
		// A producer that won the CAS for this sequence may not have stored
		// its event yet; spin briefly until the slot is visible.
		for {
			if s := slot.Swap(nil); s != nil {
				out = append(out, s.event)
				break
			}
			runtime.Gosched()
		}
	}

	rb.readSeq.Add(available)
	return out
}

// Buffered returns the number of events currently awaiting drain.
func (rb *RingBuffer) Buffered() int {
	return int(rb.writeSeq.Load() - rb.readSeq.Load())
}

// Dropped returns the cumulative count of dropped events.
func (rb *RingBuffer) Dropped() uint64 {
	return rb.dropped.Load()
}

// Published returns the cumulative count of accepted events.
func (rb *RingBuffer) Published() uint64 {
	return rb.writeSeq.Load()
}

// Usage returns the fraction of capacity currently occupied.
func (rb *RingBuffer) Usage() float64 {
	return float64(rb.Buffered()) / float64(len(rb.slots))
}
