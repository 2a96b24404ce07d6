// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package uart

// RingSize is the capacity of the transmit ring buffer
const RingSize = 256

// Ring is a fixed-capacity circular byte queue. Enqueue past capacity
// drops the byte. Ring does no locking; callers mutate it inside the
// interrupt mask.
type Ring struct {
	buf   [RingSize]byte
	head  int
	count int
}

// Len returns the number of queued bytes
func (r *Ring) Len() int {
	return r.count
}

// Free returns the remaining capacity
func (r *Ring) Free() int {
	return RingSize - r.count
}

// IsEmpty reports whether no bytes are queued
func (r *Ring) IsEmpty() bool {
	return r.count == 0
}

// Enqueue appends b, returning false when the ring is full
func (r *Ring) Enqueue(b byte) bool {
	if r.count == RingSize {
		return false
	}
	r.buf[(r.head+r.count)%RingSize] = b
	r.count++
	return true
}

// InsertMult appends as much of data as fits and returns how many bytes
// were inserted. Insertion stops at the first byte that does not fit.
func (r *Ring) InsertMult(data []byte) int {
	n := 0
	for _, b := range data {
		if !r.Enqueue(b) {
			break
		}
		n++
	}
	return n
}

// Peek returns the oldest byte without removing it
func (r *Ring) Peek() (byte, bool) {
	if r.count == 0 {
		return 0, false
	}
	return r.buf[r.head], true
}

// Dequeue removes and returns the oldest byte
func (r *Ring) Dequeue() (byte, bool) {
	b, ok := r.Peek()
	if !ok {
		return 0, false
	}
	r.head = (r.head + 1) % RingSize
	r.count--
	return b, true
}
