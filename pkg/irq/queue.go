// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package irq

import "sync"

// Queue is a fixed-capacity FIFO used to hand hardware events to the main
// loop. Post never blocks: it fails when the queue is full.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	count int
}

// NewQueue creates a queue holding at most capacity items
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{items: make([]T, capacity)}
}

// Post appends an item, returning false if the queue is full
func (q *Queue[T]) Post(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == len(q.items) {
		return false
	}
	q.items[(q.head+q.count)%len(q.items)] = item
	q.count++
	return true
}

// Take removes the oldest item
func (q *Queue[T]) Take() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.count == 0 {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return item, true
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
