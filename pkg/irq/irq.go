// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package irq models the interrupt discipline of the bootloader: a global
// interrupt mask used as the only critical section, pending interrupt lines
// serviced from the main loop, and a wait-for-interrupt idle.
package irq

import (
	"context"
	"sync"
	"sync/atomic"
)

// Line identifies an interrupt source
type Line uint

// Interrupt lines
const (
	LineUSB Line = iota
	LineUART
	LineTimer

	numLines
)

// String returns the line name
func (l Line) String() string {
	switch l {
	case LineUSB:
		return "USB_IRQ"
	case LineUART:
		return "USART"
	case LineTimer:
		return "CT32B1"
	default:
		return "UNKNOWN"
	}
}

// Mask is the global interrupt mask. Free runs fn with interrupts masked.
// Free does not nest.
type Mask struct {
	mu sync.Mutex
}

// Free runs fn inside the critical section
func (m *Mask) Free(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

// Controller holds pending interrupt lines and their handlers.
//
// Raise may be called from any goroutine and never blocks. Handlers run on
// the goroutine that calls Service, one line at a time, in line order.
type Controller struct {
	mask     Mask
	pending  atomic.Uint32
	wake     chan struct{}
	handlers [numLines]func()
}

// NewController creates a controller with no handlers registered
func NewController() *Controller {
	return &Controller{
		wake: make(chan struct{}, 1),
	}
}

// Mask returns the controller's global interrupt mask
func (c *Controller) Mask() *Mask {
	return &c.mask
}

// Free runs fn with interrupts masked
func (c *Controller) Free(fn func()) {
	c.mask.Free(fn)
}

// Register installs the handler for a line, replacing any previous one
func (c *Controller) Register(l Line, handler func()) {
	if l >= numLines {
		return
	}
	c.mask.Free(func() {
		c.handlers[l] = handler
	})
}

// Raise marks a line pending and wakes a waiting Wait call. Raising an
// already pending line has no further effect.
func (c *Controller) Raise(l Line) {
	if l >= numLines {
		return
	}
	for {
		old := c.pending.Load()
		if c.pending.CompareAndSwap(old, old|1<<l) {
			break
		}
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Pending reports whether a line is pending
func (c *Controller) Pending(l Line) bool {
	return c.pending.Load()&(1<<l) != 0
}

// Service runs the handler of every pending line once and returns the
// number of handlers run. Lines raised while servicing stay pending for
// the next call.
func (c *Controller) Service() int {
	lines := c.pending.Swap(0)
	if lines == 0 {
		return 0
	}

	var handlers [numLines]func()
	c.mask.Free(func() {
		handlers = c.handlers
	})

	n := 0
	for l := Line(0); l < numLines; l++ {
		if lines&(1<<l) == 0 || handlers[l] == nil {
			continue
		}
		handlers[l]()
		n++
	}
	return n
}

// Wait blocks until a line is pending or ctx is done (wait-for-interrupt).
func (c *Controller) Wait(ctx context.Context) error {
	if c.pending.Load() != 0 {
		return nil
	}
	select {
	case <-c.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
