// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package irq

import (
	"context"
	"testing"
	"time"
)

func TestController_ServiceRunsPendingOnce(t *testing.T) {
	c := NewController()
	calls := map[Line]int{}
	c.Register(LineUSB, func() { calls[LineUSB]++ })
	c.Register(LineTimer, func() { calls[LineTimer]++ })

	c.Raise(LineTimer)
	c.Raise(LineTimer)
	c.Raise(LineUSB)

	if n := c.Service(); n != 2 {
		t.Errorf("Service ran %d handlers, want 2", n)
	}
	if calls[LineUSB] != 1 || calls[LineTimer] != 1 {
		t.Errorf("calls = %v", calls)
	}
	if n := c.Service(); n != 0 {
		t.Errorf("second Service ran %d handlers, want 0", n)
	}
}

func TestController_RaiseFromHandlerStaysPending(t *testing.T) {
	c := NewController()
	count := 0
	c.Register(LineUART, func() {
		count++
		if count == 1 {
			c.Raise(LineUART)
		}
	})

	c.Raise(LineUART)
	c.Service()
	if !c.Pending(LineUART) {
		t.Fatal("line raised inside its handler should stay pending")
	}
	c.Service()
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestController_WaitWakesOnRaise(t *testing.T) {
	c := NewController()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Raise(LineTimer)
	}()

	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait returned %v", err)
	}
	if !c.Pending(LineTimer) {
		t.Error("timer line should be pending after wake")
	}
}

func TestController_WaitCancelled(t *testing.T) {
	c := NewController()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Wait(ctx); err == nil {
		t.Error("Wait should return the context error")
	}
}

func TestQueue_FixedCapacity(t *testing.T) {
	q := NewQueue[int](2)
	if !q.Post(1) || !q.Post(2) {
		t.Fatal("first two posts should succeed")
	}
	if q.Post(3) {
		t.Error("post to a full queue should fail")
	}
	if v, ok := q.Take(); !ok || v != 1 {
		t.Errorf("Take = %d, %v; want 1, true", v, ok)
	}
	if !q.Post(3) {
		t.Error("post after take should succeed")
	}
	if v, _ := q.Take(); v != 2 {
		t.Errorf("Take = %d, want 2", v)
	}
	if v, _ := q.Take(); v != 3 {
		t.Errorf("Take = %d, want 3", v)
	}
	if _, ok := q.Take(); ok {
		t.Error("Take on empty queue should fail")
	}
}
