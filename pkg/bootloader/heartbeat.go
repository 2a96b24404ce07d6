// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"sync/atomic"

	"github.com/Thermoquad/fieldboot/pkg/framing"
)

// Timer settings: the prescaler divides the core clock down to 1 kHz and
// the match register fires every 12 counts.
const (
	timerRateHz = 1000
	timerMatch  = 11
)

// FrameSender is the UART framing transmitter as used by the device
type FrameSender interface {
	SendFrame(tag byte, payload []byte)
	SendText(text string)
}

// Heartbeat counts timer periods and emits the counter packet
type Heartbeat struct {
	packet  framing.HeartbeatPacket
	elapsed atomic.Bool
	enabled bool
}

// NewHeartbeat creates a heartbeat emitter
func NewHeartbeat(enabled bool) *Heartbeat {
	return &Heartbeat{
		packet:  framing.NewHeartbeatPacket(),
		enabled: enabled,
	}
}

// HandleInterrupt is the timer interrupt handler
func (h *Heartbeat) HandleInterrupt() {
	h.elapsed.Store(true)
}

// Enable turns on heartbeat transmission
func (h *Heartbeat) Enable() {
	h.enabled = true
}

// Enabled reports whether heartbeat transmission is on
func (h *Heartbeat) Enabled() bool {
	return h.enabled
}

// Counter returns the current counter value
func (h *Heartbeat) Counter() uint32 {
	return h.packet.Counter()
}

// Poll consumes an elapsed period: the counter advances and, when
// enabled and connected, the packet is sent. It reports whether a period
// had elapsed.
func (h *Heartbeat) Poll(tx FrameSender, connected bool) bool {
	if !h.elapsed.Swap(false) {
		return false
	}
	h.packet.Increment()
	if h.enabled && connected {
		tx.SendFrame(framing.TagHeartbeat, h.packet.Body())
	}
	return true
}
