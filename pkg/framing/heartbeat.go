// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import (
	"encoding/binary"
	"fmt"
)

// HeartbeatPacketSize is the size of the heartbeat packet template
const HeartbeatPacketSize = 16

// Heartbeat packet layout offsets
const (
	heartbeatBodyOffset    = 2
	heartbeatBodyLenOffset = 3
	heartbeatCounterOffset = 4
)

// HeartbeatPacket is the fixed-layout status packet counted by the timer.
//
//	[0]=1 [1]=0 [2]=4 [3]=0x0C [4..8]=counter u32 LE [8..16]=0
type HeartbeatPacket [HeartbeatPacketSize]byte

// NewHeartbeatPacket returns the packet template with a zero counter.
func NewHeartbeatPacket() HeartbeatPacket {
	var p HeartbeatPacket
	p[0] = 1
	p[1] = 0
	p[2] = 4
	p[3] = 0x0C
	return p
}

// Counter returns the embedded counter
func (p *HeartbeatPacket) Counter() uint32 {
	return binary.LittleEndian.Uint32(p[heartbeatCounterOffset:])
}

// SetCounter stores the embedded counter
func (p *HeartbeatPacket) SetCounter(v uint32) {
	binary.LittleEndian.PutUint32(p[heartbeatCounterOffset:], v)
}

// Increment advances the counter by one, wrapping at 2^32, and returns
// the new value.
func (p *HeartbeatPacket) Increment() uint32 {
	v := p.Counter() + 1
	p.SetCounter(v)
	return v
}

// Body returns the part of the packet carried in a V frame: packet[3]
// bytes starting at offset 2.
func (p *HeartbeatPacket) Body() []byte {
	n := int(p[heartbeatBodyLenOffset])
	end := heartbeatBodyOffset + n
	if end > len(p) {
		end = len(p)
	}
	return p[heartbeatBodyOffset:end]
}

// ParseHeartbeat extracts the counter from a V frame payload.
func ParseHeartbeat(payload []byte) (uint32, error) {
	const counterAt = heartbeatCounterOffset - heartbeatBodyOffset
	if len(payload) < counterAt+4 {
		return 0, fmt.Errorf("heartbeat payload too short: %d bytes", len(payload))
	}
	return binary.LittleEndian.Uint32(payload[counterAt:]), nil
}
