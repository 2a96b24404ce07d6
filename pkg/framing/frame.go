// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import "time"

// Frame is one decoded or to-be-encoded UART frame.
type Frame struct {
	tag       byte
	payload   []byte
	timestamp time.Time
}

// NewFrame creates a frame with the given tag and payload.
func NewFrame(tag byte, payload []byte) *Frame {
	return &Frame{
		tag:       tag,
		payload:   payload,
		timestamp: time.Now(),
	}
}

// NewTextFrame creates a plain text frame. The first character of the text
// is the tag, the remainder the payload.
func NewTextFrame(text string) *Frame {
	if text == "" {
		return nil
	}
	return NewFrame(text[0], []byte(text[1:]))
}

// Tag returns the frame's command tag
func (f *Frame) Tag() byte {
	return f.tag
}

// Payload returns the frame payload (tag excluded)
func (f *Frame) Payload() []byte {
	return f.payload
}

// Body returns tag||payload, the bytes that are escaped on the wire
func (f *Frame) Body() []byte {
	body := make([]byte, 0, 1+len(f.payload))
	body = append(body, f.tag)
	return append(body, f.payload...)
}

// Text returns tag||payload as a string
func (f *Frame) Text() string {
	return string(f.Body())
}

// Timestamp returns the frame's creation or decode timestamp
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// IsReset reports whether the frame is the downstream reset request
func (f *Frame) IsReset() bool {
	return f.Text() == ResetText
}
