// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import (
	"fmt"
	"time"
)

// Decoder implements the frame decoder state machine
type Decoder struct {
	state      int
	escapeNext bool
	frame      *Frame
	rawBuffer  []byte // Accumulate raw bytes including framing
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		rawBuffer: make([]byte, 0, MaxPayloadSize*2),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.escapeNext = false
	d.frame = nil
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the accumulated raw bytes since the last frame
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns an error if decoding fails; the decoder is then idle again.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	d.rawBuffer = append(d.rawBuffer, b)

	if d.escapeNext {
		d.escapeNext = false
		return nil, d.accept(b)
	}

	switch b {
	case EscByte:
		if d.state == stateIdle {
			return nil, nil
		}
		d.escapeNext = true
		return nil, nil

	case StartByte:
		// An unescaped START always begins a new frame
		d.Reset()
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = stateTag
		return nil, nil

	case EndByte:
		switch d.state {
		case statePayload:
			frame := d.frame
			frame.timestamp = time.Now()
			d.Reset()
			return frame, nil
		case stateTag:
			d.Reset()
			return nil, fmt.Errorf("empty frame")
		default:
			d.Reset()
			return nil, nil
		}
	}

	return nil, d.accept(b)
}

// Decode feeds every byte of data through the decoder and returns the
// completed frames. Decode errors are returned alongside the frames that
// did decode.
func (d *Decoder) Decode(data []byte) ([]*Frame, []error) {
	var frames []*Frame
	var errs []error
	for _, b := range data {
		frame, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames, errs
}

// accept stores one literal (already unescaped) byte
func (d *Decoder) accept(b byte) error {
	switch d.state {
	case stateIdle:
		// Waiting for START byte
		return nil

	case stateTag:
		d.frame = &Frame{tag: b, payload: make([]byte, 0, 16)}
		d.state = statePayload
		return nil

	case statePayload:
		if len(d.frame.payload) >= MaxPayloadSize {
			d.Reset()
			return fmt.Errorf("buffer overflow: frame exceeds %d payload bytes", MaxPayloadSize)
		}
		d.frame.payload = append(d.frame.payload, b)
		return nil

	default:
		state := d.state
		d.Reset()
		return fmt.Errorf("invalid state: %d", state)
	}
}
