// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// ============================================================
// Encoder Tests
// ============================================================

func TestEncodeFrame_NoSpecialBytes(t *testing.T) {
	encoded := EncodeFrame('Z', []byte{0x10, 0x20, 0x30})
	expected := []byte{StartByte, 'Z', 0x10, 0x20, 0x30, EndByte}
	if !bytes.Equal(encoded, expected) {
		t.Errorf("EncodeFrame = % X, want % X", encoded, expected)
	}
}

func TestEncodeFrame_EscapesSpecialBytes(t *testing.T) {
	tests := []struct {
		name     string
		tag      byte
		payload  []byte
		expected []byte
	}{
		{
			name:     "start byte in payload",
			tag:      'Z',
			payload:  []byte{0x02},
			expected: []byte{StartByte, 'Z', EscByte, 0x02, EndByte},
		},
		{
			name:     "end byte in payload",
			tag:      'Z',
			payload:  []byte{0x41, 0x03, 0x42},
			expected: []byte{StartByte, 'Z', 0x41, EscByte, 0x03, 0x42, EndByte},
		},
		{
			name:     "escape byte in payload",
			tag:      '[',
			payload:  []byte{0x1F, 0x1F},
			expected: []byte{StartByte, '[', EscByte, 0x1F, EscByte, 0x1F, EndByte},
		},
		{
			name:     "special tag byte is escaped too",
			tag:      0x03,
			payload:  nil,
			expected: []byte{StartByte, EscByte, 0x03, EndByte},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeFrame(tt.tag, tt.payload)
			if !bytes.Equal(encoded, tt.expected) {
				t.Errorf("EncodeFrame = % X, want % X", encoded, tt.expected)
			}
		})
	}
}

func TestEncode_TextFrames(t *testing.T) {
	tests := []struct {
		text     string
		expected []byte
	}{
		{"R", []byte{0x02, 'R', 0x03}},
		{"Y", []byte{0x02, 'Y', 0x03}},
		{ResetText, append(append([]byte{0x02}, []byte(ResetText)...), 0x03)},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			encoded := Encode(NewTextFrame(tt.text))
			if !bytes.Equal(encoded, tt.expected) {
				t.Errorf("Encode(%q) = % X, want % X", tt.text, encoded, tt.expected)
			}
		})
	}
}

func TestNewTextFrame_Empty(t *testing.T) {
	if NewTextFrame("") != nil {
		t.Error("Expected nil frame for empty text")
	}
}

func TestUnescapeBytes(t *testing.T) {
	data := []byte{0x01, EscByte, 0x02, EscByte, 0x1F, 0x04}
	result, err := UnescapeBytes(data)
	if err != nil {
		t.Fatalf("UnescapeBytes failed: %v", err)
	}
	expected := []byte{0x01, 0x02, 0x1F, 0x04}
	if !bytes.Equal(result, expected) {
		t.Errorf("UnescapeBytes = % X, want % X", result, expected)
	}
}

func TestUnescapeBytes_IncompleteEscape(t *testing.T) {
	_, err := UnescapeBytes([]byte{0x01, EscByte})
	if err == nil {
		t.Error("Expected error for trailing escape byte")
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecoder_SimpleFrame(t *testing.T) {
	d := NewDecoder()
	frames, errs := d.Decode([]byte{StartByte, 'Z', 0xAA, 0xBB, EndByte})
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	if frames[0].Tag() != 'Z' {
		t.Errorf("Tag = 0x%02X, want 'Z'", frames[0].Tag())
	}
	if !bytes.Equal(frames[0].Payload(), []byte{0xAA, 0xBB}) {
		t.Errorf("Payload = % X", frames[0].Payload())
	}
	if frames[0].Timestamp().IsZero() {
		t.Error("Decoded frame should carry a timestamp")
	}
}

func TestDecoder_EscapedBytes(t *testing.T) {
	payload := []byte{0x02, 0x03, 0x1F, 0x00, 0xFF}
	d := NewDecoder()
	frames, errs := d.Decode(EncodeFrame(TagProgram, payload))
	if len(errs) != 0 || len(frames) != 1 {
		t.Fatalf("Expected 1 frame and no errors, got %d frames, errors %v", len(frames), errs)
	}
	if !bytes.Equal(frames[0].Payload(), payload) {
		t.Errorf("Payload = % X, want % X", frames[0].Payload(), payload)
	}
}

func TestDecoder_StartByteResetsState(t *testing.T) {
	d := NewDecoder()
	data := []byte{StartByte, 'Z', 0x11, 0x22}
	data = append(data, EncodeFrame('Y', nil)...)
	frames, errs := d.Decode(data)
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if len(frames) != 1 || frames[0].Tag() != 'Y' || len(frames[0].Payload()) != 0 {
		t.Fatalf("Expected a single Y frame, got %v", frames)
	}
}

func TestDecoder_IgnoresBytesOutsideFrames(t *testing.T) {
	d := NewDecoder()
	data := []byte{0x55, EscByte, EndByte, 0x66}
	frames, errs := d.Decode(data)
	if len(frames) != 0 || len(errs) != 0 {
		t.Errorf("Expected nothing from noise, got %d frames, %d errors", len(frames), len(errs))
	}
}

func TestDecoder_EmptyFrame(t *testing.T) {
	d := NewDecoder()
	_, errs := d.Decode([]byte{StartByte, EndByte})
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error for empty frame, got %d", len(errs))
	}
}

func TestDecoder_BufferOverflow(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartByte)
	d.DecodeByte('Z')
	var err error
	for i := 0; i <= MaxPayloadSize && err == nil; i++ {
		_, err = d.DecodeByte(0x41)
	}
	if err == nil {
		t.Fatal("Expected overflow error")
	}
	if d.state != stateIdle {
		t.Errorf("Decoder should be idle after overflow, state=%d", d.state)
	}
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartByte)
	d.DecodeByte(EscByte)
	d.Reset()
	if d.state != stateIdle || d.escapeNext || d.frame != nil || len(d.GetRawBytes()) != 0 {
		t.Error("Reset did not clear decoder state")
	}
}

func TestDecoder_GetRawBytes(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartByte)
	d.DecodeByte('Z')
	d.DecodeByte(EscByte)
	raw := d.GetRawBytes()
	if !bytes.Equal(raw, []byte{StartByte, 'Z', EscByte}) {
		t.Errorf("GetRawBytes = % X", raw)
	}
}

// ============================================================
// Heartbeat Tests
// ============================================================

func TestHeartbeatPacket_Layout(t *testing.T) {
	p := NewHeartbeatPacket()
	p.SetCounter(0x04030201)
	expected := HeartbeatPacket{1, 0, 4, 0x0C, 0x01, 0x02, 0x03, 0x04, 0, 0, 0, 0, 0, 0, 0, 0}
	if p != expected {
		t.Errorf("packet = % X, want % X", p[:], expected[:])
	}
}

func TestHeartbeatPacket_IncrementWraps(t *testing.T) {
	p := NewHeartbeatPacket()
	p.SetCounter(0xFFFFFFFF)
	if v := p.Increment(); v != 0 {
		t.Errorf("Increment wrapped to %d, want 0", v)
	}
}

func TestHeartbeatPacket_BodyRoundTrip(t *testing.T) {
	p := NewHeartbeatPacket()
	p.SetCounter(1234)
	body := p.Body()
	if len(body) != 12 {
		t.Fatalf("Body length = %d, want 12", len(body))
	}
	counter, err := ParseHeartbeat(body)
	if err != nil {
		t.Fatalf("ParseHeartbeat failed: %v", err)
	}
	if counter != 1234 {
		t.Errorf("counter = %d, want 1234", counter)
	}
}

func TestParseHeartbeat_Short(t *testing.T) {
	if _, err := ParseHeartbeat([]byte{4, 0x0C, 1}); err == nil {
		t.Error("Expected error for short heartbeat payload")
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatTag(t *testing.T) {
	tests := []struct {
		frame    *Frame
		expected string
	}{
		{NewTextFrame("R"), "READY"},
		{NewTextFrame(ResetText), "RESET"},
		{NewFrame(TagSignature, make([]byte, 16)), "SIGNATURE"},
		{NewFrame(TagErase, nil), "ERASE"},
		{NewFrame(TagProgram, []byte{1}), "PROGRAM_DATA"},
		{NewFrame(TagHeartbeat, make([]byte, 12)), "HEARTBEAT"},
		{NewTextFrame("hello"), "TEXT"},
		{NewFrame(0x01, []byte{0xFF}), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := FormatTag(tt.frame); got != tt.expected {
				t.Errorf("FormatTag = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFormatFrame_Heartbeat(t *testing.T) {
	p := NewHeartbeatPacket()
	p.SetCounter(42)
	out := FormatFrame(NewFrame(TagHeartbeat, p.Body()))
	if !strings.Contains(out, "HEARTBEAT") || !strings.Contains(out, "Counter: 42") {
		t.Errorf("Unexpected output: %q", out)
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()
	hb := NewHeartbeatPacket()

	hb.SetCounter(1)
	s.Update(NewFrame(TagHeartbeat, append([]byte(nil), hb.Body()...)), nil)
	hb.SetCounter(4)
	s.Update(NewFrame(TagHeartbeat, append([]byte(nil), hb.Body()...)), nil)
	s.Update(NewFrame(TagProgram, make([]byte, 10)), nil)
	s.Update(NewTextFrame("R"), nil)
	s.Update(nil, errors.New("empty frame"))

	if s.TotalFrames != 5 {
		t.Errorf("TotalFrames = %d, want 5", s.TotalFrames)
	}
	if s.HeartbeatFrames != 2 || s.LastCounter != 4 || s.MissedHeartbeat != 2 {
		t.Errorf("heartbeat stats = %d frames, last %d, missed %d", s.HeartbeatFrames, s.LastCounter, s.MissedHeartbeat)
	}
	if s.ProgramFrames != 1 || s.ProgramBytes != 10 {
		t.Errorf("program stats = %d frames, %d bytes", s.ProgramFrames, s.ProgramBytes)
	}
	if s.TextFrames != 1 || s.DecodeErrors != 1 {
		t.Errorf("text=%d decodeErrors=%d", s.TextFrames, s.DecodeErrors)
	}
	if !strings.Contains(s.String(), "Total Frames:    5") {
		t.Errorf("String() missing total: %s", s.String())
	}

	s.Reset()
	if s.TotalFrames != 0 || s.HasCounter {
		t.Error("Reset did not clear statistics")
	}
}
