// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import "fmt"

// Encode encodes a Frame to wire format.
func Encode(f *Frame) []byte {
	return EncodeFrame(f.tag, f.payload)
}

// EncodeFrame creates a complete wire-formatted frame for tag||payload,
// including the framing bytes.
func EncodeFrame(tag byte, payload []byte) []byte {
	frame := make([]byte, 0, 2*(len(payload)+1)+2)
	frame = append(frame, StartByte)
	frame = AppendEscaped(frame, []byte{tag})
	frame = AppendEscaped(frame, payload)
	return append(frame, EndByte)
}

// NeedsEscape reports whether b must be preceded by EscByte on the wire.
func NeedsEscape(b byte) bool {
	return b == StartByte || b == EndByte || b == EscByte
}

// AppendEscaped appends the escaped form of data to dst.
// Special bytes (START, END, ESC) are replaced with ESC + byte.
func AppendEscaped(dst, data []byte) []byte {
	for _, b := range data {
		if NeedsEscape(b) {
			dst = append(dst, EscByte, b)
		} else {
			dst = append(dst, b)
		}
	}
	return dst
}

// EscapeBytes returns the escaped form of data.
func EscapeBytes(data []byte) []byte {
	return AppendEscaped(make([]byte, 0, len(data)*2), data)
}

// UnescapeBytes removes escaping from data.
// This is the inverse of EscapeBytes.
func UnescapeBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		if escapeNext {
			result = append(result, b)
			escapeNext = false
		} else if b == EscByte {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}

	return result, nil
}
