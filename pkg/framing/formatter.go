// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import (
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d\n", timestamp, FormatTag(f), f.tag, len(f.payload))
	return result + FormatPayload(f)
}

// FormatTag returns the human-readable name for a frame's tag
func FormatTag(f *Frame) string {
	if f.IsReset() {
		return "RESET"
	}
	switch f.tag {
	case TagReady:
		if len(f.payload) == 0 {
			return "READY"
		}
		return "TEXT"
	case TagSignature:
		return "SIGNATURE"
	case TagErase:
		return "ERASE"
	case TagProgram:
		return "PROGRAM_DATA"
	case TagHeartbeat:
		return "HEARTBEAT"
	default:
		if isPrintable(f.Body()) {
			return "TEXT"
		}
		return "UNKNOWN"
	}
}

// FormatPayload formats the frame payload based on its tag
func FormatPayload(f *Frame) string {
	switch {
	case f.IsReset(), f.tag == TagErase && len(f.payload) == 0, f.tag == TagReady && len(f.payload) == 0:
		return "  (no payload)\n"

	case f.tag == TagHeartbeat:
		counter, err := ParseHeartbeat(f.payload)
		if err != nil {
			return fmt.Sprintf("  Error: %v\n", err)
		}
		return fmt.Sprintf("  Counter: %d\n", counter)

	case f.tag == TagSignature:
		if len(f.payload) != SignatureSize {
			return fmt.Sprintf("  Signature: %X (expected %d bytes, got %d)\n", f.payload, SignatureSize, len(f.payload))
		}
		return fmt.Sprintf("  Signature: %X\n", f.payload)

	case f.tag == TagProgram:
		return fmt.Sprintf("  Chunk: %d bytes\n%s", len(f.payload), hexDump(f.payload))

	case isPrintable(f.Body()):
		return fmt.Sprintf("  Text: %q\n", f.Text())
	}

	return hexDump(f.payload)
}

func hexDump(payload []byte) string {
	var b strings.Builder
	b.WriteString("  Payload: ")
	for i, c := range payload {
		if i > 0 && i%16 == 0 {
			b.WriteString("\n           ")
		}
		fmt.Fprintf(&b, "%02X ", c)
	}
	b.WriteString("\n")
	return b.String()
}

func isPrintable(data []byte) bool {
	for _, c := range data {
		if c < 0x20 || c > 0x7E {
			if c != '\n' && c != '\r' && c != '\t' {
				return false
			}
		}
	}
	return len(data) > 0
}
