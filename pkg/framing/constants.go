// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package framing implements the UART framing codec used between the
// bootloader and the downstream microcontroller.
//
// A frame on the wire is START, the escaped bytes of tag||payload, END.
// Any of START, END or ESC inside tag||payload is sent as ESC followed by
// the literal byte. There is no checksum and no length field.
package framing

// Protocol framing bytes
const (
	StartByte = 0x02
	EndByte   = 0x03
	EscByte   = 0x1F
)

// MaxPayloadSize bounds the payload a decoder will accumulate before it
// gives up on a frame.
const MaxPayloadSize = 256

// Frame tags
const (
	TagReady     = 'R'  // "R" sent after start-up while USB is connected
	TagReset     = '\\' // "\RESET" text frame
	TagSignature = '['  // "[" + 16 byte signature
	TagErase     = 'Y'  // "Y" erase request
	TagProgram   = 'Z'  // "Z" + program-data chunk
	TagHeartbeat = 'V'  // "V" + heartbeat body
)

// SignatureSize is the length of a relayed signature payload.
const SignatureSize = 16

// ResetText is the full text of the downstream reset frame.
const ResetText = "\\RESET"

// Decoder states (internal)
const (
	stateIdle = iota
	stateTag
	statePayload
)
