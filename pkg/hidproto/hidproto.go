// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hidproto defines the 64-byte HID feature reports exchanged with
// the bootloader: command opcodes, request builders and the fixed-layout
// status and hardware-info replies.
package hidproto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ReportSize is the size of every feature report
const ReportSize = 64

// MaxChunk is the largest data chunk a single write command carries
const MaxChunk = ReportSize - 2

// SignatureSize is the length of an expected-signature argument
const SignatureSize = 16

// Command opcodes
const (
	OpGetHwInfo            byte = 0x83
	OpReinvokeISP          byte = 0x90
	OpEraseProgram2        byte = 0x91
	OpFlashFirmware        byte = 0x92
	OpVerifyFirmwareSig    byte = 0x93
	OpStatus               byte = 0x94
	OpResetWholeSoc        byte = 0x95
	OpNrfEraseProgram      byte = 0x97
	OpNrfFlashProgram      byte = 0x98
	OpNrfVerifyFirmwareSig byte = 0x99
	OpSetHardwareVersion   byte = 0xA0
)

// Status codes with a fixed meaning
const (
	StatusOK uint16 = 0
	// StatusFailed is the ERASE_PROGRAM2 failure code
	StatusFailed uint16 = 1
	// StatusInProgress is written before a long operation and is the
	// fixed reply of the fire-and-forget relay commands.
	StatusInProgress uint16 = 2
)

// HWINFO field tags and product id
const (
	hwInfoLen            = 0x0F
	hwInfoTagProduct     = 1
	hwInfoTagBootVersion = 4
	hwInfoTagSettings    = 9
)

// DefaultProductID identifies the bootloader product
const DefaultProductID uint32 = 0x1002

// Version payload length for SET_HARDWARE_VERSION
const versionLen = 4

// ErrShortReport is returned when a reply is too short to decode
var ErrShortReport = errors.New("short report")

// Report is one feature report
type Report [ReportSize]byte

// Bytes returns the report as a slice
func (r *Report) Bytes() []byte {
	return r[:]
}

// Opcode returns the first byte
func (r *Report) Opcode() byte {
	return r[0]
}

// Clear zeroes the report
func (r *Report) Clear() {
	*r = Report{}
}

// SetStatus writes the generic status reply [0x94, 2, code u16 LE, 0...]
func (r *Report) SetStatus(code uint16) {
	r.Clear()
	r[0] = OpStatus
	r[1] = 2
	binary.LittleEndian.PutUint16(r[2:4], code)
}

// SetFlashAck writes the FLASH_FIRMWARE acknowledgement [0x92, 0...]
func (r *Report) SetFlashAck() {
	r.Clear()
	r[0] = OpFlashFirmware
}

// HwInfo is the GET_HWINFO reply
type HwInfo struct {
	ProductID         uint32
	BootloaderVersion uint32
	SettingsVersion   uint32
}

// SetHwInfo writes the GET_HWINFO reply
func (r *Report) SetHwInfo(info HwInfo) {
	r.Clear()
	r[0] = OpGetHwInfo
	r[1] = hwInfoLen
	r[2] = hwInfoTagProduct
	binary.LittleEndian.PutUint32(r[3:7], info.ProductID)
	r[7] = hwInfoTagBootVersion
	binary.LittleEndian.PutUint32(r[8:12], info.BootloaderVersion)
	r[12] = hwInfoTagSettings
	binary.LittleEndian.PutUint32(r[13:17], info.SettingsVersion)
}

// ParseStatus decodes a generic status reply
func ParseStatus(data []byte) (uint16, error) {
	if len(data) < 4 {
		return 0, ErrShortReport
	}
	if data[0] != OpStatus || data[1] != 2 {
		return 0, fmt.Errorf("not a status report: % X", data[:2])
	}
	return binary.LittleEndian.Uint16(data[2:4]), nil
}

// ParseHwInfo decodes a GET_HWINFO reply
func ParseHwInfo(data []byte) (HwInfo, error) {
	if len(data) < 17 {
		return HwInfo{}, ErrShortReport
	}
	if data[0] != OpGetHwInfo || data[1] != hwInfoLen {
		return HwInfo{}, fmt.Errorf("not a hwinfo report: % X", data[:2])
	}
	if data[2] != hwInfoTagProduct || data[7] != hwInfoTagBootVersion || data[12] != hwInfoTagSettings {
		return HwInfo{}, fmt.Errorf("unexpected hwinfo tags %d/%d/%d", data[2], data[7], data[12])
	}
	return HwInfo{
		ProductID:         binary.LittleEndian.Uint32(data[3:7]),
		BootloaderVersion: binary.LittleEndian.Uint32(data[8:12]),
		SettingsVersion:   binary.LittleEndian.Uint32(data[13:17]),
	}, nil
}

// ============================================================
// Request builders
// ============================================================

func command(op byte) []byte {
	req := make([]byte, ReportSize)
	req[0] = op
	return req
}

func lengthPrefixed(op byte, data []byte) ([]byte, error) {
	if len(data) > MaxChunk {
		return nil, fmt.Errorf("chunk of %d bytes exceeds %d", len(data), MaxChunk)
	}
	req := command(op)
	req[1] = byte(len(data))
	copy(req[2:], data)
	return req, nil
}

func signatureArg(op byte, sig [SignatureSize]byte) []byte {
	req := command(op)
	req[1] = SignatureSize
	copy(req[2:2+SignatureSize], sig[:])
	return req
}

// GetHwInfo builds a GET_HWINFO request
func GetHwInfo() []byte {
	return command(OpGetHwInfo)
}

// ReinvokeISP builds a REINVOKE_ISP request
func ReinvokeISP() []byte {
	return command(OpReinvokeISP)
}

// EraseProgram2 builds an ERASE_PROGRAM2 request
func EraseProgram2() []byte {
	return command(OpEraseProgram2)
}

// FlashFirmware builds a FLASH_FIRMWARE request carrying chunk
func FlashFirmware(chunk []byte) ([]byte, error) {
	return lengthPrefixed(OpFlashFirmware, chunk)
}

// VerifyFirmwareSig builds a VERIFY_FIRMWARE_SIG request
func VerifyFirmwareSig(sig [SignatureSize]byte) []byte {
	return signatureArg(OpVerifyFirmwareSig, sig)
}

// ResetWholeSoc builds a RESET_WHOLE_SOC request
func ResetWholeSoc() []byte {
	return command(OpResetWholeSoc)
}

// NrfEraseProgram builds an NRF_ERASE_PROGRAM request
func NrfEraseProgram() []byte {
	return command(OpNrfEraseProgram)
}

// NrfFlashProgram builds an NRF_FLASH_PROGRAM request carrying chunk
func NrfFlashProgram(chunk []byte) ([]byte, error) {
	return lengthPrefixed(OpNrfFlashProgram, chunk)
}

// NrfVerifyFirmwareSig builds an NRF_VERIFY_FIRMWARE_SIG request
func NrfVerifyFirmwareSig(sig [SignatureSize]byte) []byte {
	return signatureArg(OpNrfVerifyFirmwareSig, sig)
}

// SetHardwareVersion builds a SET_HARDWARE_VERSION request
func SetHardwareVersion(version uint32) []byte {
	req := command(OpSetHardwareVersion)
	req[1] = versionLen
	binary.LittleEndian.PutUint32(req[2:6], version)
	return req
}

// FormatOpcode returns a readable name for an opcode
func FormatOpcode(op byte) string {
	switch op {
	case OpGetHwInfo:
		return "GET_HWINFO"
	case OpReinvokeISP:
		return "REINVOKE_ISP"
	case OpEraseProgram2:
		return "ERASE_PROGRAM2"
	case OpFlashFirmware:
		return "FLASH_FIRMWARE"
	case OpVerifyFirmwareSig:
		return "VERIFY_FIRMWARE_SIG"
	case OpStatus:
		return "STATUS"
	case OpResetWholeSoc:
		return "RESET_WHOLE_SOC"
	case OpNrfEraseProgram:
		return "NRF_ERASE_PROGRAM"
	case OpNrfFlashProgram:
		return "NRF_FLASH_PROGRAM"
	case OpNrfVerifyFirmwareSig:
		return "NRF_VERIFY_FIRMWARE_SIG"
	case OpSetHardwareVersion:
		return "SET_HARDWARE_VERSION"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", op)
	}
}
