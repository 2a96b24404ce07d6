// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hwio defines the narrow hardware capability the bootloader runs
// against, and an in-memory simulation of it.
package hwio

import "fmt"

// Status is an in-application-programming (IAP) ROM return code
type Status uint32

// IAP status codes
const (
	StatusSuccess          Status = 0
	StatusInvalidCommand   Status = 1
	StatusSrcAddrError     Status = 2
	StatusDstAddrError     Status = 3
	StatusSrcAddrNotMapped Status = 4
	StatusDstAddrNotMapped Status = 5
	StatusCountError       Status = 6
	StatusInvalidSector    Status = 7
	StatusSectorNotBlank   Status = 8
	StatusNotPrepared      Status = 9
	StatusCompareError     Status = 10
	StatusBusy             Status = 11
)

// String returns the IAP status name
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "CMD_SUCCESS"
	case StatusInvalidCommand:
		return "INVALID_COMMAND"
	case StatusSrcAddrError:
		return "SRC_ADDR_ERROR"
	case StatusDstAddrError:
		return "DST_ADDR_ERROR"
	case StatusSrcAddrNotMapped:
		return "SRC_ADDR_NOT_MAPPED"
	case StatusDstAddrNotMapped:
		return "DST_ADDR_NOT_MAPPED"
	case StatusCountError:
		return "COUNT_ERROR"
	case StatusInvalidSector:
		return "INVALID_SECTOR"
	case StatusSectorNotBlank:
		return "SECTOR_NOT_BLANK"
	case StatusNotPrepared:
		return "SECTOR_NOT_PREPARED_FOR_WRITE_OPERATION"
	case StatusCompareError:
		return "COMPARE_ERROR"
	case StatusBusy:
		return "BUSY"
	default:
		return fmt.Sprintf("STATUS_%d", uint32(s))
	}
}

// OK reports whether the status is CMD_SUCCESS
func (s Status) OK() bool {
	return s == StatusSuccess
}

// Flash is the IAP flash interface plus the signature engine
type Flash interface {
	// PrepareSectors unlocks sectors start..end (inclusive) for one erase
	// or program operation.
	PrepareSectors(start, end uint32) Status
	// EraseSectors erases sectors start..end (inclusive).
	EraseSectors(start, end uint32, clockKHz uint32) Status
	// ProgramBlock copies data to flash at dst.
	ProgramBlock(dst uint32, data []byte, clockKHz uint32) Status
	// ReadFlash returns a copy of n bytes at addr.
	ReadFlash(addr uint32, n int) []byte
	// ReadSignature runs the signature engine over [start, end).
	ReadSignature(start, end uint32) [16]byte
}

// UART is the transmit holding register, interrupt enable and receive
// register of the serial port.
type UART interface {
	UARTEmitByte(b byte) bool
	UARTSetTxInterrupt(enabled bool)
	UARTReadByte() (byte, bool)
}

// HardwareIo is everything the bootloader needs from the chip
type HardwareIo interface {
	Flash
	UART

	// SetLEDIntensity sets the LED PWM compare value.
	SetLEDIntensity(value uint16)
	// SystemClockRate returns the core clock in Hz.
	SystemClockRate() uint32
	// StartTimer starts the periodic timer with the given prescaler and
	// match value.
	StartTimer(prescale, match uint32)
	// ArmWatchdog schedules a chip reset after ms milliseconds.
	ArmWatchdog(ms uint32)
	// ReinvokeISP restarts into the ROM in-system-programming mode.
	ReinvokeISP()
	// USBConnected reports whether the host has configured the device.
	USBConnected() bool
}
