// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/fieldboot/pkg/hwio"
)

// Status report codes
const (
	CodeOK                uint16 = 0
	CodeRange             uint16 = 1
	CodeBlockPrepare      uint16 = 2
	CodeBlockProgram      uint16 = 3
	CodeSignatureMismatch uint16 = 4
	CodeVectorPrepare     uint16 = 5
	CodeVectorErase       uint16 = 6
	CodeVectorReprepare   uint16 = 7
	CodeVectorProgram     uint16 = 8
	CodeSlotPrepare       uint16 = 9
	CodeSlotErase         uint16 = 10
)

// Stage names the flash primitive that failed
type Stage string

// Flash primitive stages
const (
	StagePrepare Stage = "prepare"
	StageErase   Stage = "erase"
	StageProgram Stage = "program"
)

// Coder is implemented by errors that map to a status report code
type Coder interface {
	Code() uint16
}

// RangeError indicates a block would be written past the end of the slot
type RangeError struct {
	Addr uint32
	End  uint32
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("flash range exceeded: block at 0x%05X crosses end 0x%05X", e.Addr, e.End)
}

// Code returns the status report code
func (e *RangeError) Code() uint16 {
	return CodeRange
}

// PrimitiveError indicates an IAP primitive returned a failure status
type PrimitiveError struct {
	Stage  Stage
	Addr   uint32
	Status hwio.Status
	code   uint16
}

func newPrimitiveError(stage Stage, addr uint32, status hwio.Status, code uint16) *PrimitiveError {
	return &PrimitiveError{Stage: stage, Addr: addr, Status: status, code: code}
}

func (e *PrimitiveError) Error() string {
	return fmt.Sprintf("flash %s failed at 0x%05X: %s", e.Stage, e.Addr, e.Status)
}

// Code returns the status report code
func (e *PrimitiveError) Code() uint16 {
	return e.code
}

// SignatureMismatchError indicates the flash signature differs from the
// expected one
type SignatureMismatchError struct {
	Expected [16]byte
	Actual   [16]byte
}

func (e *SignatureMismatchError) Error() string {
	return fmt.Sprintf("signature mismatch: expected % X, got % X", e.Expected, e.Actual)
}

// Code returns the status report code
func (e *SignatureMismatchError) Code() uint16 {
	return CodeSignatureMismatch
}

// ErrorCode maps err to its status report code. Nil maps to CodeOK and
// errors without a code map to 0xFFFF.
func ErrorCode(err error) uint16 {
	if err == nil {
		return CodeOK
	}
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return 0xFFFF
}
