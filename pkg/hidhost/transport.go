// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hidhost talks to the bootloader from the host: feature report
// transports over USB and WebSocket, and a Flasher that sequences the
// update commands.
package hidhost

import (
	"fmt"

	"github.com/Thermoquad/fieldboot/pkg/hidproto"
	"github.com/sirupsen/logrus"
)

// HID class requests
const (
	RequestGetReport byte = 0x01
	RequestSetReport byte = 0x09
)

// Feature report type, and the same in the high byte of wValue
const (
	featureReportType  = 3
	featureReportValue = featureReportType << 8
)

var logger logrus.FieldLogger = logrus.New()

// SetLogger replaces the package logger
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		logger = l
	}
}

// Transport moves feature reports to and from the device
type Transport interface {
	// SetFeature sends a feature report.
	SetFeature(report []byte) error
	// GetFeature reads the current feature report.
	GetFeature() ([]byte, error)
	Close() error
}

// RejectedError is a non-zero status from the device's USB stack
type RejectedError struct {
	Request byte
	Code    uint32
}

func (e *RejectedError) Error() string {
	name := "SET_REPORT"
	if e.Request == RequestGetReport {
		name = "GET_REPORT"
	}
	return fmt.Sprintf("%s rejected by device: 0x%X", name, e.Code)
}

// padReport copies report into a full-size report buffer
func padReport(report []byte) ([]byte, error) {
	if len(report) > hidproto.ReportSize {
		return nil, fmt.Errorf("report of %d bytes exceeds %d", len(report), hidproto.ReportSize)
	}
	buf := make([]byte, hidproto.ReportSize)
	copy(buf, report)
	return buf, nil
}
