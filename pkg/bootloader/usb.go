// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"context"
	"errors"

	"github.com/Thermoquad/fieldboot/pkg/irq"
	"github.com/sirupsen/logrus"
)

// HID report types
const (
	ReportTypeInput   byte = 1
	ReportTypeOutput  byte = 2
	ReportTypeFeature byte = 3
)

// USB stack status codes
const (
	USBStatusOK uint32 = 0
	// USBStatusUnsupported rejects input and output report requests
	USBStatusUnsupported uint32 = 0x40002
)

// ErrBusy is returned when the USB request queue is full
var ErrBusy = errors.New("usb request queue full")

type requestKind int

const (
	requestSet requestKind = iota
	requestGet
)

type usbRequest struct {
	kind       requestKind
	reportType byte
	data       []byte
	reply      chan usbReply
}

type usbReply struct {
	status uint32
	data   []byte
	err    error
}

// SetReport delivers a set_report request to the device and waits for the
// USB stack status. It may be called from any goroutine while Run is
// active.
func (d *Device) SetReport(ctx context.Context, reportType byte, data []byte) (uint32, error) {
	r, err := d.submit(ctx, &usbRequest{
		kind:       requestSet,
		reportType: reportType,
		data:       append([]byte(nil), data...),
	})
	return r.status, err
}

// GetReport delivers a get_report request and returns the report bytes and
// USB stack status. It may be called from any goroutine while Run is
// active.
func (d *Device) GetReport(ctx context.Context, reportType byte) ([]byte, uint32, error) {
	r, err := d.submit(ctx, &usbRequest{kind: requestGet, reportType: reportType})
	return r.data, r.status, err
}

func (d *Device) submit(ctx context.Context, req *usbRequest) (usbReply, error) {
	req.reply = make(chan usbReply, 1)
	if !d.requests.Post(req) {
		return usbReply{}, ErrBusy
	}
	d.ctrl.Raise(irq.LineUSB)

	select {
	case r := <-req.reply:
		return r, r.err
	case <-ctx.Done():
		return usbReply{}, ctx.Err()
	}
}

// handleUSBInterrupt is the USB interrupt handler: it completes every
// queued request.
func (d *Device) handleUSBInterrupt() {
	for {
		req, ok := d.requests.Take()
		if !ok {
			return
		}
		switch req.kind {
		case requestSet:
			req.reply <- usbReply{status: d.HandleSetReport(req.reportType, req.data)}
		case requestGet:
			data, status := d.HandleGetReport(req.reportType)
			req.reply <- usbReply{status: status, data: data}
		}
	}
}

// drainRequests fails every queued request after the loop stops
func (d *Device) drainRequests(err error) {
	for {
		req, ok := d.requests.Take()
		if !ok {
			return
		}
		req.reply <- usbReply{err: err}
	}
}

// HandleSetReport is the set_report callback. Input and output reports are
// rejected; only a non-empty feature report is dispatched.
func (d *Device) HandleSetReport(reportType byte, data []byte) uint32 {
	switch reportType {
	case ReportTypeInput, ReportTypeOutput:
		d.log.WithField("report_type", reportType).Debug("set_report rejected")
		return USBStatusUnsupported
	case ReportTypeFeature:
		if len(data) > 0 {
			d.HandleFeatureReport(data)
		}
	}
	return USBStatusOK
}

// HandleGetReport is the get_report callback. Only feature reports are
// served; other types outside input and output get an empty reply.
func (d *Device) HandleGetReport(reportType byte) ([]byte, uint32) {
	switch reportType {
	case ReportTypeInput, ReportTypeOutput:
		d.log.WithField("report_type", reportType).Debug("get_report rejected")
		return nil, USBStatusUnsupported
	case ReportTypeFeature:
	default:
		return nil, USBStatusOK
	}
	report := d.report
	d.log.WithFields(logrus.Fields{"opcode": report[0]}).Trace("get_report")
	return report[:], USBStatusOK
}
