// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hidhost

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/fieldboot/pkg/hidproto"
	"github.com/google/gousb"
)

// Default USB identifiers of the bootloader
const (
	DefaultVendorID  gousb.ID = 0x1FC9
	DefaultProductID gousb.ID = 0x1002
)

// Control transfer request types
const (
	requestTypeOut = 0x21 // host to device, class, interface
	requestTypeIn  = 0xA1 // device to host, class, interface
)

// USBTransport sends feature reports as HID class control transfers
type USBTransport struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	iface uint16
}

// OpenUSB opens the single attached device matching vid:pid
func OpenUSB(vid, pid gousb.ID) (*USBTransport, error) {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vid && desc.Product == pid
	})
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		ctx.Close()
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("no device %s:%s found", vid, pid)
	}
	if len(devs) > 1 {
		for _, d := range devs {
			d.Close()
		}
		ctx.Close()
		return nil, fmt.Errorf("found %d devices %s:%s, expected one", len(devs), vid, pid)
	}

	dev := devs[0]
	if err := dev.SetAutoDetach(true); err != nil {
		logger.WithError(err).Debug("auto detach unavailable")
	}
	dev.ControlTimeout = 2 * time.Second

	logger.WithField("device", dev.String()).Info("opened USB device")
	return &USBTransport{ctx: ctx, dev: dev}, nil
}

// SetFeature sends a SET_REPORT control transfer
func (u *USBTransport) SetFeature(report []byte) error {
	buf, err := padReport(report)
	if err != nil {
		return err
	}
	if _, err := u.dev.Control(requestTypeOut, RequestSetReport, featureReportValue, u.iface, buf); err != nil {
		return u.mapError(RequestSetReport, err)
	}
	return nil
}

// GetFeature sends a GET_REPORT control transfer
func (u *USBTransport) GetFeature() ([]byte, error) {
	buf := make([]byte, hidproto.ReportSize)
	n, err := u.dev.Control(requestTypeIn, RequestGetReport, featureReportValue, u.iface, buf)
	if err != nil {
		return nil, u.mapError(RequestGetReport, err)
	}
	return buf[:n], nil
}

// mapError turns a stalled control pipe into a RejectedError. A stall
// carries no status code.
func (u *USBTransport) mapError(req byte, err error) error {
	var usbErr gousb.Error
	if errors.As(err, &usbErr) && usbErr == gousb.ErrorPipe {
		return &RejectedError{Request: req}
	}
	return fmt.Errorf("control transfer 0x%02X failed: %w", req, err)
}

// Close releases the device and the USB context
func (u *USBTransport) Close() error {
	var errs []error
	if u.dev != nil {
		errs = append(errs, u.dev.Close())
	}
	if u.ctx != nil {
		errs = append(errs, u.ctx.Close())
	}
	return errors.Join(errs...)
}

// ListUSB returns the descriptors of attached devices with the given
// vendor ID. No device is opened.
func ListUSB(vid gousb.ID) ([]*gousb.DeviceDesc, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var found []*gousb.DeviceDesc
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor == vid {
			found = append(found, desc)
		}
		return false
	})
	if err != nil {
		return found, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	return found, nil
}
