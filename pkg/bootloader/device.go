// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bootloader is the programming-mode engine of the field-update
// bootloader: HID command dispatch, staged flash programming with a
// signature-gated commit, downstream UART relay, heartbeat and LED, and
// the main loop tying them to their interrupts.
package bootloader

import (
	"context"
	"time"

	"github.com/Thermoquad/fieldboot/pkg/framing"
	"github.com/Thermoquad/fieldboot/pkg/hidproto"
	"github.com/Thermoquad/fieldboot/pkg/hwio"
	"github.com/Thermoquad/fieldboot/pkg/irq"
	"github.com/Thermoquad/fieldboot/pkg/settings"
	"github.com/Thermoquad/fieldboot/pkg/uart"
	"github.com/sirupsen/logrus"
)

// Device is the whole bootloader state. Everything except the USB request
// queue is owned by the goroutine running Run (or calling Poll), which
// plays the role of both the main loop and the interrupt handlers.
type Device struct {
	cfg      Config
	hw       hwio.HardwareIo
	ctrl     *irq.Controller
	tx       *uart.Transmitter
	image    *FlashImage
	led      *LED
	beat     *Heartbeat
	settings settings.Store
	log      logrus.FieldLogger

	report       hidproto.Report
	reinvoke     bool
	lastWriteErr error

	requests *irq.Queue[*usbRequest]
}

// New creates a device over hw and store. Interrupt handlers are
// registered on ctrl; hw is expected to raise its lines there.
func New(hw hwio.HardwareIo, store settings.Store, ctrl *irq.Controller, opts ...Option) *Device {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	log := cfg.Logger
	if log == nil {
		log = logger
	}

	clockKHz := hw.SystemClockRate() / 1000
	d := &Device{
		cfg:      cfg,
		hw:       hw,
		ctrl:     ctrl,
		tx:       uart.NewTransmitter(hw, ctrl.Mask(), log),
		image:    NewFlashImage(hw, cfg.Geometry, clockKHz, log),
		led:      NewLED(hw),
		beat:     NewHeartbeat(cfg.HeartbeatEnabled),
		settings: store,
		log:      log,
		requests: irq.NewQueue[*usbRequest](cfg.QueueDepth),
	}

	ctrl.Register(irq.LineUSB, d.handleUSBInterrupt)
	ctrl.Register(irq.LineUART, d.tx.HandleInterrupt)
	ctrl.Register(irq.LineTimer, d.beat.HandleInterrupt)
	return d
}

// Start runs the one-time startup: LED dark, timer running, and the ready
// frame once the USB connection has settled.
func (d *Device) Start() {
	d.led.Set(ledOff)

	prescale := d.hw.SystemClockRate()/timerRateHz - 1
	d.hw.StartTimer(prescale, timerMatch)

	if d.hw.USBConnected() {
		if d.cfg.ReadyDelay > 0 {
			time.Sleep(d.cfg.ReadyDelay)
		}
		d.tx.SendText(string(framing.TagReady))
	}
	d.log.WithField("product_id", d.cfg.ProductID).Info("bootloader started")
}

// Poll runs one main loop iteration: pending interrupts, the heartbeat,
// then a deferred ISP reinvoke.
func (d *Device) Poll() {
	d.ctrl.Service()

	d.beat.Poll(d.tx, d.hw.USBConnected())

	if d.reinvoke {
		d.reinvoke = false
		d.log.Info("reinvoking ISP")
		d.hw.ReinvokeISP()
	}
}

// Run starts the device and loops until ctx is done, idling in
// wait-for-interrupt between iterations.
func (d *Device) Run(ctx context.Context) error {
	d.Start()
	for {
		if err := d.ctrl.Wait(ctx); err != nil {
			d.drainRequests(err)
			return err
		}
		d.Poll()
	}
}

// Image returns the image slot stager
func (d *Device) Image() *FlashImage {
	return d.image
}

// Transmitter returns the UART transmitter
func (d *Device) Transmitter() *uart.Transmitter {
	return d.tx
}

// Heartbeat returns the heartbeat emitter
func (d *Device) Heartbeat() *Heartbeat {
	return d.beat
}

// LED returns the LED animation
func (d *Device) LED() *LED {
	return d.led
}

// Report returns a copy of the current status report
func (d *Device) Report() hidproto.Report {
	return d.report
}

// ReinvokePending reports whether an ISP reinvoke waits for the next Poll
func (d *Device) ReinvokePending() bool {
	return d.reinvoke
}

// LastWriteError returns the error of the most recent FLASH_FIRMWARE
// command. The status report does not carry it.
func (d *Device) LastWriteError() error {
	return d.lastWriteErr
}
