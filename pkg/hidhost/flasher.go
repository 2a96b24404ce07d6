// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hidhost

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/fieldboot/pkg/firmware"
	"github.com/Thermoquad/fieldboot/pkg/hidproto"
	"github.com/sirupsen/logrus"
)

// Progress describes how far an update has come
type Progress struct {
	// Phase is one of "erasing", "writing", "verifying", "complete"
	Phase string

	// BytesWritten is the number of image bytes sent so far
	BytesWritten int

	// TotalBytes is the image size
	TotalBytes int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// ElapsedTime is the time since the update started
	ElapsedTime time.Duration
}

// ProgressCallback receives progress updates. It should return quickly.
type ProgressCallback func(Progress)

// Update phases
const (
	PhaseErasing   = "erasing"
	PhaseWriting   = "writing"
	PhaseVerifying = "verifying"
	PhaseComplete  = "complete"
)

// StatusError is a non-zero status report for a command
type StatusError struct {
	Op   byte
	Code uint16
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d", hidproto.FormatOpcode(e.Op), e.Code)
}

// Config holds Flasher configuration
type Config struct {
	ProgressCallback ProgressCallback
	ChunkSize        int
	SlotLimit        uint32
	Logger           logrus.FieldLogger
}

func defaultConfig() Config {
	return Config{
		ChunkSize: hidproto.MaxChunk,
		SlotLimit: firmware.DefaultLimit,
	}
}

// Option is a functional option for configuring the Flasher
type Option func(*Config)

// WithProgressCallback sets the progress callback
func WithProgressCallback(cb ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = cb
	}
}

// WithChunkSize sets the data bytes per write command, at most 62
func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 && size <= hidproto.MaxChunk {
			c.ChunkSize = size
		}
	}
}

// WithSlotLimit sets the largest accepted image
func WithSlotLimit(limit uint32) Option {
	return func(c *Config) {
		c.SlotLimit = limit
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Flasher runs update sequences against a device
type Flasher struct {
	t   Transport
	cfg Config
	log logrus.FieldLogger
}

// NewFlasher creates a Flasher over t
func NewFlasher(t Transport, opts ...Option) *Flasher {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	log := cfg.Logger
	if log == nil {
		log = logger
	}
	return &Flasher{t: t, cfg: cfg, log: log}
}

// exec sends a command and reads back the report it produced
func (f *Flasher) exec(req []byte) ([]byte, error) {
	if err := f.t.SetFeature(req); err != nil {
		return nil, fmt.Errorf("%s: %w", hidproto.FormatOpcode(req[0]), err)
	}
	report, err := f.t.GetFeature()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", hidproto.FormatOpcode(req[0]), err)
	}
	return report, nil
}

// status sends a command and returns its status code
func (f *Flasher) status(req []byte) (uint16, error) {
	report, err := f.exec(req)
	if err != nil {
		return 0, err
	}
	code, err := hidproto.ParseStatus(report)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", hidproto.FormatOpcode(req[0]), err)
	}
	return code, nil
}

func (f *Flasher) report(p Progress, start time.Time) {
	if f.cfg.ProgressCallback == nil {
		return
	}
	if p.TotalBytes > 0 {
		p.Percentage = float64(p.BytesWritten) * 100 / float64(p.TotalBytes)
	}
	p.ElapsedTime = time.Since(start)
	f.cfg.ProgressCallback(p)
}

// Info queries product id and versions
func (f *Flasher) Info(ctx context.Context) (hidproto.HwInfo, error) {
	if err := ctx.Err(); err != nil {
		return hidproto.HwInfo{}, err
	}
	report, err := f.exec(hidproto.GetHwInfo())
	if err != nil {
		return hidproto.HwInfo{}, err
	}
	return hidproto.ParseHwInfo(report)
}

// Program erases the image slot, writes img and verifies it. The device
// commits the image only if the signature matches.
func (f *Flasher) Program(ctx context.Context, img *firmware.Image) error {
	if err := img.Validate(f.cfg.SlotLimit); err != nil {
		return err
	}
	start := time.Now()
	total := img.Size()

	f.report(Progress{Phase: PhaseErasing, TotalBytes: total}, start)
	code, err := f.status(hidproto.EraseProgram2())
	if err != nil {
		return err
	}
	if code != hidproto.StatusOK {
		return &StatusError{Op: hidproto.OpEraseProgram2, Code: code}
	}

	written := 0
	for _, chunk := range img.Chunks(f.cfg.ChunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := hidproto.FlashFirmware(chunk)
		if err != nil {
			return err
		}
		if err := f.t.SetFeature(req); err != nil {
			return fmt.Errorf("write at offset %d: %w", written, err)
		}
		written += len(chunk)
		f.report(Progress{Phase: PhaseWriting, BytesWritten: written, TotalBytes: total}, start)
	}

	f.report(Progress{Phase: PhaseVerifying, BytesWritten: written, TotalBytes: total}, start)
	sig := img.Signature()
	code, err = f.status(hidproto.VerifyFirmwareSig(sig))
	if err != nil {
		return err
	}
	if code != hidproto.StatusOK {
		return &StatusError{Op: hidproto.OpVerifyFirmwareSig, Code: code}
	}

	f.report(Progress{Phase: PhaseComplete, BytesWritten: written, TotalBytes: total}, start)
	f.log.WithFields(logrus.Fields{
		"size":    total,
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Info("image programmed")
	return nil
}

// ProgramDownstream relays an update to the downstream device. The relay
// has no acknowledgement, so success only means every command was
// delivered.
func (f *Flasher) ProgramDownstream(ctx context.Context, data []byte, sig [hidproto.SignatureSize]byte) error {
	start := time.Now()
	total := len(data)

	f.report(Progress{Phase: PhaseErasing, TotalBytes: total}, start)
	if err := f.relay(hidproto.NrfEraseProgram()); err != nil {
		return err
	}

	written := 0
	for off := 0; off < total; off += f.cfg.ChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := off + f.cfg.ChunkSize
		if end > total {
			end = total
		}
		req, err := hidproto.NrfFlashProgram(data[off:end])
		if err != nil {
			return err
		}
		if err := f.relay(req); err != nil {
			return fmt.Errorf("relay at offset %d: %w", off, err)
		}
		written = end
		f.report(Progress{Phase: PhaseWriting, BytesWritten: written, TotalBytes: total}, start)
	}

	f.report(Progress{Phase: PhaseVerifying, BytesWritten: written, TotalBytes: total}, start)
	if err := f.relay(hidproto.NrfVerifyFirmwareSig(sig)); err != nil {
		return err
	}
	f.report(Progress{Phase: PhaseComplete, BytesWritten: written, TotalBytes: total}, start)
	return nil
}

// relay sends a relay command and checks for the fixed in-progress reply
func (f *Flasher) relay(req []byte) error {
	code, err := f.status(req)
	if err != nil {
		return err
	}
	if code != hidproto.StatusInProgress {
		return &StatusError{Op: req[0], Code: code}
	}
	return nil
}

// Reinvoke asks the device to restart into ROM ISP mode
func (f *Flasher) Reinvoke(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.t.SetFeature(hidproto.ReinvokeISP())
}

// Reset resets the downstream device and, after the watchdog timeout,
// the bootloader itself
func (f *Flasher) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.t.SetFeature(hidproto.ResetWholeSoc())
}

// SetHardwareVersion stores a new hardware version and reads it back
func (f *Flasher) SetHardwareVersion(ctx context.Context, version uint32) error {
	if err := f.t.SetFeature(hidproto.SetHardwareVersion(version)); err != nil {
		return err
	}
	info, err := f.Info(ctx)
	if err != nil {
		return err
	}
	if info.SettingsVersion != version {
		return fmt.Errorf("hardware version reads back %d, want %d", info.SettingsVersion, version)
	}
	return nil
}
