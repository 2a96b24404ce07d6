// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"time"

	"github.com/Thermoquad/fieldboot/pkg/hidproto"
	"github.com/sirupsen/logrus"
)

// Geometry describes the flash layout of the second program slot
type Geometry struct {
	// Base is the first address of the image slot
	Base uint32
	// End is one past the last address of the image slot
	End uint32
	// BlockSize is the staging block and program granularity
	BlockSize uint32
	// SectorSize is the erase granularity
	SectorSize uint32
	// VectorTableSize is how much of the image start is rewritten on commit
	VectorTableSize uint32
	// MarkerOffset is the reserved vector table slot used as the valid marker
	MarkerOffset uint32
	// ValidMagic marks a verified, bootable image
	ValidMagic uint32
	// InvalidMarker is forced into the slot before any partial write
	InvalidMarker uint32
	// SignatureOffset is where the signed range starts, relative to Base
	SignatureOffset uint32
}

// DefaultGeometry returns the layout of the 128 KiB part: a 8 KiB
// bootloader followed by the image slot in 4 KiB sectors 2..31.
func DefaultGeometry() Geometry {
	return Geometry{
		Base:            0x2000,
		End:             0x20000,
		BlockSize:       512,
		SectorSize:      0x1000,
		VectorTableSize: 0x1000,
		MarkerOffset:    0x24,
		ValidMagic:      0xECAABAC0,
		InvalidMarker:   0xFFFFFFFF,
		SignatureOffset: 0x30,
	}
}

// FirstSector returns the first sector of the image slot
func (g Geometry) FirstSector() uint32 {
	return g.Base / g.SectorSize
}

// LastSector returns the last sector of the image slot
func (g Geometry) LastSector() uint32 {
	return (g.End - 1) / g.SectorSize
}

// Limit returns the image slot size
func (g Geometry) Limit() uint32 {
	return g.End - g.Base
}

// Config holds device configuration
type Config struct {
	Geometry Geometry

	// ProductID is reported by GET_HWINFO
	ProductID uint32

	// HeartbeatEnabled sends heartbeat frames from startup instead of
	// waiting for the first relay command
	HeartbeatEnabled bool

	// ReadyDelay is how long startup waits before announcing readiness
	ReadyDelay time.Duration

	// QueueDepth is the number of pending USB requests
	QueueDepth int

	Logger logrus.FieldLogger
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Geometry:   DefaultGeometry(),
		ProductID:  hidproto.DefaultProductID,
		ReadyDelay: 10 * time.Millisecond,
		QueueDepth: 4,
	}
}

// Option is a functional option for configuring a Device.
type Option func(*Config)

// WithGeometry overrides the flash layout
func WithGeometry(g Geometry) Option {
	return func(c *Config) {
		c.Geometry = g
	}
}

// WithProductID sets the product id reported by GET_HWINFO
func WithProductID(id uint32) Option {
	return func(c *Config) {
		c.ProductID = id
	}
}

// WithHeartbeatEnabled starts with heartbeat transmission on
func WithHeartbeatEnabled(enabled bool) Option {
	return func(c *Config) {
		c.HeartbeatEnabled = enabled
	}
}

// WithReadyDelay sets the settle delay before the ready frame
func WithReadyDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.ReadyDelay = d
		}
	}
}

// WithQueueDepth sets how many USB requests may be outstanding
func WithQueueDepth(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.QueueDepth = n
		}
	}
}

// WithLogger sets the device logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
