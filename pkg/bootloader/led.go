// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

// LEDPeriod is the PWM period the brightness curve is scaled to
const LEDPeriod = 0x1000

// ledOff is an index past the end of the curve; it drives the LED dark
const ledOff = 0xFF

// ledCurve is a perceptual brightness ramp of PWM compare values
var ledCurve = [128]uint16{
	0x000, 0x001, 0x001, 0x001, 0x001, 0x001, 0x002, 0x003,
	0x004, 0x005, 0x007, 0x009, 0x00B, 0x00E, 0x011, 0x014,
	0x018, 0x01C, 0x020, 0x024, 0x029, 0x02E, 0x034, 0x03A,
	0x040, 0x047, 0x04F, 0x056, 0x05F, 0x067, 0x070, 0x079,
	0x083, 0x08E, 0x099, 0x0A5, 0x0B1, 0x0BD, 0x0CA, 0x0D7,
	0x0E5, 0x0F4, 0x103, 0x112, 0x123, 0x133, 0x144, 0x156,
	0x169, 0x17C, 0x18F, 0x1A3, 0x1B8, 0x1CD, 0x1E3, 0x1FA,
	0x211, 0x229, 0x242, 0x25B, 0x274, 0x28F, 0x2AA, 0x2C6,
	0x2E2, 0x2FF, 0x31D, 0x33B, 0x35B, 0x37A, 0x39B, 0x3BC,
	0x3DE, 0x400, 0x424, 0x448, 0x46D, 0x492, 0x4B8, 0x4DF,
	0x507, 0x530, 0x559, 0x583, 0x5AE, 0x5D9, 0x605, 0x632,
	0x660, 0x68F, 0x6BF, 0x6EF, 0x720, 0x751, 0x784, 0x7B8,
	0x7EC, 0x821, 0x857, 0x88E, 0x8C5, 0x8FE, 0x937, 0x971,
	0x9AC, 0x9E8, 0xA24, 0xA62, 0xAA0, 0xAE0, 0xB20, 0xB61,
	0xBA2, 0xBE5, 0xC29, 0xC6E, 0xCB3, 0xCF9, 0xD41, 0xD89,
	0xDD2, 0xE1C, 0xE67, 0xEB3, 0xF00, 0xF4D, 0xF9C, 0xFEC,
}

// LEDSink receives PWM compare values
type LEDSink interface {
	SetLEDIntensity(value uint16)
}

// LED steps through the brightness curve
type LED struct {
	sink  LEDSink
	index int
}

// NewLED creates an LED animation starting dark
func NewLED(sink LEDSink) *LED {
	return &LED{sink: sink, index: ledOff}
}

// Intensity returns the compare value for a curve index. Indices past the
// end of the curve are dark.
func Intensity(index int) uint16 {
	if index < 0 || index >= len(ledCurve) {
		return 0
	}
	return ledCurve[index]
}

// Set jumps to index and updates the LED
func (l *LED) Set(index int) {
	l.index = index
	l.sink.SetLEDIntensity(Intensity(index))
}

// Advance moves one step along the curve, wrapping to the start
func (l *LED) Advance() {
	next := 0
	if l.index >= 0 && l.index < len(ledCurve)-1 {
		next = l.index + 1
	}
	l.Set(next)
}

// Index returns the current curve index
func (l *LED) Index() int {
	return l.index
}
