// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package uart implements the interrupt-driven, ring-buffered UART transmit
// path and the frame sender built on it.
package uart

import (
	"sync/atomic"

	"github.com/Thermoquad/fieldboot/pkg/framing"
	"github.com/Thermoquad/fieldboot/pkg/irq"
	"github.com/sirupsen/logrus"
)

// Port is the UART peripheral as seen by the transmitter
type Port interface {
	// UARTEmitByte writes b to the transmit holding register. It returns
	// false without writing when the hardware FIFO is full.
	UARTEmitByte(b byte) bool
	// UARTSetTxInterrupt enables or disables the transmit-empty interrupt.
	UARTSetTxInterrupt(enabled bool)
	// UARTReadByte pops one received byte.
	UARTReadByte() (byte, bool)
}

// Transmitter owns the transmit ring buffer. Producers enqueue with the
// interrupt mask held; the UART interrupt handler drains the ring into the
// hardware FIFO.
type Transmitter struct {
	port     Port
	mask     *irq.Mask
	ring     Ring
	dropped  atomic.Uint64
	sent     atomic.Uint64
	received atomic.Uint64
	log      logrus.FieldLogger
}

// NewTransmitter creates a transmitter over port, using mask as the
// critical section.
func NewTransmitter(port Port, mask *irq.Mask, log logrus.FieldLogger) *Transmitter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Transmitter{
		port: port,
		mask: mask,
		log:  log,
	}
}

// SendFrame sends START, escaped tag||payload, END as one unit. Nothing
// else can enqueue between the first and last byte of the frame.
func (t *Transmitter) SendFrame(tag byte, payload []byte) {
	t.mask.Free(func() {
		t.sendRaw([]byte{framing.StartByte})
		t.sendEscaped([]byte{tag})
		t.sendEscaped(payload)
		t.sendRaw([]byte{framing.EndByte})
	})
}

// SendFrameParts sends a frame whose tag||payload is the concatenation of
// parts, e.g. a tag followed by a header and a chunk.
func (t *Transmitter) SendFrameParts(parts ...[]byte) {
	t.mask.Free(func() {
		t.sendRaw([]byte{framing.StartByte})
		for _, p := range parts {
			t.sendEscaped(p)
		}
		t.sendRaw([]byte{framing.EndByte})
	})
}

// SendText sends a plain text frame
func (t *Transmitter) SendText(text string) {
	if text == "" {
		return
	}
	t.SendFrameParts([]byte(text))
}

// sendEscaped emits data, splitting it at every special byte so runs of
// plain bytes are inserted in one go. Called with the mask held.
func (t *Transmitter) sendEscaped(data []byte) {
	for len(data) > 0 {
		pos := -1
		for i, b := range data {
			if framing.NeedsEscape(b) {
				pos = i
				break
			}
		}
		if pos < 0 {
			t.sendRaw(data)
			return
		}
		if pos > 0 {
			t.sendRaw(data[:pos])
		}
		t.sendRaw([]byte{framing.EscByte, data[pos]})
		data = data[pos+1:]
	}
}

// sendRaw inserts data into the ring and primes the hardware FIFO. Bytes
// that do not fit are dropped. Called with the mask held.
func (t *Transmitter) sendRaw(data []byte) int {
	t.port.UARTSetTxInterrupt(false)

	inserted := t.ring.InsertMult(data)
	t.fillFIFO()
	inserted += t.ring.InsertMult(data[inserted:])

	t.port.UARTSetTxInterrupt(true)

	if lost := len(data) - inserted; lost > 0 {
		t.dropped.Add(uint64(lost))
		t.log.WithField("dropped", lost).Debug("uart transmit ring full")
	}
	return inserted
}

// fillFIFO moves bytes from the ring into the hardware FIFO until either
// runs out.
func (t *Transmitter) fillFIFO() {
	for {
		b, ok := t.ring.Peek()
		if !ok || !t.port.UARTEmitByte(b) {
			return
		}
		t.ring.Dequeue()
		t.sent.Add(1)
	}
}

// HandleInterrupt is the UART interrupt handler. Received bytes are read
// and discarded. The transmit side drains the ring and disables the
// transmit interrupt once the ring is empty.
func (t *Transmitter) HandleInterrupt() {
	for {
		if _, ok := t.port.UARTReadByte(); !ok {
			break
		}
		t.received.Add(1)
	}

	t.mask.Free(func() {
		t.fillFIFO()
		if t.ring.IsEmpty() {
			t.port.UARTSetTxInterrupt(false)
		}
	})
}

// Buffered returns the number of bytes waiting in the ring
func (t *Transmitter) Buffered() int {
	n := 0
	t.mask.Free(func() {
		n = t.ring.Len()
	})
	return n
}

// Dropped returns the number of bytes lost to a full ring
func (t *Transmitter) Dropped() uint64 {
	return t.dropped.Load()
}

// Sent returns the number of bytes handed to the hardware FIFO
func (t *Transmitter) Sent() uint64 {
	return t.sent.Load()
}

// Received returns the number of received bytes discarded by the handler
func (t *Transmitter) Received() uint64 {
	return t.received.Load()
}
