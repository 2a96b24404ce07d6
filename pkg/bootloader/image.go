// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"bytes"
	"encoding/binary"

	"github.com/Thermoquad/fieldboot/pkg/flashsig"
	"github.com/Thermoquad/fieldboot/pkg/hwio"
	"github.com/sirupsen/logrus"
)

// State is the commit state of the image slot
type State int

// Image slot states
const (
	StateIdle State = iota
	StateErasing
	StateAccepting
	StateVerifying
	StateCommitted
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateErasing:
		return "erasing"
	case StateAccepting:
		return "accepting"
	case StateVerifying:
		return "verifying"
	case StateCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// FlashImage stages firmware bytes into block-sized writes and commits the
// image once its signature checks out.
//
// Invariant: cursor+staged never exceeds the slot size, and the reserved
// marker slot reads as anything but ValidMagic until Finalize succeeds.
type FlashImage struct {
	geom     Geometry
	flash    hwio.Flash
	clockKHz uint32
	log      logrus.FieldLogger

	staging []byte
	staged  uint32
	cursor  uint32
	state   State
}

// NewFlashImage creates an image stager over flash
func NewFlashImage(flash hwio.Flash, geom Geometry, clockKHz uint32, log logrus.FieldLogger) *FlashImage {
	if log == nil {
		log = logger
	}
	f := &FlashImage{
		geom:     geom,
		flash:    flash,
		clockKHz: clockKHz,
		log:      log,
		staging:  make([]byte, geom.BlockSize),
	}
	f.clearStaging()
	return f
}

// Cursor returns the number of bytes flushed to flash
func (f *FlashImage) Cursor() uint32 {
	return f.cursor
}

// Staged returns the number of bytes waiting in the staging block
func (f *FlashImage) Staged() uint32 {
	return f.staged
}

// State returns the commit state
func (f *FlashImage) State() State {
	return f.state
}

func (f *FlashImage) clearStaging() {
	for i := range f.staging {
		f.staging[i] = 0xFF
	}
	f.staged = 0
}

// Erase resets the staging state and erases every sector of the slot
func (f *FlashImage) Erase() error {
	f.state = StateErasing
	f.cursor = 0
	f.clearStaging()

	first, last := f.geom.FirstSector(), f.geom.LastSector()
	if st := f.flash.PrepareSectors(first, last); !st.OK() {
		return newPrimitiveError(StagePrepare, f.geom.Base, st, CodeSlotPrepare)
	}
	if st := f.flash.EraseSectors(first, last, f.clockKHz); !st.OK() {
		return newPrimitiveError(StageErase, f.geom.Base, st, CodeSlotErase)
	}

	f.state = StateAccepting
	f.log.WithFields(logrus.Fields{"first": first, "last": last}).Debug("image slot erased")
	return nil
}

// Write appends data to the image. Every time the staging block fills it
// is programmed at Base+cursor. A failure leaves the bytes of the failing
// block staged and nothing after them.
func (f *FlashImage) Write(data []byte) error {
	f.state = StateAccepting

	for len(data) > 0 {
		if err := f.checkRange(); err != nil {
			return err
		}
		n := copy(f.staging[f.staged:], data)
		f.staged += uint32(n)
		data = data[n:]

		if f.staged == f.geom.BlockSize {
			if err := f.flush(); err != nil {
				return err
			}
			f.cursor += f.geom.BlockSize
			f.clearStaging()
		}
	}
	return nil
}

func (f *FlashImage) checkRange() error {
	addr := f.geom.Base + f.cursor
	if addr+f.geom.BlockSize > f.geom.End {
		return &RangeError{Addr: addr, End: f.geom.End}
	}
	return nil
}

// flush programs the whole staging block at Base+cursor. The first block
// of the slot always carries the invalid marker.
func (f *FlashImage) flush() error {
	if f.cursor == 0 {
		off := f.geom.MarkerOffset
		binary.LittleEndian.PutUint32(f.staging[off:off+4], f.geom.InvalidMarker)
	}

	dst := f.geom.Base + f.cursor
	sector := dst / f.geom.SectorSize
	if st := f.flash.PrepareSectors(sector, sector); !st.OK() {
		return newPrimitiveError(StagePrepare, dst, st, CodeBlockPrepare)
	}
	if st := f.flash.ProgramBlock(dst, f.staging, f.clockKHz); !st.OK() {
		return newPrimitiveError(StageProgram, dst, st, CodeBlockProgram)
	}

	f.log.WithFields(logrus.Fields{"dst": dst, "cursor": f.cursor}).Debug("block programmed")
	return nil
}

// SignatureWindow returns the flash range covered by the signature check
// for the current cursor.
func (f *FlashImage) SignatureWindow() (start, end uint32) {
	start = f.geom.Base + f.geom.SignatureOffset
	end = flashsig.AlignUp(f.geom.Base + f.cursor)
	if end < start {
		end = start
	}
	return start, end
}

// Finalize flushes the partial block, checks the flash signature against
// expected and, on a match, rewrites the vector table with the valid
// marker.
func (f *FlashImage) Finalize(expected [16]byte) error {
	f.state = StateVerifying

	if f.staged > 0 {
		if err := f.checkRange(); err != nil {
			f.state = StateAccepting
			return err
		}
		if err := f.flush(); err != nil {
			f.state = StateAccepting
			return err
		}
		f.cursor += f.staged
		f.clearStaging()
	}

	start, end := f.SignatureWindow()
	actual := f.flash.ReadSignature(start, end)
	// An image that does not reach the signed range is never bootable
	if end == start || !bytes.Equal(actual[:], expected[:]) {
		f.state = StateAccepting
		f.log.WithFields(logrus.Fields{
			"start": start,
			"end":   end,
		}).Warn("signature mismatch")
		return &SignatureMismatchError{Expected: expected, Actual: actual}
	}

	if err := f.commit(); err != nil {
		f.state = StateAccepting
		return err
	}

	f.state = StateCommitted
	f.log.WithField("size", f.cursor).Info("image committed")
	return nil
}

// commit copies the vector table sector, sets the valid marker, then
// erases and reprograms the sector. Until the final program completes
// the marker reads erased.
func (f *FlashImage) commit() error {
	base := f.geom.Base
	table := f.flash.ReadFlash(base, int(f.geom.VectorTableSize))
	for len(table) < int(f.geom.VectorTableSize) {
		table = append(table, 0xFF)
	}
	off := f.geom.MarkerOffset
	binary.LittleEndian.PutUint32(table[off:off+4], f.geom.ValidMagic)

	sector := base / f.geom.SectorSize
	if st := f.flash.PrepareSectors(sector, sector); !st.OK() {
		return newPrimitiveError(StagePrepare, base, st, CodeVectorPrepare)
	}
	if st := f.flash.EraseSectors(sector, sector, f.clockKHz); !st.OK() {
		return newPrimitiveError(StageErase, base, st, CodeVectorErase)
	}
	if st := f.flash.PrepareSectors(sector, sector); !st.OK() {
		return newPrimitiveError(StagePrepare, base, st, CodeVectorReprepare)
	}
	if st := f.flash.ProgramBlock(base, table, f.clockKHz); !st.OK() {
		return newPrimitiveError(StageProgram, base, st, CodeVectorProgram)
	}
	return nil
}

// Marker returns the current value of the reserved marker slot in flash
func (f *FlashImage) Marker() uint32 {
	b := f.flash.ReadFlash(f.geom.Base+f.geom.MarkerOffset, 4)
	if len(b) < 4 {
		return f.geom.InvalidMarker
	}
	return binary.LittleEndian.Uint32(b)
}

// Bootable reports whether the marker slot holds the valid magic
func (f *FlashImage) Bootable() bool {
	return f.Marker() == f.geom.ValidMagic
}
