// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Thermoquad/fieldboot/pkg/hwio"
	"github.com/sirupsen/logrus/hooks/test"
)

// recordingFlash records every program call
type recordingFlash struct {
	*hwio.Sim
	programs []programCall
}

type programCall struct {
	dst  uint32
	data []byte
}

func (r *recordingFlash) ProgramBlock(dst uint32, data []byte, clockKHz uint32) hwio.Status {
	r.programs = append(r.programs, programCall{dst: dst, data: append([]byte(nil), data...)})
	return r.Sim.ProgramBlock(dst, data, clockKHz)
}

// faultFlash fails the nth call of a primitive
type faultFlash struct {
	*hwio.Sim
	failPrepareAt int
	prepares      int
}

func (f *faultFlash) PrepareSectors(start, end uint32) hwio.Status {
	f.prepares++
	if f.prepares == f.failPrepareAt {
		return hwio.StatusBusy
	}
	return f.Sim.PrepareSectors(start, end)
}

func newTestImage(t *testing.T, flash hwio.Flash, g Geometry) *FlashImage {
	t.Helper()
	log, _ := test.NewNullLogger()
	return NewFlashImage(flash, g, 48000, log)
}

func newSim() *hwio.Sim {
	log, _ := test.NewNullLogger()
	return hwio.NewSim(hwio.WithSimLogger(log))
}

// expectedFlash is data padded to the block boundary with the marker
// slot forced invalid
func expectedFlash(g Geometry, data []byte) []byte {
	blocks := (uint32(len(data)) + g.BlockSize - 1) / g.BlockSize
	out := bytes.Repeat([]byte{0xFF}, int(blocks*g.BlockSize))
	copy(out, data)
	if len(out) >= int(g.MarkerOffset+4) {
		for i := uint32(0); i < 4; i++ {
			out[g.MarkerOffset+i] = byte(g.InvalidMarker >> (8 * i))
		}
	}
	return out
}

// ============================================================
// Staging Buffer Tests
// ============================================================

func TestWrite_PartialBlockStaysStaged(t *testing.T) {
	sim := newSim()
	img := newTestImage(t, sim, DefaultGeometry())
	if err := img.Erase(); err != nil {
		t.Fatalf("Erase: %v", err)
	}

	if err := img.Write(make([]byte, 100)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if img.Cursor() != 0 || img.Staged() != 100 {
		t.Errorf("cursor=%d staged=%d, want 0/100", img.Cursor(), img.Staged())
	}
	if sim.OpCount(hwio.OpProgram) != 0 {
		t.Error("partial block should not be programmed")
	}
}

func TestWrite_FullBlockFlushes(t *testing.T) {
	sim := newSim()
	rec := &recordingFlash{Sim: sim}
	img := newTestImage(t, rec, DefaultGeometry())
	img.Erase()

	data := patternImage(512 + 20)
	if err := img.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if img.Cursor() != 512 || img.Staged() != 20 {
		t.Errorf("cursor=%d staged=%d, want 512/20", img.Cursor(), img.Staged())
	}
	if len(rec.programs) != 1 || rec.programs[0].dst != 0x2000 || len(rec.programs[0].data) != 512 {
		t.Fatalf("programs = %+v", rec.programs)
	}
}

func TestWrite_FirstBlockMarkerForcedInvalid(t *testing.T) {
	g := DefaultGeometry()
	sim := newSim()
	img := newTestImage(t, sim, g)
	img.Erase()

	data := make([]byte, 1024)
	// A real image carries the valid magic in its reserved slot
	data[0x24], data[0x25], data[0x26], data[0x27] = 0xC0, 0xBA, 0xAA, 0xEC
	// Same offset in the second block is plain data
	data[512+0x24] = 0xC0

	if err := img.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if img.Bootable() {
		t.Error("image must not be bootable before finalize")
	}
	if got := sim.ReadFlash(0x2000+0x24, 4); !bytes.Equal(got, []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("marker = % X, want FF FF FF FF", got)
	}
	if got := sim.ReadFlash(0x2000+512+0x24, 1)[0]; got != 0xC0 {
		t.Errorf("second block byte = %02X, want C0", got)
	}
}

func TestWrite_RangeExceeded(t *testing.T) {
	g := DefaultGeometry()
	g.End = 0x3000
	sim := newSim()
	img := newTestImage(t, sim, g)
	if err := img.Erase(); err != nil {
		t.Fatalf("Erase: %v", err)
	}

	err := img.Write(make([]byte, 0x1000+10))
	var rangeErr *RangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("Write error = %v, want RangeError", err)
	}
	if ErrorCode(err) != CodeRange {
		t.Errorf("code = %d, want %d", ErrorCode(err), CodeRange)
	}
	if img.Cursor() != 0x1000 || img.Staged() != 0 {
		t.Errorf("cursor=%#x staged=%d, want 0x1000/0", img.Cursor(), img.Staged())
	}
	if img.Cursor()+img.Staged() > g.Limit() {
		t.Error("cursor+staged exceeds slot size")
	}
}

func TestWrite_ProgramFailureSurfaces(t *testing.T) {
	sim := newSim()
	img := newTestImage(t, sim, DefaultGeometry())
	img.Erase()

	sim.FailNext(hwio.OpProgram, hwio.StatusBusy)
	err := img.Write(make([]byte, 512))
	var primErr *PrimitiveError
	if !errors.As(err, &primErr) {
		t.Fatalf("Write error = %v, want PrimitiveError", err)
	}
	if primErr.Stage != StageProgram || primErr.Status != hwio.StatusBusy {
		t.Errorf("PrimitiveError = %+v", primErr)
	}
	if img.Cursor() != 0 {
		t.Errorf("cursor advanced to %d after failure", img.Cursor())
	}
}

// ============================================================
// Erase Tests
// ============================================================

func TestErase_ResetsState(t *testing.T) {
	g := DefaultGeometry()
	sim := newSim()
	img := newTestImage(t, sim, g)
	img.Erase()
	img.Write(patternImage(1500))

	if err := img.Erase(); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if img.Cursor() != 0 || img.Staged() != 0 {
		t.Errorf("cursor=%d staged=%d after erase", img.Cursor(), img.Staged())
	}
	if img.State() != StateAccepting {
		t.Errorf("state = %v, want accepting", img.State())
	}
	if got := sim.ReadFlash(g.Base, 1500); !bytes.Equal(got, bytes.Repeat([]byte{0xFF}, 1500)) {
		t.Error("flash not erased")
	}
}

func TestErase_VerifyBeforeDataRejected(t *testing.T) {
	sim := newSim()
	img := newTestImage(t, sim, DefaultGeometry())
	img.Erase()

	for _, sig := range [][16]byte{{}, imageSignature(DefaultGeometry(), nil)} {
		err := img.Finalize(sig)
		var mismatch *SignatureMismatchError
		if !errors.As(err, &mismatch) {
			t.Errorf("Finalize on empty image = %v, want SignatureMismatchError", err)
		}
	}
	if img.Bootable() {
		t.Error("empty image became bootable")
	}
}

func TestErase_Failures(t *testing.T) {
	tests := []struct {
		name  string
		op    hwio.Op
		stage Stage
	}{
		{"prepare", hwio.OpPrepare, StagePrepare},
		{"erase", hwio.OpErase, StageErase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := newSim()
			img := newTestImage(t, sim, DefaultGeometry())
			sim.FailNext(tt.op, hwio.StatusBusy)
			err := img.Erase()
			var primErr *PrimitiveError
			if !errors.As(err, &primErr) || primErr.Stage != tt.stage {
				t.Errorf("Erase error = %v, want %s failure", err, tt.stage)
			}
			if img.State() != StateErasing {
				t.Errorf("state = %v, want erasing", img.State())
			}
		})
	}
}

// ============================================================
// Finalize Tests
// ============================================================

func TestFinalize_CommitsMatchingImage(t *testing.T) {
	g := DefaultGeometry()
	sim := newSim()
	img := newTestImage(t, sim, g)
	img.Erase()

	data := patternImage(3000)
	img.Write(data)
	if err := img.Finalize(imageSignature(g, data)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !img.Bootable() || img.State() != StateCommitted {
		t.Errorf("bootable=%v state=%v", img.Bootable(), img.State())
	}
	if img.Cursor() != 3000 {
		t.Errorf("cursor = %d, want 3000 (tail advances by staged length)", img.Cursor())
	}

	// Everything except the marker is the image
	want := expectedFlash(g, data)
	want[0x24], want[0x25], want[0x26], want[0x27] = 0xC0, 0xBA, 0xAA, 0xEC
	if got := sim.ReadFlash(g.Base, len(want)); !bytes.Equal(got, want) {
		t.Error("committed flash differs from image")
	}
}

func TestFinalize_SignatureWindow(t *testing.T) {
	g := DefaultGeometry()
	sim := newSim()
	img := newTestImage(t, sim, g)
	img.Erase()
	img.Write(patternImage(0x31))
	img.Finalize([16]byte{})

	start, end := img.SignatureWindow()
	if start != 0x2030 || end != 0x2040 {
		t.Errorf("window = [%#x, %#x), want [0x2030, 0x2040)", start, end)
	}
}

func TestFinalize_Mismatch(t *testing.T) {
	g := DefaultGeometry()
	sim := newSim()
	img := newTestImage(t, sim, g)
	img.Erase()

	data := patternImage(2048)
	img.Write(data)
	sig := imageSignature(g, data)
	sig[0] ^= 0x01

	err := img.Finalize(sig)
	if ErrorCode(err) != CodeSignatureMismatch {
		t.Fatalf("Finalize = %v, want code 4", err)
	}
	if img.Bootable() {
		t.Error("mismatched image became bootable")
	}
	if img.State() != StateAccepting {
		t.Errorf("state = %v, want accepting", img.State())
	}
}

func TestFinalize_SingleBitCorruptionDetected(t *testing.T) {
	rng := newFuzzRng(t)
	g := DefaultGeometry()
	rounds := getFuzzRounds() / 4

	for round := 0; round < rounds; round++ {
		data := randomImage(rng, 0x40+rng.Intn(4096))
		sig := imageSignature(g, data)

		// Flip one bit anywhere in the signed range
		pos := int(g.SignatureOffset) + rng.Intn(len(data)-int(g.SignatureOffset))
		corrupted := append([]byte(nil), data...)
		corrupted[pos] ^= 1 << uint(rng.Intn(8))

		sim := newSim()
		img := newTestImage(t, sim, g)
		img.Erase()
		img.Write(corrupted)
		err := img.Finalize(sig)
		if ErrorCode(err) != CodeSignatureMismatch {
			t.Fatalf("round %d: flip at %d accepted (err=%v)", round, pos, err)
		}
		if img.Bootable() {
			t.Fatalf("round %d: corrupted image bootable", round)
		}
	}
}

func TestFinalize_PrimitiveFailureCodes(t *testing.T) {
	g := DefaultGeometry()

	t.Run("tail prepare", func(t *testing.T) {
		sim := newSim()
		img := newTestImage(t, sim, g)
		img.Erase()
		img.Write(patternImage(100))
		sim.FailNext(hwio.OpPrepare, hwio.StatusBusy)
		if code := ErrorCode(img.Finalize([16]byte{})); code != CodeBlockPrepare {
			t.Errorf("code = %d, want %d", code, CodeBlockPrepare)
		}
	})

	t.Run("tail program", func(t *testing.T) {
		sim := newSim()
		img := newTestImage(t, sim, g)
		img.Erase()
		img.Write(patternImage(100))
		sim.FailNext(hwio.OpProgram, hwio.StatusBusy)
		if code := ErrorCode(img.Finalize([16]byte{})); code != CodeBlockProgram {
			t.Errorf("code = %d, want %d", code, CodeBlockProgram)
		}
	})

	// Block-aligned images skip the tail flush, so the first prepare is
	// the vector table one
	data := patternImage(1024)
	sig := imageSignature(g, data)

	t.Run("vector prepare", func(t *testing.T) {
		sim := newSim()
		img := newTestImage(t, sim, g)
		img.Erase()
		img.Write(data)
		sim.FailNext(hwio.OpPrepare, hwio.StatusBusy)
		if code := ErrorCode(img.Finalize(sig)); code != CodeVectorPrepare {
			t.Errorf("code = %d, want %d", code, CodeVectorPrepare)
		}
		if img.Bootable() {
			t.Error("bootable after failed commit")
		}
	})

	t.Run("vector erase", func(t *testing.T) {
		sim := newSim()
		img := newTestImage(t, sim, g)
		img.Erase()
		img.Write(data)
		sim.FailNext(hwio.OpErase, hwio.StatusBusy)
		if code := ErrorCode(img.Finalize(sig)); code != CodeVectorErase {
			t.Errorf("code = %d, want %d", code, CodeVectorErase)
		}
	})

	t.Run("vector reprepare", func(t *testing.T) {
		sim := newSim()
		flash := &faultFlash{Sim: sim}
		img := newTestImage(t, flash, g)
		img.Erase()
		img.Write(data)
		// Erase and two block writes used three prepares; the commit's
		// second prepare is the fifth
		flash.failPrepareAt = flash.prepares + 2
		if code := ErrorCode(img.Finalize(sig)); code != CodeVectorReprepare {
			t.Errorf("code = %d, want %d", code, CodeVectorReprepare)
		}
		if img.Bootable() {
			t.Error("bootable with erased vector table")
		}
	})

	t.Run("vector program", func(t *testing.T) {
		sim := newSim()
		img := newTestImage(t, sim, g)
		img.Erase()
		img.Write(data)
		sim.FailNext(hwio.OpProgram, hwio.StatusBusy)
		if code := ErrorCode(img.Finalize(sig)); code != CodeVectorProgram {
			t.Errorf("code = %d, want %d", code, CodeVectorProgram)
		}
		if img.Bootable() {
			t.Error("bootable after failed vector program")
		}
	})
}

// ============================================================
// Property Tests
// ============================================================

func TestProperty_FlashEqualsPaddedImage(t *testing.T) {
	rng := newFuzzRng(t)
	g := DefaultGeometry()
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		size := rng.Intn(6*int(g.BlockSize) + 1)
		data := randomImage(rng, size)

		sim := newSim()
		img := newTestImage(t, sim, g)
		if err := img.Erase(); err != nil {
			t.Fatalf("round %d: Erase: %v", round, err)
		}
		for off := 0; off < len(data); {
			n := 1 + rng.Intn(62)
			if off+n > len(data) {
				n = len(data) - off
			}
			if err := img.Write(data[off : off+n]); err != nil {
				t.Fatalf("round %d: Write: %v", round, err)
			}
			off += n
		}
		// Wrong signature still flushes the tail
		_ = img.Finalize([16]byte{0xAA})

		if img.Cursor() != uint32(size) {
			t.Fatalf("round %d: cursor = %d, want %d", round, img.Cursor(), size)
		}
		want := expectedFlash(g, data)
		got := sim.ReadFlash(g.Base, len(want))
		if !bytes.Equal(got, want) {
			t.Fatalf("round %d (size %d): flash differs from padded image", round, size)
		}
		if rest := sim.ReadFlash(g.Base+uint32(len(want)), 512); !bytes.Equal(rest, bytes.Repeat([]byte{0xFF}, 512)) {
			t.Fatalf("round %d: bytes written past the image", round)
		}
	}
}

func TestProperty_MarkerInvalidUntilCommit(t *testing.T) {
	rng := newFuzzRng(t)
	g := DefaultGeometry()
	rounds := getFuzzRounds() / 10
	if rounds < 1 {
		rounds = 1
	}

	for round := 0; round < rounds; round++ {
		data := randomImage(rng, 0x40+rng.Intn(5000))
		data[0x24], data[0x25], data[0x26], data[0x27] = 0xC0, 0xBA, 0xAA, 0xEC

		sim := newSim()
		img := newTestImage(t, sim, g)

		// Every completed flash operation is a point where power could
		// be lost
		var observed []bool
		sim.SetFlashObserver(func(op hwio.Op, addr uint32) {
			observed = append(observed, img.Bootable())
		})

		img.Erase()
		for off := 0; off < len(data); off += 62 {
			end := off + 62
			if end > len(data) {
				end = len(data)
			}
			img.Write(data[off:end])
		}
		if err := img.Finalize(imageSignature(g, data)); err != nil {
			t.Fatalf("round %d: Finalize: %v", round, err)
		}

		last := len(observed) - 1
		for i, valid := range observed[:last] {
			if valid {
				t.Fatalf("round %d: marker valid at operation %d of %d", round, i, len(observed))
			}
		}
		if !observed[last] {
			t.Fatalf("round %d: marker not valid after commit", round)
		}
	}
}
