// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Thermoquad/fieldboot/pkg/flashsig"
	"github.com/Thermoquad/fieldboot/pkg/framing"
	"github.com/Thermoquad/fieldboot/pkg/hwio"
	"github.com/Thermoquad/fieldboot/pkg/irq"
	"github.com/Thermoquad/fieldboot/pkg/settings"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 200
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 200
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// testRig bundles a device with its simulated hardware
type testRig struct {
	dev   *Device
	sim   *hwio.Sim
	store *settings.MemStore
	ctrl  *irq.Controller
	wire  *bytes.Buffer
	hook  *test.Hook
}

func newTestRig(t *testing.T, opts ...Option) *testRig {
	t.Helper()
	return newTestRigWith(t, nil, opts...)
}

// newTestRigWith builds a rig whose device talks to hw when non-nil,
// otherwise to the rig's simulation directly.
func newTestRigWith(t *testing.T, wrap func(*hwio.Sim) hwio.HardwareIo, opts ...Option) *testRig {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.TraceLevel)

	wire := &bytes.Buffer{}
	ctrl := irq.NewController()
	sim := hwio.NewSim(hwio.WithWire(wire), hwio.WithSimLogger(log))
	sim.Attach(ctrl)
	store := settings.NewMemStore(settings.Settings{Version: 5})

	var hw hwio.HardwareIo = sim
	if wrap != nil {
		hw = wrap(sim)
	}
	opts = append([]Option{WithLogger(log), WithReadyDelay(0)}, opts...)
	dev := New(hw, store, ctrl, opts...)

	return &testRig{dev: dev, sim: sim, store: store, ctrl: ctrl, wire: wire, hook: hook}
}

// flushUART shifts the transmit path onto the wire until it is idle
func (r *testRig) flushUART() {
	for i := 0; i < 10000; i++ {
		out := r.sim.ShiftOut()
		r.ctrl.Service()
		if len(out) == 0 && r.dev.Transmitter().Buffered() == 0 {
			return
		}
	}
}

// frames decodes everything on the wire so far
func (r *testRig) frames(t *testing.T) []*framing.Frame {
	t.Helper()
	r.flushUART()
	frames, errs := framing.NewDecoder().Decode(r.wire.Bytes())
	if len(errs) != 0 {
		t.Fatalf("decode errors: %v", errs)
	}
	return frames
}

// send runs one feature report through the dispatcher
func (r *testRig) send(buf []byte) {
	r.dev.HandleFeatureReport(buf)
}

// writeImage streams data through FLASH_FIRMWARE in chunks of size
func (r *testRig) writeImage(t *testing.T, data []byte, size int) {
	t.Helper()
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		req := make([]byte, 64)
		req[0] = 0x92
		req[1] = byte(end - off)
		copy(req[2:], data[off:end])
		r.send(req)
	}
}

// imageSignature computes the expected signature of an image the way the
// host tooling does: the window after the vector table head, padded with
// erased bytes to the signature word.
func imageSignature(g Geometry, data []byte) [16]byte {
	end := flashsig.AlignUp(uint32(len(data)))
	if end <= g.SignatureOffset {
		return [16]byte{}
	}
	padded := bytes.Repeat([]byte{0xFF}, int(end))
	copy(padded, data)
	return flashsig.Sum(padded[g.SignatureOffset:end])
}

// randomImage returns n random bytes
func randomImage(rng *rand.Rand, n int) []byte {
	data := make([]byte, n)
	rng.Read(data)
	return data
}

// patternImage returns n deterministic bytes
func patternImage(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*31 + i>>8)
	}
	return data
}

func sigRequest(op byte, sig [16]byte) []byte {
	req := make([]byte, 64)
	req[0] = op
	req[1] = 16
	copy(req[2:], sig[:])
	return req
}

func reportStatus(t *testing.T, r *testRig) uint16 {
	t.Helper()
	rep := r.dev.Report()
	if rep[0] != 0x94 || rep[1] != 2 {
		t.Fatalf("report is not a status report: % X", rep[:4])
	}
	return uint16(rep[2]) | uint16(rep[3])<<8
}
