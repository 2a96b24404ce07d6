// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hwio

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/fieldboot/pkg/flashsig"
	"github.com/Thermoquad/fieldboot/pkg/irq"
	"github.com/boljen/go-bitmap"
	"github.com/sirupsen/logrus"
)

// Op identifies a flash primitive for fault injection and observation
type Op int

// Flash primitives
const (
	OpPrepare Op = iota
	OpErase
	OpProgram
)

// String returns the primitive name
func (o Op) String() string {
	switch o {
	case OpPrepare:
		return "prepare"
	case OpErase:
		return "erase"
	case OpProgram:
		return "program"
	default:
		return "unknown"
	}
}

// Simulation defaults
const (
	DefaultFlashSize         = 0x20000
	DefaultSectorSize        = 0x1000
	DefaultClockRate         = 48000000
	DefaultFIFOSize          = 16
	DefaultBootloaderVersion = 0x00010000

	// bootloaderVersionOffset is the reserved vector table slot holding
	// the bootloader's own version word.
	bootloaderVersionOffset = 0x24
	programAlign            = 256
	shiftInterval           = time.Millisecond
)

// SimOption configures a Sim
type SimOption func(*Sim)

// WithFlashSize sets the flash size in bytes
func WithFlashSize(size uint32) SimOption {
	return func(s *Sim) {
		s.flash = make([]byte, size)
	}
}

// WithSectorSize sets the erase sector size in bytes
func WithSectorSize(size uint32) SimOption {
	return func(s *Sim) {
		s.sectorSize = size
	}
}

// WithClockRate sets the simulated core clock in Hz
func WithClockRate(hz uint32) SimOption {
	return func(s *Sim) {
		s.clockRate = hz
	}
}

// WithWire sets where bytes shifted out of the UART go
func WithWire(w io.Writer) SimOption {
	return func(s *Sim) {
		s.wire = w
	}
}

// WithUSBConnected sets the initial USB connection state
func WithUSBConnected(connected bool) SimOption {
	return func(s *Sim) {
		s.usbConnected = connected
	}
}

// WithBootloaderVersion sets the version word in the bootloader's
// vector table
func WithBootloaderVersion(v uint32) SimOption {
	return func(s *Sim) {
		s.bootVersion = v
	}
}

// WithSimLogger sets the logger
func WithSimLogger(log logrus.FieldLogger) SimOption {
	return func(s *Sim) {
		s.log = log
	}
}

// Sim is an in-memory HardwareIo. Flash behaves like NOR with IAP
// semantics: erase sets bytes to 0xFF, program can only clear bits, and
// every erase or program needs a preceding prepare of the affected
// sectors.
type Sim struct {
	mu sync.Mutex

	flash      []byte
	sectorSize uint32
	prepared   bitmap.Bitmap
	faults     map[Op]Status
	observer   func(op Op, addr uint32)
	counts     map[Op]int

	clockRate uint32
	prescale  uint32
	match     uint32
	timerOn   bool

	fifo     []byte
	fifoSize int
	txIRQ    bool
	rx       []byte
	wire     io.Writer

	led          uint16
	watchdogMs   uint32
	ispReinvoked bool
	usbConnected bool
	bootVersion  uint32

	ctrl *irq.Controller
	log  logrus.FieldLogger
}

// NewSim creates a simulation with erased flash
func NewSim(opts ...SimOption) *Sim {
	s := &Sim{
		sectorSize:   DefaultSectorSize,
		clockRate:    DefaultClockRate,
		fifoSize:     DefaultFIFOSize,
		usbConnected: true,
		bootVersion:  DefaultBootloaderVersion,
		faults:       make(map[Op]Status),
		counts:       make(map[Op]int),
		log:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.flash == nil {
		s.flash = make([]byte, DefaultFlashSize)
	}
	for i := range s.flash {
		s.flash[i] = 0xFF
	}
	binary.LittleEndian.PutUint32(s.flash[bootloaderVersionOffset:], s.bootVersion)
	s.prepared = bitmap.New(s.numSectors())
	return s
}

// Attach connects the simulation's interrupt lines to ctrl
func (s *Sim) Attach(ctrl *irq.Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl = ctrl
}

func (s *Sim) raise(l irq.Line) {
	if s.ctrl != nil {
		s.ctrl.Raise(l)
	}
}

func (s *Sim) numSectors() int {
	return int(uint32(len(s.flash)) / s.sectorSize)
}

// ============================================================
// Flash
// ============================================================

// FailNext makes the next call of op return status without touching flash
func (s *Sim) FailNext(op Op, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = status
}

// SetFlashObserver installs fn, called after every completed erase or
// program with the affected address. fn may read flash.
func (s *Sim) SetFlashObserver(fn func(op Op, addr uint32)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// OpCount returns how many times op has completed successfully
func (s *Sim) OpCount(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[op]
}

func (s *Sim) takeFault(op Op) (Status, bool) {
	st, ok := s.faults[op]
	if ok {
		delete(s.faults, op)
	}
	return st, ok
}

func (s *Sim) validRange(start, end uint32) bool {
	return start <= end && int(end) < s.numSectors()
}

// PrepareSectors unlocks sectors start..end for the next operation
func (s *Sim) PrepareSectors(start, end uint32) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.takeFault(OpPrepare); ok {
		return st
	}
	if !s.validRange(start, end) {
		return StatusInvalidSector
	}
	for i := start; i <= end; i++ {
		s.prepared.Set(int(i), true)
	}
	s.counts[OpPrepare]++
	return StatusSuccess
}

// relock clears every prepared sector, as the ROM does after an operation
func (s *Sim) relock() {
	for i := 0; i < s.numSectors(); i++ {
		s.prepared.Set(i, false)
	}
}

func (s *Sim) allPrepared(start, end uint32) bool {
	for i := start; i <= end; i++ {
		if !s.prepared.Get(int(i)) {
			return false
		}
	}
	return true
}

// EraseSectors erases sectors start..end to 0xFF
func (s *Sim) EraseSectors(start, end uint32, clockKHz uint32) Status {
	s.mu.Lock()
	st := s.erase(start, end)
	observer := s.observer
	s.mu.Unlock()

	if st.OK() && observer != nil {
		observer(OpErase, start*s.sectorSize)
	}
	return st
}

func (s *Sim) erase(start, end uint32) Status {
	if st, ok := s.takeFault(OpErase); ok {
		return st
	}
	if !s.validRange(start, end) {
		return StatusInvalidSector
	}
	if !s.allPrepared(start, end) {
		return StatusNotPrepared
	}
	lo := start * s.sectorSize
	hi := (end + 1) * s.sectorSize
	for i := lo; i < hi; i++ {
		s.flash[i] = 0xFF
	}
	s.relock()
	s.counts[OpErase]++
	s.log.WithFields(logrus.Fields{"start": start, "end": end}).Debug("sim: erase sectors")
	return StatusSuccess
}

// ProgramBlock ANDs data into flash at dst
func (s *Sim) ProgramBlock(dst uint32, data []byte, clockKHz uint32) Status {
	s.mu.Lock()
	st := s.program(dst, data)
	observer := s.observer
	s.mu.Unlock()

	if st.OK() && observer != nil {
		observer(OpProgram, dst)
	}
	return st
}

func (s *Sim) program(dst uint32, data []byte) Status {
	if st, ok := s.takeFault(OpProgram); ok {
		return st
	}
	switch len(data) {
	case 256, 512, 1024, 4096:
	default:
		return StatusCountError
	}
	if dst%programAlign != 0 {
		return StatusDstAddrError
	}
	end := dst + uint32(len(data))
	if end > uint32(len(s.flash)) {
		return StatusDstAddrNotMapped
	}
	if !s.allPrepared(dst/s.sectorSize, (end-1)/s.sectorSize) {
		return StatusNotPrepared
	}
	for i, b := range data {
		s.flash[dst+uint32(i)] &= b
	}
	s.relock()
	s.counts[OpProgram]++
	s.log.WithFields(logrus.Fields{"dst": dst, "len": len(data)}).Debug("sim: program block")
	return StatusSuccess
}

// ReadFlash returns a copy of n bytes at addr, clipped to the flash size
func (s *Sim) ReadFlash(addr uint32, n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(addr) >= len(s.flash) || n <= 0 {
		return nil
	}
	end := int(addr) + n
	if end > len(s.flash) {
		end = len(s.flash)
	}
	return append([]byte(nil), s.flash[addr:end]...)
}

// ReadSignature runs the signature engine over [start, end)
func (s *Sim) ReadSignature(start, end uint32) [16]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if end <= start || int(start) >= len(s.flash) {
		return [16]byte{}
	}
	if int(end) > len(s.flash) {
		end = uint32(len(s.flash))
	}
	return flashsig.Sum(s.flash[start:end])
}

// Snapshot returns a copy of the whole flash array
func (s *Sim) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.flash...)
}

// LoadFlash overwrites flash at addr with data, bypassing IAP rules
func (s *Sim) LoadFlash(addr uint32, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(addr) < len(s.flash) {
		copy(s.flash[addr:], data)
	}
}

// ============================================================
// UART
// ============================================================

// UARTEmitByte places b in the transmit FIFO
func (s *Sim) UARTEmitByte(b byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.fifo) >= s.fifoSize {
		return false
	}
	s.fifo = append(s.fifo, b)
	return true
}

// UARTSetTxInterrupt enables or disables the transmit-empty interrupt
func (s *Sim) UARTSetTxInterrupt(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txIRQ = enabled
}

// TxInterruptEnabled reports the transmit-empty interrupt enable
func (s *Sim) TxInterruptEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txIRQ
}

// UARTReadByte pops one received byte
func (s *Sim) UARTReadByte() (byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rx) == 0 {
		return 0, false
	}
	b := s.rx[0]
	s.rx = s.rx[1:]
	return b, true
}

// InjectRX queues bytes as if received on the wire
func (s *Sim) InjectRX(data []byte) {
	s.mu.Lock()
	s.rx = append(s.rx, data...)
	s.mu.Unlock()
	s.raise(irq.LineUART)
}

// ShiftOut moves the transmit FIFO onto the wire. The transmit-empty
// interrupt fires when it is enabled. It returns the bytes shifted.
func (s *Sim) ShiftOut() []byte {
	s.mu.Lock()
	out := append([]byte(nil), s.fifo...)
	s.fifo = s.fifo[:0]
	wire := s.wire
	fire := s.txIRQ
	s.mu.Unlock()

	if len(out) > 0 && wire != nil {
		if _, err := wire.Write(out); err != nil {
			s.log.WithError(err).Warn("sim: uart wire write failed")
		}
	}
	if fire {
		s.raise(irq.LineUART)
	}
	return out
}

// ============================================================
// Timer, LED, watchdog, ISP, USB
// ============================================================

// SetLEDIntensity records the LED PWM compare value
func (s *Sim) SetLEDIntensity(value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.led = value
}

// LEDIntensity returns the last LED PWM compare value
func (s *Sim) LEDIntensity() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.led
}

// SystemClockRate returns the simulated core clock in Hz
func (s *Sim) SystemClockRate() uint32 {
	return s.clockRate
}

// StartTimer starts the periodic timer
func (s *Sim) StartTimer(prescale, match uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prescale = prescale
	s.match = match
	s.timerOn = true
}

// TimerPeriod returns the period of the running timer, or zero
func (s *Sim) TimerPeriod() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.timerOn || s.clockRate == 0 {
		return 0
	}
	ticks := uint64(s.prescale+1) * uint64(s.match+1)
	return time.Duration(ticks * uint64(time.Second) / uint64(s.clockRate))
}

// Tick fires the timer interrupt once
func (s *Sim) Tick() {
	s.raise(irq.LineTimer)
}

// ArmWatchdog records a pending watchdog reset
func (s *Sim) ArmWatchdog(ms uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchdogMs = ms
	s.log.WithField("timeout_ms", ms).Info("sim: watchdog armed")
}

// WatchdogTimeout returns the armed watchdog timeout, zero if unarmed
func (s *Sim) WatchdogTimeout() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchdogMs
}

// ReinvokeISP records a restart into ROM ISP mode
func (s *Sim) ReinvokeISP() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ispReinvoked = true
	s.log.Info("sim: reinvoke ISP")
}

// ISPReinvoked reports whether ReinvokeISP was called
func (s *Sim) ISPReinvoked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ispReinvoked
}

// USBConnected reports the simulated connection state
func (s *Sim) USBConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usbConnected
}

// SetUSBConnected changes the simulated connection state
func (s *Sim) SetUSBConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usbConnected = connected
}

// RunClock drives the timer interrupt and the UART shift register in real
// time until ctx is done.
func (s *Sim) RunClock(ctx context.Context) error {
	shift := time.NewTicker(shiftInterval)
	defer shift.Stop()

	var (
		timer  *time.Ticker
		timerC <-chan time.Time
		period time.Duration
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if p := s.TimerPeriod(); p != period && p > 0 {
			period = p
			if timer == nil {
				timer = time.NewTicker(period)
				timerC = timer.C
			} else {
				timer.Reset(period)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-shift.C:
			s.ShiftOut()
		case <-timerC:
			s.Tick()
		}
	}
}

var _ HardwareIo = (*Sim)(nil)
