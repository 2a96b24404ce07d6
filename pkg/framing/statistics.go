// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import (
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	DecodeErrors    uint64
	HeartbeatFrames uint64
	ProgramFrames   uint64
	ProgramBytes    uint64
	SignatureFrames uint64
	TextFrames      uint64
	OtherFrames     uint64

	// Heartbeat tracking
	LastCounter     uint32
	HasCounter      bool
	MissedHeartbeat uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a frame or a decode error
func (s *Statistics) Update(frame *Frame, decodeErr error) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		s.DecodeErrors++
		return
	}
	if frame == nil {
		return
	}

	switch {
	case frame.tag == TagHeartbeat:
		s.HeartbeatFrames++
		counter, err := ParseHeartbeat(frame.payload)
		if err != nil {
			s.DecodeErrors++
			return
		}
		// Counter gaps mean heartbeat frames were lost to transmit overflow
		if s.HasCounter && counter > s.LastCounter+1 {
			s.MissedHeartbeat += uint64(counter - s.LastCounter - 1)
		}
		s.LastCounter = counter
		s.HasCounter = true
	case frame.tag == TagProgram:
		s.ProgramFrames++
		s.ProgramBytes += uint64(len(frame.payload))
	case frame.tag == TagSignature:
		s.SignatureFrames++
	case isPrintable(frame.Body()):
		s.TextFrames++
	default:
		s.OtherFrames++
	}
}

// CalculateRates updates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.DecodeErrors) / elapsed
	}
}

// Reset resets all statistics
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()
	elapsed := time.Since(s.StartTime)

	return fmt.Sprintf(`Statistics (%.0fs elapsed):
  Total Frames:    %d
  Decode Errors:   %d
  Heartbeats:      %d (last counter %d, missed %d)
  Program Data:    %d frames, %d bytes
  Signatures:      %d
  Text:            %d
  Other:           %d
  Frame Rate:      %.1f frames/s
  Error Rate:      %.2f errors/s
`,
		elapsed.Seconds(),
		s.TotalFrames,
		s.DecodeErrors,
		s.HeartbeatFrames, s.LastCounter, s.MissedHeartbeat,
		s.ProgramFrames, s.ProgramBytes,
		s.SignatureFrames,
		s.TextFrames,
		s.OtherFrames,
		s.FrameRate,
		s.ErrorRate,
	)
}
