// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package flashsig computes the 128-bit flash signature produced by the
// flash controller's signature engine. The signature is a linear feedback
// shift register folded over every 16-byte flash word in a range.
package flashsig

import "encoding/binary"

// Size is the signature length in bytes
const Size = 16

// WordSize is the flash word width consumed per step
const WordSize = 16

// Signer accumulates a flash signature word by word
type Signer struct {
	lo, hi uint64
}

// Reset clears the accumulated signature
func (s *Signer) Reset() {
	s.lo, s.hi = 0, 0
}

// WriteWord folds one 16-byte flash word into the signature
func (s *Signer) WriteWord(word [WordSize]byte) {
	fb := (s.lo ^ s.lo>>2 ^ s.lo>>27 ^ s.lo>>29) & 1
	s.lo = s.lo>>1 | s.hi<<63
	s.hi = s.hi>>1 | fb<<63
	s.lo ^= binary.LittleEndian.Uint64(word[0:8])
	s.hi ^= binary.LittleEndian.Uint64(word[8:16])
}

// Write folds data into the signature. A trailing partial word is padded
// with erased bytes (0xFF).
func (s *Signer) Write(data []byte) (int, error) {
	n := len(data)
	for len(data) > 0 {
		var word [WordSize]byte
		for i := range word {
			word[i] = 0xFF
		}
		copy(word[:], data)
		s.WriteWord(word)
		if len(data) < WordSize {
			break
		}
		data = data[WordSize:]
	}
	return n, nil
}

// Sum returns the signature in little-endian byte order
func (s *Signer) Sum() [Size]byte {
	var out [Size]byte
	binary.LittleEndian.PutUint64(out[0:8], s.lo)
	binary.LittleEndian.PutUint64(out[8:16], s.hi)
	return out
}

// Sum computes the signature of data
func Sum(data []byte) [Size]byte {
	var s Signer
	_, _ = s.Write(data)
	return s.Sum()
}

// AlignUp rounds addr up to the next multiple of WordSize
func AlignUp(addr uint32) uint32 {
	return (addr + WordSize - 1) &^ (WordSize - 1)
}
