// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framing

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
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

// randomBody builds tag||payload biased towards the special bytes
func randomBody(rng *rand.Rand) []byte {
	special := []byte{StartByte, EndByte, EscByte}
	body := make([]byte, 1+rng.Intn(MaxPayloadSize))
	for i := range body {
		if rng.Intn(4) == 0 {
			body[i] = special[rng.Intn(len(special))]
		} else {
			body[i] = byte(rng.Intn(256))
		}
	}
	return body
}

func TestFuzz_EncodeDecodeRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	d := NewDecoder()

	for round := 0; round < getFuzzRounds(); round++ {
		body := randomBody(rng)
		encoded := EncodeFrame(body[0], body[1:])

		frames, errs := d.Decode(encoded)
		if len(errs) != 0 || len(frames) != 1 {
			t.Fatalf("round %d: got %d frames, errors %v for body % X", round, len(frames), errs, body)
		}
		if !bytes.Equal(frames[0].Body(), body) {
			t.Fatalf("round %d: body mismatch\n got  % X\n want % X", round, frames[0].Body(), body)
		}
	}
}

func TestFuzz_UnescapeInvertsEscape(t *testing.T) {
	rng := newFuzzRng(t)

	for round := 0; round < getFuzzRounds(); round++ {
		body := randomBody(rng)
		escaped := EscapeBytes(body)

		// Inside the escaped stream no framing byte appears unescaped
		for i := 0; i < len(escaped); i++ {
			if escaped[i] == EscByte {
				i++
				continue
			}
			if escaped[i] == StartByte || escaped[i] == EndByte {
				t.Fatalf("round %d: unescaped framing byte at %d", round, i)
			}
		}

		unescaped, err := UnescapeBytes(escaped)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if !bytes.Equal(unescaped, body) {
			t.Fatalf("round %d: round trip mismatch", round)
		}
	}
}

func TestFuzz_NoEscapesWithoutSpecialBytes(t *testing.T) {
	rng := newFuzzRng(t)

	for round := 0; round < getFuzzRounds(); round++ {
		body := make([]byte, 1+rng.Intn(64))
		for i := range body {
			b := byte(rng.Intn(256))
			for NeedsEscape(b) {
				b = byte(rng.Intn(256))
			}
			body[i] = b
		}
		encoded := EncodeFrame(body[0], body[1:])
		if len(encoded) != len(body)+2 {
			t.Fatalf("round %d: encoded %d bytes for %d byte body", round, len(encoded), len(body))
		}
		if !bytes.Equal(encoded[1:len(encoded)-1], body) {
			t.Fatalf("round %d: body altered without special bytes", round)
		}
	}
}

func TestFuzz_DecoderSurvivesGarbage(t *testing.T) {
	rng := newFuzzRng(t)
	d := NewDecoder()

	for round := 0; round < getFuzzRounds(); round++ {
		garbage := make([]byte, rng.Intn(300))
		rng.Read(garbage)
		d.Decode(garbage)
		// Consume a dangling escape left by the garbage
		d.Decode([]byte{0x00})

		// A clean frame after arbitrary garbage always decodes
		frames, _ := d.Decode(EncodeFrame('Y', nil))
		if len(frames) == 0 || frames[len(frames)-1].Tag() != 'Y' {
			t.Fatalf("round %d: decoder did not resynchronise", round)
		}
	}
}
