// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package firmware loads firmware images for the second program slot and
// computes the signature the bootloader checks them against.
package firmware

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Thermoquad/fieldboot/pkg/flashsig"
	"github.com/marcinbor85/gohex"
)

// Image slot defaults
const (
	DefaultBase  = 0x2000
	DefaultLimit = 0x20000 - DefaultBase

	// SignatureOffset is where the signed range starts in the image. The
	// vector table head before it holds the boot marker.
	SignatureOffset = 0x30
)

// Format is an image file format
type Format int

// Image formats
const (
	FormatBinary Format = iota
	FormatIntelHex
)

// String returns the format name
func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatIntelHex:
		return "ihex"
	default:
		return "unknown"
	}
}

// DetectFormat picks the format from a file extension
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex", ".ihx":
		return FormatIntelHex
	default:
		return FormatBinary
	}
}

// Image is a firmware image linked for the slot at Base
type Image struct {
	Name string
	Base uint32
	Data []byte
}

// Load reads an image file. Intel HEX images must lie at or above base.
func Load(path string, base uint32) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, err := Parse(f, DetectFormat(path), base)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.Name = filepath.Base(path)
	return img, nil
}

// Parse reads an image in the given format
func Parse(r io.Reader, format Format, base uint32) (*Image, error) {
	switch format {
	case FormatBinary:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		return &Image{Base: base, Data: data}, nil

	case FormatIntelHex:
		mem := gohex.NewMemory()
		if err := mem.ParseIntelHex(r); err != nil {
			return nil, fmt.Errorf("failed to parse intel hex: %w", err)
		}
		segments := mem.GetDataSegments()
		if len(segments) == 0 {
			return nil, fmt.Errorf("intel hex has no data")
		}
		end := uint32(0)
		for _, s := range segments {
			if s.Address < base {
				return nil, fmt.Errorf("segment at 0x%08X is below image base 0x%08X", s.Address, base)
			}
			if e := s.Address + uint32(len(s.Data)); e > end {
				end = e
			}
		}
		return &Image{Base: base, Data: mem.ToBinary(base, end-base, 0xFF)}, nil

	default:
		return nil, fmt.Errorf("unsupported image format %d", format)
	}
}

// Size returns the image length in bytes
func (img *Image) Size() int {
	return len(img.Data)
}

// Validate checks the image fits a slot of limit bytes and reaches past
// the unsigned vector table head.
func (img *Image) Validate(limit uint32) error {
	if len(img.Data) <= SignatureOffset {
		return fmt.Errorf("image of %d bytes is too small", len(img.Data))
	}
	if uint32(len(img.Data)) > limit {
		return fmt.Errorf("image of %d bytes exceeds slot size %d", len(img.Data), limit)
	}
	return nil
}

// Signature returns the expected flash signature of the image
func (img *Image) Signature() [flashsig.Size]byte {
	return Signature(img.Data)
}

// Chunks splits the image into pieces of at most size bytes
func (img *Image) Chunks(size int) [][]byte {
	if size <= 0 {
		return nil
	}
	var chunks [][]byte
	for off := 0; off < len(img.Data); off += size {
		end := off + size
		if end > len(img.Data) {
			end = len(img.Data)
		}
		chunks = append(chunks, img.Data[off:end])
	}
	return chunks
}

// Signature computes the signature the flash engine produces over an image
// once programmed: the range from SignatureOffset to the end of the image
// rounded up to a flash word, with erased padding.
func Signature(data []byte) [flashsig.Size]byte {
	end := flashsig.AlignUp(uint32(len(data)))
	if end <= SignatureOffset {
		return [flashsig.Size]byte{}
	}
	padded := bytes.Repeat([]byte{0xFF}, int(end))
	copy(padded, data)
	return flashsig.Sum(padded[SignatureOffset:end])
}

// WriteHex writes data located at base as Intel HEX
func WriteHex(w io.Writer, base uint32, data []byte) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(base, data); err != nil {
		return fmt.Errorf("failed to add binary: %w", err)
	}
	if err := mem.DumpIntelHex(w, 16); err != nil {
		return fmt.Errorf("failed to write intel hex: %w", err)
	}
	return nil
}
