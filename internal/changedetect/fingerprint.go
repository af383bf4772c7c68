// Package changedetect decides whether captured screen regions changed since they were last seen.
package changedetect

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/cespare/xxhash/v2"
	"github.com/corona10/goimagehash"
)

// Fingerprint is a 64-bit content digest. It doubles as the recognition cache key.
type Fingerprint uint64

func (f Fingerprint) String() string { return fmt.Sprintf("%016x", uint64(f)) }

// Fingerprinter reduces a bitmap to a Fingerprint and compares two of them.
type Fingerprinter interface {
	Sum(img image.Image) Fingerprint
	Same(a, b Fingerprint) bool
}

// StrideHasher hashes every Stride-th row and column with xxhash. Changes that fall
// entirely between sampled pixels are missed; identical frames always match.
type StrideHasher struct {
	Stride int
}

// NewStrideHasher returns a hasher sampling every stride pixels (minimum 1).
func NewStrideHasher(stride int) StrideHasher {
	return StrideHasher{Stride: max(stride, 1)}
}

// Sum implements Fingerprinter.
func (h StrideHasher) Sum(img image.Image) Fingerprint {
	stride := max(h.Stride, 1)
	b := img.Bounds()
	d := xxhash.New()

	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[:8], uint64(b.Dx()))
	binary.LittleEndian.PutUint64(hdr[8:], uint64(b.Dy()))
	_, _ = d.Write(hdr[:])

	row := make([]byte, 0, 4*(b.Dx()/stride+1))
	if rgba, ok := img.(*image.RGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y += stride {
			row = row[:0]
			off := rgba.PixOffset(b.Min.X, y)
			for x := 0; x < b.Dx(); x += stride {
				i := off + 4*x
				row = append(row, rgba.Pix[i:i+4]...)
			}
			_, _ = d.Write(row)
		}
		return Fingerprint(d.Sum64())
	}

	for y := b.Min.Y; y < b.Max.Y; y += stride {
		row = row[:0]
		for x := b.Min.X; x < b.Max.X; x += stride {
			r, g, bl, a := img.At(x, y).RGBA()
			row = append(row, byte(r>>8), byte(g>>8), byte(bl>>8), byte(a>>8))
		}
		_, _ = d.Write(row)
	}
	return Fingerprint(d.Sum64())
}

// Same implements Fingerprinter with exact equality.
func (StrideHasher) Same(a, b Fingerprint) bool { return a == b }

// PerceptualHasher uses a DCT perceptual hash. Frames within MaxDistance bits
// (Hamming) count as unchanged, which tolerates compression noise and cursor blink.
type PerceptualHasher struct {
	MaxDistance int
}

// Sum implements Fingerprinter. Undecodable images fall back to a stride hash
// so they still compare deterministically.
func (h PerceptualHasher) Sum(img image.Image) Fingerprint {
	ph, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return NewStrideHasher(1).Sum(img)
	}
	return Fingerprint(ph.GetHash())
}

// Same implements Fingerprinter.
func (h PerceptualHasher) Same(a, b Fingerprint) bool {
	dist, err := goimagehash.NewImageHash(uint64(a), goimagehash.PHash).
		Distance(goimagehash.NewImageHash(uint64(b), goimagehash.PHash))
	if err != nil {
		return a == b
	}
	return dist <= h.MaxDistance
}
