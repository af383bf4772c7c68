//go:build tesseract

// Package tesseract is a local recognition backend built on libtesseract.
package tesseract

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	apperrors "github.com/GriffinCanCode/live-translator/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/recognition"
)

// Small captures are upscaled to at least this width; tesseract does poorly on tiny glyphs.
const minWidth = 1000

// Backend runs tesseract in-process. The underlying client is not safe for
// concurrent use, so calls are serialized.
type Backend struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// New creates a backend for the given tesseract language codes (e.g. "spa", "eng").
func New(languages ...string) (*Backend, error) {
	client := gosseract.NewClient()
	if len(languages) > 0 {
		if err := client.SetLanguage(languages...); err != nil {
			client.Close()
			return nil, apperrors.Wrap(err, apperrors.InvalidConfiguration, "set tesseract languages")
		}
	}
	return &Backend{client: client}, nil
}

// Detect implements recognition.Backend.
func (b *Backend) Detect(ctx context.Context, img image.Image, minConfidence float64) ([]recognition.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prepared, scale := preprocess(img)

	var buf bytes.Buffer
	if err := png.Encode(&buf, prepared); err != nil {
		return nil, apperrors.Wrap(err, apperrors.RecognitionFailure, "encode image")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, apperrors.Wrap(err, apperrors.RecognitionFailure, "set image")
	}
	boxes, err := b.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.RecognitionFailure, "tesseract ocr")
	}

	origin := img.Bounds().Min
	segs := make([]recognition.Segment, 0, len(boxes))
	for _, box := range boxes {
		conf := box.Confidence / 100
		if box.Word == "" || conf < minConfidence {
			continue
		}
		segs = append(segs, recognition.Segment{
			Text:       box.Word,
			Confidence: conf,
			Polygon:    polygon(box.Box, scale, origin),
		})
	}
	return segs, nil
}

// Close releases the tesseract client.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client.Close()
}

// preprocess converts to grayscale and upscales narrow images. scale maps
// prepared coordinates back to the source.
func preprocess(img image.Image) (image.Image, float64) {
	gray := imaging.Grayscale(img)
	w := gray.Bounds().Dx()
	if w == 0 || w >= minWidth {
		return gray, 1
	}
	return imaging.Resize(gray, minWidth, 0, imaging.Lanczos), float64(w) / minWidth
}

func polygon(r image.Rectangle, scale float64, origin image.Point) []recognition.Point {
	pt := func(x, y int) recognition.Point {
		return recognition.Point{
			X: float64(x)*scale + float64(origin.X),
			Y: float64(y)*scale + float64(origin.Y),
		}
	}
	return []recognition.Point{
		pt(r.Min.X, r.Min.Y),
		pt(r.Max.X, r.Min.Y),
		pt(r.Max.X, r.Max.Y),
		pt(r.Min.X, r.Max.Y),
	}
}
