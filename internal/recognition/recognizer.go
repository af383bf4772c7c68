// Package recognition puts a content-keyed cache in front of a text recognition backend.
package recognition

import (
	"context"
	"image"
	"strings"

	"github.com/GriffinCanCode/live-translator/backend/platform/internal/cache"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/changedetect"
	apperrors "github.com/GriffinCanCode/live-translator/backend/platform/internal/errors"
)

// Point is a vertex of a bounding polygon in image coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Segment is one piece of recognized text.
type Segment struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Polygon    []Point `json:"polygon"`
}

// Backend detects text in a bitmap, returning segments at or above minConfidence.
type Backend interface {
	Detect(ctx context.Context, img image.Image, minConfidence float64) ([]Segment, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, img image.Image, minConfidence float64) ([]Segment, error)

// Detect implements Backend.
func (f BackendFunc) Detect(ctx context.Context, img image.Image, minConfidence float64) ([]Segment, error) {
	return f(ctx, img, minConfidence)
}

// Result of a recognition pass.
type Result struct {
	Segments []Segment
	Cached   bool
}

// FullText joins all segment texts with spaces.
func (r Result) FullText() string {
	parts := make([]string, len(r.Segments))
	for i, s := range r.Segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

type cacheKey struct {
	fp            changedetect.Fingerprint
	minConfidence float64
}

// Recognizer caches backend results by image fingerprint.
type Recognizer struct {
	backend Backend
	hasher  changedetect.Fingerprinter
	cache   *cache.EvictionCache[cacheKey, []Segment]
}

// New creates a recognizer holding up to capacity results.
func New(backend Backend, hasher changedetect.Fingerprinter, capacity int) (*Recognizer, error) {
	if backend == nil {
		return nil, apperrors.New(apperrors.InvalidConfiguration, "recognition backend is required")
	}
	c, err := cache.New[cacheKey, []Segment](capacity)
	if err != nil {
		return nil, err
	}
	if hasher == nil {
		hasher = changedetect.NewStrideHasher(changedetect.DefaultStride)
	}
	return &Recognizer{backend: backend, hasher: hasher, cache: c}, nil
}

// Detect fingerprints img itself and recognizes it.
func (r *Recognizer) Detect(ctx context.Context, img image.Image, minConfidence float64) (Result, error) {
	return r.Process(ctx, img, r.hasher.Sum(img), minConfidence)
}

// Process recognizes img using fp, an already computed fingerprint, as the cache key.
// Segments below minConfidence are dropped even if the backend returned them.
func (r *Recognizer) Process(ctx context.Context, img image.Image, fp changedetect.Fingerprint, minConfidence float64) (Result, error) {
	key := cacheKey{fp: fp, minConfidence: minConfidence}
	if segs, ok := r.cache.Get(key); ok {
		return Result{Segments: segs, Cached: true}, nil
	}

	segs, err := r.backend.Detect(ctx, img, minConfidence)
	if err != nil {
		if apperrors.IsCode(err, apperrors.RecognitionFailure) {
			return Result{}, err
		}
		return Result{}, apperrors.Wrap(err, apperrors.RecognitionFailure, "detect text").
			WithMetadata("fingerprint", fp.String())
	}

	kept := make([]Segment, 0, len(segs))
	for _, s := range segs {
		if s.Confidence >= minConfidence {
			kept = append(kept, s)
		}
	}
	r.cache.Put(key, kept)
	return Result{Segments: kept}, nil
}

// Stats returns cache statistics.
func (r *Recognizer) Stats() cache.Stats { return r.cache.Stats() }

// Clear empties the cache.
func (r *Recognizer) Clear() { r.cache.Clear() }
