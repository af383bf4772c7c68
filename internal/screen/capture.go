package screen

import (
	"fmt"
	"image"
	"sync"

	"github.com/vova616/screenshot"
)

// screenshotBackend grabs pixels through the native display APIs
// (X11 on Linux, GDI on Windows, CoreGraphics on macOS).
type screenshotBackend struct{}

func (screenshotBackend) grab(rect image.Rectangle) (*image.RGBA, error) {
	bounds, err := screenshot.ScreenRect()
	if err != nil {
		return nil, fmt.Errorf("query screen bounds: %w", err)
	}
	clipped := rect.Intersect(bounds)
	if clipped.Empty() {
		return nil, fmt.Errorf("region %v lies outside screen %v", rect, bounds)
	}
	img, err := screenshot.CaptureRect(clipped)
	if err != nil {
		return nil, fmt.Errorf("capture %v: %w", clipped, err)
	}
	return img, nil
}

// New creates a capturer backed by the native screen.
func New() Capturer {
	return newBase(screenshotBackend{})
}

// ImageCapturer serves regions cropped from a fixed image. Used for replaying
// recorded frames and in tests.
type ImageCapturer struct {
	*baseCapturer
	src *staticBackend
}

type staticBackend struct {
	mu  sync.RWMutex
	img image.Image
}

func (s *staticBackend) grab(rect image.Rectangle) (*image.RGBA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.img.Bounds()
	if !rect.In(b) {
		return nil, fmt.Errorf("region %v lies outside image %v", rect, b)
	}
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			out.Set(x, y, s.img.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}
	return out, nil
}

// NewImageCapturer creates a capturer that crops regions out of img.
func NewImageCapturer(img image.Image) *ImageCapturer {
	src := &staticBackend{img: img}
	return &ImageCapturer{baseCapturer: newBase(src), src: src}
}

// SetImage replaces the source frame.
func (c *ImageCapturer) SetImage(img image.Image) {
	c.src.mu.Lock()
	c.src.img = img
	c.src.mu.Unlock()
}
