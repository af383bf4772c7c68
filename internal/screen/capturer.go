package screen

import (
	"image"
	"time"
)

// Capture is the bitmap grabbed for a region.
type Capture struct {
	Image      *image.RGBA
	Region     Region
	CapturedAt time.Time
}

// Capturer grabs screen regions. Errors are I/O level and are not retried here.
type Capturer interface {
	CaptureRegion(r Region) (Capture, error)
	Close() error
}

// backend implements platform-specific raw capture
type backend interface {
	grab(rect image.Rectangle) (*image.RGBA, error)
}

// baseCapturer validates regions and stamps captures for every backend
type baseCapturer struct {
	backend
	now func() time.Time
}

func newBase(b backend) *baseCapturer {
	return &baseCapturer{backend: b, now: time.Now}
}

func (c *baseCapturer) CaptureRegion(r Region) (Capture, error) {
	if err := r.Validate(); err != nil {
		return Capture{}, err
	}
	img, err := c.grab(r.Rect())
	if err != nil {
		return Capture{}, err
	}
	return Capture{Image: img, Region: r, CapturedAt: c.now()}, nil
}

func (c *baseCapturer) Close() error { return nil }
