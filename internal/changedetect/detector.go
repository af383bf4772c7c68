package changedetect

import (
	"context"
	"image"
	"sync"

	apperrors "github.com/GriffinCanCode/live-translator/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/screen"
)

// Observation is one capture of a region with its change verdict.
type Observation struct {
	Capture     screen.Capture
	Fingerprint Fingerprint
	Changed     bool
}

// Detector remembers the last fingerprint seen for each region key.
// The table is never evicted; capture regions are few and stable.
type Detector struct {
	capturer screen.Capturer
	hasher   Fingerprinter

	mu     sync.Mutex
	hashes map[string]Fingerprint
}

// New creates a detector. A nil hasher defaults to a stride hash with DefaultStride.
func New(capturer screen.Capturer, hasher Fingerprinter) *Detector {
	if hasher == nil {
		hasher = NewStrideHasher(DefaultStride)
	}
	return &Detector{
		capturer: capturer,
		hasher:   hasher,
		hashes:   make(map[string]Fingerprint),
	}
}

// Fingerprint hashes img with the detector's fingerprinter.
func (d *Detector) Fingerprint(img image.Image) Fingerprint {
	return d.hasher.Sum(img)
}

// HasChanged reports whether img differs from the last image seen for region.
// The first observation of a region always counts as changed. The stored
// fingerprint is replaced either way.
func (d *Detector) HasChanged(region screen.Region, img image.Image) bool {
	_, changed := d.observe(region, img)
	return changed
}

func (d *Detector) observe(region screen.Region, img image.Image) (Fingerprint, bool) {
	fp := d.hasher.Sum(img)
	key := region.Key()

	d.mu.Lock()
	defer d.mu.Unlock()
	prev, seen := d.hashes[key]
	d.hashes[key] = fp
	return fp, !seen || !d.hasher.Same(prev, fp)
}

// Observe captures region and compares it with the previous capture.
func (d *Detector) Observe(ctx context.Context, region screen.Region) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return Observation{}, apperrors.Wrap(err, apperrors.Cancelled, "observe region")
	}
	capture, err := d.capturer.CaptureRegion(region)
	if err != nil {
		if apperrors.IsCode(err, apperrors.InvalidConfiguration) {
			return Observation{}, err
		}
		return Observation{}, apperrors.Wrap(err, apperrors.CaptureFailure, "capture region").
			WithMetadata("region", region.Key())
	}
	fp, changed := d.observe(region, capture.Image)
	return Observation{Capture: capture, Fingerprint: fp, Changed: changed}, nil
}

// DetectDirtySubregions splits region into gridSize cells, captures each one and
// returns the cells that changed, in row-major order.
func (d *Detector) DetectDirtySubregions(ctx context.Context, region screen.Region, gridSize int) ([]screen.Region, error) {
	if gridSize <= 0 {
		return nil, apperrors.Newf(apperrors.InvalidConfiguration, "grid size must be positive, got %d", gridSize)
	}
	if err := region.Validate(); err != nil {
		return nil, err
	}

	var dirty []screen.Region
	for _, cell := range screen.Cells(region, gridSize) {
		obs, err := d.Observe(ctx, cell)
		if err != nil {
			return dirty, err
		}
		if obs.Changed {
			dirty = append(dirty, cell)
		}
	}
	return dirty, nil
}

// Forget drops the stored fingerprint for one region.
func (d *Detector) Forget(region screen.Region) {
	d.mu.Lock()
	delete(d.hashes, region.Key())
	d.mu.Unlock()
}

// Reset forgets every region; the next observation of each is reported as changed.
func (d *Detector) Reset() {
	d.mu.Lock()
	clear(d.hashes)
	d.mu.Unlock()
}

// Tracked returns the number of regions with a stored fingerprint.
func (d *Detector) Tracked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.hashes)
}
