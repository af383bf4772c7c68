// Package screen provides screen regions and platform-agnostic region capture
package screen

import (
	"fmt"
	"image"

	apperrors "github.com/GriffinCanCode/live-translator/backend/platform/internal/errors"
)

// Region is a rectangle of screen pixels identified by its top-left corner and size.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewRegion validates that the region has a positive area.
func NewRegion(x, y, width, height int) (Region, error) {
	r := Region{X: x, Y: y, Width: width, Height: height}
	if err := r.Validate(); err != nil {
		return Region{}, err
	}
	return r, nil
}

// Validate reports an InvalidConfiguration error for non-positive dimensions.
func (r Region) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return apperrors.Newf(apperrors.InvalidConfiguration, "region %s must have positive width and height", r.Key())
	}
	return nil
}

// Key is the stable identity used to index per-region state.
func (r Region) Key() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.Width, r.Height)
}

// Area in pixels.
func (r Region) Area() int { return r.Width * r.Height }

// Rect converts to an image.Rectangle in screen coordinates.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Contains reports whether the point lies inside the region.
func (r Region) Contains(x, y int) bool {
	return r.X <= x && x < r.X+r.Width && r.Y <= y && y < r.Y+r.Height
}

// Intersects reports whether the regions overlap or touch.
func (r Region) Intersects(o Region) bool {
	return !(r.X+r.Width < o.X || o.X+o.Width < r.X ||
		r.Y+r.Height < o.Y || o.Y+o.Height < r.Y)
}

// Cells partitions r into a row-major grid of cells at most size×size pixels.
// Cells on the right and bottom edges may be smaller but never empty.
func Cells(r Region, size int) []Region {
	if size <= 0 || r.Width <= 0 || r.Height <= 0 {
		return nil
	}
	cols := (r.Width + size - 1) / size
	rows := (r.Height + size - 1) / size
	cells := make([]Region, 0, cols*rows)
	for y := r.Y; y < r.Y+r.Height; y += size {
		h := min(size, r.Y+r.Height-y)
		for x := r.X; x < r.X+r.Width; x += size {
			w := min(size, r.X+r.Width-x)
			cells = append(cells, Region{X: x, Y: y, Width: w, Height: h})
		}
	}
	return cells
}
