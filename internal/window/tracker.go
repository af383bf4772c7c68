// Package window tracks where the overlay window currently sits on screen.
package window

import (
	"time"

	"github.com/GriffinCanCode/live-translator/backend/platform/internal/screen"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/syncx"
)

// Bounds is the overlay window geometry in screen pixels.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Region returns the capture region covered by the window.
func (b Bounds) Region() screen.Region {
	return screen.Region{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height}
}

// Validate rejects empty windows.
func (b Bounds) Validate() error { return b.Region().Validate() }

// Moved reports whether next differs from b by more than moveThreshold in
// position or resizeThreshold in size along either axis.
func (b Bounds) Moved(next Bounds, moveThreshold, resizeThreshold int) bool {
	return abs(next.X-b.X) > moveThreshold ||
		abs(next.Y-b.Y) > moveThreshold ||
		abs(next.Width-b.Width) > resizeThreshold ||
		abs(next.Height-b.Height) > resizeThreshold
}

// Source provides the current window bounds.
type Source interface {
	Bounds() Bounds
}

type state struct {
	bounds    Bounds
	updatedAt time.Time
}

// Tracker holds the last bounds reported by the overlay client.
type Tracker struct {
	state *syncx.Guard[state]
}

// NewTracker starts from initial, used until the client reports its geometry.
func NewTracker(initial Bounds) *Tracker {
	return &Tracker{state: syncx.NewGuard(state{bounds: initial})}
}

// Bounds implements Source.
func (t *Tracker) Bounds() Bounds { return t.state.Get().bounds }

// UpdatedAt is when the client last reported bounds, zero if never.
func (t *Tracker) UpdatedAt() time.Time { return t.state.Get().updatedAt }

// Update records new bounds after validating them.
func (t *Tracker) Update(b Bounds) error {
	if err := b.Validate(); err != nil {
		return err
	}
	t.state.Set(state{bounds: b, updatedAt: time.Now()})
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
