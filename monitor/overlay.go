//go:build !headless

// Package monitor implements a live ebiten overlay for watching a running
// command queue's ring occupancy and program cache, grounded on the
// teacher's debug_overlay.go / debug_overlay_headless.go dual-build-tag
// split. It has no dependency on package queue: callers adapt their
// CommandQueue into a Source, keeping the debug view decoupled from the
// hot enqueue path the way the teacher's own monitor never touches
// machine_bus.go's Read/Write methods directly.
package monitor

import (
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/vector"
)

const (
	overlayWidth  = 480
	overlayHeight = 160
)

// Snapshot is a point-in-time view of a command queue's ring and program
// cache state, cheap enough to build on every frame.
type Snapshot struct {
	WriteBytePos   uint32
	Capacity       uint32
	WriteToggle    uint32
	ReadToggle     uint32
	ProgramsCached int

	// LastOp is carried for callers that want it (e.g. a future text
	// readout); Draw does not render it yet since there's no bitmap font
	// wired into this package.
	LastOp string
}

// Source is anything that can report a Snapshot. A CommandQueue is adapted
// into a Source by the caller, not implemented on
// *queue.CommandQueue directly, so package queue never imports monitor.
type Source interface {
	Snapshot() Snapshot
}

// Overlay draws ring occupancy, toggle state and program cache size onto
// an ebiten.Image on demand, the same redraw-on-Draw-call shape as
// MonitorOverlay in the teacher.
type Overlay struct {
	source Source
	image  *ebiten.Image
	active bool
}

// NewOverlay constructs an Overlay reading from source.
func NewOverlay(source Source) *Overlay {
	return &Overlay{source: source}
}

// Active reports whether the overlay currently wants to render.
func (o *Overlay) Active() bool { return o.active }

// Toggle flips the overlay's active state, called from the host game's
// own key-binding (F-key, etc.) since Overlay does not own global input.
func (o *Overlay) Toggle() { o.active = !o.active }

// Draw renders the overlay onto screen at (x, y) if active.
func (o *Overlay) Draw(screen *ebiten.Image, x, y float32) {
	if !o.active {
		return
	}
	if o.image == nil {
		o.image = ebiten.NewImage(overlayWidth, overlayHeight)
	}
	o.image.Fill(color.RGBA{R: 0x00, G: 0x10, B: 0x30, A: 0xE0})

	snap := o.source.Snapshot()

	vector.StrokeRect(o.image, 4, 4, overlayWidth-8, 24, 2, color.White, false)
	var occupied float32
	if snap.Capacity > 0 {
		occupied = float32(snap.WriteBytePos) / float32(snap.Capacity) * (overlayWidth - 12)
	}
	vector.DrawFilledRect(o.image, 6, 6, occupied, 20, color.RGBA{R: 0x40, G: 0xE0, B: 0x40, A: 0xFF}, false)

	toggleColor := func(v uint32) color.Color {
		if v != 0 {
			return color.White
		}
		return color.RGBA{R: 0x55, G: 0x55, B: 0x88, A: 0xFF}
	}
	vector.DrawFilledRect(o.image, 6, 36, 16, 16, toggleColor(snap.WriteToggle), false)
	vector.DrawFilledRect(o.image, 26, 36, 16, 16, toggleColor(snap.ReadToggle), false)

	const maxCacheDots = 32
	dots := snap.ProgramsCached
	if dots > maxCacheDots {
		dots = maxCacheDots
	}
	for i := 0; i < dots; i++ {
		vector.DrawFilledRect(o.image, float32(6+i*12), 60, 8, 8, color.RGBA{R: 0xE0, G: 0xA0, B: 0x20, A: 0xFF}, false)
	}

	screen.DrawImage(o.image, &ebiten.DrawImageOptions{
		GeoM: geoTranslate(x, y),
	})
}

func geoTranslate(x, y float32) (g ebiten.GeoM) {
	g.Translate(float64(x), float64(y))
	return g
}

// HandleInput processes the overlay's own keybinding (Escape closes it).
// Returns true while the overlay stays active; false when it is inactive
// or Escape has just closed it.
func (o *Overlay) HandleInput() bool {
	if !o.active {
		return false
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		o.active = false
		return false
	}
	return true
}
