//go:build headless

package monitor

import "github.com/hajimehoshi/ebiten/v2"

// Snapshot mirrors the non-headless build's field set so callers building
// one don't need a build-tagged code path of their own.
type Snapshot struct {
	WriteBytePos   uint32
	Capacity       uint32
	WriteToggle    uint32
	ReadToggle     uint32
	ProgramsCached int
	LastOp         string
}

// Source is anything that can report a Snapshot.
type Source interface {
	Snapshot() Snapshot
}

// Overlay is a no-op in headless builds (tests and CI).
type Overlay struct {
	source Source
	active bool
}

func NewOverlay(source Source) *Overlay { return &Overlay{source: source} }

func (o *Overlay) Active() bool { return o.active }

func (o *Overlay) Toggle() { o.active = !o.active }

func (o *Overlay) Draw(screen *ebiten.Image, x, y float32) {}

func (o *Overlay) HandleInput() bool { return false }
