package coord

import "fmt"

// GridEncoder is a reference Encoder for a rectangular worker-core mesh
// where logical and physical coordinates coincide except for a fixed
// per-axis offset (the common case once harvesting/translation has already
// been resolved upstream of this queue). Real deployments supply their own
// Encoder; GridEncoder exists so tests and cmd/cqdemo don't need a real
// device mesh to exercise the program builder.
type GridEncoder struct {
	Width, Height   uint32
	OffsetX, OffsetY uint32
}

// PhysicalFromLogical translates a logical coordinate to physical space by
// adding the configured offset, bounds-checking against Width/Height.
func (g GridEncoder) PhysicalFromLogical(logical CoreCoord) (CoreCoord, error) {
	if logical.X >= g.Width || logical.Y >= g.Height {
		return CoreCoord{}, fmt.Errorf("coord: logical core (%d,%d) out of range (%d,%d)", logical.X, logical.Y, g.Width, g.Height)
	}
	return CoreCoord{X: logical.X + g.OffsetX, Y: logical.Y + g.OffsetY}, nil
}

// MulticastEncoding packs a physical rectangle into a 32-bit NOC encoding as
// (x_start<<24 | y_start<<16 | x_end<<8 | y_end), matching the original's
// NOC_MULTICAST_ENCODING(top_left.x, top_left.y, bottom_right.x,
// bottom_right.y) shape (one byte per axis coordinate).
func (g GridEncoder) MulticastEncoding(topLeft, bottomRight CoreCoord) uint32 {
	return (topLeft.X&0xFF)<<24 | (topLeft.Y&0xFF)<<16 | (bottomRight.X&0xFF)<<8 | (bottomRight.Y & 0xFF)
}

// UnicastEncoding packs a single physical core the same way MulticastEncoding
// would for a singleton rectangle (top == bottom), mirroring noc_coord_to_u32.
func (g GridEncoder) UnicastEncoding(core CoreCoord) uint32 {
	return g.MulticastEncoding(core, core)
}
