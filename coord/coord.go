// Package coord models device-mesh coordinates and the pluggable NOC
// multicast encoding the command builder writes into the wire format.
package coord

// CoreCoord is a logical or physical (x, y) coordinate on the device mesh.
type CoreCoord struct {
	X, Y uint32
}

// CoreRange is an inclusive rectangle of CoreCoord, (Start, End).
type CoreRange struct {
	Start, End CoreCoord
}

// Size returns the number of cores covered by the range.
func (r CoreRange) Size() uint32 {
	width := r.End.X - r.Start.X + 1
	height := r.End.Y - r.Start.Y + 1
	return width * height
}

// Single returns a CoreRange covering exactly one core.
func Single(c CoreCoord) CoreRange {
	return CoreRange{Start: c, End: c}
}

// CoreRangeSet is an ordered set of CoreRanges. Order matters: it determines
// multicast instruction ordering and therefore which transfer is marked
// last-in-group.
type CoreRangeSet struct {
	ranges []CoreRange
}

// NewCoreRangeSet builds a CoreRangeSet preserving caller order.
func NewCoreRangeSet(ranges ...CoreRange) CoreRangeSet {
	cp := make([]CoreRange, len(ranges))
	copy(cp, ranges)
	return CoreRangeSet{ranges: cp}
}

// Ranges returns the ranges in insertion order.
func (s CoreRangeSet) Ranges() []CoreRange {
	return s.ranges
}

// MulticastTarget is one (encoding, receiver-count) pair destined for the
// program transfer table.
type MulticastTarget struct {
	Encoding     uint32
	NumReceivers uint32
}

// Encoder translates logical core coordinates into the physical, wire-level
// NOC encodings the device firmware understands. Device-specific; the
// program builder must never assume a particular coordinate transform
// (spec.md §9 "Multicast encoding").
type Encoder interface {
	// PhysicalFromLogical resolves a logical core coordinate to its
	// physical mesh coordinate.
	PhysicalFromLogical(logical CoreCoord) (CoreCoord, error)

	// MulticastEncoding packs a physical (top-left, bottom-right) rectangle
	// into the 32-bit NOC multicast encoding the firmware reads from the
	// program transfer table. For a singleton core, top == bottom.
	MulticastEncoding(topLeft, bottomRight CoreCoord) uint32

	// UnicastEncoding packs a single physical core coordinate, used for
	// runtime-argument transfers which always target exactly one receiver.
	UnicastEncoding(core CoreCoord) uint32
}

// Targets resolves a CoreRangeSet of logical core ranges into multicast
// targets in range order, via enc. Each CoreRange's physical rectangle is
// encoded once; NumReceivers is the logical range's Size().
func Targets(enc Encoder, ranges CoreRangeSet) ([]MulticastTarget, error) {
	out := make([]MulticastTarget, 0, len(ranges.Ranges()))
	for _, r := range ranges.Ranges() {
		physStart, err := enc.PhysicalFromLogical(r.Start)
		if err != nil {
			return nil, err
		}
		physEnd, err := enc.PhysicalFromLogical(r.End)
		if err != nil {
			return nil, err
		}
		out = append(out, MulticastTarget{
			Encoding:     enc.MulticastEncoding(physStart, physEnd),
			NumReceivers: r.Size(),
		})
	}
	return out, nil
}
