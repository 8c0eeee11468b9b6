//go:build !unix

package ring

import "encoding/binary"

// HostRegion is a plain-slice fallback for platforms without mlock,
// mirroring the teacher's real-backend/stub split for optional
// platform-specific backends (audio_backend_headless.go's shape). Not
// pinned: on these platforms the host kernel may page the region out,
// which a real device DMA engine would not tolerate, but it keeps this
// module buildable everywhere tests run.
type HostRegion struct {
	mem []byte
}

// NewHostRegion allocates size bytes of plain Go memory.
func NewHostRegion(size uint32) (*HostRegion, error) {
	return &HostRegion{mem: make([]byte, size)}, nil
}

// Close is a no-op; there is nothing to unmap.
func (r *HostRegion) Close() error { return nil }

// Len returns the region's capacity in bytes.
func (r *HostRegion) Len() uint32 { return uint32(len(r.mem)) }

// ReadWords reads numWords little-endian u32s starting at byteOffset.
func (r *HostRegion) ReadWords(byteOffset, numWords uint32) []uint32 {
	out := make([]uint32, numWords)
	for i := range out {
		off := byteOffset + uint32(i)*4
		out[i] = binary.LittleEndian.Uint32(r.mem[off : off+4])
	}
	return out
}

// WriteWords writes words as little-endian u32s starting at byteOffset.
func (r *HostRegion) WriteWords(words []uint32, byteOffset uint32) {
	for i, v := range words {
		off := byteOffset + uint32(i)*4
		binary.LittleEndian.PutUint32(r.mem[off:off+4], v)
	}
}
