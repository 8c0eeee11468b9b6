//go:build unix

package ring

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// HostRegion is the pinned host memory backing the ring: a locked
// anonymous mapping so the device's DMA engine can address it without
// the host kernel ever paging it out, grounded on the "contiguous slice
// behind a fixed-offset register view" shape of machine_bus.go's
// MachineBus, upgraded here to a real mlock'd mapping via
// golang.org/x/sys/unix.
type HostRegion struct {
	mem []byte
}

// NewHostRegion mmaps and locks size bytes of anonymous memory.
func NewHostRegion(size uint32) (*HostRegion, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("ring: mmap host region: %w", err)
	}
	if err := unix.Mlock(mem); err != nil {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("ring: mlock host region: %w", err)
	}
	return &HostRegion{mem: mem}, nil
}

// Close unlocks and unmaps the region.
func (r *HostRegion) Close() error {
	_ = unix.Munlock(r.mem)
	return unix.Munmap(r.mem)
}

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
