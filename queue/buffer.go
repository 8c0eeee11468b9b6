package queue

import (
	"fmt"
	"sync"

	"github.com/accelrt/cq/command"
)

// Buffer is a device-resident region a caller enqueues reads/writes
// against, or that the queue allocates internally to cache a program's
// binary blob. Allocation and CB placement are out of scope (spec.md
// §1); Buffer only carries the attributes the command builder needs.
type Buffer struct {
	Address       uint32
	SizeBytes     uint32
	PageSizeBytes uint32
	NumPages      uint32
	BufferType    command.BufferType
}

// Allocator hands out DRAM addresses for buffers the queue itself
// creates (a program's cached binary blob). Device memory management is
// out of scope per spec.md §1; Allocator is this module's minimal stand-in
// so EnqueueProgram has somewhere to put a program's DRAM buffer without
// inventing a full device-memory allocator.
type Allocator interface {
	AllocateDRAM(sizeBytes uint32) (uint32, error)
}

// BumpAllocator is a trivial Allocator: addresses never reclaimed, each
// call advances past the last allocation rounded up to a program page.
// Sufficient for a queue's lifetime, which never frees program buffers
// either (spec.md §3 "Lifecycles": program buffers live for the queue's
// lifetime).
type BumpAllocator struct {
	mu   sync.Mutex
	next uint32
}

// NewBumpAllocator returns a BumpAllocator starting at base.
func NewBumpAllocator(base uint32) *BumpAllocator {
	return &BumpAllocator{next: base}
}

func (a *BumpAllocator) AllocateDRAM(sizeBytes uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sizeBytes == 0 {
		return 0, fmt.Errorf("queue: allocate 0 bytes")
	}
	addr := a.next
	a.next += alignUp(sizeBytes, command.ProgramPageSize)
	return addr, nil
}
