package program

import "fmt"

// L1CapacityBytes bounds how far a circular buffer's backing region may
// extend into a core's L1. spec.md's Non-goals exclude CB *allocation*
// (deciding where a CB lives), not validating an already-placed CB before
// BuildMap flattens it into transfers; this is this module's own synthetic
// capacity figure, matching the rest of the L1 memory map in memmap.go.
const L1CapacityBytes = 1024 * 1024

// ErrCircularBufferOutOfRange classifies a CircularBuffer whose backing
// region does not fit in L1.
const ErrCircularBufferOutOfRange ErrorKind = iota + 100

// ValidateCircularBuffers checks that every CircularBuffer in p fits
// entirely within l1CapacityBytes, mirroring the original's
// ValidateCircularBufferRegion guard (run once per program, before its
// first EnqueueProgram, not repeated on cached re-enqueues).
func ValidateCircularBuffers(p *Program, l1CapacityBytes uint32) error {
	for _, cb := range p.CircularBuffers {
		if cb.Address+cb.Size > l1CapacityBytes {
			return &Error{Kind: ErrCircularBufferOutOfRange, Msg: fmt.Sprintf(
				"program: circular buffer [%d, %d) exceeds L1 capacity %d", cb.Address, cb.Address+cb.Size, l1CapacityBytes)}
		}
	}
	return nil
}
