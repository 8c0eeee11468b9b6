// Package ring implements the Ring Writer (spec.md §4.C): reservation,
// write, push-back and wrap against the single-producer/single-consumer
// command ring in pinned host memory.
package ring

import (
	"fmt"
	"sync"
	"time"

	"github.com/accelrt/cq/coord"
)

// HugePageSize is the ring's total capacity: spec.md §4.C / §6,
// HUGE_PAGE_SIZE = 1 GiB.
const HugePageSize = 1 << 30

// CQStart is the byte offset where the circular command region begins;
// bytes before it are a reserved prologue (rd_ptr, rd_toggle, finish
// word, scratch). 96 matches the original's CQ_START.
const CQStart = 96

// HostCQFinishPtr is the byte offset of the finish word inside the
// reserved prologue. Derived (not separately specified) from the
// original's two pointer-initialization constants both needing to name
// the same boundary: CQ_START (96, the host-side rd_ptr init target) and
// (HOST_CQ_FINISH_PTR + 32) (the device-side initial read/write pointer,
// per dispatch bootstrap) are reconciled by placing the finish word 32
// bytes before CQ_START.
const HostCQFinishPtr = CQStart - 32

// Register addresses for the producer core's L1 mirror of the ring
// pointers (spec.md §6). Values are this module's own synthetic L1
// layout; only distinctness and producer-core-local scope matter.
const (
	CQReadPtrAddr     uint32 = 0x100
	CQWritePtrAddr    uint32 = 0x104
	CQReadToggleAddr  uint32 = 0x108
	CQWriteToggleAddr uint32 = 0x10C
)

// Driver is the device-boundary interface the ring writer depends on
// (spec.md §6 "driver interface required"): write_host_region,
// read_host_region, write_device_l1. Multi-device "channel"/"device_id"
// parameters named in spec.md are dropped — this module's Non-goals
// exclude multi-device queues, so one Driver value always addresses one
// device.
type Driver interface {
	WriteHostRegion(words []uint32, byteOffset uint32) error
	ReadHostRegion(byteOffset, numWords uint32) ([]uint32, error)
	WriteDeviceL1(core coord.CoreCoord, addr uint32, words []uint32) error
}

// Writer is the host-side cq_write_interface: a single producer's cursor
// into the ring, plus the reserve/write/push/wrap operations spec.md
// §4.C names.
type Writer struct {
	mu sync.Mutex

	drv          Driver
	producerCore coord.CoreCoord
	capacity     uint32

	fifoWrPtr    uint32 // 16-byte words
	fifoWrToggle uint32

	// pollInterval paces cq_reserve_back's busy-poll of the device read
	// pointer, grounded on cmdWait's time.Sleep(100 * time.Microsecond)
	// loop.
	pollInterval time.Duration
}

// NewWriter constructs a Writer with its cursor at the ring's initial
// position (CQStart, in 16-byte units), matching CommandQueue's
// constructor.
func NewWriter(drv Driver, producerCore coord.CoreCoord, capacity uint32) *Writer {
	return &Writer{
		drv:          drv,
		producerCore: producerCore,
		capacity:     capacity,
		fifoWrPtr:    CQStart / 16,
		pollInterval: 100 * time.Microsecond,
	}
}

// WriteBytePos returns the current write cursor in bytes.
func (w *Writer) WriteBytePos() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fifoWrPtr << 4
}

// freeBytes computes free ring space using the rd/wr toggle bits to
// disambiguate "caught up" from "full", per spec.md's ring-toggle
// glossary entry. With differing toggles it is the single run from the
// write cursor up to the read pointer. With equal toggles it is the tail
// from the write cursor to capacity plus the head from CQStart up to the
// read pointer; those two parts are not contiguous.
func freeBytes(wrByte, rdByte, wrToggle, rdToggle, capacity uint32) uint32 {
	if wrToggle == rdToggle {
		return (capacity - wrByte) + (rdByte - CQStart)
	}
	return rdByte - wrByte
}

// ReserveBack blocks until freeBytes reports at least numBytes free,
// polling the device-visible read pointer (spec.md: "Only cq_reserve_back
// and the finish() drain may block"). It does not check that numBytes fit
// between the write cursor and the end of the ring; the queue package's
// wrap-check does that before every reservation it makes.
func (w *Writer) ReserveBack(numBytes uint32) error {
	w.mu.Lock()
	wrByte := w.fifoWrPtr << 4
	wrToggle := w.fifoWrToggle
	w.mu.Unlock()

	for {
		words, err := w.drv.ReadHostRegion(0, 2)
		if err != nil {
			return fmt.Errorf("ring: reserve_back: read rd_ptr: %w", err)
		}
		rdByte := words[0] << 4
		rdToggle := words[1]

		if freeBytes(wrByte, rdByte, wrToggle, rdToggle, w.capacity) >= numBytes {
			return nil
		}
		time.Sleep(w.pollInterval)
	}
}

// Write DMAs words into the ring at dstByteOffset. Callers reserve space
// before writing and are responsible for staying within it.
func (w *Writer) Write(words []uint32, dstByteOffset uint32) error {
	if err := w.drv.WriteHostRegion(words, dstByteOffset); err != nil {
		return fmt.Errorf("ring: write: %w", err)
	}
	return nil
}

// PushBack advances the write cursor by numBytes (in 16-byte units) and
// publishes the new pointer/toggle to the device's L1 mirror. numBytes
// must be a multiple of 16; every command size this module produces
// (NumBytesInDeviceCommand, padded buffer/program page sizes, and Wrap's
// space_left) satisfies this by construction.
func (w *Writer) PushBack(numBytes uint32) error {
	if numBytes%16 != 0 {
		return fmt.Errorf("ring: push_back: %d is not a multiple of 16", numBytes)
	}

	w.mu.Lock()
	w.fifoWrPtr += numBytes / 16
	wrByte := w.fifoWrPtr << 4
	if wrByte >= w.capacity {
		// Crossing the end: the next command begins at CQStart, never
		// at 0 (the prologue is never reused as command space).
		w.fifoWrPtr = CQStart / 16
		w.fifoWrToggle ^= 1
	}
	ptr, toggle := w.fifoWrPtr, w.fifoWrToggle
	w.mu.Unlock()

	if err := w.drv.WriteDeviceL1(w.producerCore, CQWritePtrAddr, []uint32{ptr}); err != nil {
		return fmt.Errorf("ring: push_back: publish wr_ptr: %w", err)
	}
	if err := w.drv.WriteDeviceL1(w.producerCore, CQWriteToggleAddr, []uint32{toggle}); err != nil {
		return fmt.Errorf("ring: push_back: publish wr_toggle: %w", err)
	}
	return nil
}

// Wrap emits the zero-filled remainder-of-ring block (first word = 1)
// that tells the firmware to resume reading at CQStart, then reserves,
// writes and pushes exactly that many bytes.
func (w *Writer) Wrap() error {
	w.mu.Lock()
	wrByte := w.fifoWrPtr << 4
	w.mu.Unlock()

	spaceLeft := w.capacity - wrByte
	if err := w.ReserveBack(spaceLeft); err != nil {
		return err
	}
	words := make([]uint32, spaceLeft/4)
	words[0] = 1
	if err := w.Write(words, wrByte); err != nil {
		return err
	}
	return w.PushBack(spaceLeft)
}

// SpaceUntilEnd returns the ring capacity minus the current write position,
// the bound the wrap-check policy (queue package) compares command sizes
// against before deciding whether to wrap.
func (w *Writer) SpaceUntilEnd() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.capacity - (w.fifoWrPtr << 4)
}
