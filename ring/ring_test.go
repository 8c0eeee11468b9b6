package ring

import (
	"sync"
	"testing"

	"github.com/accelrt/cq/coord"
)

// fakeDriver is a minimal in-memory Driver for exercising Writer logic
// without a real pinned mapping or a simulated firmware goroutine.
type fakeDriver struct {
	mu       sync.Mutex
	host     map[uint32]uint32 // word-index -> value, byte offsets must be 4-aligned
	l1       map[uint32]uint32 // register addr -> value (single core)
	writeLog [][]uint32
}

func newFakeDriver(rdByte, rdToggle uint32) *fakeDriver {
	return &fakeDriver{
		host: map[uint32]uint32{0: rdByte >> 4, 1: rdToggle},
		l1:   map[uint32]uint32{},
	}
}

func (f *fakeDriver) WriteHostRegion(words []uint32, byteOffset uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]uint32(nil), words...)
	f.writeLog = append(f.writeLog, cp)
	for i, v := range words {
		f.host[byteOffset/4+uint32(i)] = v
	}
	return nil
}

func (f *fakeDriver) ReadHostRegion(byteOffset, numWords uint32) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint32, numWords)
	for i := range out {
		out[i] = f.host[byteOffset/4+uint32(i)]
	}
	return out, nil
}

func (f *fakeDriver) WriteDeviceL1(core coord.CoreCoord, addr uint32, words []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.l1[addr] = words[0]
	return nil
}

func (f *fakeDriver) setRd(byteOffset, toggle uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.host[0] = byteOffset >> 4
	f.host[1] = toggle
}

func TestWriterInitialCursorAtCQStart(t *testing.T) {
	drv := newFakeDriver(CQStart, 0)
	w := NewWriter(drv, coord.CoreCoord{}, HugePageSize)
	if got := w.WriteBytePos(); got != CQStart {
		t.Fatalf("initial write position = %d, want %d", got, CQStart)
	}
}

func TestReserveBackUnblocksWhenSpaceAvailable(t *testing.T) {
	drv := newFakeDriver(CQStart, 0)
	w := NewWriter(drv, coord.CoreCoord{}, HugePageSize)
	if err := w.ReserveBack(128); err != nil {
		t.Fatalf("ReserveBack: %v", err)
	}
}

func TestReserveBackBlocksUntilConsumerCatchesUp(t *testing.T) {
	drv := newFakeDriver(CQStart, 0)
	w := NewWriter(drv, coord.CoreCoord{}, HugePageSize)
	// Push the write cursor far ahead, same toggle: free space is small.
	w.fifoWrPtr = (HugePageSize - 64) / 16

	done := make(chan error, 1)
	go func() { done <- w.ReserveBack(1024) }()

	select {
	case <-done:
		t.Fatal("ReserveBack returned before consumer caught up")
	default:
	}

	drv.setRd(HugePageSize-2048, 0)

	if err := <-done; err != nil {
		t.Fatalf("ReserveBack: %v", err)
	}
}

func TestWriteAndPushBackAdvancesCursor(t *testing.T) {
	drv := newFakeDriver(CQStart, 0)
	w := NewWriter(drv, coord.CoreCoord{}, HugePageSize)

	if err := w.Write([]uint32{1, 2, 3, 4}, CQStart); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.PushBack(64); err != nil {
		t.Fatalf("PushBack: %v", err)
	}
	if got := w.WriteBytePos(); got != CQStart+64 {
		t.Fatalf("write position after push = %d, want %d", got, CQStart+64)
	}
	if drv.l1[CQWritePtrAddr] != (CQStart+64)/16 {
		t.Errorf("published wr_ptr = %d, want %d", drv.l1[CQWritePtrAddr], (CQStart+64)/16)
	}
	if drv.l1[CQWriteToggleAddr] != 0 {
		t.Errorf("published wr_toggle = %d, want 0 (no wrap yet)", drv.l1[CQWriteToggleAddr])
	}
}

func TestPushBackCrossingEndResetsToCQStartAndTogglesToggle(t *testing.T) {
	drv := newFakeDriver(CQStart, 0)
	w := NewWriter(drv, coord.CoreCoord{}, HugePageSize)
	w.fifoWrPtr = (HugePageSize - 64) / 16

	if err := w.PushBack(64); err != nil {
		t.Fatalf("PushBack: %v", err)
	}
	if got := w.WriteBytePos(); got != CQStart {
		t.Fatalf("write position after crossing end = %d, want %d (CQStart)", got, CQStart)
	}
	if drv.l1[CQWriteToggleAddr] != 1 {
		t.Errorf("wr_toggle after crossing end = %d, want 1", drv.l1[CQWriteToggleAddr])
	}
}

func TestPushBackRejectsNonMultipleOf16(t *testing.T) {
	drv := newFakeDriver(CQStart, 0)
	w := NewWriter(drv, coord.CoreCoord{}, HugePageSize)
	if err := w.PushBack(10); err == nil {
		t.Fatal("expected error pushing back a non-multiple-of-16 byte count")
	}
}

func TestWrapEmitsOneMarkerWordAndConsumesRemainder(t *testing.T) {
	drv := newFakeDriver(CQStart, 0)
	w := NewWriter(drv, coord.CoreCoord{}, HugePageSize)
	w.fifoWrPtr = (HugePageSize - 64) / 16

	if err := w.Wrap(); err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if got := w.WriteBytePos(); got != CQStart {
		t.Fatalf("write position after wrap = %d, want %d", got, CQStart)
	}
	if len(drv.writeLog) != 1 {
		t.Fatalf("expected exactly one write for the wrap block, got %d", len(drv.writeLog))
	}
	words := drv.writeLog[0]
	if len(words) != 16 {
		t.Fatalf("wrap block word count = %d, want 16 (64 bytes)", len(words))
	}
	if words[0] != 1 {
		t.Fatalf("wrap marker word = %d, want 1", words[0])
	}
	for i := 1; i < len(words); i++ {
		if words[i] != 0 {
			t.Fatalf("wrap block word %d = %d, want 0", i, words[i])
		}
	}
}

func TestSpaceUntilEnd(t *testing.T) {
	drv := newFakeDriver(CQStart, 0)
	w := NewWriter(drv, coord.CoreCoord{}, HugePageSize)
	if got := w.SpaceUntilEnd(); got != HugePageSize-CQStart {
		t.Fatalf("SpaceUntilEnd = %d, want %d", got, HugePageSize-CQStart)
	}
}

func TestFreeBytesSameToggle(t *testing.T) {
	got := freeBytes(CQStart+1000, CQStart+200, 0, 0, HugePageSize)
	want := (uint32(HugePageSize) - (CQStart + 1000)) + (CQStart + 200 - CQStart)
	if got != want {
		t.Fatalf("freeBytes = %d, want %d", got, want)
	}
}

func TestFreeBytesDifferentToggle(t *testing.T) {
	got := freeBytes(CQStart+100, CQStart+500, 1, 0, HugePageSize)
	want := uint32(CQStart+500) - uint32(CQStart+100)
	if got != want {
		t.Fatalf("freeBytes = %d, want %d", got, want)
	}
}
