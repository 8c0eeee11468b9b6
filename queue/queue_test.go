package queue

import (
	"bytes"
	"testing"

	"github.com/accelrt/cq/command"
	"github.com/accelrt/cq/coord"
	"github.com/accelrt/cq/program"
	"github.com/accelrt/cq/ring"
)

// fakeDriver is a synchronous, in-memory queue.Driver: every PushBack's
// device-L1 publication is immediately mirrored back as the consumed
// read pointer, as if a firmware drained the ring instantly. This lets
// queue's tests exercise the real reserve/write/push/wrap protocol
// without a background goroutine or real pinned memory, the same
// no-op-consumer idiom ring_test.go's fakeDriver uses one layer down.
type fakeDriver struct {
	host map[uint32]uint32 // word index (byteOffset/4) -> value
	l1   map[uint32]map[uint32][]uint32

	dram map[uint32]byte

	rdPtr, rdToggle uint32
}

func newFakeDriver() *fakeDriver {
	d := &fakeDriver{
		host: make(map[uint32]uint32),
		l1:   make(map[uint32]map[uint32][]uint32),
		dram: make(map[uint32]byte),
		rdPtr: ring.CQStart / 16,
	}
	d.host[0] = d.rdPtr
	d.host[1] = 0
	return d
}

func coreKey(c coord.CoreCoord) uint32 { return c.X<<16 | c.Y }

func (d *fakeDriver) WriteHostRegion(words []uint32, byteOffset uint32) error {
	for i, w := range words {
		d.host[byteOffset/4+uint32(i)] = w
	}
	return nil
}

func (d *fakeDriver) ReadHostRegion(byteOffset, numWords uint32) ([]uint32, error) {
	out := make([]uint32, numWords)
	for i := range out {
		out[i] = d.host[byteOffset/4+uint32(i)]
	}
	return out, nil
}

func (d *fakeDriver) WriteDeviceL1(core coord.CoreCoord, addr uint32, words []uint32) error {
	ck := coreKey(core)
	if d.l1[ck] == nil {
		d.l1[ck] = make(map[uint32][]uint32)
	}
	cp := append([]uint32(nil), words...)
	d.l1[ck][addr] = cp

	if addr == ring.CQWriteToggleAddr {
		wrPtr := d.l1[ck][ring.CQWritePtrAddr][0]
		wrToggle := words[0]
		oldRdByte := d.rdPtr << 4
		finishFlag := d.host[oldRdByte/4+2] == 1
		d.rdPtr, d.rdToggle = wrPtr, wrToggle
		d.host[0] = d.rdPtr
		d.host[1] = d.rdToggle
		if finishFlag {
			d.host[ring.HostCQFinishPtr/4] = 1
		}
	}
	return nil
}

func (d *fakeDriver) ReadDRAM(addr, numBytes uint32) ([]byte, error) {
	out := make([]byte, numBytes)
	for i := range out {
		out[i] = d.dram[addr+uint32(i)]
	}
	return out, nil
}

func (d *fakeDriver) WriteDRAM(addr uint32, data []byte) error {
	for i, b := range data {
		d.dram[addr+uint32(i)] = b
	}
	return nil
}

var _ Driver = (*fakeDriver)(nil)

const testRingCapacity = 1 << 20 // 1 MiB, small enough to exercise wraps cheaply

func newTestQueue(t *testing.T) (*CommandQueue, *fakeDriver) {
	t.Helper()
	drv := newFakeDriver()
	enc := coord.GridEncoder{Width: 4, Height: 4}
	alloc := NewBumpAllocator(0x1000_0000)
	q, err := NewCommandQueue("dev0", drv, enc, alloc, testRingCapacity,
		coord.CoreCoord{X: 0, Y: 0}, coord.CoreCoord{X: 1, Y: 0}, nil, nil)
	if err != nil {
		t.Fatalf("NewCommandQueue: %v", err)
	}
	return q, drv
}

func patternBytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}

// S1: page_size divisible by 32, exact round trip.
func TestWriteReadBufferRoundTripAlignedPageSize(t *testing.T) {
	q, _ := newTestQueue(t)
	buf := &Buffer{Address: 0x2000_0000, SizeBytes: 4 * 256, PageSizeBytes: 256, NumPages: 4, BufferType: command.BufferTypeDRAM}
	src := patternBytes(int(buf.SizeBytes))

	if err := q.EnqueueWriteBuffer(buf, src); err != nil {
		t.Fatalf("EnqueueWriteBuffer: %v", err)
	}
	dst := make([]byte, buf.SizeBytes)
	if err := q.EnqueueReadBuffer(buf, dst); err != nil {
		t.Fatalf("EnqueueReadBuffer: %v", err)
	}
	if !bytes.Equal(src, dst) {
		t.Errorf("round trip mismatch: got %v, want %v", dst, src)
	}
}

// S2: page_size = 48, not a multiple of 32 and != buffer size, exercises
// the padded-stride write/read path and de-padding.
func TestWriteReadBufferRoundTripUnalignedPageSize(t *testing.T) {
	q, _ := newTestQueue(t)
	buf := &Buffer{Address: 0x2001_0000, SizeBytes: 4 * 48, PageSizeBytes: 48, NumPages: 4, BufferType: command.BufferTypeDRAM}
	src := patternBytes(int(buf.SizeBytes))

	if err := q.EnqueueWriteBuffer(buf, src); err != nil {
		t.Fatalf("EnqueueWriteBuffer: %v", err)
	}
	dst := make([]byte, buf.SizeBytes)
	if err := q.EnqueueReadBuffer(buf, dst); err != nil {
		t.Fatalf("EnqueueReadBuffer: %v", err)
	}
	if !bytes.Equal(src, dst) {
		t.Errorf("round trip mismatch: got %v, want %v", dst, src)
	}
}

func TestEnqueueWriteBufferRejectsOversizedSource(t *testing.T) {
	q, _ := newTestQueue(t)
	buf := &Buffer{Address: 0x3000, SizeBytes: 16, PageSizeBytes: 16, NumPages: 1, BufferType: command.BufferTypeDRAM}
	err := q.EnqueueWriteBuffer(buf, make([]byte, 32))
	var qerr *Error
	if err == nil {
		t.Fatal("expected error for oversized source")
	}
	if !asError(err, &qerr) || qerr.Kind != ErrSourceExceedsBuffer {
		t.Errorf("error = %v, want ErrSourceExceedsBuffer", err)
	}
}

func TestEnqueueWriteBufferRejectsInvalidBufferType(t *testing.T) {
	q, _ := newTestQueue(t)
	buf := &Buffer{Address: 0x3000, SizeBytes: 16, PageSizeBytes: 16, NumPages: 1, BufferType: command.BufferTypeSystemMemory}
	err := q.EnqueueWriteBuffer(buf, make([]byte, 16))
	var qerr *Error
	if !asError(err, &qerr) || qerr.Kind != ErrInvalidBufferType {
		t.Errorf("error = %v, want ErrInvalidBufferType", err)
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}

func singleCoreProgram() *program.Program {
	rng := coord.NewCoreRangeSet(coord.Single(coord.CoreCoord{X: 0, Y: 0}))
	return &program.Program{
		Kernels: []*program.Kernel{{
			Processor:  program.BRISC,
			CoreRanges: rng,
			Binaries:   []program.KernelBinary{{Spans: []program.MemSpan{{Dst: 0x100, Words: []uint32{1, 2, 3, 4}}}}},
			RuntimeArgs: []program.KernelRuntimeArg{
				{Core: coord.CoreCoord{X: 0, Y: 0}, Args: []uint32{7, 8}},
			},
		}},
		KernelGroups: []*program.KernelGroup{{CoreRanges: rng}},
	}
}

// S4 / invariant 5: enqueuing the same program twice caches the DRAM
// write and flips stall off on the second enqueue.
func TestEnqueueProgramCachesAcrossRepeatedEnqueues(t *testing.T) {
	q, drv := newTestQueue(t)
	p := singleCoreProgram()

	if err := q.EnqueueProgram(p); err != nil {
		t.Fatalf("first EnqueueProgram: %v", err)
	}
	entry, ok := q.programCache[p]
	if !ok {
		t.Fatal("program not cached after first enqueue")
	}
	dramAfterFirst := make(map[uint32]byte, len(drv.dram))
	for k, v := range drv.dram {
		dramAfterFirst[k] = v
	}
	// The program command is the last thing pushed: one header plus one
	// host-data page (the runtime args fit in a single page). Header word
	// 1 is the stall flag.
	firstHdr := q.writer.WriteBytePos() - (command.NumBytesInDeviceCommand + command.ProgramPageSize)
	if got := drv.host[firstHdr/4+1]; got != 1 {
		t.Errorf("first enqueue stall word = %d, want 1", got)
	}

	p.Kernels[0].RuntimeArgs[0].Args = []uint32{9, 10}
	secondHdr := q.writer.WriteBytePos()
	if err := q.EnqueueProgram(p); err != nil {
		t.Fatalf("second EnqueueProgram: %v", err)
	}
	if got := drv.host[secondHdr/4+1]; got != 0 {
		t.Errorf("second enqueue stall word = %d, want 0", got)
	}
	entry2 := q.programCache[p]
	if entry2 != entry {
		t.Error("second enqueue rebuilt the cache entry instead of reusing it")
	}
	if len(drv.dram) != len(dramAfterFirst) {
		t.Errorf("second enqueue mutated DRAM byte count: before %d, after %d", len(dramAfterFirst), len(drv.dram))
	}
	for k, v := range dramAfterFirst {
		if drv.dram[k] != v {
			t.Errorf("DRAM byte at %d changed on cached re-enqueue: %v -> %v", k, v, drv.dram[k])
		}
	}
}

func TestEnqueueProgramUnknownProgramAllocatesFreshEntry(t *testing.T) {
	q, _ := newTestQueue(t)
	p1 := singleCoreProgram()
	p2 := singleCoreProgram()

	if err := q.EnqueueProgram(p1); err != nil {
		t.Fatalf("EnqueueProgram p1: %v", err)
	}
	if err := q.EnqueueProgram(p2); err != nil {
		t.Fatalf("EnqueueProgram p2: %v", err)
	}
	if len(q.programCache) != 2 {
		t.Errorf("len(programCache) = %d, want 2 (distinct pointer identity per program)", len(q.programCache))
	}
}

// Invariant 6 / S5: a sequence of writes whose cumulative size exceeds
// the ring capacity triggers a wrap, and the write cursor resumes at
// CQStart afterward.
func TestRepeatedWritesTriggerWrapAndResumeAtCQStart(t *testing.T) {
	q, _ := newTestQueue(t)
	buf := &Buffer{Address: 0x2000_0000, SizeBytes: 4096, PageSizeBytes: 4096, NumPages: 1, BufferType: command.BufferTypeDRAM}
	src := patternBytes(int(buf.SizeBytes))

	wrapped := false
	for i := 0; i < 400; i++ {
		before := q.writer.WriteBytePos()
		if err := q.EnqueueWriteBuffer(buf, src); err != nil {
			t.Fatalf("EnqueueWriteBuffer iteration %d: %v", i, err)
		}
		after := q.writer.WriteBytePos()
		if after < before {
			wrapped = true
		}
	}
	if !wrapped {
		t.Fatal("expected at least one wrap across 400 buffer writes into a 1 MiB ring")
	}
	if q.writer.WriteBytePos() < ring.CQStart {
		t.Errorf("write cursor %d fell below CQStart %d", q.writer.WriteBytePos(), ring.CQStart)
	}
}

// A page size small enough to pass CB sizing, but a page count large
// enough that the command's total payload can never fit even right
// after CQStart, is fatal rather than triggering a wrap.
func TestCommandLargerThanRingIsFatal(t *testing.T) {
	q, _ := newTestQueue(t)
	const numPages = 300
	buf := &Buffer{
		Address: 0x2000_0000, SizeBytes: numPages * 4096,
		PageSizeBytes: 4096, NumPages: numPages, BufferType: command.BufferTypeDRAM,
	}
	src := make([]byte, buf.SizeBytes)
	err := q.EnqueueWriteBuffer(buf, src)
	var qerr *Error
	if !asError(err, &qerr) || qerr.Kind != ErrCommandTooLarge {
		t.Errorf("error = %v, want ErrCommandTooLarge", err)
	}
}

// Invariant 7 / S6: Finish observes the finish word set, then resets it.
func TestFinishObservesAndResetsFinishWord(t *testing.T) {
	q, drv := newTestQueue(t)
	for i := 0; i < 3; i++ {
		buf := &Buffer{Address: 0x2000_0000, SizeBytes: 64, PageSizeBytes: 64, NumPages: 1, BufferType: command.BufferTypeDRAM}
		if err := q.EnqueueWriteBuffer(buf, make([]byte, 64)); err != nil {
			t.Fatalf("EnqueueWriteBuffer %d: %v", i, err)
		}
	}
	if err := q.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if got := drv.host[ring.HostCQFinishPtr/4]; got != 0 {
		t.Errorf("finish word after Finish = %d, want 0 (reset)", got)
	}
}
