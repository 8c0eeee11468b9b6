package program

import (
	"testing"

	"github.com/accelrt/cq/command"
	"github.com/accelrt/cq/coord"
)

func singleCoreProgram(words int) *Program {
	rng := coord.NewCoreRangeSet(coord.Single(coord.CoreCoord{X: 0, Y: 0}))
	bin := make([]uint32, words)
	for i := range bin {
		bin[i] = uint32(i + 1)
	}
	return &Program{
		Kernels: []*Kernel{{
			Processor:  BRISC,
			CoreRanges: rng,
			Binaries:   []KernelBinary{{Spans: []MemSpan{{Dst: 0x100, Words: bin}}}},
		}},
	}
}

func TestBuildMapEmptyProgram(t *testing.T) {
	enc := coord.GridEncoder{Width: 4, Height: 4}
	m, err := BuildMap(enc, &Program{})
	if err != nil {
		t.Fatalf("BuildMap: %v", err)
	}
	if m.NumWorkers != 0 {
		t.Errorf("NumWorkers = %d, want 0", m.NumWorkers)
	}
	if len(m.ProgramPages) != 0 {
		t.Errorf("len(ProgramPages) = %d, want 0", len(m.ProgramPages))
	}
	if len(m.ProgramPageTransfers) != 0 || len(m.HostPageTransfers) != 0 {
		t.Errorf("expected no transfers for empty program")
	}
}

func TestBuildMapSingleKernelBinary(t *testing.T) {
	enc := coord.GridEncoder{Width: 4, Height: 4}
	p := singleCoreProgram(8)

	m, err := BuildMap(enc, p)
	if err != nil {
		t.Fatalf("BuildMap: %v", err)
	}
	if m.NumWorkers != 1 {
		t.Errorf("NumWorkers = %d, want 1", m.NumWorkers)
	}
	if len(m.ProgramPageTransfers) != 1 {
		t.Fatalf("len(ProgramPageTransfers) = %d, want 1", len(m.ProgramPageTransfers))
	}
	tr := m.ProgramPageTransfers[0]
	if tr.SizeBytes != 32 {
		t.Errorf("transfer size = %d, want 32", tr.SizeBytes)
	}
	if !tr.LastInGroup {
		t.Errorf("single-target transfer should be LastInGroup")
	}
	if tr.DstLocalAddr != 0x100 {
		t.Errorf("DstLocalAddr = %x, want 0x100", tr.DstLocalAddr)
	}
	if len(m.NumTransfersInProgramPages) != 1 || m.NumTransfersInProgramPages[0] != 1 {
		t.Errorf("NumTransfersInProgramPages = %v, want [1]", m.NumTransfersInProgramPages)
	}
	wantWords := align(uint32(len(p.Kernels[0].Binaries[0].Spans[0].Words)), command.NOCTransferAlignment/4)
	wantPageWords := align(wantWords*4, command.ProgramPageSize) / 4
	if uint32(len(m.ProgramPages)) != wantPageWords {
		t.Errorf("len(ProgramPages) = %d, want %d", len(m.ProgramPages), wantPageWords)
	}
	for i, v := range p.Kernels[0].Binaries[0].Spans[0].Words {
		if m.ProgramPages[i] != v {
			t.Errorf("ProgramPages[%d] = %d, want %d", i, m.ProgramPages[i], v)
		}
	}
}

func TestBuildMapSplitsAcrossProgramPages(t *testing.T) {
	enc := coord.GridEncoder{Width: 4, Height: 4}
	// One binary spanning more than one PROGRAM_PAGE_SIZE worth of bytes
	// must produce more than one program-page transfer-count bucket.
	p := singleCoreProgram(int(command.ProgramPageSize)/4 + 16)

	m, err := BuildMap(enc, p)
	if err != nil {
		t.Fatalf("BuildMap: %v", err)
	}
	if len(m.NumTransfersInProgramPages) < 2 {
		t.Fatalf("expected transfers split across >=2 pages, got %v", m.NumTransfersInProgramPages)
	}
	total := uint32(0)
	for _, n := range m.NumTransfersInProgramPages {
		total += n
	}
	if int(total) != len(m.ProgramPageTransfers) {
		t.Errorf("sum(NumTransfersInProgramPages) = %d, len(ProgramPageTransfers) = %d", total, len(m.ProgramPageTransfers))
	}
}

func TestBuildMapRuntimeArgsGoToHostPages(t *testing.T) {
	enc := coord.GridEncoder{Width: 4, Height: 4}
	rng := coord.NewCoreRangeSet(coord.Single(coord.CoreCoord{X: 1, Y: 1}))
	p := &Program{
		Kernels: []*Kernel{{
			Processor:  NCRISC,
			CoreRanges: rng,
			RuntimeArgs: []KernelRuntimeArg{
				{Core: coord.CoreCoord{X: 1, Y: 1}, Args: []uint32{1, 2, 3, 4}},
			},
		}},
	}
	m, err := BuildMap(enc, p)
	if err != nil {
		t.Fatalf("BuildMap: %v", err)
	}
	if len(m.HostPageTransfers) != 1 {
		t.Fatalf("len(HostPageTransfers) = %d, want 1", len(m.HostPageTransfers))
	}
	if m.HostPageTransfers[0].SizeBytes != 16 {
		t.Errorf("runtime-arg transfer size = %d, want 16", m.HostPageTransfers[0].SizeBytes)
	}
	if len(m.ProgramPageTransfers) != 0 {
		t.Errorf("runtime args must not appear in program page transfers")
	}
}

func TestBuildMapComputeKernelTooManyBinaries(t *testing.T) {
	enc := coord.GridEncoder{Width: 4, Height: 4}
	rng := coord.NewCoreRangeSet(coord.Single(coord.CoreCoord{X: 0, Y: 0}))
	bins := make([]KernelBinary, 4)
	for i := range bins {
		bins[i] = KernelBinary{Spans: []MemSpan{{Dst: 0x100, Words: []uint32{1}}}}
	}
	p := &Program{Kernels: []*Kernel{{Processor: COMPUTE, CoreRanges: rng, Binaries: bins}}}
	if _, err := BuildMap(enc, p); err == nil {
		t.Fatal("expected error for COMPUTE kernel with >3 binaries")
	}
}

func TestBuildMapNonComputeKernelTooManyBinaries(t *testing.T) {
	enc := coord.GridEncoder{Width: 4, Height: 4}
	rng := coord.NewCoreRangeSet(coord.Single(coord.CoreCoord{X: 0, Y: 0}))
	bins := []KernelBinary{
		{Spans: []MemSpan{{Dst: 0x100, Words: []uint32{1}}}},
		{Spans: []MemSpan{{Dst: 0x200, Words: []uint32{2}}}},
	}
	p := &Program{Kernels: []*Kernel{{Processor: BRISC, CoreRanges: rng, Binaries: bins}}}
	if _, err := BuildMap(enc, p); err == nil {
		t.Fatal("expected error for non-COMPUTE kernel with >1 binary")
	}
}

func TestBuildMapSemaphoreAndLaunchMsg(t *testing.T) {
	enc := coord.GridEncoder{Width: 4, Height: 4}
	rng := coord.NewCoreRangeSet(coord.Single(coord.CoreCoord{X: 0, Y: 0}))
	p := &Program{
		Semaphores: []*Semaphore{
			{CoreRanges: rng, Address: 0x500, InitialValue: 7},
		},
		KernelGroups: []*KernelGroup{
			{CoreRanges: rng},
		},
	}
	m, err := BuildMap(enc, p)
	if err != nil {
		t.Fatalf("BuildMap: %v", err)
	}
	if len(m.ProgramPageTransfers) != 2 {
		t.Fatalf("len(ProgramPageTransfers) = %d, want 2 (semaphore + launch msg)", len(m.ProgramPageTransfers))
	}
	if m.ProgramPageTransfers[0].DstLocalAddr != 0x500 {
		t.Errorf("semaphore transfer dst = %x, want 0x500", m.ProgramPageTransfers[0].DstLocalAddr)
	}
	if m.ProgramPageTransfers[1].DstLocalAddr != MailboxLaunchAddr {
		t.Errorf("launch msg transfer dst = %x, want %x", m.ProgramPageTransfers[1].DstLocalAddr, uint32(MailboxLaunchAddr))
	}
}

func TestAlignMatchesBitTrick(t *testing.T) {
	cases := []struct{ addr, alignment, want uint32 }{
		{0, 16, 0},
		{1, 16, 16},
		{16, 16, 16},
		{17, 16, 32},
		{4096, 4096, 4096},
		{4097, 4096, 8192},
	}
	for _, c := range cases {
		if got := align(c.addr, c.alignment); got != c.want {
			t.Errorf("align(%d, %d) = %d, want %d", c.addr, c.alignment, got, c.want)
		}
	}
}
