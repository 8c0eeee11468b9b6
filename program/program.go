// Package program implements the Program Map Builder (spec.md §4.B): it
// flattens a Program's kernels, circular buffers, semaphores and kernel
// groups into the page-grouped transfer lists and contiguous binary blob
// the Device Command Builder turns into a wire record.
package program

import (
	"fmt"
	"sort"

	"github.com/accelrt/cq/command"
	"github.com/accelrt/cq/coord"
)

// Processor identifies which RISC core on a worker a kernel runs on.
// COMPUTE is a logical processor standing in for the three TRISC cores a
// compute kernel's three binaries (unpack/math/pack) are split across.
type Processor int

const (
	BRISC Processor = iota
	NCRISC
	TRISC0
	TRISC1
	TRISC2
	COMPUTE
)

// MemSpan is one contiguous run of binary words destined for dst (a
// processor-relative address before translation).
type MemSpan struct {
	Dst   uint32
	Words []uint32
}

// KernelBinary is one loadable image (a compute kernel has three: unpack,
// math, pack; every other kernel has exactly one).
type KernelBinary struct {
	Spans []MemSpan
}

// KernelRuntimeArg is the runtime-argument vector for one core a kernel
// runs on.
type KernelRuntimeArg struct {
	Core coord.CoreCoord
	Args []uint32
}

// Kernel is one compiled kernel bound to a set of cores.
type Kernel struct {
	Processor   Processor
	CoreRanges  coord.CoreRangeSet
	RuntimeArgs []KernelRuntimeArg
	Binaries    []KernelBinary
}

// CircularBuffer is one CB configuration, replicated to every core in
// CoreRanges and written at each of BufferIndices' config slot. Address
// and Size describe the CB's device-resident backing region; NumPages
// is indexed in parallel with BufferIndices (NumPages[i] is the page
// count for BufferIndices[i]) and feeds the host_data CB descriptor
// tuples a program command carries, not the page-destination transfer
// table built here.
type CircularBuffer struct {
	CoreRanges    coord.CoreRangeSet
	BufferIndices []uint32
	Address       uint32
	Size          uint32
	NumPages      []uint32
}

// Semaphore is one dispatch-visible semaphore, initialized to InitialValue
// on every core in CoreRanges.
type Semaphore struct {
	CoreRanges   coord.CoreRangeSet
	Address      uint32
	InitialValue uint32
}

// KernelGroup is the set of cores that receive the same GO-signal launch
// message. LaunchMsg models launch_msg_t as four raw words; this module
// only needs mode (word 0) to carry DispatchModeDev and the remaining
// words to round-trip whatever the caller placed there.
type KernelGroup struct {
	CoreRanges coord.CoreRangeSet
	LaunchMsg  [launchMsgWords]uint32
}

// DispatchModeDev is the launch_msg_t mode value BuildMap stamps into
// every KernelGroup's LaunchMsg word 0 before transfer, mirroring
// `kg.launch_msg.mode = DISPATCH_MODE_DEV` in the original.
const DispatchModeDev = 1

// Program is the host-side description of one kernel graph to dispatch.
type Program struct {
	Kernels         []*Kernel
	CircularBuffers []*CircularBuffer
	Semaphores      []*Semaphore
	KernelGroups    []*KernelGroup
}

// ErrorKind classifies a program-build failure.
type ErrorKind int

const (
	// ErrTooManyBinaries: a non-COMPUTE kernel carries more than one
	// binary image, or a COMPUTE kernel more than three (TRISC0/1/2).
	// A kernel with fewer binaries, including none, is accepted.
	ErrTooManyBinaries ErrorKind = iota
	// ErrCoordEncoding: the supplied coord.Encoder rejected a logical core.
	ErrCoordEncoding
)

// Error is returned instead of a panic for malformed programs (spec.md's
// no-panic error policy applies to host-side validation as much as to
// device-facing protocol errors).
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// ProgramMap is the flattened output BuildMap produces: page-grouped
// transfer lists plus the contiguous, zero-padded binary/config blob they
// describe.
type ProgramMap struct {
	NumWorkers                 uint32
	ProgramPages               []uint32
	ProgramPageTransfers       []command.TransferInfo
	HostPageTransfers          []command.TransferInfo
	NumTransfersInProgramPages []uint32
	NumTransfersInHostDataPages []uint32
}

// align rounds addr up to the next multiple of alignment (alignment a
// power of two), matching the original's `((addr - 1) | (alignment - 1))
// + 1` bit-trick exactly, including its well-defined unsigned wraparound
// at addr == 0.
func align(addr, alignment uint32) uint32 {
	return ((addr - 1) | (alignment - 1)) + 1
}

type buildState struct {
	numTransfersWithinPage uint32
}

// updatePageTransfers splits a [dst, dst+numBytes) write into
// PROGRAM_PAGE_SIZE-bounded, NOC-transfer-alignment-rounded chunks,
// appending one transfer entry per chunk per multicast target, and
// returns the advanced src cursor. It mirrors update_program_page_transfers
// in the original exactly, including the per-page transfer-count
// bookkeeping.
func (st *buildState) updatePageTransfers(
	src, numBytes, dst uint32,
	transfers *[]command.TransferInfo,
	numTransfersPerPage *[]uint32,
	targets []coord.MulticastTarget,
) uint32 {
	for numBytes > 0 {
		numBytesLeftInPage := command.ProgramPageSize - (src % command.ProgramPageSize)
		numBytesInTransfer := numBytes
		if numBytesLeftInPage < numBytesInTransfer {
			numBytesInTransfer = numBytesLeftInPage
		}
		src = align(src+numBytesInTransfer, command.NOCTransferAlignment)

		for i, tgt := range targets {
			*transfers = append(*transfers, command.TransferInfo{
				SizeBytes:               numBytesInTransfer,
				DstLocalAddr:            dst,
				DstNocMulticastEncoding: tgt.Encoding,
				NumReceivers:            tgt.NumReceivers,
				LastInGroup:             i == len(targets)-1,
			})
			st.numTransfersWithinPage++
		}

		dst += numBytesInTransfer
		numBytes -= numBytesInTransfer

		if src%command.ProgramPageSize == 0 {
			*numTransfersPerPage = append(*numTransfersPerPage, st.numTransfersWithinPage)
			st.numTransfersWithinPage = 0
		}
	}
	return src
}

// BuildMap flattens p into a ProgramMap using enc to resolve logical core
// coordinates into wire-level NOC encodings. The five passes below run in
// the fixed order the dispatcher firmware expects: host data (runtime
// args, then circular buffer configs) must land before program data
// (kernel binaries, then semaphores, then GO-signal launch messages)
// because host data has the higher round-trip latency to pull in.
func BuildMap(enc coord.Encoder, p *Program) (*ProgramMap, error) {
	var (
		programPageTransfers        []command.TransferInfo
		hostPageTransfers           []command.TransferInfo
		numTransfersInProgramPages  []uint32
		numTransfersInHostDataPages []uint32
	)
	st := &buildState{}
	var src uint32

	// Step 1: runtime args.
	for _, k := range p.Kernels {
		dstBase := l1ArgBase(k.Processor)
		args := make([]KernelRuntimeArg, len(k.RuntimeArgs))
		copy(args, k.RuntimeArgs)
		sort.Slice(args, func(i, j int) bool {
			if args[i].Core.X != args[j].Core.X {
				return args[i].Core.X < args[j].Core.X
			}
			return args[i].Core.Y < args[j].Core.Y
		})
		for _, ra := range args {
			phys, err := enc.PhysicalFromLogical(ra.Core)
			if err != nil {
				return nil, &Error{Kind: ErrCoordEncoding, Msg: err.Error()}
			}
			numBytes := uint32(len(ra.Args)) * 4
			dstNoc := enc.UnicastEncoding(phys)
			targets := []coord.MulticastTarget{{Encoding: dstNoc, NumReceivers: 1}}
			src = st.updatePageTransfers(src, numBytes, dstBase, &hostPageTransfers, &numTransfersInHostDataPages, targets)
		}
	}

	// Step 2: circular buffer configs.
	for _, cb := range p.CircularBuffers {
		targets, err := coord.Targets(enc, cb.CoreRanges)
		if err != nil {
			return nil, &Error{Kind: ErrCoordEncoding, Msg: err.Error()}
		}
		const numBytes = command.UInt32WordsPerCBConfig * 4
		for _, bufIdx := range cb.BufferIndices {
			dst := circularBufferConfigBase + bufIdx*command.UInt32WordsPerCBConfig*4
			src = st.updatePageTransfers(src, numBytes, dst, &hostPageTransfers, &numTransfersInHostDataPages, targets)
		}
	}
	if st.numTransfersWithinPage != 0 {
		numTransfersInHostDataPages = append(numTransfersInHostDataPages, st.numTransfersWithinPage)
		st.numTransfersWithinPage = 0
	}

	// Step 3: kernel binaries. src restarts: program data begins a fresh
	// page sequence independent of host data.
	src = 0
	for _, k := range p.Kernels {
		targets, err := coord.Targets(enc, k.CoreRanges)
		if err != nil {
			return nil, &Error{Kind: ErrCoordEncoding, Msg: err.Error()}
		}

		var subKernels []Processor
		if k.Processor == COMPUTE {
			subKernels = []Processor{TRISC0, TRISC1, TRISC2}
		} else {
			subKernels = []Processor{k.Processor}
		}
		if len(k.Binaries) > len(subKernels) {
			return nil, &Error{Kind: ErrTooManyBinaries, Msg: fmt.Sprintf(
				"program: kernel on processor %d has %d binaries, at most %d allowed", k.Processor, len(k.Binaries), len(subKernels))}
		}

		for subIdx, bin := range k.Binaries {
			for _, span := range bin.Spans {
				numBytes := uint32(len(span.Words)) * 4
				dst := span.Dst
				switch {
				case dst&memLocalBase == memLocalBase:
					dst = (dst &^ memLocalBase) + localMemBase(subKernels[subIdx])
				case dst&memNcriscIramBase == memNcriscIramBase:
					dst = (dst &^ memNcriscIramBase) + memNcriscInitIramL1Base
				}
				src = st.updatePageTransfers(src, numBytes, dst, &programPageTransfers, &numTransfersInProgramPages, targets)
			}
		}
	}

	// Step 4: semaphore configs.
	for _, sem := range p.Semaphores {
		targets, err := coord.Targets(enc, sem.CoreRanges)
		if err != nil {
			return nil, &Error{Kind: ErrCoordEncoding, Msg: err.Error()}
		}
		src = st.updatePageTransfers(src, command.SemaphoreAlignment, sem.Address, &programPageTransfers, &numTransfersInProgramPages, targets)
	}

	// Step 5: GO-signal launch messages.
	for _, kg := range p.KernelGroups {
		kg.LaunchMsg[0] = DispatchModeDev
		targets, err := coord.Targets(enc, kg.CoreRanges)
		if err != nil {
			return nil, &Error{Kind: ErrCoordEncoding, Msg: err.Error()}
		}
		src = st.updatePageTransfers(src, launchMsgBytes, MailboxLaunchAddr, &programPageTransfers, &numTransfersInProgramPages, targets)
	}
	if st.numTransfersWithinPage != 0 {
		numTransfersInProgramPages = append(numTransfersInProgramPages, st.numTransfersWithinPage)
	}

	programPages := make([]uint32, align(src, command.ProgramPageSize)/4)
	idx := uint32(0)
	for _, k := range p.Kernels {
		for _, bin := range k.Binaries {
			for _, span := range bin.Spans {
				copy(programPages[idx:], span.Words)
				idx = align(idx+uint32(len(span.Words)), command.NOCTransferAlignment/4)
			}
		}
	}
	for _, sem := range p.Semaphores {
		programPages[idx] = sem.InitialValue
		idx += command.SemaphoreAlignment / 4
	}
	for _, kg := range p.KernelGroups {
		for i := 0; i < launchMsgWords; i++ {
			programPages[idx+uint32(i)] = kg.LaunchMsg[i]
		}
		idx += uint32(launchMsgWords)
	}

	return &ProgramMap{
		NumWorkers:                  logicalCoreCount(p.Kernels),
		ProgramPages:                programPages,
		ProgramPageTransfers:        programPageTransfers,
		HostPageTransfers:           hostPageTransfers,
		NumTransfersInProgramPages:  numTransfersInProgramPages,
		NumTransfersInHostDataPages: numTransfersInHostDataPages,
	}, nil
}

// logicalCoreCount returns the number of distinct logical cores any kernel
// in kernels runs on, matching the original's program.logical_cores().size().
func logicalCoreCount(kernels []*Kernel) uint32 {
	seen := make(map[coord.CoreCoord]struct{})
	for _, k := range kernels {
		for _, r := range k.CoreRanges.Ranges() {
			for x := r.Start.X; x <= r.End.X; x++ {
				for y := r.Start.Y; y <= r.End.Y; y++ {
					seen[coord.CoreCoord{X: x, Y: y}] = struct{}{}
				}
			}
		}
	}
	return uint32(len(seen))
}
