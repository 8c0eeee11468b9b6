// Package command implements the Device Command Builder (spec.md §4.A):
// assembly of the fixed-layout wire record the on-device dispatcher
// firmware consumes from the host ring. The layout here is this module's
// own concrete choice (the wire format is specified as opaque); what matters
// is that it is deterministic, fully zero-padded, and exactly
// NumBytesInDeviceCommand long on every GetDesc() call.
package command

import "fmt"

// Protocol-wide size constants. PROGRAM_PAGE_SIZE from spec.md §3/§6.
const (
	ProgramPageSize        = 4096
	NOCTransferAlignment   = 16
	SemaphoreAlignment     = 16
	UInt32WordsPerCBConfig = 4

	// MaxBufferTransfers bounds the buffer transfer table (spec.md §4.A):
	// every enqueue kind adds at most two entries (program commands add a
	// host-data entry and a program-binary entry; read/write add one).
	MaxBufferTransfers = 2

	// MaxProgramPages / MaxTransfersPerProgramPage bound the program
	// transfer table. A single EnqueueProgram command writes one page-slot
	// per host-data page plus one per program page (binaries + semaphores +
	// launch messages), each slot holding up to MaxTransfersPerProgramPage
	// partial-write entries.
	MaxProgramPages          = 16
	MaxTransfersPerProgramPage = 16
)

const (
	// usedHeaderWords is the number of header words GetDesc actually
	// writes; headerWords pads that out so NumBytesInDeviceCommand lands
	// on a 16-byte boundary, matching the ring pointer's 16-byte
	// granularity (fifo_wr_ptr counts in 16-byte words).
	usedHeaderWords      = 13
	headerWords          = 16
	bufferTransferWords  = 6
	transferEntryWords   = 5
	programPageSlotWords = 1 + MaxTransfersPerProgramPage*transferEntryWords
	bufferTableWords     = MaxBufferTransfers * bufferTransferWords
	programTableWords    = MaxProgramPages * programPageSlotWords

	// NumWordsInDeviceCommand / NumBytesInDeviceCommand are the fixed size
	// of the wire record (spec.md §3/§6: NUM_BYTES_IN_DEVICE_COMMAND).
	NumWordsInDeviceCommand = headerWords + bufferTableWords + programTableWords
	NumBytesInDeviceCommand = NumWordsInDeviceCommand * 4
)

// BufferType identifies where a buffer transfer endpoint lives.
type BufferType uint32

const (
	BufferTypeDRAM BufferType = iota
	BufferTypeL1
	BufferTypeSystemMemory
)

// TransferInfo is one program-transfer-table entry (spec.md §3): a single
// page-sized write, multicast to one destination.
type TransferInfo struct {
	SizeBytes    uint32
	DstLocalAddr uint32
	DstNocMulticastEncoding uint32
	NumReceivers uint32
	LastInGroup  bool
}

// bufferTransfer is one buffer-transfer-table entry.
type bufferTransfer struct {
	Src, Dst               uint32
	NumPages, PageSize     uint32
	SrcType, DstType       BufferType
}

// Builder assembles one Device Command Record. The zero value is a valid,
// fully-zeroed command (matching "is_program=false, stall=false, finish=false,
// wrap is not a header field").
type Builder struct {
	isProgram bool
	stall     bool
	finish    bool

	pageSize                         uint32
	numPages                         uint32
	dataSize                         uint32
	producerCBSize, consumerCBSize   uint32
	producerCBNumPages, consumerCBNumPages uint32
	producerConsumerTransferNumPages uint32
	numWorkers                       uint32

	bufferTransfers []bufferTransfer

	// programPages holds, per page-slot index in append order, the
	// transfer entries written via WriteProgramEntry+AddWritePagePartialInstruction.
	programPages [][]TransferInfo

	// currentPageOpen tracks whether WriteProgramEntry has been called for
	// the page-slot currently being filled (AddWritePagePartialInstruction
	// requires an open page).
	currentPageOpen bool
	currentPageWant int
}

// SetProgram marks the command as carrying a program (is_program flag).
func (b *Builder) SetProgram() { b.isProgram = true }

// SetStall sets the stall flag (dispatcher prefetch must wait for this
// command's payload to land before continuing).
func (b *Builder) SetStall() { b.stall = true }

// SetFinish marks the command as a Finish barrier.
func (b *Builder) SetFinish() { b.finish = true }

func (b *Builder) SetPageSize(v uint32)     { b.pageSize = v }
func (b *Builder) SetNumPages(v uint32)     { b.numPages = v }
func (b *Builder) SetDataSize(v uint32)     { b.dataSize = v }
func (b *Builder) SetProducerCBSize(v uint32)     { b.producerCBSize = v }
func (b *Builder) SetConsumerCBSize(v uint32)     { b.consumerCBSize = v }
func (b *Builder) SetProducerCBNumPages(v uint32) { b.producerCBNumPages = v }
func (b *Builder) SetConsumerCBNumPages(v uint32) { b.consumerCBNumPages = v }
func (b *Builder) SetProducerConsumerTransferNumPages(v uint32) { b.producerConsumerTransferNumPages = v }
func (b *Builder) SetNumWorkers(v uint32) { b.numWorkers = v }

// AddBufferTransferInstruction appends one entry to the buffer transfer
// table. Returns an error if the table (MaxBufferTransfers) is full.
func (b *Builder) AddBufferTransferInstruction(src, dst, numPages, pageSize uint32, srcType, dstType BufferType) error {
	if len(b.bufferTransfers) >= MaxBufferTransfers {
		return fmt.Errorf("command: buffer transfer table full (max %d)", MaxBufferTransfers)
	}
	b.bufferTransfers = append(b.bufferTransfers, bufferTransfer{
		Src: src, Dst: dst, NumPages: numPages, PageSize: pageSize, SrcType: srcType, DstType: dstType,
	})
	return nil
}

// WriteProgramEntry opens a new page-slot in the program transfer table
// declaring that `count` AddWritePagePartialInstruction calls will follow.
func (b *Builder) WriteProgramEntry(count int) error {
	if len(b.programPages) >= MaxProgramPages {
		return fmt.Errorf("command: program transfer table full (max %d pages)", MaxProgramPages)
	}
	if count > MaxTransfersPerProgramPage {
		return fmt.Errorf("command: page entry count %d exceeds max %d", count, MaxTransfersPerProgramPage)
	}
	b.programPages = append(b.programPages, make([]TransferInfo, 0, count))
	b.currentPageOpen = true
	b.currentPageWant = count
	return nil
}

// AddWritePagePartialInstruction appends one partial-write entry to the
// page-slot most recently opened by WriteProgramEntry.
func (b *Builder) AddWritePagePartialInstruction(numBytes, dst, dstNoc, numReceivers uint32, last bool) error {
	if !b.currentPageOpen {
		return fmt.Errorf("command: no open program page entry (call WriteProgramEntry first)")
	}
	idx := len(b.programPages) - 1
	if len(b.programPages[idx]) >= b.currentPageWant {
		return fmt.Errorf("command: page entry overflow: declared %d transfers", b.currentPageWant)
	}
	b.programPages[idx] = append(b.programPages[idx], TransferInfo{
		SizeBytes: numBytes, DstLocalAddr: dst, DstNocMulticastEncoding: dstNoc,
		NumReceivers: numReceivers, LastInGroup: last,
	})
	if len(b.programPages[idx]) == b.currentPageWant {
		b.currentPageOpen = false
	}
	return nil
}

// GetDesc returns the deterministic, fully zero-padded wire record.
func (b *Builder) GetDesc() [NumWordsInDeviceCommand]uint32 {
	var out [NumWordsInDeviceCommand]uint32

	w := 0
	putBool := func(v bool) {
		if v {
			out[w] = 1
		}
		w++
	}
	putBool(b.isProgram)
	putBool(b.stall)
	putBool(b.finish)
	out[w] = b.pageSize
	w++
	out[w] = b.numPages
	w++
	out[w] = b.dataSize
	w++
	out[w] = b.producerCBSize
	w++
	out[w] = b.consumerCBSize
	w++
	out[w] = b.producerCBNumPages
	w++
	out[w] = b.consumerCBNumPages
	w++
	out[w] = b.producerConsumerTransferNumPages
	w++
	out[w] = b.numWorkers
	w++
	out[w] = uint32(len(b.bufferTransfers))
	w++
	if w != usedHeaderWords {
		panic("command: header word count drifted from usedHeaderWords constant")
	}
	w = headerWords

	for _, t := range b.bufferTransfers {
		out[w] = t.Src
		w++
		out[w] = t.Dst
		w++
		out[w] = t.NumPages
		w++
		out[w] = t.PageSize
		w++
		out[w] = uint32(t.SrcType)
		w++
		out[w] = uint32(t.DstType)
		w++
	}

	programTableBase := headerWords + bufferTableWords
	for i, page := range b.programPages {
		slot := programTableBase + i*programPageSlotWords
		out[slot] = uint32(len(page))
		for j, e := range page {
			base := slot + 1 + j*transferEntryWords
			out[base] = e.SizeBytes
			out[base+1] = e.DstLocalAddr
			out[base+2] = e.DstNocMulticastEncoding
			out[base+3] = e.NumReceivers
			if e.LastInGroup {
				out[base+4] = 1
			}
		}
	}
	return out
}

// DataSize returns the bytes-of-inline-payload header field, mirroring the
// original's cmd.get_data_size() accessor used by EnqueueReadBufferCommand
// and EnqueueWriteBufferCommand to size their ring reservation.
func (b *Builder) DataSize() uint32 { return b.dataSize }
