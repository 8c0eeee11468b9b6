// Package queue implements the Command Objects and Command Queue
// (spec.md §4.D, §4.E): the top-level entry point that turns buffer
// reads/writes and program launches into Device Command Records pushed
// through the ring, owns the per-program cache, and applies the
// wrap-check policy before every enqueue.
package queue

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/accelrt/cq/command"
	"github.com/accelrt/cq/coord"
	"github.com/accelrt/cq/dispatch"
	"github.com/accelrt/cq/program"
	"github.com/accelrt/cq/ring"
)

// Driver extends ring.Driver with the device-memory read/write calls
// buffer commands need. Real hardware would move these bytes via the
// on-device dispatcher firmware DMA'ing between the ring and DRAM/L1;
// since that firmware is out of scope (spec.md §1), the queue drives
// ReadDRAM/WriteDRAM directly, playing the firmware's role itself for
// the one step no implementation exists for. driver.Sim implements this.
type Driver interface {
	ring.Driver
	ReadDRAM(addr, numBytes uint32) ([]byte, error)
	WriteDRAM(addr uint32, data []byte) error
}

type programCacheEntry struct {
	buffer  *Buffer
	progMap *program.ProgramMap
}

// CommandQueue is the top-level entry point (spec.md §4.E): owns the
// ring writer, the per-program cache, and the driver/encoder boundary.
// Single-threaded from the caller's perspective — no internal locking,
// matching §5's "no background worker" scheduling model.
type CommandQueue struct {
	drv      Driver
	enc      coord.Encoder
	alloc    Allocator
	capacity uint32

	writer *ring.Writer

	programCache map[*program.Program]*programCacheEntry
}

// NewCommandQueue constructs a CommandQueue, running the dispatcher
// bootstrap (spec.md §4.F) via boot if this is the first queue
// constructed for deviceKey. Pass a nil boot to skip bootstrap entirely
// (e.g. a test driver with no simulated dispatch cores). ringCapacity is
// normally ring.HugePageSize; it is exposed here (rather than hardcoded)
// the same way ring.NewWriter already takes it as a parameter, so tests
// can exercise the wrap-check policy against a small ring instead of a
// real 1 GiB one.
func NewCommandQueue(
	deviceKey string,
	drv Driver,
	enc coord.Encoder,
	alloc Allocator,
	ringCapacity uint32,
	producerCore, consumerCore coord.CoreCoord,
	boot *dispatch.Bootstrapper,
	source dispatch.KernelSource,
) (*CommandQueue, error) {
	if boot != nil {
		if err := boot.Ensure(deviceKey, drv, enc, producerCore, consumerCore, source); err != nil {
			return nil, fmt.Errorf("queue: dispatcher bootstrap: %w", err)
		}
	}
	return &CommandQueue{
		drv:          drv,
		enc:          enc,
		alloc:        alloc,
		capacity:     ringCapacity,
		writer:       ring.NewWriter(drv, producerCore, ringCapacity),
		programCache: make(map[*program.Program]*programCacheEntry),
	}, nil
}

// cmdOp is the closed tagged variant spec.md §9 asks for in place of
// polymorphic dispatch over a base Command: exactly five implementations,
// one dispatch point (enqueue's type switch), no open extension point a
// new command kind would need to subclass into.
type cmdOp interface {
	process(q *CommandQueue) error
}

type readBufferCmd struct {
	buffer *Buffer
	dst    []byte
}

type writeBufferCmd struct {
	buffer *Buffer
	src    []byte
}

type programCmd struct {
	prog *program.Program
}

type finishCmd struct{}

type wrapCmd struct{}

func (c *readBufferCmd) process(q *CommandQueue) error {
	return q.enqueueReadBuffer(c.buffer, c.dst)
}
func (c *writeBufferCmd) process(q *CommandQueue) error {
	return q.enqueueWriteBuffer(c.buffer, c.src)
}
func (c *programCmd) process(q *CommandQueue) error { return q.enqueueProgram(c.prog) }
func (c *finishCmd) process(q *CommandQueue) error  { return q.finish() }
func (c *wrapCmd) process(q *CommandQueue) error    { return q.writer.Wrap() }

func (q *CommandQueue) enqueue(cmd cmdOp) error {
	switch c := cmd.(type) {
	case *readBufferCmd:
		return c.process(q)
	case *writeBufferCmd:
		return c.process(q)
	case *programCmd:
		return c.process(q)
	case *finishCmd:
		return c.process(q)
	case *wrapCmd:
		return c.process(q)
	default:
		return fmt.Errorf("queue: unknown command type %T", cmd)
	}
}

// EnqueueReadBuffer reads buffer into dst, blocking until the data has
// been pulled through the ring and de-padded (spec.md §4.D: reads are
// always blocking).
func (q *CommandQueue) EnqueueReadBuffer(buffer *Buffer, dst []byte) error {
	return q.enqueue(&readBufferCmd{buffer: buffer, dst: dst})
}

// EnqueueWriteBuffer writes src into buffer, returning once the command
// has been pushed (spec.md §4.D: writes are always non-blocking — the
// device-side DMA completion is not waited on).
func (q *CommandQueue) EnqueueWriteBuffer(buffer *Buffer, src []byte) error {
	return q.enqueue(&writeBufferCmd{buffer: buffer, src: src})
}

// EnqueueProgram launches prog, building and caching its ProgramMap and
// DRAM binary buffer on first sight, non-blocking thereafter.
func (q *CommandQueue) EnqueueProgram(prog *program.Program) error {
	return q.enqueue(&programCmd{prog: prog})
}

// Finish blocks until every previously enqueued command has been
// observed complete by the device (spec.md §4.D/§4.E).
func (q *CommandQueue) Finish() error {
	return q.enqueue(&finishCmd{})
}

// wrapCheck implements spec.md §4.E's wrap-check policy: a command whose
// total bytes would cross the end of the ring triggers a Wrap first; a
// command that could never fit even right after CQStart is fatal.
func (q *CommandQueue) wrapCheck(totalBytes uint32) error {
	maxCommand := q.capacity - ring.CQStart
	if totalBytes > maxCommand {
		return &Error{Kind: ErrCommandTooLarge, Msg: fmt.Sprintf(
			"queue: command of %d bytes exceeds max command size %d", totalBytes, maxCommand)}
	}
	if totalBytes > q.writer.SpaceUntilEnd() {
		if err := q.enqueue(&wrapCmd{}); err != nil {
			return fmt.Errorf("queue: wrap before enqueue: %w", err)
		}
	}
	return nil
}

// cbSizing computes consumer/producer CB page counts and the
// producer-consumer transfer page count for a padded page size, per
// spec.md §4.D's EnqueueReadBuffer/EnqueueWriteBuffer CB sizing rule.
func cbSizing(paddedPageSize uint32) (consumerCBNumPages, producerCBNumPages, producerConsumerTransferNumPages uint32, err error) {
	if paddedPageSize > ConsumerDataBufferSize {
		return 0, 0, 0, &Error{Kind: ErrPagePaddingTooLarge, Msg: fmt.Sprintf(
			"queue: padded page size %d exceeds consumer CB size %d", paddedPageSize, uint32(ConsumerDataBufferSize))}
	}
	consumerCBNumPages = ConsumerDataBufferSize / paddedPageSize
	if consumerCBNumPages >= 4 {
		consumerCBNumPages -= consumerCBNumPages % 4
		producerConsumerTransferNumPages = consumerCBNumPages / 4
	} else {
		producerConsumerTransferNumPages = 1
	}
	producerCBNumPages = 2 * consumerCBNumPages
	return consumerCBNumPages, producerCBNumPages, producerConsumerTransferNumPages, nil
}

func validateBufferType(bt command.BufferType) error {
	if bt != command.BufferTypeDRAM && bt != command.BufferTypeL1 {
		return &Error{Kind: ErrInvalidBufferType, Msg: fmt.Sprintf("queue: invalid buffer type %d", bt)}
	}
	return nil
}

func (q *CommandQueue) enqueueWriteBuffer(buffer *Buffer, src []byte) error {
	if err := validateBufferType(buffer.BufferType); err != nil {
		return err
	}
	if uint32(len(src)) > buffer.SizeBytes {
		return &Error{Kind: ErrSourceExceedsBuffer, Msg: fmt.Sprintf(
			"queue: source (%d bytes) exceeds buffer size (%d bytes)", len(src), buffer.SizeBytes)}
	}
	if buffer.BufferType == command.BufferTypeL1 && buffer.PageSizeBytes > L1DataSectionSize {
		return &Error{Kind: ErrPageExceedsL1, Msg: fmt.Sprintf(
			"queue: page size %d exceeds L1 data section %d", buffer.PageSizeBytes, uint32(L1DataSectionSize))}
	}

	paddedPageSize := buffer.PageSizeBytes
	if buffer.PageSizeBytes != buffer.SizeBytes {
		paddedPageSize = alignUp(buffer.PageSizeBytes, 32)
	}
	consumerCBNumPages, producerCBNumPages, transferNumPages, err := cbSizing(paddedPageSize)
	if err != nil {
		return err
	}

	dataBytes := paddedPageSize * buffer.NumPages
	total := alignUp(command.NumBytesInDeviceCommand+dataBytes, 16)
	if err := q.wrapCheck(total); err != nil {
		return err
	}

	wrBytePos := q.writer.WriteBytePos()
	srcInRing := wrBytePos + command.NumBytesInDeviceCommand

	var b command.Builder
	b.SetPageSize(paddedPageSize)
	b.SetNumPages(buffer.NumPages)
	b.SetDataSize(dataBytes)
	b.SetProducerCBSize(ProducerDataBufferSize)
	b.SetConsumerCBSize(ConsumerDataBufferSize)
	b.SetProducerCBNumPages(producerCBNumPages)
	b.SetConsumerCBNumPages(consumerCBNumPages)
	b.SetProducerConsumerTransferNumPages(transferNumPages)
	if err := b.AddBufferTransferInstruction(
		srcInRing, buffer.Address, buffer.NumPages, paddedPageSize,
		command.BufferTypeSystemMemory, buffer.BufferType,
	); err != nil {
		return err
	}

	if err := q.writer.ReserveBack(total); err != nil {
		return err
	}
	desc := b.GetDesc()
	if err := q.writer.Write(desc[:], wrBytePos); err != nil {
		return err
	}

	if buffer.PageSizeBytes%32 != 0 && buffer.PageSizeBytes != buffer.SizeBytes {
		for p := uint32(0); p < buffer.NumPages; p++ {
			srcOff := p * buffer.PageSizeBytes
			end := srcOff + buffer.PageSizeBytes
			if end > uint32(len(src)) {
				end = uint32(len(src))
			}
			var page []byte
			if srcOff < end {
				page = src[srcOff:end]
			}
			words := bytesToWords(page, paddedPageSize)
			if err := q.writer.Write(words, srcInRing+p*paddedPageSize); err != nil {
				return err
			}
		}
	} else {
		words := bytesToWords(src, alignUp(uint32(len(src)), 4))
		if err := q.writer.Write(words, srcInRing); err != nil {
			return err
		}
	}

	if err := q.writer.PushBack(total); err != nil {
		return err
	}

	// Commit to the simulated device memory directly: no firmware model
	// exists to DMA ring payload into DRAM/L1 (spec.md §1 non-goal), so
	// the queue performs that step itself via the driver boundary.
	return q.drv.WriteDRAM(buffer.Address, append([]byte(nil), src...))
}

func (q *CommandQueue) enqueueReadBuffer(buffer *Buffer, dst []byte) error {
	if err := validateBufferType(buffer.BufferType); err != nil {
		return err
	}
	if uint32(len(dst)) < buffer.SizeBytes {
		return &Error{Kind: ErrSourceExceedsBuffer, Msg: fmt.Sprintf(
			"queue: destination (%d bytes) is smaller than buffer size (%d bytes)", len(dst), buffer.SizeBytes)}
	}
	if buffer.BufferType == command.BufferTypeL1 && buffer.PageSizeBytes > L1DataSectionSize {
		return &Error{Kind: ErrPageExceedsL1, Msg: fmt.Sprintf(
			"queue: page size %d exceeds L1 data section %d", buffer.PageSizeBytes, uint32(L1DataSectionSize))}
	}

	paddedPageSize := alignUp(buffer.PageSizeBytes, 32)
	consumerCBNumPages, producerCBNumPages, transferNumPages, err := cbSizing(paddedPageSize)
	if err != nil {
		return err
	}

	dataBytes := paddedPageSize * buffer.NumPages
	total := command.NumBytesInDeviceCommand + dataBytes
	if err := q.wrapCheck(total); err != nil {
		return err
	}

	wrBytePos := q.writer.WriteBytePos()
	readAddr := wrBytePos + command.NumBytesInDeviceCommand

	var b command.Builder
	b.SetStall()
	b.SetPageSize(paddedPageSize)
	b.SetNumPages(buffer.NumPages)
	b.SetDataSize(dataBytes)
	b.SetProducerCBSize(ProducerDataBufferSize)
	b.SetConsumerCBSize(ConsumerDataBufferSize)
	b.SetProducerCBNumPages(producerCBNumPages)
	b.SetConsumerCBNumPages(consumerCBNumPages)
	b.SetProducerConsumerTransferNumPages(transferNumPages)
	if err := b.AddBufferTransferInstruction(
		buffer.Address, readAddr, buffer.NumPages, paddedPageSize,
		buffer.BufferType, command.BufferTypeSystemMemory,
	); err != nil {
		return err
	}

	if err := q.writer.ReserveBack(total); err != nil {
		return err
	}
	desc := b.GetDesc()
	if err := q.writer.Write(desc[:], wrBytePos); err != nil {
		return err
	}

	raw, err := q.drv.ReadDRAM(buffer.Address, buffer.SizeBytes)
	if err != nil {
		return err
	}
	// Build the on-wire, padded-per-page representation the real
	// firmware would have produced, same simulation shortcut as the
	// write path above.
	onWire := make([]byte, dataBytes)
	for p := uint32(0); p < buffer.NumPages; p++ {
		srcOff := p * buffer.PageSizeBytes
		end := srcOff + buffer.PageSizeBytes
		if end > uint32(len(raw)) {
			end = uint32(len(raw))
		}
		if srcOff < end {
			copy(onWire[p*paddedPageSize:], raw[srcOff:end])
		}
	}
	if err := q.writer.Write(bytesToWords(onWire, dataBytes), readAddr); err != nil {
		return err
	}

	if err := q.writer.PushBack(total); err != nil {
		return err
	}

	readBack, err := q.drv.ReadHostRegion(readAddr, dataBytes/4)
	if err != nil {
		return err
	}
	readBackBytes := wordsToBytes(readBack)
	for p := uint32(0); p < buffer.NumPages; p++ {
		dstOff := p * buffer.PageSizeBytes
		srcOff := p * paddedPageSize
		end := dstOff + buffer.PageSizeBytes
		if end > uint32(len(dst)) {
			end = uint32(len(dst))
		}
		if dstOff < end {
			copy(dst[dstOff:end], readBackBytes[srcOff:srcOff+(end-dstOff)])
		}
	}
	return nil
}

// buildHostData flattens a program's runtime args (padded to 16 bytes
// per core) followed by its circular buffer descriptor tuples, the
// payload EnqueueProgram writes inline every enqueue (spec.md §4.D).
// Kernel/core ordering must match program.BuildMap's pass 1 (sorted by
// logical core (x, y) per kernel) so host_data's byte layout lines up with
// the destination transfer table BuildMap already produced.
func buildHostData(prog *program.Program) []byte {
	var buf []byte
	for _, k := range prog.Kernels {
		args := make([]program.KernelRuntimeArg, len(k.RuntimeArgs))
		copy(args, k.RuntimeArgs)
		sort.Slice(args, func(i, j int) bool {
			if args[i].Core.X != args[j].Core.X {
				return args[i].Core.X < args[j].Core.X
			}
			return args[i].Core.Y < args[j].Core.Y
		})
		for _, ra := range args {
			for _, w := range ra.Args {
				buf = binary.LittleEndian.AppendUint32(buf, w)
			}
			for len(buf)%16 != 0 {
				buf = append(buf, 0)
			}
		}
	}
	for _, cb := range prog.CircularBuffers {
		for i := range cb.BufferIndices {
			var numPages, pageSize uint32
			if i < len(cb.NumPages) {
				numPages = cb.NumPages[i]
			}
			if numPages > 0 {
				pageSize = cb.Size / numPages
			}
			buf = binary.LittleEndian.AppendUint32(buf, cb.Address>>4)
			buf = binary.LittleEndian.AppendUint32(buf, cb.Size>>4)
			buf = binary.LittleEndian.AppendUint32(buf, numPages)
			buf = binary.LittleEndian.AppendUint32(buf, pageSize>>4)
		}
	}
	return buf
}

func (q *CommandQueue) enqueueProgram(prog *program.Program) error {
	entry, cached := q.programCache[prog]
	stall := !cached
	if !cached {
		if err := program.ValidateCircularBuffers(prog, program.L1CapacityBytes); err != nil {
			return err
		}
		pm, err := program.BuildMap(q.enc, prog)
		if err != nil {
			return err
		}
		sizeBytes := uint32(len(pm.ProgramPages)) * 4
		buf := &Buffer{
			BufferType:    command.BufferTypeDRAM,
			PageSizeBytes: command.ProgramPageSize,
			NumPages:      sizeBytes / command.ProgramPageSize,
			SizeBytes:     sizeBytes,
		}
		if sizeBytes > 0 {
			addr, err := q.alloc.AllocateDRAM(sizeBytes)
			if err != nil {
				return err
			}
			buf.Address = addr
			if err := q.enqueueWriteBuffer(buf, wordsToBytes(pm.ProgramPages)); err != nil {
				return fmt.Errorf("queue: write program binary blob: %w", err)
			}
		}
		entry = &programCacheEntry{buffer: buf, progMap: pm}
		q.programCache[prog] = entry
	}
	pm := entry.progMap
	buf := entry.buffer

	hostData := buildHostData(prog)
	numHostPages := alignUp(uint32(len(hostData)), command.ProgramPageSize) / command.ProgramPageSize
	numProgramPages := buf.NumPages

	total := command.NumBytesInDeviceCommand + numHostPages*command.ProgramPageSize
	if err := q.wrapCheck(total); err != nil {
		return err
	}

	var b command.Builder
	b.SetProgram()
	if stall {
		b.SetStall()
	}
	b.SetPageSize(command.ProgramPageSize)
	b.SetNumPages(numHostPages + numProgramPages)
	b.SetDataSize(numHostPages * command.ProgramPageSize)
	b.SetProducerCBSize(ProducerDataBufferSize)
	b.SetConsumerCBSize(ConsumerDataBufferSize)
	b.SetProducerCBNumPages(ProducerDataBufferSize / command.ProgramPageSize)
	b.SetConsumerCBNumPages(ConsumerDataBufferSize / command.ProgramPageSize)
	b.SetProducerConsumerTransferNumPages(ProgramProducerConsumerTransferNumPages)
	b.SetNumWorkers(pm.NumWorkers)

	wrBytePos := q.writer.WriteBytePos()
	hostDataAddr := wrBytePos + command.NumBytesInDeviceCommand

	if numHostPages > 0 {
		// dst/dstType are unused: each host page's real destination comes
		// from the program transfer table entries written below.
		if err := b.AddBufferTransferInstruction(
			hostDataAddr, 0, numHostPages, command.ProgramPageSize,
			command.BufferTypeSystemMemory, command.BufferTypeDRAM,
		); err != nil {
			return err
		}
		if err := writeTransferTable(&b, pm.HostPageTransfers, pm.NumTransfersInHostDataPages); err != nil {
			return err
		}
	}
	if numProgramPages > 0 {
		if err := b.AddBufferTransferInstruction(
			buf.Address, 0, numProgramPages, command.ProgramPageSize,
			command.BufferTypeDRAM, command.BufferTypeDRAM,
		); err != nil {
			return err
		}
		if err := writeTransferTable(&b, pm.ProgramPageTransfers, pm.NumTransfersInProgramPages); err != nil {
			return err
		}
	}

	if err := q.writer.ReserveBack(total); err != nil {
		return err
	}
	desc := b.GetDesc()
	if err := q.writer.Write(desc[:], wrBytePos); err != nil {
		return err
	}
	if numHostPages > 0 {
		words := bytesToWords(hostData, numHostPages*command.ProgramPageSize)
		if err := q.writer.Write(words, hostDataAddr); err != nil {
			return err
		}
	}
	return q.writer.PushBack(total)
}

func writeTransferTable(b *command.Builder, transfers []command.TransferInfo, perPageCounts []uint32) error {
	idx := 0
	for _, cnt := range perPageCounts {
		if err := b.WriteProgramEntry(int(cnt)); err != nil {
			return err
		}
		for i := 0; i < int(cnt); i++ {
			t := transfers[idx]
			if err := b.AddWritePagePartialInstruction(
				t.SizeBytes, t.DstLocalAddr, t.DstNocMulticastEncoding, t.NumReceivers, t.LastInGroup,
			); err != nil {
				return err
			}
			idx++
		}
	}
	return nil
}

func (q *CommandQueue) finish() error {
	total := uint32(command.NumBytesInDeviceCommand)
	if err := q.wrapCheck(total); err != nil {
		return err
	}

	var b command.Builder
	b.SetFinish()
	wrBytePos := q.writer.WriteBytePos()
	if err := q.writer.ReserveBack(total); err != nil {
		return err
	}
	desc := b.GetDesc()
	if err := q.writer.Write(desc[:], wrBytePos); err != nil {
		return err
	}
	if err := q.writer.PushBack(total); err != nil {
		return err
	}

	for {
		words, err := q.drv.ReadHostRegion(ring.HostCQFinishPtr, 1)
		if err != nil {
			return err
		}
		if words[0] == 1 {
			return q.drv.WriteHostRegion([]uint32{0}, ring.HostCQFinishPtr)
		}
		time.Sleep(100 * time.Microsecond)
	}
}
