package queue

// ErrorKind classifies a fatal command-queue condition (spec.md §7 — all
// of these are assertions at enqueue entry or command assembly time, not
// transient states, and never surface as panics).
type ErrorKind int

const (
	// ErrInvalidBufferType: a buffer command targeted a BufferType other
	// than DRAM or L1.
	ErrInvalidBufferType ErrorKind = iota
	// ErrCommandTooLarge: a single command's total bytes exceed
	// HugePageSize - CQStart; no wrap can make room for it.
	ErrCommandTooLarge
	// ErrSourceExceedsBuffer: the caller-supplied payload is larger than
	// the destination buffer's declared size, or (for a read) the
	// caller's destination slice is smaller than the buffer.
	ErrSourceExceedsBuffer
	// ErrPageExceedsL1: an L1-resident buffer's page size exceeds this
	// module's synthetic L1 data section capacity.
	ErrPageExceedsL1
	// ErrUnsupportedBlocking: reserved for a blocking mode the public API
	// does not expose. EnqueueReadBuffer is always blocking and
	// EnqueueWriteBuffer/EnqueueProgram are always non-blocking (spec.md
	// §9 "Blocking shape": distinct methods instead of a boolean flag),
	// so this kind is unreachable through normal use; it stays in the
	// enum because §7 names it as a fatal condition of the protocol.
	ErrUnsupportedBlocking
	// ErrPagePaddingTooLarge: a buffer command's 32-byte-padded page size
	// exceeds the consumer CB's size.
	ErrPagePaddingTooLarge
)

// Error is returned instead of a panic for every fatal condition named in
// spec.md §7.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }
