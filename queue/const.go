package queue

// Producer/consumer staging-buffer sizes on the dispatch cores. spec.md
// names PRODUCER_DATA_BUFFER_SIZE / CONSUMER_DATA_BUFFER_SIZE but the
// retrieved original source excerpt does not carry their literal values;
// these are this module's own synthetic constants, chosen so typical
// test page sizes (32-4096 bytes) divide evenly into at least four CB
// pages, matching the producer/consumer 2:1 ratio spec.md §4.D describes.
const (
	ProducerDataBufferSize = 256 * 1024
	ConsumerDataBufferSize = 128 * 1024

	// L1DataSectionSize bounds a single L1-resident buffer's page size.
	// Synthetic, matching this module's L1 memory map in program/memmap.go
	// (distinct regions, no claim of reproducing a real device's capacity).
	L1DataSectionSize = 96 * 1024

	// ProgramProducerConsumerTransferNumPages is the fixed value spec.md
	// §4.D names literally for program commands (unlike buffer commands,
	// where it is computed from CB sizing).
	ProgramProducerConsumerTransferNumPages = 4
)
