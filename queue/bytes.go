package queue

import "encoding/binary"

// alignUp rounds x up to the next multiple of n (n a power of two),
// matching the original's `((addr-1)|(alignment-1))+1` bit-trick used
// throughout the protocol for page/alignment rounding.
func alignUp(x, n uint32) uint32 {
	if x == 0 {
		return 0
	}
	return ((x - 1) | (n - 1)) + 1
}

// bytesToWords packs data into little-endian u32 words, zero-padding the
// result up to totalBytes (a multiple of 4).
func bytesToWords(data []byte, totalBytes uint32) []uint32 {
	padded := make([]byte, totalBytes)
	copy(padded, data)
	out := make([]uint32, totalBytes/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(padded[i*4 : i*4+4])
	}
	return out
}

// wordsToBytes is the inverse of bytesToWords with no padding applied.
func wordsToBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], w)
	}
	return out
}
