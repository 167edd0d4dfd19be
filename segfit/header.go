package segfit

import "encoding/binary"

// Every block, free or allocated, is prefixed with a fixed 8-byte header living in
// the heap bytes themselves:
//
//	[0:4] payload size (uint32) - bytes available to the caller, header excluded
//	[4:6] allocated flag (uint16) - 0 free, 1 allocated
//	[6:8] class index (uint16) - the free list this block belongs to
//
// The class index is only meaningful while the block is free, but it is retained on
// allocated blocks to route Free back to the right list. Little-endian throughout.
const (
	headerSize = 8

	allocatedFlag = 1
)

func payloadOffset(block int) int {
	return block + headerSize
}

func blockForPayload(payload int) int {
	return payload - headerSize
}

func payloadSizeAt(heap []byte, block int) int {
	return int(binary.LittleEndian.Uint32(heap[block:]))
}

func setPayloadSize(heap []byte, block, size int) {
	binary.LittleEndian.PutUint32(heap[block:], uint32(size))
}

func isAllocatedAt(heap []byte, block int) bool {
	return binary.LittleEndian.Uint16(heap[block+4:]) == allocatedFlag
}

func allocatedFlagAt(heap []byte, block int) uint16 {
	return binary.LittleEndian.Uint16(heap[block+4:])
}

func setAllocated(heap []byte, block int, allocated bool) {
	var flag uint16
	if allocated {
		flag = allocatedFlag
	}
	binary.LittleEndian.PutUint16(heap[block+4:], flag)
}

func classAt(heap []byte, block int) uint16 {
	return binary.LittleEndian.Uint16(heap[block+6:])
}

func setClass(heap []byte, block int, class uint16) {
	binary.LittleEndian.PutUint16(heap[block+6:], class)
}

// nextBlock returns the offset of the block physically following the block at the
// given offset, using size as its payload size.
func nextBlock(block, size int) int {
	return block + headerSize + size
}
