package segfit

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"

	"github.com/segmem/segfit/memutils"
)

var _ memutils.Validatable = &Allocator{}

// Validate performs internal consistency checks on the heap and the free lists:
// every header must be sane and 8-byte aligned, header sizes must sum to exactly the
// extended heap size, every free list must be acyclic and reference only in-heap
// blocks marked free, and the number of listed free blocks must match the heap walk.
// It deliberately does not check that a free block's size falls inside its class's
// nominal power-of-two range: the in-place split policy parks out-of-range
// remainders in hot classes by design, so class membership is only true at insertion
// time.
//
// When the implementation is functioning correctly it should not be possible for
// this method to return an error, but it may assist in diagnosing issues.
func (a *Allocator) Validate() error {
	heap := a.provider.Bytes()

	// Walk the physical heap by headers.
	freeBlocks := swiss.NewMap[int, struct{}](64)
	var allocCount, freeCount, freeBytes, allocBytes int

	for block := 0; block < len(heap); {
		if !memutils.IsAligned(block, Alignment) {
			return cerrors.Newf("block at offset %d is not %d-byte aligned", block, Alignment)
		}
		if block+headerSize > len(heap) {
			return cerrors.Newf("block header at offset %d runs past the end of the heap", block)
		}

		size := payloadSizeAt(heap, block)
		if size < MinBlockSize-headerSize {
			return cerrors.Newf("block at offset %d has payload size %d, below the minimum %d", block, size, MinBlockSize-headerSize)
		}
		if nextBlock(block, size) > len(heap) {
			return cerrors.Newf("block at offset %d with payload size %d runs past the end of the heap", block, size)
		}

		flag := allocatedFlagAt(heap, block)
		if flag > allocatedFlag {
			return cerrors.Newf("block at offset %d has a corrupt allocated flag %d", block, flag)
		}

		class := classAt(heap, block)
		if class >= NumClasses {
			return cerrors.Newf("block at offset %d names class %d, beyond the last class %d", block, class, NumClasses-1)
		}

		if flag == allocatedFlag {
			allocCount++
			allocBytes += size
		} else {
			freeCount++
			freeBytes += size
			freeBlocks.Put(block, struct{}{})
		}

		block = nextBlock(block, size)
	}

	// The bounds checks above guarantee the walk lands exactly on the heap end, so
	// header sizes sum to the extended heap size.

	// Walk every free list.
	var listedCount int
	for class := 0; class < NumClasses; class++ {
		visited := swiss.NewMap[int, struct{}](16)

		for block := a.lists.heads[class]; block != nullOffset; block = nextFree(heap, block) {
			if block < 0 || nextBlock(block, 0) > len(heap) {
				return cerrors.Newf("free list %d references offset %d, outside the heap", class, block)
			}
			if !memutils.IsAligned(block, Alignment) {
				return cerrors.Newf("free list %d references misaligned offset %d", class, block)
			}
			if _, seen := visited.Get(block); seen {
				return cerrors.Newf("free list %d contains a cycle through offset %d", class, block)
			}
			visited.Put(block, struct{}{})

			if isAllocatedAt(heap, block) {
				return cerrors.Newf("block at offset %d is on free list %d but is marked allocated", block, class)
			}
			if recorded := classAt(heap, block); recorded != uint16(class) {
				return cerrors.Newf("block at offset %d is on free list %d but its header names class %d", block, class, recorded)
			}
			if _, inHeap := freeBlocks.Get(block); !inHeap {
				return cerrors.Newf("free list %d references offset %d, which the heap walk did not see as a free block", class, block)
			}

			listedCount++
		}
	}

	if listedCount != freeCount {
		return cerrors.Newf("the free lists hold %d blocks but the heap walk found %d free blocks", listedCount, freeCount)
	}

	if allocCount != a.live.Count() {
		return cerrors.Newf("the heap walk found %d allocated blocks but %d allocations are live", allocCount, a.live.Count())
	}
	if allocBytes != a.allocBytes {
		return cerrors.Newf("the heap walk found %d allocated bytes but the allocator accounts %d", allocBytes, a.allocBytes)
	}
	if freeCount != a.lists.freeCount || freeBytes != a.lists.freeBytes {
		return cerrors.Newf("the heap walk found %d free blocks spanning %d bytes but the registry accounts %d spanning %d",
			freeCount, freeBytes, a.lists.freeCount, a.lists.freeBytes)
	}

	return nil
}

// ValidateHeap is the boolean self-check facade for test harnesses. It logs the
// underlying error, if any.
func (a *Allocator) ValidateHeap() bool {
	err := a.Validate()
	if err != nil {
		a.logger.Error("heap validation failed", slog.Any("error", err))
		return false
	}
	return true
}
