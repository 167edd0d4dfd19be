package segfit

import (
	"math"
	"math/bits"
)

const (
	// Alignment is the boundary every block start (and therefore every payload
	// pointer) lands on.
	Alignment = 8

	// minBlockSizeExp is the base-2 exponent of MinBlockSize. Class 0 covers block
	// sizes [1<<minBlockSizeExp, 1<<(minBlockSizeExp+1) - 1].
	minBlockSizeExp = 4

	// MinBlockSize is the smallest block (header included) the allocator will carve.
	// Split remainders below this size are left attached to the allocated block.
	MinBlockSize = 1 << minBlockSizeExp

	// NumClasses is the number of segregated size classes.
	NumClasses = 28

	// ReallocClass is the final class index, reserved for blocks produced by resize
	// growth. classForSize never routes there; only the resize path targets it.
	ReallocClass = NumClasses - 1

	// MaxRequestSize is the platform maximum for a single request.
	MaxRequestSize = math.MaxInt32
)

// classForSize maps a block size (header included) to its size class:
// floor(log2(size)) - minBlockSizeExp. Sizes below MinBlockSize land in class 0.
// The result is capped below ReallocClass, which is never a routing target.
func classForSize(size int) uint16 {
	if size < MinBlockSize {
		size = MinBlockSize
	}

	class := bits.Len(uint(size)) - 1 - minBlockSizeExp
	if class >= ReallocClass {
		class = ReallocClass - 1
	}
	return uint16(class)
}
