package segfit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassForSize(t *testing.T) {
	// Class 0 covers 16..31, class 1 covers 32..63, and so on.
	require.Equal(t, uint16(0), classForSize(1))
	require.Equal(t, uint16(0), classForSize(15))
	require.Equal(t, uint16(0), classForSize(16))
	require.Equal(t, uint16(0), classForSize(31))
	require.Equal(t, uint16(1), classForSize(32))
	require.Equal(t, uint16(1), classForSize(63))
	require.Equal(t, uint16(2), classForSize(64))
	require.Equal(t, uint16(7), classForSize(4064))
	require.Equal(t, uint16(16), classForSize(1<<20))
}

func TestClassForSizeNeverRoutesToReallocClass(t *testing.T) {
	require.Equal(t, uint16(ReallocClass-1), classForSize(1<<30))
	require.Equal(t, uint16(ReallocClass-1), classForSize(MaxRequestSize))
	require.Equal(t, uint16(ReallocClass-1), classForSize(MaxRequestSize+16))
}

func TestHeaderRoundTrip(t *testing.T) {
	heap := make([]byte, 64)

	setPayloadSize(heap, 16, 4056)
	setAllocated(heap, 16, true)
	setClass(heap, 16, 27)

	require.Equal(t, 4056, payloadSizeAt(heap, 16))
	require.True(t, isAllocatedAt(heap, 16))
	require.Equal(t, uint16(27), classAt(heap, 16))

	setAllocated(heap, 16, false)
	require.False(t, isAllocatedAt(heap, 16))

	require.Equal(t, 24, payloadOffset(16))
	require.Equal(t, 16, blockForPayload(24))
	require.Equal(t, 16+8+4056, nextBlock(16, 4056))
}

func TestFreeListPushAndSplice(t *testing.T) {
	heap := make([]byte, 256)
	var lists freeListRegistry
	lists.reset(DefaultHitSensor)

	for _, block := range []int{0, 64, 128} {
		setPayloadSize(heap, block, 56)
		lists.pushFront(heap, 3, block)
	}

	// LIFO order: 128 -> 64 -> 0.
	require.Equal(t, 128, lists.heads[3])
	require.Equal(t, 64, nextFree(heap, 128))
	require.Equal(t, 0, nextFree(heap, 64))
	require.Equal(t, nullOffset, nextFree(heap, 0))
	require.Equal(t, 3, lists.freeCount)
	require.Equal(t, 168, lists.freeBytes)

	// Splice from the middle.
	lists.splice(heap, 3, 128, 64)
	require.Equal(t, 128, lists.heads[3])
	require.Equal(t, 0, nextFree(heap, 128))

	// Splice the head.
	lists.splice(heap, 3, nullOffset, 128)
	require.Equal(t, 0, lists.heads[3])
	require.Equal(t, nullOffset, nextFree(heap, 0))
	require.Equal(t, 1, lists.freeCount)
	require.Equal(t, 56, lists.freeBytes)
}

func TestResetPinsReallocClass(t *testing.T) {
	var lists freeListRegistry
	lists.reset(500)

	for i := 0; i < NumClasses; i++ {
		require.Equal(t, nullOffset, lists.heads[i])
	}
	require.Equal(t, 500, lists.hits[ReallocClass])
	require.Equal(t, 0, lists.hits[0])
}
