package segfit_test

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/segmem/segfit/memutils"
	"github.com/segmem/segfit/segfit"
	"github.com/segmem/segfit/segment"
	mock_segment "github.com/segmem/segfit/segment/mocks"
)

func fillPattern(payload []byte, seed byte) {
	for i := range payload {
		payload[i] = seed + byte(i)
	}
}

func TestReallocPreservesData(t *testing.T) {
	allocator := newTestAllocator(t, 16, segfit.Options{})

	p, err := allocator.Alloc(64)
	require.NoError(t, err)

	payload, err := allocator.Payload(p)
	require.NoError(t, err)
	fillPattern(payload[:64], 0x11)
	expected := make([]byte, 64)
	copy(expected, payload[:64])

	grown, err := allocator.Realloc(p, 500)
	require.NoError(t, err)
	require.NotEqual(t, p, grown)

	grownPayload, err := allocator.Payload(grown)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(grownPayload), 500)
	require.True(t, bytes.Equal(expected, grownPayload[:64]))

	require.NoError(t, allocator.Validate())
}

func TestReallocNoShrink(t *testing.T) {
	allocator := newTestAllocator(t, 4, segfit.Options{})

	p, err := allocator.Alloc(100)
	require.NoError(t, err)

	same, err := allocator.Realloc(p, 50)
	require.NoError(t, err)
	require.Equal(t, p, same)

	same, err = allocator.Realloc(p, 100)
	require.NoError(t, err)
	require.Equal(t, p, same)

	// The rounded payload still covers slightly more than requested.
	same, err = allocator.Realloc(p, 104)
	require.NoError(t, err)
	require.Equal(t, p, same)

	require.NoError(t, allocator.Validate())
}

func TestReallocNullBehavesAsAlloc(t *testing.T) {
	allocator := newTestAllocator(t, 4, segfit.Options{})

	p, err := allocator.Realloc(segfit.NullPtr, 100)
	require.NoError(t, err)
	require.NotEqual(t, segfit.NullPtr, p)

	payload, err := allocator.Payload(p)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(payload), 100)

	require.NoError(t, allocator.Validate())
}

func TestReallocInvalidSizes(t *testing.T) {
	allocator := newTestAllocator(t, 4, segfit.Options{})

	p, err := allocator.Alloc(24)
	require.NoError(t, err)

	grown, err := allocator.Realloc(p, 0)
	require.Equal(t, segfit.NullPtr, grown)
	require.True(t, errors.Is(err, segfit.ErrInvalidSize))

	grown, err = allocator.Realloc(p, segfit.MaxRequestSize+1)
	require.Equal(t, segfit.NullPtr, grown)
	require.True(t, errors.Is(err, segfit.ErrInvalidSize))

	// The original allocation is untouched by the rejected requests.
	_, err = allocator.Payload(p)
	require.NoError(t, err)
	require.NoError(t, allocator.Validate())
}

func TestReallocInvalidPointer(t *testing.T) {
	allocator := newTestAllocator(t, 4, segfit.Options{})

	_, err := allocator.Realloc(segfit.Ptr(12345), 100)
	require.True(t, errors.Is(err, segfit.ErrInvalidPointer))

	require.NoError(t, allocator.Validate())
}

func TestReallocRecyclesOldBlock(t *testing.T) {
	allocator := newTestAllocator(t, 16, segfit.Options{})

	p, err := allocator.Alloc(24)
	require.NoError(t, err)

	grown, err := allocator.Realloc(p, 100)
	require.NoError(t, err)
	require.NotEqual(t, p, grown)

	// The old block was released to its own class's list, so an allocation of that
	// class gets the old address back.
	reused, err := allocator.Alloc(24)
	require.NoError(t, err)
	require.Equal(t, p, reused)

	require.NoError(t, allocator.Validate())
}

func TestReallocReusesReallocClassList(t *testing.T) {
	allocator := newTestAllocator(t, 16, segfit.Options{})

	p, err := allocator.Alloc(64)
	require.NoError(t, err)

	var before segfit.Ptr
	before, err = allocator.Realloc(p, 200)
	require.NoError(t, err)

	heapAfterFirst := heapBytes(t, allocator)

	// Growing another allocation fits inside the resize class's split remainder, so
	// the heap does not grow again.
	q, err := allocator.Alloc(64)
	require.NoError(t, err)
	_, err = allocator.Realloc(q, 200)
	require.NoError(t, err)

	require.Equal(t, heapAfterFirst, heapBytes(t, allocator))
	require.NotEqual(t, segfit.NullPtr, before)

	require.NoError(t, allocator.Validate())
}

func TestReallocOutOfMemoryLeavesOldAllocation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backing, err := segment.NewReserved(1)
	require.NoError(t, err)

	// Pass the first extension through to real backing, then fail every later one.
	provider := mock_segment.NewMockProvider(ctrl)
	provider.EXPECT().Init(gomock.Any()).DoAndReturn(backing.Init)
	provider.EXPECT().Bytes().DoAndReturn(backing.Bytes).AnyTimes()
	provider.EXPECT().Size().DoAndReturn(backing.Size).AnyTimes()
	extendCalls := 0
	provider.EXPECT().Extend(gomock.Any()).DoAndReturn(func(pages int) (int, error) {
		extendCalls++
		if extendCalls > 1 {
			return 0, segment.ErrExhausted
		}
		return backing.Extend(pages)
	}).AnyTimes()

	allocator, err := segfit.New(testLogger(), provider, segfit.Options{})
	require.NoError(t, err)

	p, err := allocator.Alloc(64)
	require.NoError(t, err)

	payload, err := allocator.Payload(p)
	require.NoError(t, err)
	fillPattern(payload[:64], 0x42)

	// Growing to a size the provider cannot supply fails without touching the
	// original allocation.
	_, err = allocator.Realloc(p, 3000)
	require.True(t, errors.Is(err, segfit.ErrOutOfMemory))

	payload, err = allocator.Payload(p)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), payload[0])
	require.Equal(t, byte(0x42+63), payload[63])

	require.NoError(t, allocator.Validate())
}

func TestReallocNearMaximumSizeCapsOverProvisioning(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backing, err := segment.NewReserved(1)
	require.NoError(t, err)

	// Record the page counts the engine requests; fail every extension after the
	// one backing the initial allocation.
	var extendPages []int
	provider := mock_segment.NewMockProvider(ctrl)
	provider.EXPECT().Init(gomock.Any()).DoAndReturn(backing.Init)
	provider.EXPECT().Bytes().DoAndReturn(backing.Bytes).AnyTimes()
	provider.EXPECT().Size().DoAndReturn(backing.Size).AnyTimes()
	provider.EXPECT().Extend(gomock.Any()).DoAndReturn(func(pages int) (int, error) {
		extendPages = append(extendPages, pages)
		if len(extendPages) > 1 {
			return 0, segment.ErrExhausted
		}
		return backing.Extend(pages)
	}).AnyTimes()

	allocator, err := segfit.New(testLogger(), provider, segfit.Options{})
	require.NoError(t, err)

	p, err := allocator.Alloc(64)
	require.NoError(t, err)

	_, err = allocator.Realloc(p, segfit.MaxRequestSize)
	require.True(t, errors.Is(err, segfit.ErrOutOfMemory))

	// The over-provisioned resize size is capped at the maximum request's rounded
	// size. Doubling it uncapped would ask for twice as many pages and, were the
	// extension to succeed, wrap the 32-bit payload size field in the header.
	maxAdjusted := memutils.AlignUp(segfit.MaxRequestSize+8, segfit.Alignment)
	require.Len(t, extendPages, 2)
	require.Equal(t, memutils.DivideRoundingUp(maxAdjusted, segment.PageSize), extendPages[1])

	require.NoError(t, allocator.Validate())
}

func heapBytes(t require.TestingT, allocator *segfit.Allocator) int {
	var stats memutils.Statistics
	stats.Clear()
	allocator.AddStatistics(&stats)
	return stats.HeapBytes
}
