// Package segfit implements a segregated-fit heap allocator over a page-granular
// segment provider. Free blocks are bucketed into power-of-two size classes, each
// with its own singly linked free list threaded through the free blocks' payload
// bytes. A per-class hit counter adapts the search and split-placement policy:
// classes under heavy demand trade fit quality for speed by searching only their
// own list and leaving split remainders in place.
//
// The allocator is single-threaded by design. It performs no coalescing of
// physically adjacent free blocks and never returns memory to the provider.
package segfit

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"

	"github.com/segmem/segfit/memutils"
	"github.com/segmem/segfit/segment"
)

const (
	// DefaultHitSensor is the request count at which a size class switches to the
	// bounded-search, in-place-split policy. Lower values make the policy more
	// eager; tests override it to observe the transition cheaply.
	DefaultHitSensor = 150000
)

// Ptr identifies a live allocation: the heap offset of its payload. The zero value
// NullPtr never refers to an allocation, since every payload sits at least one
// header past the start of the heap.
type Ptr int

// NullPtr is the null allocation pointer. Free(NullPtr) is a no-op and
// Realloc(NullPtr, size) behaves as Alloc(size).
const NullPtr Ptr = 0

// Options contains optional settings when creating an Allocator
type Options struct {
	// HitSensor overrides DefaultHitSensor when positive
	HitSensor int
	// InitialPages is the number of pages requested from the provider at Init. Zero
	// defers all heap growth to the first allocation.
	InitialPages int
}

// Allocator is a segregated-fit allocator over a single growable heap. All state
// lives on the instance, so independent allocators never interfere; Init hard-resets
// an instance for repeated harness runs.
type Allocator struct {
	logger   *slog.Logger
	provider segment.Provider

	lists     freeListRegistry
	hitSensor int

	initialPages int

	// live maps payload offsets of outstanding allocations to their payload sizes.
	// It validates pointers at the boundary and feeds allocation statistics.
	live       *swiss.Map[Ptr, int]
	allocBytes int
}

// New creates an Allocator on top of the provided segment provider and initializes
// it. A nil logger falls back to slog.Default().
func New(logger *slog.Logger, provider segment.Provider, options Options) (*Allocator, error) {
	if provider == nil {
		return nil, cerrors.New("provider must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if options.HitSensor < 0 {
		return nil, cerrors.Newf("options.HitSensor is negative: %d", options.HitSensor)
	}
	if options.InitialPages < 0 {
		return nil, cerrors.Newf("options.InitialPages is negative: %d", options.InitialPages)
	}

	sensor := options.HitSensor
	if sensor == 0 {
		sensor = DefaultHitSensor
	}

	allocator := &Allocator{
		logger:       logger,
		provider:     provider,
		hitSensor:    sensor,
		initialPages: options.InitialPages,
	}

	err := allocator.Init()
	if err != nil {
		return nil, err
	}

	return allocator, nil
}

// Init establishes a fresh, empty heap: the provider is reset, every free list is
// emptied, and every hit counter is zeroed except the resize class's, which is
// pinned at the sensor. Calling it again wipes all allocator state, which is how a
// test harness runs independent scripts on one instance.
func (a *Allocator) Init() error {
	err := a.provider.Init(a.initialPages)
	if err != nil {
		return cerrors.Wrap(err, "resetting segment provider")
	}

	a.lists.reset(a.hitSensor)
	a.live = swiss.NewMap[Ptr, int](64)
	a.allocBytes = 0

	// A non-empty initial heap becomes a single free block so the header chain
	// covers every heap byte from the start.
	if size := a.provider.Size(); size > 0 {
		heap := a.provider.Bytes()
		class := classForSize(size)
		setPayloadSize(heap, 0, size-headerSize)
		setAllocated(heap, 0, false)
		setClass(heap, 0, class)
		a.lists.pushFront(heap, class, 0)
	}

	a.logger.Debug("Allocator::Init",
		slog.Int("InitialPages", a.initialPages),
		slog.Int("HitSensor", a.hitSensor))
	memutils.DebugValidate(a)
	return nil
}

// HitSensor returns the configured policy threshold.
func (a *Allocator) HitSensor() int {
	return a.hitSensor
}

// Alloc reserves size bytes of heap and returns the payload pointer. The payload is
// always 8-byte aligned and may be larger than requested: blocks are never trimmed
// below MinBlockSize, and a fit whose remainder is too small to split is handed over
// whole. Alloc returns ErrInvalidSize for a zero or over-maximum size and
// ErrOutOfMemory when the provider cannot extend the heap; neither failure mutates
// allocator state.
func (a *Allocator) Alloc(size int) (Ptr, error) {
	if size == 0 || size > MaxRequestSize {
		return NullPtr, cerrors.Wrapf(ErrInvalidSize, "requested %d bytes", size)
	}

	adjusted := memutils.AlignUp(size+headerSize, Alignment)
	target := classForSize(adjusted)
	a.lists.hits[target]++

	needed := adjusted - headerSize

	// First-fit search ascending from the target class. A hot target class caps the
	// search at its own list: precise placement stops paying off under contention,
	// so the engine goes straight to the provider instead.
	for class := target; class < ReallocClass; class++ {
		block, found := a.findFit(needed, class)
		if found {
			heap := a.provider.Bytes()
			setClass(heap, block, class)
			p := a.commit(heap, block)
			memutils.DebugValidate(a)
			return p, nil
		}

		if a.lists.hits[target] >= a.hitSensor {
			break
		}
	}

	block, err := a.extendAndPlace(adjusted, target)
	if err != nil {
		return NullPtr, err
	}

	p := a.commit(a.provider.Bytes(), block)
	memutils.DebugValidate(a)
	return p, nil
}

// Free releases an allocation. The block rejoins the front of the free list its
// header names, and that class's hit counter drops. Physically adjacent free blocks
// are not merged; fragmentation is only reclaimed by later splits and reuse.
//
// Free(NullPtr) is a no-op. A pointer that is not a live allocation is rejected at
// the boundary rather than corrupting the lists.
func (a *Allocator) Free(p Ptr) {
	if p == NullPtr {
		return
	}

	size, live := a.live.Get(p)
	if !live {
		a.logger.Debug("Allocator::Free rejected a pointer that is not a live allocation",
			slog.Int("Ptr", int(p)))
		return
	}
	a.live.Delete(p)
	a.allocBytes -= size

	heap := a.provider.Bytes()
	block := blockForPayload(int(p))
	class := classAt(heap, block)

	// The resize class's counter stays pinned at the sensor; every other class
	// tracks releases normally.
	if class != ReallocClass || a.lists.hits[class] > a.hitSensor {
		a.lists.hits[class]--
	}

	if memutils.DebugFillEnabled {
		payload := heap[p : int(p)+payloadSizeAt(heap, block)]
		for i := range payload {
			payload[i] = memutils.FreedBlockFill
		}
	}

	setAllocated(heap, block, false)
	a.lists.pushFront(heap, class, block)
	memutils.DebugValidate(a)
}

// Realloc grows an allocation to at least newSize bytes, preserving its contents.
// Resize traffic runs entirely through the reserved resize class: the request is
// over-provisioned to double the rounded size in anticipation of repeated growth,
// only the resize class's list is searched, and split remainders stay in the resize
// class. A request the current block already covers returns the same pointer
// unchanged; the allocator never shrinks a live block.
//
// Realloc(NullPtr, size) behaves as Alloc(size).
func (a *Allocator) Realloc(p Ptr, newSize int) (Ptr, error) {
	a.lists.hits[ReallocClass]++

	if p == NullPtr {
		return a.Alloc(newSize)
	}

	if newSize == 0 || newSize > MaxRequestSize {
		return NullPtr, cerrors.Wrapf(ErrInvalidSize, "requested %d bytes", newSize)
	}

	oldSize, live := a.live.Get(p)
	if !live {
		return NullPtr, cerrors.Wrapf(ErrInvalidPointer, "ptr %d", int(p))
	}

	if newSize <= oldSize {
		return p, nil
	}

	// Double the rounded, header-inclusive size so future resizes of the same
	// region are cheap. The doubling is capped at the maximum request's rounded
	// size; past that it would wrap the 32-bit payload size field in the header.
	adjusted := memutils.AlignUp(newSize+headerSize, Alignment) << 1
	if limit := memutils.AlignUp(MaxRequestSize+headerSize, Alignment); adjusted > limit {
		adjusted = limit
	}
	needed := adjusted - headerSize

	block, found := a.findFit(needed, ReallocClass)
	if !found {
		var err error
		block, err = a.extendAndPlace(adjusted, ReallocClass)
		if err != nil {
			return NullPtr, err
		}
	}

	heap := a.provider.Bytes()
	setClass(heap, block, ReallocClass)
	newPtr := a.commit(heap, block)

	copy(heap[newPtr:int(newPtr)+oldSize], heap[p:int(p)+oldSize])
	a.Free(p)

	memutils.DebugValidate(a)
	return newPtr, nil
}

// Payload returns the caller-usable bytes of a live allocation. The slice aliases
// the heap, so writes through it are writes to the allocation. Its length is the
// allocation's full payload size, which may exceed the requested size.
func (a *Allocator) Payload(p Ptr) ([]byte, error) {
	size, live := a.live.Get(p)
	if !live {
		return nil, cerrors.Wrapf(ErrInvalidPointer, "ptr %d", int(p))
	}

	return a.provider.Bytes()[p : int(p)+size : int(p)+size], nil
}

// AddStatistics sums the allocator's fast statistics into stats.
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	stats.HeapBytes += a.provider.Size()
	stats.AllocationCount += a.live.Count()
	stats.AllocationBytes += a.allocBytes
	stats.FreeRangeCount += a.lists.freeCount
	stats.FreeBytes += a.lists.freeBytes
}

// AddDetailedStatistics walks the full heap, summing per-block statistics into
// stats. Considerably more expensive than AddStatistics.
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	heap := a.provider.Bytes()
	stats.HeapBytes += len(heap)

	for block := 0; block < len(heap); block = nextBlock(block, payloadSizeAt(heap, block)) {
		size := payloadSizeAt(heap, block)
		if isAllocatedAt(heap, block) {
			stats.AddAllocation(size)
		} else {
			stats.AddFreeRange(size)
		}
	}
}

// commit marks a block as handed out: registers the payload in the live map and
// accumulates allocation bytes. The block must already be marked allocated.
func (a *Allocator) commit(heap []byte, block int) Ptr {
	p := Ptr(payloadOffset(block))
	size := payloadSizeAt(heap, block)
	a.live.Put(p, size)
	a.allocBytes += size
	return p
}

// findFit walks one class's free list first-fit, splicing out and returning the
// first block whose payload covers needed bytes. Search and removal are fused: the
// block leaves its list only once the fit is confirmed, so a failed search mutates
// nothing. A qualifying remainder is split off and re-inserted - into the same class
// when the class is over the sensor (in-place policy), into the class matching the
// remainder's own size otherwise. Remainders too small to stand alone stay attached
// and the caller silently receives the larger payload.
func (a *Allocator) findFit(needed int, class uint16) (int, bool) {
	heap := a.provider.Bytes()

	prev := nullOffset
	for block := a.lists.heads[class]; block != nullOffset; prev, block = block, nextFree(heap, block) {
		available := payloadSizeAt(heap, block)
		if needed > available {
			continue
		}

		a.lists.splice(heap, class, prev, block)

		remainder := available - needed
		if remainder >= MinBlockSize {
			if a.lists.hits[class] >= a.hitSensor {
				a.split(heap, block, class, needed, remainder)
			} else {
				a.split(heap, block, classForSize(remainder), needed, remainder)
			}
		} else {
			setAllocated(heap, block, true)
		}

		return block, true
	}

	return 0, false
}

// split carves the block at needed payload bytes: the block shrinks to exactly
// needed and is marked allocated, and the remainder becomes a free block pushed onto
// remainderClass's list. remainder is the full leftover size, header included.
func (a *Allocator) split(heap []byte, block int, remainderClass uint16, needed, remainder int) {
	newBlock := nextBlock(block, needed)
	setPayloadSize(heap, newBlock, remainder-headerSize)
	setAllocated(heap, newBlock, false)
	setClass(heap, newBlock, remainderClass)
	a.lists.pushFront(heap, remainderClass, newBlock)

	setPayloadSize(heap, block, needed)
	setAllocated(heap, block, true)
}

// extendAndPlace grows the heap by enough whole pages for adjusted bytes, treats the
// new region as a single block tagged with class, and applies the same
// split-or-keep-whole logic as the list search. The returned block is marked
// allocated with a payload of adjusted-headerSize bytes, or the whole region when
// the remainder is below MinBlockSize.
func (a *Allocator) extendAndPlace(adjusted int, class uint16) (int, error) {
	pages := memutils.DivideRoundingUp(adjusted, segment.PageSize)

	block, err := a.provider.Extend(pages)
	if err != nil {
		return 0, cerrors.Wrapf(ErrOutOfMemory, "extending heap by %d pages: %s", pages, err)
	}
	extended := pages * segment.PageSize

	a.logger.Debug("Allocator::extendAndPlace",
		slog.Int("Pages", pages),
		slog.Int("Class", int(class)),
		slog.Int("HeapBytes", a.provider.Size()))

	heap := a.provider.Bytes()
	setClass(heap, block, class)

	remainder := extended - adjusted
	if remainder >= MinBlockSize {
		if a.lists.hits[class] >= a.hitSensor {
			a.split(heap, block, class, adjusted-headerSize, remainder)
		} else {
			a.split(heap, block, classForSize(remainder), adjusted-headerSize, remainder)
		}
	} else {
		setPayloadSize(heap, block, extended-headerSize)
		setAllocated(heap, block, true)
	}

	return block, nil
}
