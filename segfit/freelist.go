package segfit

import "encoding/binary"

// nullOffset terminates free-list chains. Block offset 0 is valid, so the lists
// cannot use zero as their nil.
const nullOffset = -1

// A free block's link to its list successor is stored in the first 8 bytes of its
// own payload, so the free lists cost no memory beyond the heap itself. Links are
// block offsets, not addresses.
func nextFree(heap []byte, block int) int {
	return int(int64(binary.LittleEndian.Uint64(heap[payloadOffset(block):])))
}

func setNextFree(heap []byte, block, next int) {
	binary.LittleEndian.PutUint64(heap[payloadOffset(block):], uint64(int64(next)))
}

// freeListRegistry holds one singly linked list head per size class, plus the
// per-class hit counters driving the adaptive search and placement policy. Counters
// rise on allocation requests routed to a class and fall on releases from it;
// crossing hitSensor flips the class to the bounded-search, in-place-split policy.
type freeListRegistry struct {
	heads     [NumClasses]int
	hits      [NumClasses]int
	freeCount int
	freeBytes int
}

// reset wipes every list and counter, then pins the resize class's counter at the
// sensor so resize traffic always takes the over-threshold code path.
func (r *freeListRegistry) reset(hitSensor int) {
	for i := 0; i < NumClasses; i++ {
		r.heads[i] = nullOffset
		r.hits[i] = 0
	}
	r.hits[ReallocClass] = hitSensor
	r.freeCount = 0
	r.freeBytes = 0
}

// pushFront makes block the new head of the class's list. Writing the link claims
// the first payload word, clobbering whatever the previous owner left there; the
// block is no longer owned by any caller at this point.
func (r *freeListRegistry) pushFront(heap []byte, class uint16, block int) {
	setNextFree(heap, block, r.heads[class])
	r.heads[class] = block
	r.freeCount++
	r.freeBytes += payloadSizeAt(heap, block)
}

// splice removes block from the class's list by pointing its predecessor (or the
// list head, when prev is nullOffset) at its successor. Search and removal are fused
// in the engine's findFit, so there is no removal-by-value scan here.
func (r *freeListRegistry) splice(heap []byte, class uint16, prev, block int) {
	next := nextFree(heap, block)
	if prev == nullOffset {
		r.heads[class] = next
	} else {
		setNextFree(heap, prev, next)
	}
	r.freeCount--
	r.freeBytes -= payloadSizeAt(heap, block)
}
