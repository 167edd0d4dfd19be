package segfit

import (
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/segmem/segfit/memutils"
)

// BuildStatsString returns a JSON description of the heap: totals, the per-class
// free lists and hit counters, and, when detailedMap is true, every physical block
// in address order. Diagnostic only - the block map walks the entire heap.
func (a *Allocator) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()

	a.writeHeapMap(&writer, detailedMap)

	if writer.Error() != nil {
		return ""
	}
	return string(writer.Bytes())
}

func (a *Allocator) writeHeapMap(writer *jwriter.Writer, detailedMap bool) {
	objState := writer.Object()
	defer objState.End()

	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	totalObj := objState.Name("Total").Object()
	totalObj.Name("HeapBytes").Int(stats.HeapBytes)
	totalObj.Name("Allocations").Int(stats.AllocationCount)
	totalObj.Name("AllocatedBytes").Int(stats.AllocationBytes)
	totalObj.Name("FreeRanges").Int(stats.FreeRangeCount)
	totalObj.Name("FreeBytes").Int(stats.FreeBytes)
	totalObj.End()

	classesObj := objState.Name("Classes").Object()
	heap := a.provider.Bytes()
	for class := 0; class < NumClasses; class++ {
		if a.lists.heads[class] == nullOffset && a.lists.hits[class] == 0 {
			continue
		}

		var count, bytes int
		for block := a.lists.heads[class]; block != nullOffset; block = nextFree(heap, block) {
			count++
			bytes += payloadSizeAt(heap, block)
		}

		classObj := classesObj.Name(strconv.Itoa(class)).Object()
		classObj.Name("Hits").Int(a.lists.hits[class])
		classObj.Name("FreeBlocks").Int(count)
		classObj.Name("FreeBytes").Int(bytes)
		classObj.End()
	}
	classesObj.End()

	if !detailedMap {
		return
	}

	arrayState := objState.Name("Blocks").Array()
	defer arrayState.End()

	for block := 0; block < len(heap); block = nextBlock(block, payloadSizeAt(heap, block)) {
		obj := arrayState.Object()
		obj.Name("Offset").Int(block)
		obj.Name("PayloadSize").Int(payloadSizeAt(heap, block))
		obj.Name("Allocated").Bool(isAllocatedAt(heap, block))
		obj.Name("Class").Int(int(classAt(heap, block)))
		obj.End()
	}
}
