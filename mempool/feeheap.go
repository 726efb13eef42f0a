package mempool

import (
	"container/heap"
	"sort"
)

// feeHeap is a min-heap of pooled entries ordered by fee rate, the
// secondary index spec.md 4.7 calls for so the lowest-paying entries can be
// evicted in O(log n) when the pool is over its byte budget. Grounded on the
// teacher's transactionsOrderedByFeeRate idiom (a dedicated structure a
// transaction is pushed into and popped from by fee rate), reimplemented
// over container/heap since that internal model type is not part of the
// pack's exported surface.
type feeHeap []*entry

func (h feeHeap) Len() int            { return len(h) }
func (h feeHeap) Less(i, j int) bool  { return h[i].feeRate < h[j].feeRate }
func (h feeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *feeHeap) Push(x interface{}) {
	e := x.(*entry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}

func (h *feeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIdx = -1
	*h = old[:n-1]
	return e
}

func (h *feeHeap) push(e *entry) {
	heap.Push(h, e)
}

func (h *feeHeap) remove(e *entry) {
	if e.heapIdx < 0 || e.heapIdx >= len(*h) {
		return
	}
	heap.Remove(h, e.heapIdx)
}

// peek returns the lowest fee-rate entry without removing it, or nil if the
// heap is empty.
func (h feeHeap) peek() *entry {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// sortedDescending returns every entry ordered from highest to lowest fee
// rate, used to build a miner's candidate set; it does not mutate the heap.
func (h feeHeap) sortedDescending() []*entry {
	out := make([]*entry, len(h))
	copy(out, h)
	sort.Slice(out, func(i, j int) bool { return out[i].feeRate > out[j].feeRate })
	return out
}
