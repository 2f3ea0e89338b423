package pending

import "container/heap"

// deadlineHeap orders entries with a deadline so that the soonest one sits at
// index 0. Entries without a deadline are never pushed.
type deadlineHeap []*Entry

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool {
	return h[i].Deadline.Before(h[j].Deadline)
}

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *deadlineHeap) Push(x any) {
	e := x.(*Entry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIdx = -1
	*h = old[:n-1]
	return e
}

// remove drops e from the heap if it is still in it.
func (h *deadlineHeap) remove(e *Entry) {
	if e.heapIdx >= 0 && e.heapIdx < h.Len() && (*h)[e.heapIdx] == e {
		heap.Remove(h, e.heapIdx)
	}
}
