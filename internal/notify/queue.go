package notify

import "container/heap"

// itemHeap orders Items by (band priority, ready-time), then by candidate
// strength (stronger first), then by earlier emission — the exact ordering
// the design requires: "P4 dispatch is ordered by (band priority, ready-time);
// within the same band, by candidate strength tiebroken by earlier emission."
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.Band.Rank() != b.Band.Rank() {
		return a.Band.Rank() < b.Band.Rank()
	}
	if !a.ReadyAt.Equal(b.ReadyAt) {
		return a.ReadyAt.Before(b.ReadyAt)
	}
	if a.Strength != b.Strength {
		return a.Strength > b.Strength
	}
	return a.EmittedAt.Before(b.EmittedAt)
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	item := x.(*Item)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// priorityQueue wraps container/heap's functions behind Item-typed methods.
type priorityQueue struct {
	h itemHeap
}

func newPriorityQueue() *priorityQueue {
	pq := &priorityQueue{}
	heap.Init(&pq.h)
	return pq
}

func (q *priorityQueue) push(it *Item) { heap.Push(&q.h, it) }

func (q *priorityQueue) len() int { return q.h.Len() }

// peek returns the highest-priority item without removing it.
func (q *priorityQueue) peek() *Item {
	if q.h.Len() == 0 {
		return nil
	}
	return q.h[0]
}

func (q *priorityQueue) pop() *Item {
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*Item)
}

// remove takes it out of the heap if it is still queued (otherwise it is a
// no-op); used when a queued item is superseded by daily dedup before it
// ever becomes ready.
func (q *priorityQueue) remove(it *Item) {
	if it.index < 0 || it.index >= q.h.Len() || q.h[it.index] != it {
		return
	}
	heap.Remove(&q.h, it.index)
}
