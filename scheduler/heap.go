package scheduler

// maxHeap is a binary max-heap over *queueItem, ordered by a comparison
// function that is re-evaluated on every sift rather than cached — required
// because effective priority depends on wall-clock distance to a deadline,
// which changes between pushes without the item itself being touched.
//
// Adapted from a generic min/max heap utility into a queueItem-specific
// structure: the scheduler never needs arbitrary Remove/Update by value, so
// those operations are dropped in favor of the push/pop/peek surface §4.3
// actually calls for.
type maxHeap struct {
	items []*queueItem
	less  func(a, b *queueItem) bool // a "higher priority than" b
}

func newMaxHeap(higherPriority func(a, b *queueItem) bool) *maxHeap {
	return &maxHeap{items: make([]*queueItem, 0), less: higherPriority}
}

func (h *maxHeap) Len() int { return len(h.items) }

func (h *maxHeap) Push(item *queueItem) {
	h.items = append(h.items, item)
	h.siftUp(len(h.items) - 1)
}

func (h *maxHeap) Pop() (*queueItem, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	top := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items = h.items[:last]
	if last > 0 {
		h.siftDown(0)
	}
	return top, true
}

func (h *maxHeap) Peek() (*queueItem, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return h.items[0], true
}

func (h *maxHeap) siftUp(index int) {
	for index > 0 {
		p := (index - 1) / 2
		if !h.less(h.items[index], h.items[p]) {
			break
		}
		h.items[index], h.items[p] = h.items[p], h.items[index]
		index = p
	}
}

func (h *maxHeap) siftDown(index int) {
	for {
		top := index
		l, r := 2*index+1, 2*index+2
		if l < len(h.items) && h.less(h.items[l], h.items[top]) {
			top = l
		}
		if r < len(h.items) && h.less(h.items[r], h.items[top]) {
			top = r
		}
		if top == index {
			break
		}
		h.items[index], h.items[top] = h.items[top], h.items[index]
		index = top
	}
}
