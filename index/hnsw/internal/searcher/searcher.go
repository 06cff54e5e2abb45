// Package searcher implements the candidate queues and visited tracking
// used by graph traversal.
package searcher

// Candidate is a graph node paired with its distance to the query.
type Candidate struct {
	Node uint32
	Dist float32
}

// Queue is a binary heap of candidates, value-based to avoid per-item
// allocations. It deliberately does not implement container/heap.
type Queue struct {
	max   bool // true = max heap (worst candidate on top)
	items []Candidate
}

// NewQueue creates a min-heap (max=false) or max-heap (max=true).
func NewQueue(max bool) *Queue {
	return &Queue{max: max, items: make([]Candidate, 0, 16)}
}

// Reset clears the queue for reuse.
func (q *Queue) Reset() { q.items = q.items[:0] }

// Len returns the number of queued candidates.
func (q *Queue) Len() int { return len(q.items) }

// Top returns the root of the heap without removing it.
func (q *Queue) Top() (Candidate, bool) {
	if len(q.items) == 0 {
		return Candidate{}, false
	}
	return q.items[0], true
}

// Push inserts a candidate.
func (q *Queue) Push(c Candidate) {
	q.items = append(q.items, c)
	q.siftUp(len(q.items) - 1)
}

// Pop removes and returns the root of the heap.
func (q *Queue) Pop() (Candidate, bool) {
	n := len(q.items)
	if n == 0 {
		return Candidate{}, false
	}
	c := q.items[0]
	q.items[0] = q.items[n-1]
	q.items = q.items[:n-1]
	if len(q.items) > 0 {
		q.siftDown(0)
	}
	return c, true
}

// Drain pops every candidate into a slice, heap order.
func (q *Queue) Drain() []Candidate {
	out := make([]Candidate, 0, len(q.items))
	for {
		c, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}

func (q *Queue) less(i, j int) bool {
	if q.max {
		return q.items[i].Dist > q.items[j].Dist
	}
	return q.items[i].Dist < q.items[j].Dist
}

func (q *Queue) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.less(i, parent) {
			break
		}
		q.items[i], q.items[parent] = q.items[parent], q.items[i]
		i = parent
	}
}

func (q *Queue) siftDown(i int) {
	n := len(q.items)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		child := left
		if right := left + 1; right < n && q.less(right, left) {
			child = right
		}
		if !q.less(child, i) {
			break
		}
		q.items[i], q.items[child] = q.items[child], q.items[i]
		i = child
	}
}

// Visited tracks visited nodes with a bitset plus a dirty list so Reset is
// proportional to the nodes touched, not the graph size.
type Visited struct {
	bits  []uint64
	dirty []uint32
}

// NewVisited creates a visited set sized for capacity nodes.
func NewVisited(capacity int) *Visited {
	return &Visited{
		bits:  make([]uint64, (capacity+63)/64),
		dirty: make([]uint32, 0, 128),
	}
}

// Visit marks a node visited.
func (v *Visited) Visit(id uint32) {
	word := int(id >> 6)
	mask := uint64(1) << (id & 63)
	if word >= len(v.bits) {
		v.grow(word + 1)
	}
	if v.bits[word]&mask == 0 {
		v.bits[word] |= mask
		v.dirty = append(v.dirty, id)
	}
}

// Seen reports whether a node has been visited.
func (v *Visited) Seen(id uint32) bool {
	word := int(id >> 6)
	if word >= len(v.bits) {
		return false
	}
	return v.bits[word]&(uint64(1)<<(id&63)) != 0
}

// Reset clears every node visited since the last Reset.
func (v *Visited) Reset() {
	for _, id := range v.dirty {
		v.bits[id>>6] &^= uint64(1) << (id & 63)
	}
	v.dirty = v.dirty[:0]
}

func (v *Visited) grow(newLen int) {
	newCap := max(len(v.bits)*2, newLen)
	bits := make([]uint64, newCap)
	copy(bits, v.bits)
	v.bits = bits
}
