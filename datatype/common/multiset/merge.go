package multiset

import (
	"container/heap"
)

type cursorKind uint8

const (
	cursorStored    cursorKind = iota // walks the entries of a stored list
	cursorSynthetic                   // yields one background entry standing in for missing data
)

// cursor is a peekable iterator over a sorted run of entries.
type cursor struct {
	kind cursorKind
	list EntryList
	pos  int
	n    int
	head Entry
}

func (c *cursor) setStored(list EntryList) {
	c.kind = cursorStored
	c.list = list
	c.pos = 0
	c.n = list.Len()
	if c.n > 0 {
		c.head = list.At(0)
	}
}

func (c *cursor) setSynthetic(weight int32) {
	c.kind = cursorSynthetic
	c.list = nil
	c.pos = 0
	c.n = 1
	c.head = Entry{ID: 0, Count: weight}
}

func (c *cursor) exhausted() bool {
	return c.pos >= c.n
}

// advance moves to the next entry and returns false if the cursor is exhausted.
func (c *cursor) advance() bool {
	c.pos++
	if c.pos >= c.n {
		return false
	}
	if c.kind == cursorStored {
		c.head = c.list.At(c.pos)
	}
	return true
}

// cursorHeap orders live cursors by their head id.  Exhausted cursors are popped rather
// than kept at the end.
type cursorHeap []*cursor

func (h cursorHeap) Len() int            { return len(h) }
func (h cursorHeap) Less(i, j int) bool  { return h[i].head.ID < h[j].head.ID }
func (h cursorHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x interface{}) { *h = append(*h, x.(*cursor)) }
func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// mergeCursors merges the sorted runs of the cursors into dst, summing counts of equal ids.
// Counts are accumulated in int64 and returned so callers can detect int32 overflow.
func mergeCursors(cursors []cursor, h *cursorHeap, dst []mergedEntry) []mergedEntry {
	*h = (*h)[:0]
	for i := range cursors {
		if !cursors[i].exhausted() {
			*h = append(*h, &cursors[i])
		}
	}
	heap.Init(h)

	dst = dst[:0]
	for h.Len() > 0 {
		c := (*h)[0]
		e := c.head
		if last := len(dst) - 1; last >= 0 && dst[last].id == e.ID {
			dst[last].count += int64(e.Count)
		} else {
			dst = append(dst, mergedEntry{id: e.ID, count: int64(e.Count)})
		}
		if c.advance() {
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return dst
}

type mergedEntry struct {
	id    uint64
	count int64
}
