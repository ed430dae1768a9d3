// Package timeout implements the process-wide deadline index described in
// spec.md §4.9: every request with a configured pool timeout is scheduled
// here, keyed by absolute expiry, so the reactor can poll the minimum on
// each loop iteration. The reference proxy keeps this as a red-black tree;
// a binary min-heap (container/heap) gives the same O(log n) insert/delete
// and O(1) min-peek with far less code, a reasonable idiomatic-Go
// substitution recorded in DESIGN.md.
package timeout

import (
	"container/heap"

	"github.com/lukluk/rendang/internal/msg"
)

type entry struct {
	deadline int64
	m        *msg.Msg
}

type queue []*entry

func (q queue) Len() int            { return len(q) }
func (q queue) Less(i, j int) bool  { return q[i].deadline < q[j].deadline }
func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].m.TmoHeapIndex = i
	q[j].m.TmoHeapIndex = j
}
func (q *queue) Push(x any) {
	e := x.(*entry)
	e.m.TmoHeapIndex = len(*q)
	*q = append(*q, e)
}
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	e.m.TmoHeapIndex = -1
	return e
}

// Index is the process-wide deadline tree. It is single-threaded, touched
// only from the reactor goroutine.
type Index struct {
	q       queue
	byMsg   map[*msg.Msg]*entry
}

// NewIndex creates an empty deadline index.
func NewIndex() *Index {
	return &Index{byMsg: make(map[*msg.Msg]*entry)}
}

// Insert schedules m to expire at deadlineMs (unix milliseconds).
func (idx *Index) Insert(m *msg.Msg, deadlineMs int64) {
	if _, ok := idx.byMsg[m]; ok {
		idx.Delete(m)
	}
	e := &entry{deadline: deadlineMs, m: m}
	idx.byMsg[m] = e
	heap.Push(&idx.q, e)
	m.TmoDeadline = deadlineMs
}

// Delete removes m from the index, a no-op if it is not scheduled.
func (idx *Index) Delete(m *msg.Msg) {
	e, ok := idx.byMsg[m]
	if !ok {
		return
	}
	delete(idx.byMsg, m)
	if e.m.TmoHeapIndex >= 0 && e.m.TmoHeapIndex < len(idx.q) {
		heap.Remove(&idx.q, e.m.TmoHeapIndex)
	}
	m.TmoDeadline = 0
}

// Min returns the earliest-deadline message and its deadline, or (nil, 0)
// if the index is empty.
func (idx *Index) Min() (*msg.Msg, int64) {
	if len(idx.q) == 0 {
		return nil, 0
	}
	e := idx.q[0]
	return e.m, e.deadline
}

// PopExpired removes and returns every message whose deadline is <= nowMs,
// in expiry order.
func (idx *Index) PopExpired(nowMs int64) []*msg.Msg {
	var out []*msg.Msg
	for len(idx.q) > 0 && idx.q[0].deadline <= nowMs {
		e := heap.Pop(&idx.q).(*entry)
		delete(idx.byMsg, e.m)
		e.m.TmoDeadline = 0
		out = append(out, e.m)
	}
	return out
}

// Len returns the number of scheduled messages.
func (idx *Index) Len() int { return len(idx.q) }
