package agent

import (
	"container/heap"

	"github.com/google/uuid"
)

// requestQueue orders pending requests by priority weight descending, then
// submission time ascending, then submission sequence. It supports removal
// by ID for cancellation. Not safe for concurrent use on its own; the Agent
// serializes access under its mutex.
type requestQueue struct {
	heap requestHeap
	byID map[uuid.UUID]*request
}

func newRequestQueue() *requestQueue {
	return &requestQueue{byID: make(map[uuid.UUID]*request)}
}

func (q *requestQueue) push(r *request) {
	heap.Push(&q.heap, r)
	q.byID[r.id] = r
}

// pop removes and returns the next request to dispatch, or nil when empty.
func (q *requestQueue) pop() *request {
	if len(q.heap) == 0 {
		return nil
	}
	r := heap.Pop(&q.heap).(*request)
	delete(q.byID, r.id)
	return r
}

// remove takes the request with the given ID out of the queue, returning nil
// when it is not queued.
func (q *requestQueue) remove(id uuid.UUID) *request {
	r, ok := q.byID[id]
	if !ok {
		return nil
	}
	heap.Remove(&q.heap, r.index)
	delete(q.byID, id)
	return r
}

func (q *requestQueue) len() int {
	return len(q.heap)
}

// requestHeap implements heap.Interface. Swap keeps each request's index
// current so remove can address it directly.
type requestHeap []*request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if wi, wj := h[i].priority.weight(), h[j].priority.weight(); wi != wj {
		return wi > wj
	}
	if !h[i].submittedAt.Equal(h[j].submittedAt) {
		return h[i].submittedAt.Before(h[j].submittedAt)
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	r := x.(*request)
	r.index = len(*h)
	*h = append(*h, r)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*h = old[:n-1]
	return r
}
