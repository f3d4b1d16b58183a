package transport

import (
	"time"

	"mindfry/protocol"
)

type pendingRequest struct {
	seq        uint32
	fut        *Future
	op         protocol.OpCode
	enqueuedAt time.Time
}

// pendingTable keeps in-flight requests in send order.
//
// The queue is a slice with a moving head so popFront and removeBack are O(1);
// byID is only for identity checks and diagnostics, matching is positional.
type pendingTable struct {
	queue []*pendingRequest
	head  int
	byID  map[uint32]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{byID: make(map[uint32]*pendingRequest)}
}

func (t *pendingTable) len() int { return len(t.queue) - t.head }

func (t *pendingTable) contains(seq uint32) bool {
	_, ok := t.byID[seq]
	return ok
}

func (t *pendingTable) pushBack(req *pendingRequest) {
	t.queue = append(t.queue, req)
	t.byID[req.seq] = req
}

func (t *pendingTable) popFront() *pendingRequest {
	if t.len() == 0 {
		return nil
	}
	req := t.queue[t.head]
	t.queue[t.head] = nil
	t.head++
	delete(t.byID, req.seq)
	t.compact()
	return req
}

// removeBack removes the newest entry if it is seq. Used to roll back a
// request whose write failed; by then it may already have been completed
// and removed by another path.
func (t *pendingTable) removeBack(seq uint32) *pendingRequest {
	if t.len() == 0 {
		return nil
	}
	last := len(t.queue) - 1
	req := t.queue[last]
	if req.seq != seq {
		return nil
	}
	t.queue[last] = nil
	t.queue = t.queue[:last]
	delete(t.byID, seq)
	t.compact()
	return req
}

// removeIf removes every entry matching fn, preserving order, and returns them.
func (t *pendingTable) removeIf(fn func(*pendingRequest) bool) []*pendingRequest {
	var removed []*pendingRequest
	kept := t.queue[:t.head]
	for _, req := range t.queue[t.head:] {
		if fn(req) {
			removed = append(removed, req)
			delete(t.byID, req.seq)
			continue
		}
		kept = append(kept, req)
	}
	for i := len(kept); i < len(t.queue); i++ {
		t.queue[i] = nil
	}
	t.queue = kept
	t.compact()
	return removed
}

// drain empties the table and returns its entries oldest first.
func (t *pendingTable) drain() []*pendingRequest {
	out := make([]*pendingRequest, 0, t.len())
	out = append(out, t.queue[t.head:]...)
	t.queue = nil
	t.head = 0
	t.byID = make(map[uint32]*pendingRequest)
	return out
}

// compact reclaims the consumed prefix once it dominates the slice.
func (t *pendingTable) compact() {
	if t.len() == 0 {
		t.queue = t.queue[:0]
		t.head = 0
		return
	}
	if t.head > 64 && t.head*2 >= len(t.queue) {
		n := copy(t.queue, t.queue[t.head:])
		for i := n; i < len(t.queue); i++ {
			t.queue[i] = nil
		}
		t.queue = t.queue[:n]
		t.head = 0
	}
}
