package lockmgr

// QueueScheduler is the FIFO of steal requests of one document. The request at
// position 0 is the one running the steal protocol, the others are queued.
// Positions are always the contiguous range 0..n-1.
type QueueScheduler struct {
	entries []*StealRequest
}

func newQueueScheduler() *QueueScheduler {
	return &QueueScheduler{}
}

// Enqueue appends req and sets its position to the current length
func (q *QueueScheduler) Enqueue(req *StealRequest) int {
	req.QueuePosition = len(q.entries)
	q.entries = append(q.entries, req)
	return req.QueuePosition
}

// Head returns the request at position 0
func (q *QueueScheduler) Head() (*StealRequest, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	return q.entries[0], true
}

// DequeueHead removes the head and returns it together with the entries whose
// position changed
func (q *QueueScheduler) DequeueHead() (*StealRequest, []*StealRequest, bool) {
	if len(q.entries) == 0 {
		return nil, nil, false
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head, q.renumber(0), true
}

// Remove deletes the request with the given id from any position and returns
// it together with the entries whose position changed
func (q *QueueScheduler) Remove(requestID string) (*StealRequest, []*StealRequest, bool) {
	for i, req := range q.entries {
		if req.ID == requestID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return req, q.renumber(i), true
		}
	}
	return nil, nil, false
}

// FindByRequester returns the request of a requesting session
func (q *QueueScheduler) FindByRequester(sessionID string) (*StealRequest, bool) {
	for _, req := range q.entries {
		if req.RequesterSessionID == sessionID {
			return req, true
		}
	}
	return nil, false
}

// PositionOf returns the position of a request or -1
func (q *QueueScheduler) PositionOf(requestID string) int {
	for i, req := range q.entries {
		if req.ID == requestID {
			return i
		}
	}
	return -1
}

func (q *QueueScheduler) Len() int {
	return len(q.entries)
}

// List returns copies of all requests in queue order
func (q *QueueScheduler) List() []StealRequest {
	out := make([]StealRequest, 0, len(q.entries))
	for _, req := range q.entries {
		out = append(out, *req)
	}
	return out
}

// Clear removes and returns all requests
func (q *QueueScheduler) Clear() []*StealRequest {
	out := q.entries
	q.entries = nil
	return out
}

// renumber fixes positions from index from on and returns the changed entries
func (q *QueueScheduler) renumber(from int) []*StealRequest {
	var changed []*StealRequest
	for i := from; i < len(q.entries); i++ {
		if q.entries[i].QueuePosition != i {
			q.entries[i].QueuePosition = i
			changed = append(changed, q.entries[i])
		}
	}
	return changed
}
