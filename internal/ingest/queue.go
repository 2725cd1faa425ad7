package ingest

import "sync"

// part is one item on a video stream: a frame batch or the end marker.
type part struct {
	frames [][]byte
	done   bool
}

// partQueue is an unbounded FIFO between a device session and its video
// worker. Pushes never block, so a frame burst cannot stall the session loop
// that also services the pairing mailbox. Closing the queue while the worker
// is draining it is the cancellation signal.
type partQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []part
	closed bool
}

func newPartQueue() *partQueue {
	q := &partQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends an item and reports whether it was accepted. A closed queue
// refuses pushes; the producer learns its consumer is gone.
func (q *partQueue) push(p part) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, p)
	q.cond.Signal()
	return true
}

// pop blocks until an item is available or the queue is closed and drained.
// The second result is false once the queue is exhausted.
func (q *partQueue) pop() (part, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.items) == 0 {
		return part{}, false
	}

	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

// close marks the end of the stream and wakes the consumer.
func (q *partQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
