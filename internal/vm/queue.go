package vm

import "sync"

// requestKind distinguishes the units of work the Run loop processes.
type requestKind int

const (
	kindCall requestKind = iota + 1
	kindView
	kindDeploy
	kindFund
	kindInspect
)

func (k requestKind) String() string {
	switch k {
	case kindCall:
		return "call"
	case kindView:
		return "view"
	case kindDeploy:
		return "deploy"
	case kindFund:
		return "fund"
	case kindInspect:
		return "inspect"
	default:
		return "unknown"
	}
}

// request is one unit of work waiting for the Run loop.
type request struct {
	kind    requestKind
	msg     Message
	code    string
	inspect func()
	reply   chan *Receipt
}

// requestQueue is a thread-safe unbounded FIFO of requests.
//
// Callers enqueue from any goroutine; only the Run loop dequeues. The signal
// channel (buffered, size 1) coalesces wakeups and is closed on Close so a
// waiting loop observes shutdown.
type requestQueue struct {
	mu     sync.Mutex
	items  []*request
	closed bool
	signal chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		items:  make([]*request, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends a request. Returns false once the queue is closed.
func (q *requestQueue) Enqueue(r *request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, r)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front request without blocking.
func (q *requestQueue) TryDequeue() (*request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	r := q.items[0]
	q.items[0] = nil
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return r, true
}

// Wait returns the wakeup channel.
func (q *requestQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending requests.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further requests and wakes the Run loop.
func (q *requestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Drain removes and returns everything still queued.
func (q *requestQueue) Drain() []*request {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}
