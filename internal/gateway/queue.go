package gateway

// refreshResult is delivered to every waiter when the in-flight refresh settles.
type refreshResult struct {
	token string
	err   error
}

// waiter is a caller blocked on the in-flight refresh. done is buffered so settling
// never blocks on a caller that has already given up.
type waiter struct {
	method string
	path   string
	done   chan refreshResult
}

func (w *waiter) settle(res refreshResult) {
	w.done <- res
}

// pendingQueue is the FIFO of callers waiting for the in-flight refresh.
// It is only accessed under Gateway.mu.
type pendingQueue struct {
	items []*waiter
}

func (q *pendingQueue) enqueue(method, path string) *waiter {
	w := &waiter{method: method, path: path, done: make(chan refreshResult, 1)}
	q.items = append(q.items, w)
	return w
}

// remove drops w if it is still queued. Returns false if it was already drained.
func (q *pendingQueue) remove(w *waiter) bool {
	for i, it := range q.items {
		if it == w {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// drain empties the queue and returns its entries in arrival order.
func (q *pendingQueue) drain() []*waiter {
	out := q.items
	q.items = nil
	return out
}

func (q *pendingQueue) len() int { return len(q.items) }
