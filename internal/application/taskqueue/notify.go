package taskqueue

import "sync"

// notifier wakes every goroutine waiting on the current channel.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

// wait returns a channel closed by the next notify.
func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notifier) notify() {
	n.mu.Lock()
	close(n.ch)
	n.ch = make(chan struct{})
	n.mu.Unlock()
}

// doneSignal returns a channel closed when the task reaches a terminal
// state in this process.
func (q *Queue) doneSignal(id string) <-chan struct{} {
	q.waitersMu.Lock()
	defer q.waitersMu.Unlock()

	ch, ok := q.waiters[id]
	if !ok {
		ch = make(chan struct{})
		q.waiters[id] = ch
	}
	return ch
}

func (q *Queue) signalDone(id string) {
	q.waitersMu.Lock()
	defer q.waitersMu.Unlock()

	if ch, ok := q.waiters[id]; ok {
		close(ch)
		delete(q.waiters, id)
	}
}

func (q *Queue) dropWaiter(id string, ch <-chan struct{}) {
	q.waitersMu.Lock()
	defer q.waitersMu.Unlock()

	if cur, ok := q.waiters[id]; ok && (<-chan struct{})(cur) == ch {
		delete(q.waiters, id)
	}
}
