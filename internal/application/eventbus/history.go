package eventbus

import (
	"github.com/aescanero/construtor/pkg/domain"
)

// DefaultHistoryQueryLimit applies when a query leaves Limit at zero.
const DefaultHistoryQueryLimit = 100

// ring is a fixed-capacity FIFO of events; pushing into a full ring
// evicts the oldest entry.
type ring struct {
	buf   []*domain.Event
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]*domain.Event, capacity)}
}

func (r *ring) push(e *domain.Event) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = e
		r.size++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// each visits events oldest first.
func (r *ring) each(fn func(*domain.Event)) {
	for i := 0; i < r.size; i++ {
		fn(r.buf[(r.start+i)%len(r.buf)])
	}
}

func (r *ring) reset() {
	clear(r.buf)
	r.start, r.size = 0, 0
}

// HistoryQuery filters History. Zero fields match everything.
type HistoryQuery struct {
	Type   domain.EventType
	Source string
	Limit  int
}

// History returns the most recent matching events in emission order.
func (b *Bus) History(q HistoryQuery) []*domain.Event {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryQueryLimit
	}

	b.mu.Lock()
	var out []*domain.Event
	b.history.each(func(e *domain.Event) {
		if q.Type != "" && e.Type != q.Type {
			return
		}
		if q.Source != "" && e.Source != q.Source {
			return
		}
		out = append(out, e)
	})
	b.mu.Unlock()

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// CorrelationChain returns every retained event with the correlation id,
// in emission order.
func (b *Bus) CorrelationChain(correlationID string) []*domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*domain.Event
	b.history.each(func(e *domain.Event) {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	})
	return out
}

// ClearHistory drops every retained event.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history.reset()
}
