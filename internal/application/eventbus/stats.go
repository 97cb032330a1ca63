package eventbus

import "github.com/aescanero/construtor/pkg/domain"

type counters struct {
	total         int
	byType        map[string]int
	bySource      map[string]int
	handlerErrors int
}

func newCounters() counters {
	return counters{byType: map[string]int{}, bySource: map[string]int{}}
}

func (c *counters) record(e *domain.Event) {
	c.total++
	c.byType[string(e.Type)]++
	c.bySource[e.Source]++
}

// Stats is a snapshot of bus counters.
type Stats struct {
	TotalEvents        int            `json:"total_events"`
	EventsByType       map[string]int `json:"events_by_type"`
	EventsBySource     map[string]int `json:"events_by_source"`
	HandlerErrors      int            `json:"handler_errors"`
	HistorySize        int            `json:"history_size"`
	RegisteredHandlers int            `json:"registered_handlers"`
	GlobalHandlers     int            `json:"global_handlers"`
	SourceHandlers     int            `json:"source_handlers"`
	TargetHandlers     int            `json:"target_handlers"`
}

// Stats returns a copy of the current counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	st := Stats{
		TotalEvents:    b.stats.total,
		EventsByType:   make(map[string]int, len(b.stats.byType)),
		EventsBySource: make(map[string]int, len(b.stats.bySource)),
		HandlerErrors:  b.stats.handlerErrors,
		HistorySize:    b.history.size,
	}
	for k, v := range b.stats.byType {
		st.EventsByType[k] = v
	}
	for k, v := range b.stats.bySource {
		st.EventsBySource[k] = v
	}
	b.mu.Unlock()

	b.subMu.RLock()
	for _, s := range b.subs {
		switch s.kind {
		case matchType:
			st.RegisteredHandlers++
		case matchAll:
			st.GlobalHandlers++
		case matchSource:
			st.SourceHandlers++
		case matchTarget:
			st.TargetHandlers++
		}
	}
	b.subMu.RUnlock()
	return st
}

// ResetStats zeroes the counters. History is kept.
func (b *Bus) ResetStats() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats = newCounters()
}
