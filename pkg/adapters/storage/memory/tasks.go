package memory

import (
	"container/heap"
	"context"
	"fmt"
	"sync"

	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

var _ ports.TaskStore = (*TaskStore)(nil)

type entry struct {
	priority domain.Priority
	seq      int64
	id       string
}

type readyHeap []entry

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// TaskStore is a process-local ports.TaskStore. A single mutex makes
// PopMin and Update atomic. Records are stored and returned as copies.
type TaskStore struct {
	mu      sync.Mutex
	ready   readyHeap
	records map[string]*domain.Task
	seq     int64
}

// NewTaskStore creates an empty in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{records: make(map[string]*domain.Task)}
}

func (s *TaskStore) Push(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	task.Sequence = s.seq
	s.records[task.ID] = task.Clone()
	heap.Push(&s.ready, entry{priority: task.Priority, seq: s.seq, id: task.ID})
	return nil
}

func (s *TaskStore) PopMin(ctx context.Context, claim func(*domain.Task) bool) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.ready.Len() > 0 {
		e := heap.Pop(&s.ready).(entry)
		rec, ok := s.records[e.id]
		if !ok {
			continue
		}
		task := rec.Clone()
		if !claim(task) {
			continue
		}
		s.records[e.id] = task.Clone()
		return task, nil
	}
	return nil, nil
}

func (s *TaskStore) RemoveReady(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unindex(id)
	return nil
}

func (s *TaskStore) unindex(id string) {
	for i, e := range s.ready {
		if e.id == id {
			heap.Remove(&s.ready, i)
			return
		}
	}
}

func (s *TaskStore) Save(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[task.ID] = task.Clone()
	return nil
}

func (s *TaskStore) Update(ctx context.Context, id string, fn func(*domain.Task) bool) (*domain.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, false, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	task := rec.Clone()
	if !fn(task) {
		return task, false, nil
	}
	s.records[id] = task.Clone()
	return task, true, nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *TaskStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	s.unindex(id)
	return nil
}

func (s *TaskStore) List(ctx context.Context) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Task, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (s *TaskStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ready.Len(), nil
}

func (s *TaskStore) Ping(ctx context.Context) error { return nil }
