package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

// Source used for events the bus emits about itself.
const busSource = "event_bus"

// DefaultHistoryLimit is the history capacity when none is configured.
const DefaultHistoryLimit = 1000

// Handler receives dispatched events. The event must not be modified.
type Handler interface {
	HandleEvent(ctx context.Context, event *domain.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event *domain.Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *domain.Event) error {
	return f(ctx, event)
}

// SubscriptionID identifies a subscription for Unsubscribe.
type SubscriptionID uint64

type matchKind int

const (
	matchType matchKind = iota
	matchAll
	matchSource
	matchTarget
)

type subscription struct {
	id      SubscriptionID
	kind    matchKind
	key     string
	handler Handler
}

// dedupKey identifies the handler for deduplication across matches.
// Comparable handler values (pointers, plain structs) are deduplicated by
// value; funcs cannot be compared and are keyed by subscription.
func (s *subscription) dedupKey() any {
	v := reflect.ValueOf(s.handler)
	if v.Comparable() {
		return s.handler
	}
	return s.id
}

// Config configures a Bus.
type Config struct {
	// HistoryLimit bounds the history ring buffer.
	HistoryLimit int

	// MaxConcurrentHandlers bounds fan-out per emit. Zero means unbounded.
	MaxConcurrentHandlers int

	Metrics ports.MetricsCollector
	Logger  *zap.Logger
}

// Bus is an in-process typed publish/subscribe dispatcher with bounded
// history and statistics.
//
// Emit blocks until every matched handler has returned. Handlers run
// concurrently; per-handler delivery order follows emission order only
// for a single sequential emitter. The bus does not serialize calls into
// one handler, so a handler that emits from inside HandleEvent does not
// deadlock.
type Bus struct {
	logger      *zap.Logger
	metrics     ports.MetricsCollector
	concurrency int
	nextID      atomic.Uint64

	subMu sync.RWMutex
	subs  map[SubscriptionID]*subscription

	mu      sync.Mutex
	history *ring
	stats   counters
}

var _ ports.EventEmitter = (*Bus)(nil)

// New creates a Bus.
func New(cfg Config) *Bus {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}
	return &Bus{
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		concurrency: cfg.MaxConcurrentHandlers,
		subs:        make(map[SubscriptionID]*subscription),
		history:     newRing(cfg.HistoryLimit),
		stats:       newCounters(),
	}
}

func (b *Bus) add(kind matchKind, key string, h Handler) SubscriptionID {
	id := SubscriptionID(b.nextID.Add(1))

	b.subMu.Lock()
	b.subs[id] = &subscription{id: id, kind: kind, key: key, handler: h}
	b.subMu.Unlock()

	b.logger.Debug("event handler subscribed",
		zap.Uint64("subscription_id", uint64(id)),
		zap.Int("kind", int(kind)),
		zap.String("key", key))
	return id
}

// Subscribe registers h for events of exactly eventType.
func (b *Bus) Subscribe(eventType domain.EventType, h Handler) SubscriptionID {
	return b.add(matchType, string(eventType), h)
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) SubscriptionID {
	return b.add(matchAll, "", h)
}

// SubscribeSource registers h for events emitted by source.
func (b *Bus) SubscribeSource(source string, h Handler) SubscriptionID {
	return b.add(matchSource, source, h)
}

// SubscribeTarget registers h for events addressed to target.
func (b *Bus) SubscribeTarget(target string, h Handler) SubscriptionID {
	return b.add(matchTarget, target, h)
}

// Unsubscribe removes a subscription. It reports whether it existed.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	if _, ok := b.subs[id]; !ok {
		return false
	}
	delete(b.subs, id)
	return true
}

// EmitOption customizes an emitted event.
type EmitOption func(*domain.Event)

// WithSource sets the event source.
func WithSource(source string) EmitOption {
	return func(e *domain.Event) { e.Source = source }
}

// WithTarget addresses the event to one recipient.
func WithTarget(target string) EmitOption {
	return func(e *domain.Event) { e.Target = target }
}

// WithCorrelationID links the event to a logical request.
func WithCorrelationID(id string) EmitOption {
	return func(e *domain.Event) { e.CorrelationID = id }
}

// WithPriority sets the classification priority (1 highest, 10 lowest).
func WithPriority(p int) EmitOption {
	return func(e *domain.Event) { e.Priority = domain.ClampEventPriority(p) }
}

// WithMetadata merges metadata into the event.
func WithMetadata(md map[string]any) EmitOption {
	return func(e *domain.Event) {
		for k, v := range md {
			e.Metadata[k] = v
		}
	}
}

// WithParent records the event that caused this one.
func WithParent(parentID string) EmitOption {
	return func(e *domain.Event) { e.ParentEventID = parentID }
}

// Emit builds an event, records it and dispatches it to every matching
// handler. It returns once all handlers have finished.
func (b *Bus) Emit(ctx context.Context, eventType domain.EventType, payload map[string]any, opts ...EmitOption) *domain.Event {
	e := domain.NewEvent(eventType, payload)
	for _, opt := range opts {
		opt(e)
	}
	b.dispatch(ctx, e)
	return e
}

// EmitEvent dispatches a prebuilt event, filling missing defaults.
func (b *Bus) EmitEvent(ctx context.Context, e *domain.Event) {
	if e.ID == "" || e.Timestamp.IsZero() || e.Source == "" {
		d := domain.NewEvent(e.Type, nil)
		if e.ID == "" {
			e.ID = d.ID
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = d.Timestamp
		}
		if e.Source == "" {
			e.Source = d.Source
		}
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if e.Priority == 0 {
		e.Priority = domain.DefaultEventPriority
	}
	e.Priority = domain.ClampEventPriority(e.Priority)
	b.dispatch(ctx, e)
}

func (b *Bus) dispatch(ctx context.Context, e *domain.Event) {
	b.mu.Lock()
	b.history.push(e)
	b.stats.record(e)
	b.mu.Unlock()

	b.metrics.RecordEvent(e.Type, e.Source)

	matched := b.match(e)
	if len(matched) == 0 {
		return
	}

	var g errgroup.Group
	if b.concurrency > 0 {
		g.SetLimit(b.concurrency)
	}
	for _, s := range matched {
		g.Go(func() error {
			b.invoke(ctx, s, e)
			return nil
		})
	}
	_ = g.Wait()
}

func (b *Bus) match(e *domain.Event) []*subscription {
	b.subMu.RLock()
	defer b.subMu.RUnlock()

	seen := make(map[any]struct{})
	var out []*subscription
	for _, s := range b.subs {
		var hit bool
		switch s.kind {
		case matchType:
			hit = s.key == string(e.Type)
		case matchAll:
			hit = true
		case matchSource:
			hit = e.Source != "" && s.key == e.Source
		case matchTarget:
			hit = e.Target != "" && s.key == e.Target
		}
		if !hit {
			continue
		}
		k := s.dedupKey()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (b *Bus) invoke(ctx context.Context, s *subscription, e *domain.Event) {
	err := safeCall(ctx, s.handler, e)
	if err == nil {
		return
	}

	b.mu.Lock()
	b.stats.handlerErrors++
	b.mu.Unlock()
	b.metrics.RecordEventHandlerError(e.Type)

	b.logger.Error("event handler failed",
		zap.String("event_id", e.ID),
		zap.String("event_type", string(e.Type)),
		zap.Uint64("subscription_id", uint64(s.id)),
		zap.Error(err))

	if e.Type == domain.EventSystemError {
		return
	}

	errEvent := domain.NewEvent(domain.EventSystemError, map[string]any{
		"error":               err.Error(),
		"original_event_id":   e.ID,
		"original_event_type": string(e.Type),
	})
	errEvent.Source = busSource
	errEvent.CorrelationID = e.CorrelationID
	errEvent.ParentEventID = e.ID
	b.dispatch(ctx, errEvent)
}

func safeCall(ctx context.Context, h Handler, e *domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrEventHandler, r)
		}
	}()
	if herr := h.HandleEvent(ctx, e); herr != nil {
		return fmt.Errorf("%w: %w", domain.ErrEventHandler, herr)
	}
	return nil
}
