package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

const (
	streamPrefix = "construtor:events:"

	// MetaOrigin names the process that first published an event.
	MetaOrigin = "origin"
	// MetaRelayed marks events delivered from a stream into a local bus.
	MetaRelayed = "relayed"
)

// Namespaces mirrored by default.
var Namespaces = []string{"workflow", "agent", "communication", "code", "test", "deploy", "system", "user"}

// StreamKey returns the stream holding events of a namespace.
func StreamKey(namespace string) string {
	return streamPrefix + namespace
}

// Mirror publishes local bus events to per-namespace Redis streams.
// Subscribe it to a bus with SubscribeAll.
type Mirror struct {
	client redis.UniversalClient
	origin string
	maxLen int64
	logger *zap.Logger
}

// NewMirror creates a mirror tagging events with origin.
func NewMirror(client redis.UniversalClient, origin string, maxLen int64, logger *zap.Logger) *Mirror {
	return &Mirror{client: client, origin: origin, maxLen: maxLen, logger: logger}
}

// HandleEvent publishes the event unless it arrived from a stream.
func (m *Mirror) HandleEvent(ctx context.Context, event *domain.Event) error {
	if _, relayed := event.Metadata[MetaRelayed]; relayed {
		return nil
	}

	out := *event
	out.Metadata = make(map[string]any, len(event.Metadata)+1)
	for k, v := range event.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata[MetaOrigin] = m.origin

	data, err := json.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	streamKey := StreamKey(event.Type.Namespace())
	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{"data": string(data)},
	}
	if m.maxLen > 0 {
		args.MaxLen = m.maxLen
		args.Approx = true
	}
	if err := m.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	m.logger.Debug("event mirrored",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("stream", streamKey))
	return nil
}

// RelayConfig configures a Relay.
type RelayConfig struct {
	Client redis.UniversalClient
	// Target receives relayed events, normally the local bus.
	Target ports.EventEmitter
	// Origin identifies this process; its own events are acknowledged
	// and dropped.
	Origin string
	// Group prefix; each process reads through its own group so every
	// process sees every event.
	Group      string
	Namespaces []string
	Block      time.Duration
	Logger     *zap.Logger
}

// Relay reads events published by other processes into a local bus.
type Relay struct {
	client     redis.UniversalClient
	target     ports.EventEmitter
	origin     string
	group      string
	namespaces []string
	block      time.Duration
	logger     *zap.Logger
}

// NewRelay creates a relay
func NewRelay(cfg RelayConfig) *Relay {
	r := &Relay{
		client:     cfg.Client,
		target:     cfg.Target,
		origin:     cfg.Origin,
		group:      cfg.Group + ":" + cfg.Origin,
		namespaces: cfg.Namespaces,
		block:      cfg.Block,
		logger:     cfg.Logger,
	}
	if len(r.namespaces) == 0 {
		r.namespaces = Namespaces
	}
	if r.block <= 0 {
		r.block = time.Second
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Setup creates the consumer group on every stream. New groups start at
// the stream tail so history is not replayed.
func (r *Relay) Setup(ctx context.Context) error {
	for _, ns := range r.namespaces {
		err := r.client.XGroupCreateMkStream(ctx, StreamKey(ns), r.group, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
	}
	r.logger.Info("subscribed to event streams",
		zap.Strings("namespaces", r.namespaces),
		zap.String("consumer_group", r.group))
	return nil
}

// Run reads until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Setup(ctx); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := r.ReadOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("failed to read from streams", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// ReadOnce performs a single blocking read and returns how many events
// were delivered to the target.
func (r *Relay) ReadOnce(ctx context.Context) (int, error) {
	streams := make([]string, 0, 2*len(r.namespaces))
	for _, ns := range r.namespaces {
		streams = append(streams, StreamKey(ns))
	}
	for range r.namespaces {
		streams = append(streams, ">")
	}

	res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.origin,
		Streams:  streams,
		Count:    10,
		Block:    r.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, stream := range res {
		for _, message := range stream.Messages {
			if r.process(ctx, stream.Stream, message) {
				delivered++
			}
			if err := r.client.XAck(ctx, stream.Stream, r.group, message.ID).Err(); err != nil {
				r.logger.Warn("failed to ack message",
					zap.String("stream", stream.Stream),
					zap.String("message_id", message.ID),
					zap.Error(err))
			}
		}
	}
	return delivered, nil
}

func (r *Relay) process(ctx context.Context, streamKey string, message redis.XMessage) bool {
	data, ok := message.Values["data"].(string)
	if !ok {
		r.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return false
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		r.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return false
	}

	if origin, _ := event.Metadata[MetaOrigin].(string); origin == r.origin {
		return false
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	event.Metadata[MetaRelayed] = true

	r.target.EmitEvent(ctx, &event)
	return true
}
