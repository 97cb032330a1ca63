package debate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/internal/application/eventbus"
	"github.com/aescanero/construtor/pkg/domain"
	"github.com/aescanero/construtor/pkg/ports"
)

const (
	eventSource = "debate"
	tracerName  = "github.com/aescanero/construtor/debate"

	// TaskType is the task type of every debate executor call.
	TaskType = "technical_debate"

	DefaultMaxRounds = 5
	DefaultRetain    = 128

	initialConfidence = 0.7
	forcedConfidence  = 0.6
	minConfidence     = 0.5

	// historyWindow is how many earlier messages a speaker is shown.
	historyWindow = 3
)

var (
	ErrNoParticipants = errors.New("debate needs at least two participants")
	ErrEmptyTopic     = errors.New("debate topic is required")
	ErrShuttingDown   = errors.New("debate moderator is shutting down")
	ErrNoResponses    = errors.New("no participant responded")
)

// Config configures a Moderator.
type Config struct {
	Executor ports.AgentExecutor
	Bus      *eventbus.Bus

	// Participants must name a model each.
	Participants []domain.DebateParticipant
	MaxRounds    int
	// Retain is how many finished sessions stay queryable.
	Retain int

	Logger *zap.Logger
	Tracer trace.Tracer
}

// Request starts one debate.
type Request struct {
	Topic   string
	Context map[string]any
	// MaxRounds overrides the configured limit when positive.
	MaxRounds int
	// Participants selects a subset by name; empty means everyone.
	Participants []string
	// CorrelationID ties the debate events to a workflow.
	CorrelationID string
}

// Moderator runs multi-model debates: an opening round, discussion
// rounds in which each participant answers the others, and a consensus
// check after every discussion round.
type Moderator struct {
	executor     ports.AgentExecutor
	bus          *eventbus.Bus
	participants []domain.DebateParticipant
	maxRounds    int
	logger       *zap.Logger
	tracer       trace.Tracer

	baseCtx context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.RWMutex
	active   map[string]*session
	finished *lru.Cache[string, *domain.DebateSession]
	closed   bool
}

type session struct {
	mu sync.RWMutex
	s  *domain.DebateSession
}

func (s *session) snapshot() *domain.DebateSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.s.Clone()
}

func (s *session) update(fn func(s *domain.DebateSession)) *domain.DebateSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.s)
	return s.s.Clone()
}

// New creates a Moderator.
func New(cfg Config) (*Moderator, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("agent executor is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	participants := make([]domain.DebateParticipant, 0, len(cfg.Participants))
	for _, p := range cfg.Participants {
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		if p.Name == "" || p.Model == "" {
			return nil, fmt.Errorf("debate participant %q must have a name and a model", p.Name)
		}
		participants = append(participants, p)
	}
	if len(participants) < 2 {
		return nil, ErrNoParticipants
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.Retain <= 0 {
		cfg.Retain = DefaultRetain
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	finished, err := lru.New[string, *domain.DebateSession](cfg.Retain)
	if err != nil {
		return nil, fmt.Errorf("failed to create debate cache: %w", err)
	}

	baseCtx, stopAll := context.WithCancel(context.Background())
	return &Moderator{
		executor:     cfg.Executor,
		bus:          cfg.Bus,
		participants: participants,
		maxRounds:    cfg.MaxRounds,
		logger:       cfg.Logger,
		tracer:       cfg.Tracer,
		baseCtx:      baseCtx,
		stopAll:      stopAll,
		active:       make(map[string]*session),
		finished:     finished,
	}, nil
}

// Participants returns the configured participants.
func (m *Moderator) Participants() []domain.DebateParticipant {
	return append([]domain.DebateParticipant(nil), m.participants...)
}

func (m *Moderator) open(req Request) (*session, string, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, "", ErrEmptyTopic
	}
	participants, err := m.selectParticipants(req.Participants)
	if err != nil {
		return nil, "", err
	}
	rounds := m.maxRounds
	if req.MaxRounds > 0 {
		rounds = req.MaxRounds
	}

	sess := &session{s: &domain.DebateSession{
		ID:           uuid.NewString(),
		Topic:        topic,
		Context:      req.Context,
		Participants: participants,
		Messages:     []domain.DebateMessage{},
		MaxRounds:    rounds,
		Stage:        domain.DebateInitialResponses,
		StartedAt:    domain.Now(),
	}}
	corr := req.CorrelationID
	if corr == "" {
		corr = sess.s.ID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, "", ErrShuttingDown
	}
	m.active[sess.s.ID] = sess
	m.wg.Add(1)
	return sess, corr, nil
}

func (m *Moderator) selectParticipants(names []string) ([]domain.DebateParticipant, error) {
	if len(names) == 0 {
		return m.Participants(), nil
	}
	byName := make(map[string]domain.DebateParticipant, len(m.participants))
	for _, p := range m.participants {
		byName[p.Name] = p
	}
	var out []domain.DebateParticipant
	seen := map[string]bool{}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		p, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown debate participant %q", n)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, p)
		}
	}
	if len(out) < 2 {
		return nil, ErrNoParticipants
	}
	return out, nil
}

// Run holds a debate to its end and returns the final session. A
// session that ended in failure is returned together with its error.
func (m *Moderator) Run(ctx context.Context, req Request) (*domain.DebateSession, error) {
	sess, corr, err := m.open(req)
	if err != nil {
		return nil, err
	}
	defer m.wg.Done()

	ctx, cancel := mergeCancel(ctx, m.baseCtx)
	defer cancel()
	return m.run(ctx, sess, corr)
}

// Start launches a debate in the background and returns its opening
// snapshot.
func (m *Moderator) Start(req Request) (*domain.DebateSession, error) {
	sess, corr, err := m.open(req)
	if err != nil {
		return nil, err
	}
	snap := sess.snapshot()
	go func() {
		defer m.wg.Done()
		_, _ = m.run(m.baseCtx, sess, corr)
	}()
	return snap, nil
}

// mergeCancel returns a context cancelled when either ctx or stop is.
func mergeCancel(ctx, stop context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	after := context.AfterFunc(stop, cancel)
	return ctx, func() {
		after()
		cancel()
	}
}

func (m *Moderator) run(ctx context.Context, sess *session, corr string) (*domain.DebateSession, error) {
	s := sess.snapshot()
	ctx, span := m.tracer.Start(ctx, "debate.run")
	span.SetAttributes(
		attribute.String("debate.id", s.ID),
		attribute.Int("debate.participants", len(s.Participants)),
		attribute.Int("debate.max_rounds", s.MaxRounds),
	)
	defer span.End()

	m.emit(ctx, domain.EventDebateStarted, corr, s.ID, map[string]any{
		"topic":        s.Topic,
		"participants": names(s.Participants),
		"max_rounds":   s.MaxRounds,
	})
	m.logger.Info("debate started",
		zap.String("debate_id", s.ID),
		zap.String("topic", s.Topic),
		zap.Int("max_rounds", s.MaxRounds))

	final, err := m.rounds(ctx, sess, corr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		final = sess.update(func(s *domain.DebateSession) {
			s.Stage = domain.DebateFailed
			s.Error = err.Error()
			s.EndedAt = domain.TimePtr(domain.Now())
		})
		m.emit(context.WithoutCancel(ctx), domain.EventDebateFailed, corr, final.ID, map[string]any{
			"error": final.Error,
			"round": final.CurrentRound,
		})
		m.logger.Warn("debate failed", zap.String("debate_id", final.ID), zap.Error(err))
	} else {
		if final.ConsensusReached {
			m.emit(ctx, domain.EventDebateConsensus, corr, final.ID, map[string]any{
				"round":      final.CurrentRound,
				"confidence": final.Confidence,
			})
		}
		m.emit(ctx, domain.EventDebateCompleted, corr, final.ID, map[string]any{
			"consensus_reached": final.ConsensusReached,
			"forced":            final.Forced,
			"rounds":            final.CurrentRound,
			"confidence":        final.Confidence,
			"final_decision":    final.FinalDecision,
		})
		m.logger.Info("debate finished",
			zap.String("debate_id", final.ID),
			zap.Bool("consensus", final.ConsensusReached),
			zap.Int("rounds", final.CurrentRound))
	}

	m.finished.Add(final.ID, final)
	m.mu.Lock()
	delete(m.active, final.ID)
	m.mu.Unlock()
	return final, err
}

func (m *Moderator) rounds(ctx context.Context, sess *session, corr string) (*domain.DebateSession, error) {
	for round := 1; ; round++ {
		sess.update(func(s *domain.DebateSession) {
			s.CurrentRound = round
			if round > 1 {
				s.Stage = domain.DebateDiscussion
			}
		})
		if err := m.round(ctx, sess, corr, round); err != nil {
			return nil, err
		}

		s := sess.snapshot()
		if round >= 2 {
			sess.update(func(s *domain.DebateSession) { s.Stage = domain.DebateConsensusCheck })
			if ok, conf := consensus(s.RoundMessages(round)); ok {
				return sess.update(func(s *domain.DebateSession) {
					s.ConsensusReached = true
					s.Confidence = conf
					s.Stage = domain.DebateFinalConsensus
					s.FinalDecision = synthesize(s, true)
					s.EndedAt = domain.TimePtr(domain.Now())
				}), nil
			}
		}
		if round >= s.MaxRounds {
			return sess.update(func(s *domain.DebateSession) {
				s.Forced = true
				s.Confidence = forcedConfidence
				s.Stage = domain.DebateFinalConsensus
				s.FinalDecision = synthesize(s, false)
				s.EndedAt = domain.TimePtr(domain.Now())
			}), nil
		}
	}
}

// round lets every participant speak once, in order. A participant whose
// call fails sits the round out; the round fails only when nobody spoke.
func (m *Moderator) round(ctx context.Context, sess *session, corr string, round int) error {
	s := sess.snapshot()
	spoke := 0
	var lastErr error
	for _, p := range s.Participants {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := m.speak(ctx, sess.snapshot(), p, round, corr)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			m.logger.Warn("debate participant failed",
				zap.String("debate_id", s.ID),
				zap.String("participant", p.Name),
				zap.Int("round", round),
				zap.Error(err))
			continue
		}
		spoke++
		sess.update(func(s *domain.DebateSession) { s.Messages = append(s.Messages, msg) })
		m.emit(ctx, domain.EventDebateMessage, corr, s.ID, map[string]any{
			"participant":    msg.Participant,
			"round":          round,
			"agrees_with":    msg.AgreesWith,
			"disagrees_with": msg.DisagreesWith,
			"confidence":     msg.Confidence,
		})
	}
	if spoke == 0 {
		return fmt.Errorf("round %d: %w: %w", round, ErrNoResponses, lastErr)
	}

	m.emit(ctx, domain.EventDebateRound, corr, s.ID, map[string]any{
		"round":    round,
		"messages": spoke,
	})
	return nil
}

func (m *Moderator) speak(ctx context.Context, s *domain.DebateSession, p domain.DebateParticipant, round int, corr string) (domain.DebateMessage, error) {
	others := make([]string, 0, len(s.Participants)-1)
	for _, o := range s.Participants {
		if o.Name != p.Name {
			others = append(others, o.Name)
		}
	}

	input := map[string]any{
		"topic":        s.Topic,
		"round":        round,
		"participant":  p.Name,
		"perspective":  p.Perspective,
		"participants": others,
	}
	if len(s.Context) > 0 {
		input["context"] = s.Context
	}
	if round == 1 {
		input["instructions"] = "Give your position on the topic from your perspective. Be concrete about trade-offs."
	} else {
		input["instructions"] = "Respond to the other participants by name. Say explicitly whom you agree or disagree with and why, then refine your position."
		input["previous_messages"] = recent(s.Messages, p.Name, round)
	}

	out, err := m.executor.Execute(ctx, ports.ExecutionRequest{
		WorkflowID: corr,
		StepID:     fmt.Sprintf("%s:%d:%s", s.ID, round, p.Name),
		Agent:      p.Role,
		TaskType:   TaskType,
		Model:      p.Model,
		Tier:       "lead",
		Input:      input,
		Context:    domain.NewWorkflowContext(nil),
	})
	if err != nil {
		return domain.DebateMessage{}, err
	}

	content := contentOf(out)
	msg := domain.DebateMessage{
		Participant: p.Name,
		Model:       p.Model,
		Content:     content,
		Round:       round,
		Timestamp:   domain.Now(),
		Confidence:  confidence(round),
	}
	if round > 1 {
		agrees, disagrees, ok := stanceFromOutput(out, others)
		if !ok {
			agrees, disagrees = detectStance(content, others)
		}
		msg.AgreesWith, msg.DisagreesWith = agrees, disagrees
	}
	return msg, nil
}

// recent returns the other participants' latest messages from the
// previous and current rounds.
func recent(messages []domain.DebateMessage, self string, round int) []map[string]any {
	var picked []domain.DebateMessage
	for _, msg := range messages {
		if msg.Participant != self && msg.Round >= round-1 {
			picked = append(picked, msg)
		}
	}
	if len(picked) > historyWindow {
		picked = picked[len(picked)-historyWindow:]
	}
	out := make([]map[string]any, 0, len(picked))
	for _, msg := range picked {
		out = append(out, map[string]any{
			"participant": msg.Participant,
			"round":       msg.Round,
			"content":     msg.Content,
		})
	}
	return out
}

func contentOf(out map[string]any) string {
	if s, ok := out["content"].(string); ok {
		return s
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprint(out)
	}
	return string(data)
}

// consensus holds when the round's agreements outnumber its
// disagreements. Confidence is agreements / (agreements + disagreements + 1).
func consensus(round []domain.DebateMessage) (bool, float64) {
	var agreements, disagreements int
	for _, msg := range round {
		agreements += len(msg.AgreesWith)
		disagreements += len(msg.DisagreesWith)
	}
	if agreements <= disagreements {
		return false, 0
	}
	return true, float64(agreements) / float64(agreements+disagreements+1)
}

// synthesize summarises the last round: the first sentence of each
// participant's final message.
func synthesize(s *domain.DebateSession, reached bool) string {
	var b strings.Builder
	if reached {
		fmt.Fprintf(&b, "Consensus reached on: %s\n\nKey points:\n", s.Topic)
	} else {
		fmt.Fprintf(&b, "No full consensus on: %s after %d rounds\n\nPositions:\n", s.Topic, s.CurrentRound)
	}
	for _, msg := range s.RoundMessages(s.CurrentRound) {
		first := msg.Content
		if parts := sentences(msg.Content); len(parts) > 0 {
			first = parts[0]
		}
		fmt.Fprintf(&b, "- %s: %s\n", msg.Participant, first)
	}
	return strings.TrimRight(b.String(), "\n")
}

func names(ps []domain.DebateParticipant) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

func (m *Moderator) emit(ctx context.Context, t domain.EventType, corr, id string, payload map[string]any) {
	payload["debate_id"] = id
	m.bus.Emit(ctx, t, payload,
		eventbus.WithSource(eventSource),
		eventbus.WithCorrelationID(corr))
}

// Get returns a snapshot of a running or retained session.
func (m *Moderator) Get(id string) (*domain.DebateSession, bool) {
	m.mu.RLock()
	sess, ok := m.active[id]
	m.mu.RUnlock()
	if ok {
		return sess.snapshot(), true
	}
	s, ok := m.finished.Get(id)
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// List returns running and retained sessions, newest first.
func (m *Moderator) List() []*domain.DebateSession {
	m.mu.RLock()
	out := make([]*domain.DebateSession, 0, len(m.active)+m.finished.Len())
	seen := make(map[string]bool, len(m.active))
	for id, sess := range m.active {
		seen[id] = true
		out = append(out, sess.snapshot())
	}
	m.mu.RUnlock()
	for _, s := range m.finished.Values() {
		if !seen[s.ID] {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Shutdown stops accepting debates, interrupts running ones and waits
// for them until ctx is done.
func (m *Moderator) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stopAll()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
