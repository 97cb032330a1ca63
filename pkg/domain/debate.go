package domain

import "time"

// DebateStage is where a debate session currently is.
type DebateStage string

const (
	DebateInitialResponses DebateStage = "initial_responses"
	DebateDiscussion       DebateStage = "discussion"
	DebateConsensusCheck   DebateStage = "consensus_check"
	DebateFinalConsensus   DebateStage = "final_consensus"
	DebateFailed           DebateStage = "failed"
)

// DebateParticipant is one model taking part in a debate.
type DebateParticipant struct {
	Name        string    `json:"name" yaml:"name"`
	Team        string    `json:"team" yaml:"team"`
	Role        AgentRole `json:"role" yaml:"role"`
	Perspective string    `json:"perspective" yaml:"perspective"`
	Model       string    `json:"model,omitempty" yaml:"model,omitempty"`
}

// DebateMessage is one participant's contribution to a round.
type DebateMessage struct {
	Participant   string    `json:"participant"`
	Model         string    `json:"model"`
	Content       string    `json:"content"`
	Round         int       `json:"round"`
	Timestamp     time.Time `json:"timestamp"`
	AgreesWith    []string  `json:"agrees_with"`
	DisagreesWith []string  `json:"disagrees_with"`
	Confidence    float64   `json:"confidence"`
}

// DebateSession is the full record of one debate.
type DebateSession struct {
	ID           string              `json:"id"`
	Topic        string              `json:"topic"`
	Context      map[string]any      `json:"context,omitempty"`
	Participants []DebateParticipant `json:"participants"`
	Messages     []DebateMessage     `json:"messages"`
	CurrentRound int                 `json:"current_round"`
	MaxRounds    int                 `json:"max_rounds"`
	Stage        DebateStage         `json:"stage"`

	// ConsensusReached is set only when agreement outweighed
	// disagreement. A debate that ran out of rounds ends with Forced.
	ConsensusReached bool       `json:"consensus_reached"`
	Forced           bool       `json:"forced"`
	FinalDecision    string     `json:"final_decision,omitempty"`
	Confidence       float64    `json:"confidence"`
	Error            string     `json:"error,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at"`
}

// Done reports whether the session has ended.
func (s *DebateSession) Done() bool {
	return s.EndedAt != nil
}

// RoundMessages returns the messages of round r in speaking order.
func (s *DebateSession) RoundMessages(r int) []DebateMessage {
	var out []DebateMessage
	for _, m := range s.Messages {
		if m.Round == r {
			out = append(out, m)
		}
	}
	return out
}

// Clone returns a deep copy of s.
func (s *DebateSession) Clone() *DebateSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Context = deepCopyMap(s.Context)
	c.Participants = append([]DebateParticipant(nil), s.Participants...)
	c.EndedAt = copyTime(s.EndedAt)
	if s.Messages != nil {
		c.Messages = make([]DebateMessage, len(s.Messages))
		for i, m := range s.Messages {
			m.AgreesWith = append([]string(nil), m.AgreesWith...)
			m.DisagreesWith = append([]string(nil), m.DisagreesWith...)
			c.Messages[i] = m
		}
	}
	return &c
}
