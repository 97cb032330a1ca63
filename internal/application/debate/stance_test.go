package debate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aescanero/construtor/pkg/domain"
)

func TestDetectStance(t *testing.T) {
	others := []string{"gpt", "gemini"}

	tests := []struct {
		name          string
		text          string
		wantAgrees    []string
		wantDisagrees []string
	}{
		{"plain agreement", "I agree with GPT.", []string{"gpt"}, nil},
		{"disagree is not agree", "I disagree with gpt.", nil, []string{"gpt"}},
		{"split by sentence", "I agree with Gemini. But I disagree with GPT!", []string{"gemini"}, []string{"gpt"}},
		{"portuguese", "Concordo com gemini", []string{"gemini"}, nil},
		{"no name", "I agree with the plan.", nil, nil},
		{"name without stance", "GPT proposed sharding.", nil, nil},
		{"whole words only", "I agree with gpt4all fans.", nil, nil},
		{"counted once", "I agree with gpt. Again, I agree with gpt.", []string{"gpt"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agrees, disagrees := detectStance(tt.text, others)
			assert.Equal(t, tt.wantAgrees, agrees)
			assert.Equal(t, tt.wantDisagrees, disagrees)
		})
	}
}

func TestConfidence(t *testing.T) {
	assert.InDelta(t, 0.7, confidence(1), 1e-9)
	assert.InDelta(t, 0.8, confidence(2), 1e-9)
	assert.InDelta(t, 0.6, confidence(4), 1e-9)
	assert.InDelta(t, 0.5, confidence(5), 1e-9)
	assert.InDelta(t, 0.5, confidence(9), 1e-9)
}

func TestConsensus(t *testing.T) {
	msgs := func(agree, disagree int) []domain.DebateMessage {
		m := domain.DebateMessage{}
		for i := 0; i < agree; i++ {
			m.AgreesWith = append(m.AgreesWith, "x")
		}
		for i := 0; i < disagree; i++ {
			m.DisagreesWith = append(m.DisagreesWith, "y")
		}
		return []domain.DebateMessage{m}
	}

	ok, _ := consensus(msgs(1, 1))
	assert.False(t, ok)
	ok, _ = consensus(msgs(0, 0))
	assert.False(t, ok)
	ok, conf := consensus(msgs(3, 1))
	assert.True(t, ok)
	assert.InDelta(t, 0.6, conf, 1e-9)
}

func TestSynthesize_UsesFirstSentenceOfLastRound(t *testing.T) {
	s := &domain.DebateSession{
		Topic:        "Storage",
		CurrentRound: 2,
		Messages: []domain.DebateMessage{
			{Participant: "gpt", Round: 1, Content: "Old view."},
			{Participant: "gpt", Round: 2, Content: "Use Postgres. It is boring."},
			{Participant: "gemini", Round: 2, Content: "Add read replicas"},
		},
	}
	assert.Equal(t,
		"Consensus reached on: Storage\n\nKey points:\n- gpt: Use Postgres\n- gemini: Add read replicas",
		synthesize(s, true))
}
