package domain

import (
	"fmt"
	"time"
)

// MemoryType classifies how long and how a memory is meant to be used.
type MemoryType string

const (
	MemoryShortTerm  MemoryType = "short_term"
	MemoryLongTerm   MemoryType = "long_term"
	MemoryEpisodic   MemoryType = "episodic"
	MemorySemantic   MemoryType = "semantic"
	MemoryProcedural MemoryType = "procedural"
)

// ParseMemoryType validates s. An empty string is long-term.
func ParseMemoryType(s string) (MemoryType, error) {
	switch t := MemoryType(s); t {
	case "":
		return MemoryLongTerm, nil
	case MemoryShortTerm, MemoryLongTerm, MemoryEpisodic, MemorySemantic, MemoryProcedural:
		return t, nil
	default:
		return "", fmt.Errorf("unknown memory type %q", s)
	}
}

// Well-known memory categories.
const (
	CategoryGeneral               = "general"
	CategoryAgentMemory           = "agent_memory"
	CategoryWorkflows             = "workflows"
	CategoryArchitectureDecisions = "architecture_decisions"
	CategoryCodePatterns          = "code_patterns"
)

// Memory is one stored item of agent or project knowledge, addressed by
// (Category, Key).
type Memory struct {
	ID             string         `json:"id"`
	Type           MemoryType     `json:"memory_type"`
	Category       string         `json:"category"`
	Key            string         `json:"key"`
	Content        any            `json:"content"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ExpiresAt      *time.Time     `json:"expires_at"`
	AccessCount    int            `json:"access_count"`
	RelevanceScore float64        `json:"relevance_score"`
	ProjectID      string         `json:"project_id,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	Tags           []string       `json:"tags"`
}

// StorageKey is the unique address of a memory.
func (m *Memory) StorageKey() string {
	return MemoryKey(m.Category, m.Key)
}

// MemoryKey joins a category and key.
func MemoryKey(category, key string) string {
	return category + ":" + key
}

// Expired reports whether m has an expiry at or before now.
func (m *Memory) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// HasAnyTag reports whether m carries at least one of tags.
func (m *Memory) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range m.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy of m.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	c := *m
	c.Content = deepCopyValue(m.Content)
	c.Metadata = deepCopyMap(m.Metadata)
	c.ExpiresAt = copyTime(m.ExpiresAt)
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	return &c
}

// ProjectContext is the long-lived knowledge kept about one project.
type ProjectContext struct {
	ProjectID             string           `json:"project_id"`
	Name                  string           `json:"name"`
	Description           string           `json:"description"`
	RepositoryURL         string           `json:"repository_url,omitempty"`
	TechStack             []string         `json:"tech_stack"`
	ArchitectureDecisions []map[string]any `json:"architecture_decisions"`
	CodePatterns          map[string]any   `json:"code_patterns"`
	KnownIssues           []string         `json:"known_issues"`
	Preferences           map[string]any   `json:"preferences"`
	TeamConventions       map[string]any   `json:"team_conventions"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// NewProjectContext returns an empty context named after its id.
func NewProjectContext(id string) *ProjectContext {
	now := Now()
	return &ProjectContext{
		ProjectID:             id,
		Name:                  id,
		TechStack:             []string{},
		ArchitectureDecisions: []map[string]any{},
		CodePatterns:          map[string]any{},
		KnownIssues:           []string{},
		Preferences:           map[string]any{},
		TeamConventions:       map[string]any{},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// Clone returns a deep copy of p.
func (p *ProjectContext) Clone() *ProjectContext {
	if p == nil {
		return nil
	}
	c := *p
	c.TechStack = append([]string(nil), p.TechStack...)
	c.KnownIssues = append([]string(nil), p.KnownIssues...)
	c.CodePatterns = deepCopyMap(p.CodePatterns)
	c.Preferences = deepCopyMap(p.Preferences)
	c.TeamConventions = deepCopyMap(p.TeamConventions)
	if p.ArchitectureDecisions != nil {
		c.ArchitectureDecisions = make([]map[string]any, len(p.ArchitectureDecisions))
		for i, d := range p.ArchitectureDecisions {
			c.ArchitectureDecisions[i] = deepCopyMap(d)
		}
	}
	return &c
}

// ProjectUpdate carries the fields to change on a project context. Nil
// fields are left as they are.
type ProjectUpdate struct {
	Name            *string        `json:"name,omitempty"`
	Description     *string        `json:"description,omitempty"`
	RepositoryURL   *string        `json:"repository_url,omitempty"`
	TechStack       []string       `json:"tech_stack,omitempty"`
	KnownIssues     []string       `json:"known_issues,omitempty"`
	Preferences     map[string]any `json:"preferences,omitempty"`
	TeamConventions map[string]any `json:"team_conventions,omitempty"`
}

// Apply writes the set fields of u onto p.
func (u ProjectUpdate) Apply(p *ProjectContext) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.RepositoryURL != nil {
		p.RepositoryURL = *u.RepositoryURL
	}
	if u.TechStack != nil {
		p.TechStack = append([]string(nil), u.TechStack...)
	}
	if u.KnownIssues != nil {
		p.KnownIssues = append([]string(nil), u.KnownIssues...)
	}
	if u.Preferences != nil {
		p.Preferences = deepCopyMap(u.Preferences)
	}
	if u.TeamConventions != nil {
		p.TeamConventions = deepCopyMap(u.TeamConventions)
	}
	p.UpdatedAt = Now()
}
