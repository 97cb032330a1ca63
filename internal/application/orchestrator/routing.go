package orchestrator

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aescanero/construtor/pkg/domain"
)

//go:embed teams.yaml
var defaultTeams []byte

// Complexity buckets
type Complexity string

const (
	Complex Complexity = "complex"
	Medium  Complexity = "medium"
	Simple  Complexity = "simple"
)

// Tier returns the team model slot serving the complexity.
func (c Complexity) Tier() string {
	switch c {
	case Complex:
		return "lead"
	case Simple:
		return "fast"
	default:
		return "mid"
	}
}

var (
	complexKeywords = []string{
		"architecture", "design", "system", "distributed", "scalable",
		"complex", "advanced", "critical", "integration", "migration",
	}
	simpleKeywords = []string{
		"format", "lint", "validate", "quick", "simple",
		"add", "fix", "update", "check",
	}
)

// EstimateComplexity classifies a step by keyword membership over its
// task type and description. Complex keywords win over simple ones.
func EstimateComplexity(taskType, description string) Complexity {
	text := strings.ToLower(taskType + " " + description)
	for _, k := range complexKeywords {
		if strings.Contains(text, k) {
			return Complex
		}
	}
	for _, k := range simpleKeywords {
		if strings.Contains(text, k) {
			return Simple
		}
	}
	return Medium
}

// Team is a family of models with one model per tier.
type Team struct {
	Name      string `yaml:"name" json:"name"`
	Specialty string `yaml:"specialty" json:"specialty"`
	Lead      string `yaml:"lead" json:"lead"`
	Mid       string `yaml:"mid" json:"mid"`
	Fast      string `yaml:"fast" json:"fast"`
}

// Model returns the model of a tier.
func (t Team) Model(tier string) string {
	switch tier {
	case "lead":
		return t.Lead
	case "fast":
		return t.Fast
	default:
		return t.Mid
	}
}

// Collaboration names the two models of a leader/assistant step.
type Collaboration struct {
	Leader    string `yaml:"leader" json:"leader"`
	Assistant string `yaml:"assistant" json:"assistant"`
}

// DebateTable lists who takes part in debates and how long they run.
type DebateTable struct {
	MaxRounds    int                        `yaml:"max_rounds"`
	Participants []domain.DebateParticipant `yaml:"participants"`
}

// RoutingTable maps agents to teams and task types to collaborations or
// debates.
type RoutingTable struct {
	DefaultTeam       string                      `yaml:"default_team"`
	Teams             map[string]Team             `yaml:"teams"`
	Agents            map[domain.AgentRole]string `yaml:"agents"`
	Collaborations    map[string]Collaboration    `yaml:"collaborations"`
	TaskCollaboration map[string]string           `yaml:"task_collaboration"`
	Debate            DebateTable                 `yaml:"debate"`
	TaskDebate        []string                    `yaml:"task_debate"`
}

// Resolution is the outcome of routing one step.
type Resolution struct {
	Team       string
	Complexity Complexity
	Tier       string
	Model      string
}

// LoadRouting reads the table from path, or the built-in table when path
// is empty.
func LoadRouting(path string) (*RoutingTable, error) {
	if path == "" {
		return ParseRouting(defaultTeams)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read teams file: %w", err)
	}
	return ParseRouting(data)
}

// DefaultRouting returns the built-in table.
func DefaultRouting() *RoutingTable {
	t, err := ParseRouting(defaultTeams)
	if err != nil {
		panic(fmt.Sprintf("embedded teams table is invalid: %v", err))
	}
	return t
}

// ParseRouting decodes and checks a YAML table.
func ParseRouting(data []byte) (*RoutingTable, error) {
	var t RoutingTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse teams table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks that every reference in the table resolves.
func (t *RoutingTable) Validate() error {
	if len(t.Teams) == 0 {
		return fmt.Errorf("teams table defines no teams")
	}
	if _, ok := t.Teams[t.DefaultTeam]; !ok {
		return fmt.Errorf("default team %q is not defined", t.DefaultTeam)
	}
	for name, team := range t.Teams {
		if team.Lead == "" || team.Mid == "" || team.Fast == "" {
			return fmt.Errorf("team %q must define lead, mid and fast models", name)
		}
	}
	for role, team := range t.Agents {
		if _, ok := t.Teams[team]; !ok {
			return fmt.Errorf("agent %q references unknown team %q", role, team)
		}
	}
	for taskType, name := range t.TaskCollaboration {
		c, ok := t.Collaborations[name]
		if !ok {
			return fmt.Errorf("task type %q references unknown collaboration %q", taskType, name)
		}
		if c.Leader == "" || c.Assistant == "" {
			return fmt.Errorf("collaboration %q must define leader and assistant", name)
		}
	}
	for _, p := range t.Debate.Participants {
		if p.Name == "" {
			return fmt.Errorf("debate participant must have a name")
		}
		if _, ok := t.Teams[p.Team]; !ok && p.Model == "" {
			return fmt.Errorf("debate participant %q references unknown team %q", p.Name, p.Team)
		}
	}
	if len(t.TaskDebate) > 0 && len(t.Debate.Participants) < 2 {
		return fmt.Errorf("task_debate needs at least two debate participants")
	}
	return nil
}

// TeamOf returns the team name an agent belongs to.
func (t *RoutingTable) TeamOf(role domain.AgentRole) string {
	if team, ok := t.Agents[role]; ok {
		return team
	}
	return t.DefaultTeam
}

// Resolve picks the team, tier and model for a step. It depends only on
// its arguments and the table.
func (t *RoutingTable) Resolve(role domain.AgentRole, taskType, description string) Resolution {
	teamName := t.TeamOf(role)
	complexity := EstimateComplexity(taskType, description)
	tier := complexity.Tier()
	return Resolution{
		Team:       teamName,
		Complexity: complexity,
		Tier:       tier,
		Model:      t.Teams[teamName].Model(tier),
	}
}

// CollaborationFor returns the collaboration a task type runs as.
func (t *RoutingTable) CollaborationFor(taskType string) (string, Collaboration, bool) {
	name, ok := t.TaskCollaboration[taskType]
	if !ok {
		return "", Collaboration{}, false
	}
	c, ok := t.Collaborations[name]
	return name, c, ok
}

// DebateParticipants returns the debate participants with their models
// resolved: an explicit model wins, otherwise the team's lead model.
func (t *RoutingTable) DebateParticipants() []domain.DebateParticipant {
	out := make([]domain.DebateParticipant, 0, len(t.Debate.Participants))
	for _, p := range t.Debate.Participants {
		if p.Model == "" {
			p.Model = t.Teams[p.Team].Lead
		}
		if p.Role == "" {
			p.Role = domain.RoleArchitect
		}
		out = append(out, p)
	}
	return out
}

// DebatesTask reports whether steps of taskType are settled by debate.
func (t *RoutingTable) DebatesTask(taskType string) bool {
	for _, tt := range t.TaskDebate {
		if tt == taskType {
			return true
		}
	}
	return false
}
