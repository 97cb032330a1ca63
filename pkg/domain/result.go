package domain

import (
	"sort"
	"time"
)

// Task types understood by the agent catalogue.
const (
	TaskTypeArchitecture        = "architecture"
	TaskTypeSystemDesign        = "system_design"
	TaskTypeAPIDesign           = "api_design"
	TaskTypeDatabaseDesign      = "database_design"
	TaskTypeCodeImplementation  = "code_implementation"
	TaskTypeRefactoring         = "refactoring"
	TaskTypeBugFix              = "bug_fix"
	TaskTypeFeatureDevelopment  = "feature_development"
	TaskTypeCodeReview          = "code_review"
	TaskTypeSecurityAnalysis    = "security_analysis"
	TaskTypePerformanceAnalysis = "performance_analysis"
	TaskTypeComplexityAnalysis  = "complexity_analysis"
	TaskTypeUnitTestGeneration  = "unit_test_generation"
	TaskTypeIntegrationTest     = "integration_test"
	TaskTypeE2ETest             = "e2e_test"
	TaskTypeTestReview          = "test_review"
	TaskTypeCICDConfig          = "ci_cd_config"
	TaskTypeDockerConfig        = "docker_config"
	TaskTypeKubernetesConfig    = "kubernetes_config"
	TaskTypeInfrastructure      = "infrastructure"
	TaskTypeDocumentation       = "documentation"
	TaskTypeAPIDocs             = "api_docs"
	TaskTypeReadmeGeneration    = "readme_generation"
	TaskTypeChangelog           = "changelog"
	TaskTypeChat                = "chat"
	TaskTypeQuickAnswer         = "quick_answer"
	TaskTypeExplanation         = "explanation"
)

// TaskFamily groups task types whose results share a shape.
type TaskFamily string

const (
	FamilyArchitecture   TaskFamily = "architecture"
	FamilyImplementation TaskFamily = "implementation"
	FamilyReview         TaskFamily = "review"
	FamilyTesting        TaskFamily = "testing"
	FamilyDevOps         TaskFamily = "devops"
	FamilyDocumentation  TaskFamily = "documentation"
	FamilyConversation   TaskFamily = "conversation"
	FamilyGeneral        TaskFamily = "general"
)

var taskFamilies = map[string]TaskFamily{
	TaskTypeArchitecture:        FamilyArchitecture,
	TaskTypeSystemDesign:        FamilyArchitecture,
	TaskTypeAPIDesign:           FamilyArchitecture,
	TaskTypeDatabaseDesign:      FamilyArchitecture,
	TaskTypeCodeImplementation:  FamilyImplementation,
	TaskTypeRefactoring:         FamilyImplementation,
	TaskTypeBugFix:              FamilyImplementation,
	TaskTypeFeatureDevelopment:  FamilyImplementation,
	TaskTypeCodeReview:          FamilyReview,
	TaskTypeSecurityAnalysis:    FamilyReview,
	TaskTypePerformanceAnalysis: FamilyReview,
	TaskTypeComplexityAnalysis:  FamilyReview,
	TaskTypeUnitTestGeneration:  FamilyTesting,
	TaskTypeIntegrationTest:     FamilyTesting,
	TaskTypeE2ETest:             FamilyTesting,
	TaskTypeTestReview:          FamilyTesting,
	TaskTypeCICDConfig:          FamilyDevOps,
	TaskTypeDockerConfig:        FamilyDevOps,
	TaskTypeKubernetesConfig:    FamilyDevOps,
	TaskTypeInfrastructure:      FamilyDevOps,
	TaskTypeDocumentation:       FamilyDocumentation,
	TaskTypeAPIDocs:             FamilyDocumentation,
	TaskTypeReadmeGeneration:    FamilyDocumentation,
	TaskTypeChangelog:           FamilyDocumentation,
	TaskTypeChat:                FamilyConversation,
	TaskTypeQuickAnswer:         FamilyConversation,
	TaskTypeExplanation:         FamilyConversation,
}

// TaskTypes lists the catalogued task types in lexical order.
func TaskTypes() []string {
	out := make([]string, 0, len(taskFamilies))
	for t := range taskFamilies {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// FamilyOf returns the family of a task type, FamilyGeneral if unknown.
func FamilyOf(taskType string) TaskFamily {
	if f, ok := taskFamilies[taskType]; ok {
		return f
	}
	return FamilyGeneral
}

// StepResultKind tags how a step was executed.
type StepResultKind string

const (
	ResultSimple        StepResultKind = "simple"
	ResultCollaborative StepResultKind = "collaborative"
	ResultDebate        StepResultKind = "debate"
)

// StepResult is the typed output of a workflow step. Exactly one of
// Output (simple, debate) or Collaboration (collaborative) is set.
type StepResult struct {
	Kind          StepResultKind `json:"kind"`
	TaskType      string         `json:"task_type"`
	Family        TaskFamily     `json:"family"`
	Agent         AgentRole      `json:"agent"`
	Team          string         `json:"team,omitempty"`
	Tier          string         `json:"tier,omitempty"`
	Model         string         `json:"model,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	Collaboration *Collaboration `json:"collaboration,omitempty"`
}

// Collaboration is the result of a leader + assistant execution.
type Collaboration struct {
	Workflow     string             `json:"collaboration_workflow"`
	Leader       AgentOutput        `json:"leader_result"`
	Assistant    AgentOutput        `json:"assistant_result"`
	Consolidated ConsolidatedResult `json:"consolidated"`
}

// AgentOutput is what one participant of a collaboration produced.
type AgentOutput struct {
	Model  string         `json:"model"`
	Output map[string]any `json:"output"`
}

// ConsolidatedResult merges the leader and assistant outputs.
type ConsolidatedResult struct {
	Source    string         `json:"source"`
	Leader    map[string]any `json:"leader"`
	Assistant map[string]any `json:"assistant"`
	Timestamp time.Time      `json:"timestamp"`
}

// Primary returns the output most useful to the next step: the
// consolidated leader output for collaborations, Output otherwise.
func (r *StepResult) Primary() map[string]any {
	if r == nil {
		return nil
	}
	if r.Collaboration != nil {
		return r.Collaboration.Consolidated.Leader
	}
	return r.Output
}
