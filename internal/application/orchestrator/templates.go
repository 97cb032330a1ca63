package orchestrator

import (
	"fmt"

	"github.com/aescanero/construtor/pkg/domain"
)

// Request types
const (
	RequestFeature  = "feature"
	RequestBugfix   = "bugfix"
	RequestReview   = "review"
	RequestRefactor = "refactor"
)

type template func(request map[string]any) *domain.Workflow

var templates = map[string]template{
	RequestFeature:  featureWorkflow,
	RequestBugfix:   bugfixWorkflow,
	RequestReview:   reviewWorkflow,
	RequestRefactor: refactorWorkflow,
}

// RequestTypes lists the known request types.
func RequestTypes() []string {
	return []string{RequestFeature, RequestBugfix, RequestReview, RequestRefactor}
}

// BuildWorkflow instantiates the template for requestType. Unknown types
// get the feature template.
func BuildWorkflow(requestType string, request map[string]any) *domain.Workflow {
	if request == nil {
		request = map[string]any{}
	}
	build, ok := templates[requestType]
	if !ok {
		build = featureWorkflow
	}
	wf := build(request)
	wf.Context = domain.NewWorkflowContext(request)
	return wf
}

func featureWorkflow(request map[string]any) *domain.Workflow {
	return domain.NewWorkflow(
		"Feature: "+field(request, "title", "New Feature"),
		field(request, "description", ""),
		[]domain.WorkflowStep{
			domain.NewStep(domain.RoleArchitect, domain.TaskTypeSystemDesign, map[string]any{"requirement": request}),
			domain.NewStep(domain.RoleDeveloper, domain.TaskTypeCodeImplementation, nil),
			domain.NewStep(domain.RoleReviewer, domain.TaskTypeCodeReview, nil),
			domain.NewStep(domain.RoleTester, domain.TaskTypeUnitTestGeneration, nil),
			domain.NewStep(domain.RoleSecurity, domain.TaskTypeSecurityAnalysis, nil),
			domain.NewStep(domain.RoleDocumenter, domain.TaskTypeDocumentation, nil),
		},
	)
}

func bugfixWorkflow(request map[string]any) *domain.Workflow {
	return domain.NewWorkflow(
		"Bugfix: "+field(request, "title", "Bug Fix"),
		field(request, "description", ""),
		[]domain.WorkflowStep{
			domain.NewStep(domain.RoleDeveloper, domain.TaskTypeBugFix, map[string]any{"bug_report": request}),
			domain.NewStep(domain.RoleReviewer, domain.TaskTypeCodeReview, nil),
			domain.NewStep(domain.RoleTester, domain.TaskTypeUnitTestGeneration, nil),
		},
	)
}

func reviewWorkflow(request map[string]any) *domain.Workflow {
	return domain.NewWorkflow(
		"Review: PR #"+field(request, "pr_number", "N/A"),
		field(request, "description", ""),
		[]domain.WorkflowStep{
			domain.NewStep(domain.RoleReviewer, domain.TaskTypeCodeReview, map[string]any{"pr_data": request}),
			domain.NewStep(domain.RoleOptimizer, domain.TaskTypePerformanceAnalysis, nil),
			domain.NewStep(domain.RoleSecurity, domain.TaskTypeSecurityAnalysis, nil),
		},
	)
}

func refactorWorkflow(request map[string]any) *domain.Workflow {
	files, ok := request["files"]
	if !ok {
		files = []any{}
	}
	return domain.NewWorkflow(
		"Refactor: "+field(request, "title", "Code Refactoring"),
		field(request, "description", ""),
		[]domain.WorkflowStep{
			domain.NewStep(domain.RoleArchitect, domain.TaskTypeArchitecture, map[string]any{"current_code": files}),
			domain.NewStep(domain.RoleOptimizer, domain.TaskTypePerformanceAnalysis, nil),
			domain.NewStep(domain.RoleDeveloper, domain.TaskTypeRefactoring, nil),
			domain.NewStep(domain.RoleReviewer, domain.TaskTypeCodeReview, nil),
			domain.NewStep(domain.RoleTester, domain.TaskTypeUnitTestGeneration, nil),
		},
	)
}

// field renders request[key] as text, or def when absent.
func field(request map[string]any, key, def string) string {
	v, ok := request[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
