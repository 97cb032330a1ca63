// Package orchestrator turns development requests into multi-agent
// workflows and runs them.
//
// A request type (feature, bugfix, review, refactor) selects a template
// of ordered steps. Each step is assigned to an agent role; the routing
// table maps the role to a provider team and the estimated complexity of
// the task to one of the team's model tiers. Task types with a configured
// collaboration run a leader model first and hand its output to an
// assistant model.
//
// Steps execute strictly in order. Every step after the first sees the
// previous step's result and a snapshot of the accumulated workflow
// context. A failing step is retried with exponential backoff until its
// retry budget is spent, at which point the workflow fails and the
// remaining steps never start.
//
// Steps can run in-process through an AgentExecutor or, in queue
// dispatch mode, as workflow.step tasks picked up by worker processes.
package orchestrator
