// Package domain defines the records shared by the task queue, the event
// bus and the workflow orchestrator: Task, Event, Workflow and
// WorkflowStep, their status enumerations, typed step results and the
// error taxonomy.
//
// Task and Event carry custom JSON encodings matching their persisted
// record form (RFC 3339 timestamps, timeouts in seconds).
package domain
