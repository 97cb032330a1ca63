// Package taskqueue implements the durable priority task queue.
//
// Tasks are pushed to a ports.TaskStore and popped atomically in
// (priority, sequence) order by a bounded worker pool. Each attempt runs
// the handler registered for the task type under the task timeout.
// Timeouts and handler errors share one retry decision: while
// retry_count < max_retries the task goes RETRYING, sleeps
// retry_delay * 2^(retry_count-1) and is queued again; otherwise it is
// FAILED. A missing handler fails immediately without retry.
//
// Store failures while dequeuing are fatal: the pool stops taking work
// and the error is delivered on Fatal.
package taskqueue
