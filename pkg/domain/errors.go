package domain

import "errors"

var (
	// ErrHandlerNotFound means no handler is registered for a task type.
	// It is terminal and never retried.
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrHandlerTimeout means a handler did not finish within the task timeout.
	ErrHandlerTimeout = errors.New("handler timeout")

	// ErrHandlerException wraps an error returned or panicked by a handler.
	ErrHandlerException = errors.New("handler exception")

	// ErrStoreUnavailable means the durable store cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrEventHandler wraps a failure raised by an event subscriber.
	ErrEventHandler = errors.New("event handler error")

	// ErrStepExhausted means a workflow step failed after all retries.
	ErrStepExhausted = errors.New("workflow step retries exhausted")

	ErrNotFound           = errors.New("not found")
	ErrContextEntryExists = errors.New("workflow context entry already exists")
)
