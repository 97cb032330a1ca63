// Package eventbus implements the in-process event bus.
//
// Handlers subscribe by exact event type, globally, by source or by
// target. Emit appends the event to a bounded history, updates counters
// and calls the deduplicated set of matching handlers concurrently,
// waiting for all of them. A failing or panicking handler is isolated:
// the failure is logged and re-published once as a system.error event,
// unless the failing event was itself a system.error.
//
// Example:
//
//	bus := eventbus.New(eventbus.Config{HistoryLimit: 1000, Logger: logger})
//	bus.Subscribe(domain.EventWorkflowCompleted, eventbus.HandlerFunc(
//	    func(ctx context.Context, e *domain.Event) error {
//	        logger.Info("done", zap.String("workflow_id", e.CorrelationID))
//	        return nil
//	    }))
//	bus.Emit(ctx, domain.EventWorkflowCompleted, payload, eventbus.WithCorrelationID(id))
package eventbus
