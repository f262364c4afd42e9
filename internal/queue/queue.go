package queue

import "context"

// Queue carries transaction ids from enqueue/retry-fire to the worker loop.
// Delivery is at-least-once; the manager's persisted state machine makes
// duplicate deliveries harmless.
type Queue interface {
	// Enqueue dispatches a transaction id for processing.
	Enqueue(ctx context.Context, id string) error

	// Dequeue blocks until an id is available or the context is cancelled.
	Dequeue(ctx context.Context) (string, error)
}
