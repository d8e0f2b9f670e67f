package queue

import "context"

// Job handles one message type pulled off the work queue.
type Job interface {
	// Name identifies the job in logs and metrics.
	Name() string

	// Type is the message type this job consumes.
	Type() string

	// Handle processes one message. A returned error triggers the retry
	// policy and eventually the dead letter queue.
	Handle(ctx context.Context, payload interface{}) error
}
