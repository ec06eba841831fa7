package audit

import "context"

// Sink receives audit events. Append must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Store is a queryable sink, used by tests and the in-memory deployment.
type Store interface {
	Sink
	ListByUser(ctx context.Context, userID string) ([]Event, error)
}

// Recorder is the interface domain services emit through. Implementations
// must never block the request path.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// NopRecorder discards events. Useful in tests that do not assert on audit.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}
