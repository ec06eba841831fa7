package audit

import (
	"context"
	"log/slog"
	"time"
)

// Publisher is the async Recorder used in production. Record enqueues onto a
// buffered channel and returns immediately; a Worker drains the channel into
// the configured sink. When the buffer is full the event is dropped and
// logged, audit must never stall the request path.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher creates a Publisher with the given buffer size.
func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		inbox:  make(chan Event, buffer),
		logger: logger,
		now:    time.Now,
	}
}

// Record implements Recorder.
func (p *Publisher) Record(_ context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("audit buffer full, dropping event",
			slog.String("action", string(event.Action)),
			slog.String("session_id", event.SessionID))
	}
}

// Inbox exposes the event channel for the Worker.
func (p *Publisher) Inbox() <-chan Event {
	return p.inbox
}
