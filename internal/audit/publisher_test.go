package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingSink) Append(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisherDropsWhenBufferFull(t *testing.T) {
	pub := NewPublisher(2, testLogger())

	// No worker is draining; the third Record must drop, not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		pub.Record(context.Background(), Event{Action: ActionSessionInitiated, SessionID: "s-1"})
		pub.Record(context.Background(), Event{Action: ActionSessionInitiated, SessionID: "s-2"})
		pub.Record(context.Background(), Event{Action: ActionSessionInitiated, SessionID: "s-3"})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}

	assert.Len(t, pub.Inbox(), 2)
	first := <-pub.Inbox()
	assert.Equal(t, "s-1", first.SessionID)
}

func TestPublisherStampsTimestamp(t *testing.T) {
	pub := NewPublisher(1, testLogger())
	pub.Record(context.Background(), Event{Action: ActionDecisionRecorded})

	event := <-pub.Inbox()
	assert.False(t, event.Timestamp.IsZero())
}

func TestWorkerFlushesBufferedEventsOnShutdown(t *testing.T) {
	pub := NewPublisher(8, testLogger())
	sink := &recordingSink{}
	worker := NewWorker(sink, pub.Inbox(), testLogger())

	pub.Record(context.Background(), Event{Action: ActionSessionInitiated, SessionID: "s-1"})
	pub.Record(context.Background(), Event{Action: ActionDecisionRecorded, SessionID: "s-1"})
	pub.Record(context.Background(), Event{Action: ActionCodeRedeemed, SessionID: "s-1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := worker.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	events := sink.all()
	require.Len(t, events, 3, "queued events must be persisted before the worker exits")
	assert.Equal(t, ActionCodeRedeemed, events[2].Action)
}

func TestWorkerToleratesSinkFailures(t *testing.T) {
	pub := NewPublisher(8, testLogger())
	sink := &recordingSink{err: errors.New("broker unavailable")}
	worker := NewWorker(sink, pub.Inbox(), testLogger())

	pub.Record(context.Background(), Event{Action: ActionSessionInitiated})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, worker.Run(ctx), context.Canceled)
}
