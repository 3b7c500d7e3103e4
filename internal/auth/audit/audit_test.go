package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (s *recordingSink) Write(_ context.Context, e Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type counter struct{ dropped, failed atomic.Int64 }

func (c *counter) AuditDropped()    { c.dropped.Add(1) }
func (c *counter) AuditSinkFailed() { c.failed.Add(1) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestQueueDeliversAndDrainsOnStop(t *testing.T) {
	sink := &recordingSink{}
	q := NewQueue(sink, 16, quietLogger(), nil)
	q.Start()

	for range 10 {
		q.Emit(Event{Type: EventTokenIssued, UserID: "u"})
	}
	q.Stop()

	require.Equal(t, 10, sink.len())
	require.False(t, sink.events[0].Timestamp.IsZero())
}

func TestQueueDropsWhenFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	c := &counter{}
	q := NewQueue(sink, 2, quietLogger(), c)

	// Not started: the buffer fills and the rest are dropped without blocking.
	for range 5 {
		q.Emit(Event{Type: EventTokenIssued})
	}
	require.EqualValues(t, 3, c.dropped.Load())

	close(sink.block)
	q.Start()
	q.Stop()
	require.Equal(t, 2, sink.len())
}

func TestQueueCountsSinkFailures(t *testing.T) {
	sink := &recordingSink{err: errors.New("down")}
	c := &counter{}
	q := NewQueue(sink, 4, quietLogger(), c)
	q.Start()

	q.Emit(Event{Type: EventTokenRevoked})
	q.Stop()

	require.EqualValues(t, 1, c.failed.Load())
}

func TestStopWithoutStart(t *testing.T) {
	q := NewQueue(&recordingSink{}, 1, quietLogger(), nil)
	q.Stop()
	q.Stop()
}

func TestLogSinkHashesUserID(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	require.NoError(t, sink.Write(context.Background(), Event{Type: EventTokenIssued, UserID: "user-123"}))
	require.NotContains(t, buf.String(), "user-123")
	require.Contains(t, buf.String(), hashForLogging("user-123"))
	require.Equal(t, "<empty>", hashForLogging(""))
}
