package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

// Counter is the subset of metrics the queue reports to.
type Counter interface {
	AuditDropped()
	AuditSinkFailed()
}

// Queue is a bounded, asynchronous Emitter. Emit never blocks: when the
// buffer is full the event is dropped, logged and counted.
type Queue struct {
	sink    Sink
	logger  *slog.Logger
	metrics Counter
	events  chan Event

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewQueue(sink Sink, size int, logger *slog.Logger, metrics Counter) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		events:  make(chan Event, size),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (q *Queue) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case q.events <- e:
	default:
		q.logger.Warn("audit queue full, dropping event", "event_type", e.Type)
		if q.metrics != nil {
			q.metrics.AuditDropped()
		}
	}
}

// Start begins draining the queue in a goroutine.
func (q *Queue) Start() {
	q.startOnce.Do(func() { go q.run() })
}

// Stop drains what is buffered and waits for the worker to exit.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.startOnce.Do(func() { close(q.doneCh) }) // never started
	<-q.doneCh
}

func (q *Queue) run() {
	defer close(q.doneCh)
	for {
		select {
		case e := <-q.events:
			q.write(e)
		case <-q.stopCh:
			for {
				select {
				case e := <-q.events:
					q.write(e)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) write(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := q.sink.Write(ctx, e); err != nil {
		q.logger.Error("audit sink write failed", "event_type", e.Type, "err", err)
		if q.metrics != nil {
			q.metrics.AuditSinkFailed()
		}
	}
}
