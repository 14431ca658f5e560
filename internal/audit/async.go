package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/danielpatrickdp/trustgate/internal/gate"
)

// ErrQueueFull is returned when the async queue cannot accept a decision.
var ErrQueueFull = errors.New("audit queue full")

// #region async-sink
// AsyncSink queues decisions for a background worker that forwards them to
// the next sink. Record returns once the decision is enqueued, so a crash
// before the worker persists it loses that record. This is best-effort
// delivery; use a synchronous sink where an allowed action must never go
// unrecorded.
//
// Record fails (and the gate denies) when the queue is full or closed.
type AsyncSink struct {
	next   gate.Sink
	logger *slog.Logger
	queue  chan gate.EmitDecision

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewAsyncSink starts the worker. size is the queue capacity.
func NewAsyncSink(next gate.Sink, size int, logger *slog.Logger) *AsyncSink {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &AsyncSink{
		next:   next,
		logger: logger,
		queue:  make(chan gate.EmitDecision, size),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Record enqueues d without blocking.
func (s *AsyncSink) Record(_ context.Context, d gate.EmitDecision) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return ErrSinkClosed
	}
	select {
	case s.queue <- d:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting decisions and waits for the queue to drain.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// Dropped counts decisions rejected because the queue was full or closed.
func (s *AsyncSink) Dropped() uint64 { return s.dropped.Load() }

// Failed counts enqueued decisions the next sink rejected.
func (s *AsyncSink) Failed() uint64 { return s.failed.Load() }

func (s *AsyncSink) run() {
	defer s.wg.Done()
	for d := range s.queue {
		if err := s.next.Record(context.Background(), d); err != nil {
			s.failed.Add(1)
			s.logger.Error("async audit write failed", "decision_id", d.ID, "actor_id", d.ActorID, "error", err)
		}
	}
}

// #endregion async-sink
