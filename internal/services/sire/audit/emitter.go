package audit

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sire-training/sire/internal/platform/requestctx"
)

const defaultQueueSize = 256

// EmitterOption customizes an Emitter.
type EmitterOption func(*Emitter)

// WithQueueSize sets how many events may wait for the sinks.
func WithQueueSize(size int) EmitterOption {
	return func(e *Emitter) {
		if size > 0 {
			e.queueSize = size
		}
	}
}

// WithClock replaces the timestamp source.
func WithClock(clock func() time.Time) EmitterOption {
	return func(e *Emitter) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// Emitter hands audit events to sinks on a background goroutine. Emit never
// blocks: a full queue drops the event.
type Emitter struct {
	sinks     []Sink
	clock     func() time.Time
	queueSize int

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	dropped atomic.Int64
}

// NewEmitter starts an emitter for sinks. Without sinks the emitter is
// disabled and Emit is a no-op.
func NewEmitter(sinks []Sink, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		clock:     time.Now,
		queueSize: defaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, sink := range sinks {
		if sink != nil {
			e.sinks = append(e.sinks, sink)
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	if len(e.sinks) == 0 {
		close(e.done)
		return e
	}
	e.queue = make(chan Event, e.queueSize)
	go e.run()
	return e
}

// Enabled reports whether events reach any sink.
func (e *Emitter) Enabled() bool {
	return e != nil && len(e.sinks) > 0
}

// Dropped reports how many events were discarded because the queue was full.
func (e *Emitter) Dropped() int64 {
	if e == nil {
		return 0
	}
	return e.dropped.Load()
}

// Emit queues evt. Missing actor and request identifiers are filled from ctx.
func (e *Emitter) Emit(ctx context.Context, evt Event) {
	if !e.Enabled() {
		return
	}
	if ctx != nil {
		if evt.Actor == "" {
			evt.Actor = requestctx.ActorFromContext(ctx)
		}
		if evt.RequestID == "" {
			evt.RequestID = requestctx.RequestIDFromContext(ctx)
		}
		if evt.CorrelationID == "" {
			evt.CorrelationID = requestctx.CorrelationIDFromContext(ctx)
		}
	}
	if evt.Actor == "" {
		evt.Actor = "unknown"
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.clock().UTC()
	}
	evt.Context = Sanitize(evt.Context)

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- evt:
	default:
		e.dropped.Add(1)
	}
}

// Close stops accepting events and waits for queued ones to reach the sinks
// or for ctx to end.
func (e *Emitter) Close(ctx context.Context) error {
	if !e.Enabled() {
		return nil
	}
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for evt := range e.queue {
		for _, sink := range e.sinks {
			if err := sink.Record(context.Background(), evt); err != nil {
				log.Printf("sire: audit sink %s: %v", evt.Action, err)
			}
		}
	}
}
