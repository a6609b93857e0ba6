package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Sink receives pipeline events. Implementations are called on the observation path
// and must return quickly; wrap slow sinks in an AsyncSink.
type Sink interface {
	HandleMatch(ctx context.Context, ev MatchEvent) error
	HandleAlert(ctx context.Context, ev AlertEvent) error
}

// drainTimeout bounds how long an AsyncSink keeps flushing after its context ends.
const drainTimeout = 5 * time.Second

// AsyncSink queues events for a slower sink and delivers them from a single
// goroutine started with Run. Events are dropped when the queue is full.
type AsyncSink struct {
	name    string
	next    Sink
	queue   chan func(context.Context) error
	dropped atomic.Int64
	logger  *log.Logger
}

// NewAsyncSink wraps next with a queue of the given size.
func NewAsyncSink(name string, next Sink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &AsyncSink{
		name:   name,
		next:   next,
		queue:  make(chan func(context.Context) error, buffer),
		logger: log.Default().With("sink", name),
	}
}

// HandleMatch implements Sink.
func (a *AsyncSink) HandleMatch(_ context.Context, ev MatchEvent) error {
	a.enqueue(func(ctx context.Context) error { return a.next.HandleMatch(ctx, ev) })
	return nil
}

// HandleAlert implements Sink.
func (a *AsyncSink) HandleAlert(_ context.Context, ev AlertEvent) error {
	a.enqueue(func(ctx context.Context) error { return a.next.HandleAlert(ctx, ev) })
	return nil
}

// Dropped returns the number of events discarded because the queue was full.
func (a *AsyncSink) Dropped() int64 {
	return a.dropped.Load()
}

func (a *AsyncSink) enqueue(fn func(context.Context) error) {
	select {
	case a.queue <- fn:
	default:
		if n := a.dropped.Add(1); n == 1 || n%100 == 0 {
			a.logger.Warn("sink queue full, dropping events", "dropped", n)
		}
	}
}

// Run delivers queued events until ctx is done, then flushes what is left.
func (a *AsyncSink) Run(ctx context.Context) error {
	for {
		select {
		case fn := <-a.queue:
			a.deliver(ctx, fn)
		case <-ctx.Done():
			a.drain()
			return nil
		}
	}
}

func (a *AsyncSink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case fn := <-a.queue:
			a.deliver(ctx, fn)
		default:
			return
		}
	}
}

func (a *AsyncSink) deliver(ctx context.Context, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		a.logger.Warn("sink delivery failed", "err", err)
	}
}

// SinkFuncs adapts plain functions to a Sink. Nil functions are skipped.
type SinkFuncs struct {
	Match func(ctx context.Context, ev MatchEvent) error
	Alert func(ctx context.Context, ev AlertEvent) error
}

// HandleMatch implements Sink.
func (s SinkFuncs) HandleMatch(ctx context.Context, ev MatchEvent) error {
	if s.Match == nil {
		return nil
	}
	return s.Match(ctx, ev)
}

// HandleAlert implements Sink.
func (s SinkFuncs) HandleAlert(ctx context.Context, ev AlertEvent) error {
	if s.Alert == nil {
		return nil
	}
	return s.Alert(ctx, ev)
}
