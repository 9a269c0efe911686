package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultSinkTimeout = 5 * time.Second

// Config sizes the queue between the engine and the sink.
type Config struct {
	Buffer int
	// Wait makes Emit block for room until its context ends. Otherwise a
	// full queue drops the event.
	Wait bool
	// SinkTimeout bounds one Sink.Emit call; zero means 5s.
	SinkTimeout time.Duration
}

// Stats counts what happened to emitted events.
type Stats struct {
	Delivered uint64
	Dropped   uint64
	Panics    uint64
}

// Dispatcher moves events off the request path onto one delivery
// goroutine. A nil Dispatcher discards everything.
type Dispatcher struct {
	sink    Sink
	logger  *slog.Logger
	wait    bool
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
}

// NewDispatcher starts delivering to sink.
func NewDispatcher(cfg Config, sink Sink, logger *slog.Logger) *Dispatcher {
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}

	d := &Dispatcher{
		sink:    sink,
		logger:  logger,
		wait:    cfg.Wait,
		timeout: cfg.SinkTimeout,
		queue:   make(chan Event, max(cfg.Buffer, 1)),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("audit sink panicked",
				slog.String("event_type", event.EventType),
				slog.String("audit_id", event.ID),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	d.sink.Emit(ctx, event)
	d.delivered.Add(1)
}

// Emit queues event. Events emitted after Close are discarded uncounted.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	// The read lock keeps Close from closing the queue under a send.
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if !d.wait {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops intake and returns once every queued event was delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

// Stats returns the running counts.
func (d *Dispatcher) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Panics:    d.panics.Load(),
	}
}
