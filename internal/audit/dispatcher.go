package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config sizes the dispatcher. With DropIfFull a full buffer discards
// routine events immediately, while events matched by Critical may wait up
// to CriticalWait for room before they are counted as dropped.
type Config struct {
	Enabled      bool
	BufferSize   int
	DropIfFull   bool
	Critical     func(Event) bool
	CriticalWait time.Duration
}

// Dispatcher hands events to a Sink on one background goroutine, in the
// order they were accepted.
type Dispatcher struct {
	cfg     Config
	sink    Sink
	queue   chan Event
	stopped chan struct{}

	// mu guards queue against a send racing Close.
	mu     sync.RWMutex
	closed bool

	dropped  atomic.Uint64
	critical atomic.Uint64
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	if cfg.CriticalWait <= 0 {
		cfg.CriticalWait = 250 * time.Millisecond
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		queue:   make(chan Event, cfg.BufferSize),
		stopped: make(chan struct{}),
	}
	go d.drain()
	return d
}

func (d *Dispatcher) drain() {
	defer close(d.stopped)
	for event := range d.queue {
		d.sink.Emit(context.Background(), event)
	}
}

// Emit queues event. It never blocks past ctx, and with DropIfFull it only
// blocks for critical events.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- event:
		return
	default:
	}

	if !d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		case <-ctx.Done():
			d.dropped.Add(1)
		}
		return
	}

	if d.cfg.Critical == nil || !d.cfg.Critical(event) {
		d.dropped.Add(1)
		return
	}

	timer := time.NewTimer(d.cfg.CriticalWait)
	defer timer.Stop()
	select {
	case d.queue <- event:
		d.critical.Add(1)
	case <-timer.C:
		d.dropped.Add(1)
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops accepting events and waits until everything already queued
// has reached the sink. It is safe to call more than once.
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
	<-d.stopped
}

// Dropped counts events that never reached the queue.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// CriticalWaits counts critical events that found the buffer full and were
// queued after waiting.
func (d *Dispatcher) CriticalWaits() uint64 {
	if d == nil {
		return 0
	}
	return d.critical.Load()
}
