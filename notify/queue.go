package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when the queue cannot accept another message.
var ErrQueueFull = errors.New("notify queue full")

// ErrQueueClosed is returned after Close.
var ErrQueueClosed = errors.New("notify queue closed")

// QueueConfig sizes the queue.
type QueueConfig struct {
	BufferSize  int
	Workers     int
	SendTimeout time.Duration
}

// Queue hands messages to a downstream Sender on background workers so the
// request path never waits on delivery. It implements Sender itself.
type Queue struct {
	cfg       QueueConfig
	next      Sender
	logger    *zap.Logger
	ch        chan Message
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewQueue(cfg QueueConfig, next Sender, logger *zap.Logger) *Queue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &Queue{
		cfg:    cfg,
		next:   next,
		logger: logger,
		ch:     make(chan Message, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.run()
	}

	return q
}

func (q *Queue) run() {
	defer q.wg.Done()

	for {
		select {
		case msg := <-q.ch:
			q.deliver(msg)
		case <-q.done:
			for {
				select {
				case msg := <-q.ch:
					q.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.SendTimeout)
	defer cancel()

	if err := q.next.SendCode(ctx, msg); err != nil {
		q.failed.Add(1)
		q.logger.Error("code delivery failed",
			zap.String("channel", msg.Channel),
			zap.String("purpose", msg.Purpose),
			zap.Error(err),
		)
	}
}

// SendCode enqueues msg without blocking.
func (q *Queue) SendCode(_ context.Context, msg Message) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		return nil
	case <-q.done:
		return ErrQueueClosed
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting messages and drains what is buffered.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.done)
		q.wg.Wait()
	})
}

func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *Queue) Failed() uint64 {
	return q.failed.Load()
}
