package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/orderdeck/orderdeck/store"
)

const defaultStreamBuffer = 64

// StreamController fans store events out to SSE subscribers. It implements
// store.Publisher on the producer side and StreamSource for the handler.
type StreamController struct {
	mu          sync.RWMutex
	subscribers map[int64]*streamSubscriber
	nextSubID   int64
	logger      *slog.Logger
	bufferSize  int
}

type streamSubscriber struct {
	id  int64
	ch  chan store.Event
	ctx context.Context
}

type StreamControllerOption func(*StreamController)

// WithStreamLogger overrides the controller's logger.
func WithStreamLogger(logger *slog.Logger) StreamControllerOption {
	return func(c *StreamController) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStreamBufferSize sets the per-subscriber channel buffer. Values <= 0
// keep the default.
func WithStreamBufferSize(size int) StreamControllerOption {
	return func(c *StreamController) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// NewStreamController constructs a controller with sane defaults.
func NewStreamController(opts ...StreamControllerOption) *StreamController {
	c := &StreamController{
		subscribers: make(map[int64]*streamSubscriber),
		bufferSize:  defaultStreamBuffer,
		logger:      slog.Default().WithGroup("stream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers a live-event subscriber. The channel closes when ctx
// is cancelled.
func (c *StreamController) Subscribe(ctx context.Context) (<-chan store.Event, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	sub := &streamSubscriber{
		id:  atomic.AddInt64(&c.nextSubID, 1),
		ch:  make(chan store.Event, c.bufferSize),
		ctx: ctx,
	}

	c.mu.Lock()
	c.subscribers[sub.id] = sub
	c.mu.Unlock()

	go c.awaitCancellation(sub)

	return sub.ch, nil
}

func (c *StreamController) awaitCancellation(sub *streamSubscriber) {
	<-sub.ctx.Done()

	c.mu.Lock()
	if _, ok := c.subscribers[sub.id]; ok {
		delete(c.subscribers, sub.id)
		close(sub.ch)
	}
	c.mu.Unlock()
}

// Publish delivers evt to every subscriber, best-effort. When a subscriber's
// buffer is full the event is dropped for that subscriber so producers never
// block on slow browsers.
func (c *StreamController) Publish(evt store.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, sub := range c.subscribers {
		select {
		case sub.ch <- evt:
		default:
			c.logger.Warn("dropping stream event; subscriber buffer full",
				slog.Int64("subscriber", sub.id),
				slog.String("kind", string(evt.Kind)),
			)
		}
	}
}

// Flush drains and closes all subscriber channels. Primarily used in tests.
func (c *StreamController) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, sub := range c.subscribers {
		close(sub.ch)
		delete(c.subscribers, id)
	}
}

var _ store.Publisher = (*StreamController)(nil)
