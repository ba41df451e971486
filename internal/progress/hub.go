package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config sizes the Hub. Zero values select the defaults below.
type Config struct {
	// QueueSize bounds the events waiting for the flush loop.
	QueueSize int
	// FlushEvents flushes as soon as this many events are pending.
	FlushEvents int
	// FlushInterval flushes a partial batch after this long.
	FlushInterval time.Duration
	// SinkTimeout bounds a single Consume call.
	SinkTimeout time.Duration
	// LifecycleGrace is how long Emit waits for room before dropping a
	// RUN_* event. Other stages are dropped immediately when the queue is full.
	LifecycleGrace time.Duration
	Logger         *zap.Logger
}

const (
	defaultQueueSize      = 4096
	defaultFlushEvents    = 500
	defaultFlushInterval  = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	defaultLifecycleGrace = time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.FlushEvents <= 0 {
		c.FlushEvents = defaultFlushEvents
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.LifecycleGrace <= 0 {
		c.LifecycleGrace = defaultLifecycleGrace
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub buffers harvest events and hands them to every sink in batches. Emit
// never blocks the scan loop or a batch goroutine for long: descriptor and
// page events are dropped under backpressure, run lifecycle events get a
// short grace period first.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	dropLog   rate.Sometimes
	pending   atomic.Int64
	dropTotal atomic.Int64
	closed    atomic.Bool

	stopOnce sync.Once
	closeCtx context.Context
}

// NewHub starts the flush loop and returns a Hub ready for Emit.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:     cfg,
		sinks:   make([]Sink, 0, len(sinks)),
		events:  make(chan Event, cfg.QueueSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  cfg.Logger,
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.loop()
	return h
}

// Emit queues evt. Invalid events and events sent after Close are ignored.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("Discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		return
	default:
	}
	if evt.Stage.lifecycle() && h.cfg.LifecycleGrace > 0 {
		grace := time.NewTimer(h.cfg.LifecycleGrace)
		defer grace.Stop()
		select {
		case h.events <- evt:
			return
		case <-grace.C:
		case <-h.doneCh:
		}
	}
	h.drop(evt)
}

func (h *Hub) drop(evt Event) {
	h.pending.Add(1)
	h.dropTotal.Add(1)
	h.dropLog.Do(func() {
		h.logger.Warn("Progress events dropped",
			zap.Int64("dropped", h.pending.Swap(0)),
			zap.String("last_stage", string(evt.Stage)))
	})
}

// Dropped is the number of events lost to backpressure since NewHub.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropTotal.Load()
}

// Close stops accepting events, flushes what is queued, closes the sinks and
// waits for the flush loop to exit or ctx to end. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.stopOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close progress hub: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, h.cfg.FlushEvents)
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.FlushEvents {
				batch = h.flush(batch)
			}
		case <-ticker.C:
			batch = h.flush(batch)
		case <-h.stopCh:
			h.drain(batch)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.FlushEvents {
				batch = h.flush(batch)
			}
		default:
			h.flush(batch)
			return
		}
	}
}

// flush hands batch to every sink concurrently and returns batch emptied for
// reuse. A failing sink is logged and does not affect the others.
func (h *Hub) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	snapshot := append([]Event(nil), batch...)
	var g errgroup.Group
	for _, sink := range h.sinks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
			defer cancel()
			if err := sink.Consume(ctx, snapshot); err != nil {
				h.logger.Warn("Progress sink failed", zap.Int("events", len(snapshot)), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return batch[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("Progress sink close failed", zap.Error(err))
		}
	}
}
