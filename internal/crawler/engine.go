package crawler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pom-harvester/internal/clock/system"
	"github.com/JakeFAU/pom-harvester/internal/github"
	"github.com/JakeFAU/pom-harvester/internal/metrics"
	"github.com/JakeFAU/pom-harvester/internal/progress"
)

// Defaults for Config fields left at zero.
const (
	DefaultBatchSize          = github.MaxBatchSize
	DefaultPagePeriod         = 250 * time.Millisecond
	DefaultMaxInflightBatches = 16
)

// Config controls scan pacing and batching.
type Config struct {
	// BatchSize is the number of node ids per detail query, at most 100.
	BatchSize int
	// PagePeriod is the minimum wall time between listing calls.
	PagePeriod time.Duration
	// MaxInflightBatches bounds concurrently running batches. Dispatch blocks
	// while the bound is reached.
	MaxInflightBatches int
}

// State is the lifecycle phase of an Engine.
type State int32

// Engine states. An engine only moves forward through them.
const (
	StateIdle State = iota
	StateScanning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithReporter attaches a progress reporter.
func WithReporter(r *progress.Reporter) Option {
	return func(e *Engine) {
		e.reporter = r
	}
}

// Engine runs the scan state machine: Scanning, then Draining, then Stopped.
type Engine struct {
	cfg       Config
	lister    Lister
	harvester BatchHarvester
	cursor    CursorStore
	stop      StopSignal
	clock     Clock
	logger    *zap.Logger
	reporter  *progress.Reporter

	state    atomic.Int32
	batches  errgroup.Group
	errMu    sync.Mutex
	batchErr error
	pages    atomic.Int64
}

// NewEngine wires an engine. Zero config values take their defaults and the
// batch size is capped at the detail query limit.
func NewEngine(cfg Config, lister Lister, harvester BatchHarvester, cursor CursorStore, stop StopSignal, opts ...Option) *Engine {
	if cfg.BatchSize <= 0 || cfg.BatchSize > github.MaxBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PagePeriod <= 0 {
		cfg.PagePeriod = DefaultPagePeriod
	}
	if cfg.MaxInflightBatches <= 0 {
		cfg.MaxInflightBatches = DefaultMaxInflightBatches
	}
	e := &Engine{
		cfg:       cfg,
		lister:    lister,
		harvester: harvester,
		cursor:    cursor,
		stop:      stop,
		clock:     system.Clock{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.batches.SetLimit(cfg.MaxInflightBatches)
	return e
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Pages returns how many listing pages have been consumed.
func (e *Engine) Pages() int64 {
	return e.pages.Load()
}

// Run scans until the listing is exhausted, a stop is requested or a fatal
// error occurs, then waits for every dispatched batch. It returns the first
// fatal error of either the scan or a batch. An Engine runs once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateScanning)) {
		return fmt.Errorf("crawler: engine already %s", e.State())
	}
	cursor := e.cursor.Load()
	e.logger.Info("Scan started", zap.Uint64("cursor", cursor), zap.Int("batch_size", e.cfg.BatchSize))

	pending, runErr := e.scan(ctx, cursor)

	e.state.Store(int32(StateDraining))
	if runErr == nil && e.firstBatchErr() == nil && len(pending) > 0 {
		e.logger.Info("Flushing partial batch", zap.Int("size", len(pending)))
		e.dispatch(ctx, pending)
	}
	waitErr := e.batches.Wait()
	e.state.Store(int32(StateStopped))

	if runErr != nil {
		return runErr
	}
	if waitErr != nil {
		return fmt.Errorf("harvest batch: %w", waitErr)
	}
	e.logger.Info("Scan stopped", zap.Uint64("cursor", e.cursor.Load()), zap.Int64("pages", e.Pages()))
	return nil
}

// scan is the Scanning state. It returns the ids not yet dispatched.
func (e *Engine) scan(ctx context.Context, cursor uint64) ([]string, error) {
	pending := make([]string, 0, e.cfg.BatchSize)
	for {
		start := e.clock.Now()
		if e.stop != nil && e.stop.Stopped() {
			e.logger.Info("Stop requested, draining", zap.Uint64("cursor", cursor))
			return pending, nil
		}
		if err := ctx.Err(); err != nil {
			return pending, fmt.Errorf("scan: %w", err)
		}

		page, err := e.lister.ListRepositories(ctx, cursor)
		if err != nil {
			return pending, fmt.Errorf("scan page since %d: %w", cursor, err)
		}
		if len(page) == 0 {
			e.logger.Info("Repository listing exhausted", zap.Uint64("cursor", cursor))
			return pending, nil
		}

		forks := 0
		for _, repo := range page {
			if repo.ID > cursor {
				cursor = repo.ID
			}
			if repo.Fork {
				forks++
				continue
			}
			pending = append(pending, repo.NodeID)
			if len(pending) == e.cfg.BatchSize {
				e.dispatch(ctx, pending)
				pending = make([]string, 0, e.cfg.BatchSize)
			}
		}

		if err := e.cursor.Save(cursor); err != nil {
			return pending, fmt.Errorf("persist cursor %d: %w", cursor, err)
		}
		e.pages.Add(1)
		e.logger.Debug("Page scanned",
			zap.Uint64("cursor", cursor),
			zap.Int("repos", len(page)),
			zap.Int("forks", forks),
			zap.Int("pending", len(pending)))
		e.reporter.Report(progress.Event{
			Stage:  progress.StagePageScanned,
			Count:  int64(len(page)),
			Cursor: cursor,
		})

		if err := e.firstBatchErr(); err != nil {
			e.logger.Error("Batch failed, draining", zap.Error(err))
			return pending, nil
		}

		if wait := e.cfg.PagePeriod - e.clock.Now().Sub(start); wait > 0 {
			if err := e.clock.Sleep(ctx, wait); err != nil {
				return pending, fmt.Errorf("scan: %w", err)
			}
		}
	}
}

// dispatch hands ids to the harvester on a new goroutine. It blocks while
// MaxInflightBatches batches are running. ids must not be reused by the caller.
func (e *Engine) dispatch(ctx context.Context, ids []string) {
	e.batches.Go(func() error {
		metrics.IncInflightBatches()
		defer metrics.DecInflightBatches()
		if err := e.harvester.HarvestBatch(ctx, ids); err != nil {
			e.recordBatchErr(err)
			return err
		}
		return nil
	})
}

func (e *Engine) recordBatchErr(err error) {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	if e.batchErr == nil {
		e.batchErr = err
	}
}

func (e *Engine) firstBatchErr() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.batchErr
}
