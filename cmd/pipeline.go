package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/pom-harvester/internal/api"
	"github.com/JakeFAU/pom-harvester/internal/config"
	"github.com/JakeFAU/pom-harvester/internal/crawler"
	"github.com/JakeFAU/pom-harvester/internal/github"
	"github.com/JakeFAU/pom-harvester/internal/harvest"
	"github.com/JakeFAU/pom-harvester/internal/id/uuid"
	"github.com/JakeFAU/pom-harvester/internal/logging"
	"github.com/JakeFAU/pom-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/pom-harvester/internal/progress"
	"github.com/JakeFAU/pom-harvester/internal/progress/sinks"
	"github.com/JakeFAU/pom-harvester/internal/shutdown"
	"github.com/JakeFAU/pom-harvester/internal/state"
	"github.com/JakeFAU/pom-harvester/internal/storage/gcs"
	"github.com/JakeFAU/pom-harvester/internal/storage/local"
	"github.com/JakeFAU/pom-harvester/internal/storage/postgres"
)

// pipeline is everything a networked command runs on. close releases it in
// reverse order of construction.
type pipeline struct {
	app       *App
	command   string
	started   time.Time
	runID     [16]byte
	client    *github.Client
	cursor    *state.Cursor
	ledger    *state.Ledger
	results   *state.ResultSink
	harvester *harvest.Harvester
	stop      *shutdown.Controller
	hub       *progress.Hub
	reporter  *progress.Reporter
	engine    atomic.Pointer[crawler.Engine]
	phase     atomic.Value
	closers   []func(context.Context)
}

// newPipeline wires the GitHub client, crawl state, mirrors, progress sinks
// and the optional status server. The returned context is canceled on a
// second interrupt.
func newPipeline(ctx context.Context, app *App, command string) (context.Context, *pipeline, error) {
	cfg := app.Config
	if err := cfg.RequireTokens(); err != nil {
		return ctx, nil, err
	}
	if err := app.Layout.Ensure(); err != nil {
		return ctx, nil, err
	}

	runID := uuid.New().NewRunID()
	logger := app.Logger.With(zap.Stringer("run_id", runID), zap.String("command", command))
	p := &pipeline{
		app:     app,
		command: command,
		started: time.Now(),
		runID:   progress.UUIDToBytes(runID),
		stop:    shutdown.New(),
	}
	p.phase.Store("starting")

	runCtx, cancel := context.WithCancel(ctx)
	p.closers = append(p.closers, func(context.Context) { cancel() })
	go p.stop.Watch(runCtx, cancel, logging.Component(logger, "shutdown"), os.Interrupt, syscall.SIGTERM)

	fail := func(err error) (context.Context, *pipeline, error) {
		p.close()
		return ctx, nil, err
	}

	pool, err := github.NewPool(cfg.GitHub.TokenList())
	if err != nil {
		return fail(err)
	}
	limiter := ratelimit.New(limiterConfig(cfg.GitHub))
	p.client, err = github.New(github.Config{
		BaseURL:    cfg.GitHub.BaseURL,
		GraphQLURL: cfg.GitHub.GraphQLURL,
		RawBaseURL: cfg.GitHub.RawBaseURL,
		UserAgent:  cfg.GitHub.UserAgent,
		Timeout:    cfg.GitHub.Timeout,
		Cooldown:   cfg.GitHub.Cooldown,
	}, pool, github.WithLimiter(limiter), github.WithLogger(logging.Component(logger, "github")))
	if err != nil {
		return fail(fmt.Errorf("init github client: %w", err))
	}

	if p.cursor, err = state.LoadCursor(app.Layout.StatePath()); err != nil {
		return fail(err)
	}
	if p.ledger, err = state.OpenLedger(app.Layout.LedgerPath()); err != nil {
		return fail(err)
	}
	p.results = state.OpenResultSink(app.Layout.ResultsPath())
	files, err := local.New(local.Config{BaseDir: app.Layout.PomsDir()})
	if err != nil {
		return fail(fmt.Errorf("init descriptor store: %w", err))
	}

	deps := harvest.Dependencies{
		API:     p.client,
		Ledger:  p.ledger,
		Results: p.results,
		Files:   files,
	}
	if err := p.attachMirrors(runCtx, &deps, logger); err != nil {
		return fail(err)
	}
	if err := p.attachProgress(runCtx, runID, logger); err != nil {
		return fail(err)
	}
	deps.Reporter = p.reporter

	p.harvester, err = harvest.New(harvest.Config{
		TargetFile:             cfg.Crawl.TargetFile,
		TargetLanguage:         cfg.Crawl.TargetLanguage,
		MaxConcurrentDownloads: cfg.Crawl.MaxConcurrentDownloads,
	}, deps, logging.Component(logger, "harvest"))
	if err != nil {
		return fail(err)
	}

	if addr := cfg.Metrics.Addr; addr != "" {
		srv := api.NewServer(api.StatusFunc(p.status), logging.Component(logger, "api"))
		go func() {
			if err := srv.ListenAndServe(runCtx, addr); err != nil {
				logger.Error("Status server failed", zap.Error(err))
			}
		}()
	}

	app.Logger = logger
	p.reporter.Report(progress.Event{Stage: progress.StageRunStart, Note: command})
	return runCtx, p, nil
}

func (p *pipeline) attachMirrors(ctx context.Context, deps *harvest.Dependencies, logger *zap.Logger) error {
	mirror := p.app.Config.Mirror
	if mirror.GCS.Bucket != "" {
		client, err := gcs.NewClient(ctx, mirror.GCS.Bucket)
		if err != nil {
			return fmt.Errorf("init gcs mirror: %w", err)
		}
		p.closers = append(p.closers, func(context.Context) {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close GCS client", zap.Error(err))
			}
		})
		store, err := gcs.New(client, gcs.Config{Bucket: mirror.GCS.Bucket, Prefix: mirror.GCS.Prefix})
		if err != nil {
			return fmt.Errorf("init gcs mirror: %w", err)
		}
		deps.Mirrors = append(deps.Mirrors, store)
		logger.Info("Mirroring descriptors to GCS", zap.String("bucket", mirror.GCS.Bucket))
	}
	if mirror.Postgres.DSN != "" {
		store, err := postgres.NewResultStore(ctx, postgres.ResultStoreConfig{
			DSN:   mirror.Postgres.DSN,
			Table: mirror.Postgres.Table,
		})
		if err != nil {
			return fmt.Errorf("init postgres mirror: %w", err)
		}
		p.closers = append(p.closers, func(context.Context) { store.Close() })
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("init postgres mirror: %w", err)
		}
		deps.RecordMirror = store
		logger.Info("Mirroring records to Postgres", zap.String("table", mirror.Postgres.Table))
	}
	return nil
}

func (p *pipeline) attachProgress(ctx context.Context, runID [16]byte, logger *zap.Logger) error {
	cfg := p.app.Config
	progressSinks := []progress.Sink{sinks.NewLogSink(logging.Component(logger, "progress"))}
	if cfg.Metrics.Addr != "" {
		promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		progressSinks = append(progressSinks, promSink)
	}
	if ps := cfg.Mirror.PubSub; ps.ProjectID != "" {
		publisher, err := sinks.NewTopicPublisher(ctx, ps.ProjectID, ps.TopicID)
		if err != nil {
			return fmt.Errorf("init pubsub sink: %w", err)
		}
		progressSinks = append(progressSinks, sinks.NewPubSubSink(publisher))
		logger.Info("Publishing progress to Pub/Sub", zap.String("topic", ps.TopicID))
	}
	p.hub = progress.NewHub(progress.Config{Logger: logging.Component(logger, "progress")}, progressSinks...)
	p.reporter = progress.NewReporter(p.hub, runID)
	return nil
}

func (p *pipeline) setPhase(phase string) {
	p.phase.Store(phase)
}

func (p *pipeline) status() api.Status {
	st := api.Status{
		RunID:          progress.Event{RunID: p.runID}.RunUUID().String(),
		Command:        p.command,
		State:          p.phase.Load().(string),
		Cursor:         p.cursor.Load(),
		Ledgered:       p.ledger.Len(),
		CredentialSlot: p.client.CredentialSlot(),
		StopRequested:  p.stop.Stopped(),
		DroppedEvents:  p.hub.Dropped(),
		Uptime:         time.Since(p.started).Round(time.Second).String(),
	}
	if engine := p.engine.Load(); engine != nil {
		st.State = engine.State().String()
		st.Pages = engine.Pages()
	}
	return st
}

// finish reports the run outcome, drains the progress hub and releases
// resources. A hard abort is not a failure.
func (p *pipeline) finish(runErr error) error {
	evt := progress.Event{Stage: progress.StageRunDone, Dur: time.Since(p.started), Note: p.command}
	switch {
	case errors.Is(runErr, context.Canceled):
		evt.Note = p.command + ": aborted"
	case runErr != nil:
		evt.Stage = progress.StageRunError
		evt.Note = runErr.Error()
	}
	p.reporter.Report(evt)
	p.setPhase("stopped")
	p.close()
	if errors.Is(runErr, context.Canceled) {
		p.app.Logger.Warn("Run aborted", zap.Error(runErr))
		return nil
	}
	return runErr
}

func (p *pipeline) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if p.hub != nil {
		if err := p.hub.Close(ctx); err != nil {
			p.app.Logger.Warn("Progress hub close failed", zap.Error(err))
		}
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i](ctx)
	}
}

// limiterConfig paces the API host at requests_per_second and the raw content
// host at raw_requests_per_second. When both share a host the API rate wins.
func limiterConfig(gh config.GitHubConfig) ratelimit.Config {
	rl := ratelimit.Config{DefaultRPS: gh.RequestsPerSecond}
	if u, err := url.Parse(gh.RawBaseURL); err == nil && u.Hostname() != "" {
		rl.HostRPS = map[string]float64{u.Hostname(): gh.RawRequestsPerSecond}
		if apiURL, err := url.Parse(gh.BaseURL); err == nil && strings.EqualFold(apiURL.Hostname(), u.Hostname()) {
			rl.HostRPS = nil
		}
	}
	return rl
}
