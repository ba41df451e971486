package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/pom-harvester/internal/progress"
)

// PrometheusSink exports harvester progress via Prometheus. It owns the
// run-level collectors and the page, batch and descriptor download counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	pagesScanned  prometheus.Counter
	reposListed   prometheus.Counter
	batches       prometheus.Counter
	batchDuration prometheus.Histogram
	fileBytes     prometheus.Counter
	fileDuration  prometheus.Histogram

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_started_total",
			Help: "Total harvester runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_runs_completed_total",
			Help: "Total runs completed partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_runs_active",
			Help: "Current number of active runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 14400, 43200, 86400},
		}, []string{"result"}),
		pagesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_pages_scanned_total",
			Help: "Listing pages consumed by the scan loop.",
		}),
		reposListed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_repositories_listed_total",
			Help: "Repository summaries returned by listing pages.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_batches_completed_total",
			Help: "Detail batches that finished harvesting.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_batch_duration_seconds",
			Help:    "Wall time per detail batch.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		fileBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_descriptor_bytes_total",
			Help: "Bytes of descriptor files written.",
		}),
		fileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_descriptor_download_seconds",
			Help:    "Download duration per descriptor file.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runRuntime,
		s.pagesScanned,
		s.reposListed,
		s.batches,
		s.batchDuration,
		s.fileBytes,
		s.fileDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StagePageScanned:
		s.pagesScanned.Inc()
		if evt.Count > 0 {
			s.reposListed.Add(float64(evt.Count))
		}
	case progress.StageBatchDone:
		s.batches.Inc()
		if evt.Dur > 0 {
			s.batchDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageFileFetched:
		if evt.Bytes > 0 {
			s.fileBytes.Add(float64(evt.Bytes))
		}
		if evt.Dur > 0 {
			s.fileDuration.Observe(evt.Dur.Seconds())
		}
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
		return
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if s.tracker.complete(evt.RunID) {
		s.runsActive.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu     sync.Mutex
	active map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{active: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; ok {
		return false
	}
	t.active[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; !ok {
		return false
	}
	delete(t.active, id)
	return true
}
