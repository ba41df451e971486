// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for API calls.
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeFatal       = "fatal"
	OutcomeTransient   = "transient"
)

var (
	apiRequestsTotal              *prometheus.CounterVec
	apiRequestDurationSeconds     *prometheus.HistogramVec
	credentialRotationsTotal      *prometheus.CounterVec
	cooldownSecondsTotal          prometheus.Counter
	harvesterRateLimitDelaysSecs  *prometheus.HistogramVec
	harvesterInflightBatches      prometheus.Gauge
	harvesterCursor               prometheus.Gauge
	harvesterDescriptorsFetched   prometheus.Counter
	harvesterRepositoriesFinished *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_api_requests_total",
				Help: "Total number of GitHub API requests, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		apiRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_api_request_duration_seconds",
				Help:    "Histogram of GitHub API request latencies, labeled by host.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		credentialRotationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_credential_rotations_total",
				Help: "Credential rotations triggered by rate limiting, labeled by whether the pool wrapped.",
			},
			[]string{"wrapped"},
		)

		cooldownSecondsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_cooldown_seconds_total",
				Help: "Total seconds spent cooling down after the credential pool wrapped.",
			},
		)

		harvesterRateLimitDelaysSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of per-host request cap wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		harvesterInflightBatches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_inflight_batches",
				Help: "Number of dispatched detail batches that have not finished.",
			},
		)

		harvesterCursor = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_cursor",
				Help: "Last persisted repository id watermark.",
			},
		)

		harvesterDescriptorsFetched = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_descriptors_fetched_total",
				Help: "Descriptor files downloaded and written to disk.",
			},
		)

		harvesterRepositoriesFinished = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_repositories_finished_total",
				Help: "Repositories whose harvest concluded, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAPIRequest records one GitHub API round trip.
func ObserveAPIRequest(host, outcome string, duration time.Duration) {
	Init()
	apiRequestsTotal.WithLabelValues(host, outcome).Inc()
	apiRequestDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveRotation counts a credential rotation.
func ObserveRotation(wrapped bool) {
	Init()
	label := "false"
	if wrapped {
		label = "true"
	}
	credentialRotationsTotal.WithLabelValues(label).Inc()
}

// ObserveCooldown records time spent waiting for the pool to recover.
func ObserveCooldown(d time.Duration) {
	Init()
	cooldownSecondsTotal.Add(d.Seconds())
}

// ObserveRateLimitDelay records the duration of a request cap wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	harvesterRateLimitDelaysSecs.WithLabelValues(host).Observe(duration.Seconds())
}

// IncInflightBatches increments the in-flight batch gauge.
func IncInflightBatches() {
	Init()
	harvesterInflightBatches.Inc()
}

// DecInflightBatches decrements the in-flight batch gauge.
func DecInflightBatches() {
	Init()
	harvesterInflightBatches.Dec()
}

// SetCursor publishes the persisted cursor.
func SetCursor(id uint64) {
	Init()
	harvesterCursor.Set(float64(id))
}

// ObserveDescriptorFetched counts a downloaded descriptor file.
func ObserveDescriptorFetched() {
	Init()
	harvesterDescriptorsFetched.Inc()
}

// ObserveRepositoryFinished counts a concluded repository harvest.
func ObserveRepositoryFinished(result string) {
	Init()
	harvesterRepositoriesFinished.WithLabelValues(result).Inc()
}
