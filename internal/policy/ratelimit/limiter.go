// Package ratelimit paces outgoing GitHub requests with one token bucket per
// host. The REST and GraphQL endpoints share api.github.com and therefore a
// bucket; raw.githubusercontent.com is paced on its own.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/pom-harvester/internal/metrics"
)

const unknownHost = "unknown"

// Config sets requests per second. A non-positive rate leaves that host
// unpaced.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// HostRPS overrides DefaultRPS for individual hosts.
	HostRPS map[string]float64
}

// Limiter hands out per-host buckets on first use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rates   map[string]rate.Limit
	def     rate.Limit
	burst   int
}

// New builds a Limiter from cfg.
func New(cfg Config) *Limiter {
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	rates := make(map[string]rate.Limit, len(cfg.HostRPS))
	for host, rps := range cfg.HostRPS {
		rates[strings.ToLower(host)] = toLimit(rps)
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rates:   rates,
		def:     toLimit(cfg.DefaultRPS),
		burst:   burst,
	}
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until the bucket for rawURL's host has a token or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	bucket := l.bucket(host)
	if bucket.Limit() == rate.Inf {
		return nil
	}
	start := time.Now()
	if err := bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Rate reports the configured requests per second for host; rate.Inf means unpaced.
func (l *Limiter) Rate(host string) rate.Limit {
	return l.bucket(strings.ToLower(host)).Limit()
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[host]; ok {
		return b
	}
	limit, ok := l.rates[host]
	if !ok {
		limit = l.def
	}
	b := rate.NewLimiter(limit, l.burst)
	l.buckets[host] = b
	return b
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return unknownHost
	}
	return strings.ToLower(u.Hostname())
}
