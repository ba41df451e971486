// Package api exposes the harvester's read-only HTTP surface: liveness,
// Prometheus metrics and a JSON snapshot of crawl progress.
package api
