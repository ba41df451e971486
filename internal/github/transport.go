package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/pom-harvester/internal/metrics"
)

const maxErrorBody = 64 << 10

// Waiter caps the outbound request rate per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// classifyingTransport stamps the client identifier on every request and
// turns non-2xx responses into *APIError values. Retrying is left to Execute.
type classifyingTransport struct {
	wrapped   http.RoundTripper
	userAgent string
	limiter   Waiter
}

func (t *classifyingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	target := req.URL.String()
	host := metrics.SanitizeHost(target)
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context(), target); err != nil {
			return nil, &APIError{Kind: KindTransient, URL: target, Err: err}
		}
	}

	out := req.Clone(req.Context())
	out.Header.Set("User-Agent", t.userAgent)
	if out.Header.Get("Accept") == "" {
		out.Header.Set("Accept", "application/vnd.github+json")
	}

	start := time.Now()
	resp, err := t.wrapped.RoundTrip(out)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveAPIRequest(host, metrics.OutcomeTransient, elapsed)
		return nil, &APIError{Kind: KindTransient, URL: target, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.ObserveAPIRequest(host, metrics.OutcomeOK, elapsed)
		return resp, nil
	}

	message := readErrorMessage(resp.Body)
	_ = resp.Body.Close()
	kind := Classify(resp.StatusCode, message)
	outcome := metrics.OutcomeFatal
	if kind == KindRateLimited {
		outcome = metrics.OutcomeRateLimited
	}
	metrics.ObserveAPIRequest(host, outcome, elapsed)
	return nil, &APIError{Kind: kind, Status: resp.StatusCode, Message: message, URL: target}
}

// readErrorMessage decodes GitHub's {"message": ...} error body, falling back
// to the raw text for non-JSON bodies such as raw-content 404 pages.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(raw))
}
