// Package notify posts published decisions to the external notification
// sink. Delivery is fire-and-forget: failures are counted and logged, never
// surfaced to the pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind/decisioncore/internal/domain"
	"github.com/marketmind/decisioncore/internal/metrics"
)

const defaultNotifyTimeout = 5 * time.Second

// Notifier is the HTTP client for the notification sink. A nil Notifier or
// an empty URL disables delivery.
type Notifier struct {
	url        string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a notifier. An empty url yields a disabled notifier.
func New(url string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	return &Notifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With().Str("component", "notify").Logger(),
	}
}

// Send posts the full decision to the sink. Always returns nil semantics to
// callers; the error is for tests and logging only.
func (n *Notifier) Send(ctx context.Context, decision domain.FinalDecision) error {
	if n == nil || n.url == "" {
		return nil
	}

	body, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace-ID", decision.TraceID)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		metrics.NotifyFailures.Inc()
		n.logger.Warn().
			Err(err).
			Str("trace_id", decision.TraceID).
			Msg("Notification dispatch failed, discarding")
		return fmt.Errorf("notify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		metrics.NotifyFailures.Inc()
		n.logger.Warn().
			Int("status", resp.StatusCode).
			Str("trace_id", decision.TraceID).
			Msg("Notification sink rejected decision, discarding")
		return fmt.Errorf("notify sink returned %d", resp.StatusCode)
	}

	return nil
}
