// Package agents provides the HTTP client for the external agent dispatch
// service and the registry of agents the pipeline expects to hear from.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind/decisioncore/internal/domain"
	"github.com/marketmind/decisioncore/internal/market"
)

// ErrDispatchUnavailable is returned when the dispatch service itself cannot
// be reached. Individual agent failures inside a successful dispatch degrade
// instead.
var ErrDispatchUnavailable = errors.New("agent dispatch unavailable")

const defaultDispatchTimeout = 10 * time.Second

// Agent is one registered agent the dispatch service runs on our behalf.
// The capability drives regime-affinity weighting; there is no name matching.
type Agent struct {
	Name       string                 `json:"name" mapstructure:"name"`
	Capability domain.AgentCapability `json:"capability" mapstructure:"capability"`
}

// DispatchRequest is the context handed to the dispatch service for one cycle.
type DispatchRequest struct {
	Symbol     string        `json:"symbol"`
	Timestamp  time.Time     `json:"timestamp"`
	MarketData *market.Quote `json:"market_data"`
	Prices     []float64     `json:"prices"`
	TraceID    string        `json:"trace_id"`
}

type dispatchResponse struct {
	Results []domain.AnalysisResult `json:"results"`
}

// Client calls the agent dispatch service. One POST per cycle; no retry;
// dispatch failure aborts the pipeline invocation.
type Client struct {
	url        string
	httpClient *http.Client
	registry   []Agent
	logger     zerolog.Logger
}

// NewClient creates a dispatch client over the given agent registry.
func NewClient(url string, timeout time.Duration, registry []Agent) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("agent dispatch URL is required")
	}
	if len(registry) == 0 {
		return nil, fmt.Errorf("agent registry is empty")
	}
	if timeout == 0 {
		timeout = defaultDispatchTimeout
	}

	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		registry:   registry,
		logger:     log.With().Str("component", "agent-dispatch").Logger(),
	}, nil
}

// Registry returns the configured agents in dispatch order.
func (c *Client) Registry() []Agent {
	out := make([]Agent, len(c.registry))
	copy(out, c.registry)
	return out
}

// CapabilityFor resolves a registered agent's capability; unknown names get
// DISCIPLINE, which carries no regime boost.
func (c *Client) CapabilityFor(name string) domain.AgentCapability {
	for _, a := range c.registry {
		if a.Name == name {
			return a.Capability
		}
	}
	return domain.CapabilityDiscipline
}

// Run dispatches one analysis cycle. Every registered agent is represented in
// the returned slice, in registry order: agents missing from the response are
// filled in with a degraded HOLD so the consensus input stays complete.
func (c *Client) Run(ctx context.Context, req DispatchRequest) ([]domain.AnalysisResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal dispatch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatchUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Trace-ID", req.TraceID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatchUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: dispatch returned %d", ErrDispatchUnavailable, resp.StatusCode)
	}

	var payload dispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrDispatchUnavailable, err)
	}

	return c.normalize(req.TraceID, payload.Results), nil
}

// normalize validates each returned result and substitutes degraded entries
// for registered agents the service did not answer for.
func (c *Client) normalize(traceID string, results []domain.AnalysisResult) []domain.AnalysisResult {
	byName := make(map[string]domain.AnalysisResult, len(results))
	for _, r := range results {
		byName[r.AgentName] = r.Validate()
	}

	out := make([]domain.AnalysisResult, 0, len(c.registry))
	for _, agent := range c.registry {
		if r, ok := byName[agent.Name]; ok {
			out = append(out, r)
			continue
		}
		c.logger.Warn().
			Str("trace_id", traceID).
			Str("agent", agent.Name).
			Msg("Agent missing from dispatch response, substituting degraded result")
		out = append(out, domain.DegradedResult(agent.Name, errors.New("no result returned")))
	}
	return out
}
