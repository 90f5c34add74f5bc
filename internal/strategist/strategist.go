// Package strategist invokes the primary decision intelligence, an external
// LLM, and degrades to a deterministic rule-based fallback whenever the LLM
// cannot answer in time or in shape.
package strategist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/marketmind/decisioncore/internal/domain"
)

// FallbackModelLabel marks decisions produced by the rule-based fallback.
const FallbackModelLabel = "rule-fallback"

const (
	defaultTimeout     = 4 * time.Second
	defaultPeakTimeout = 1200 * time.Millisecond
	defaultTemperature = 0.3
	defaultMaxTokens   = 1200

	breakerMaxRequests = 1
	breakerInterval    = 5 * time.Minute
	breakerTimeout     = 60 * time.Second
	breakerMinRequests = 5
	breakerFailureRate = 0.6
)

// Config configures the strategist client.
type Config struct {
	Enabled     bool
	Endpoint    string
	APIKey      string
	DeepModel   string
	FastModel   string
	Timeout     time.Duration
	PeakTimeout time.Duration
	Temperature float64
	MaxTokens   int
}

// Strategist wraps the LLM behind a circuit breaker. A single failed or
// malformed call falls back locally; a run of failures opens the breaker so
// later cycles skip the network wait entirely.
type Strategist struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     zerolog.Logger
}

// Evaluation is the strategist's answer plus how it was produced.
type Evaluation struct {
	Decision   domain.StrategistDecision
	ModelLabel string
	PeakMode   bool
	Fallback   bool
}

// New creates a strategist client.
func New(cfg Config) *Strategist {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PeakTimeout == 0 {
		cfg.PeakTimeout = defaultPeakTimeout
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.DeepModel == "" {
		cfg.DeepModel = "deep"
	}
	if cfg.FastModel == "" {
		cfg.FastModel = "fast"
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "strategist",
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("component", "strategist").
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Strategist circuit breaker state change")
		},
	})

	return &Strategist{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		logger:     log.With().Str("component", "strategist").Logger(),
	}
}

// PeakMode reports whether the opportunistic fast path applies: active
// session, volatile regime, and no running divergence streak.
func PeakMode(session domain.TradingSession, regime domain.MarketRegime, divergenceStreak int) bool {
	return session.Active() && regime == domain.RegimeVolatile && divergenceStreak == 0
}

// Evaluate produces the strategist decision for one cycle. It never returns
// an error: any failure path lands on the rule-based fallback.
func (s *Strategist) Evaluate(
	ctx context.Context,
	dctx domain.DecisionContext,
	memory []domain.StrategyMemoryEntry,
	divergenceStreak int,
) Evaluation {
	peak := PeakMode(dctx.TradingSession, dctx.Regime, divergenceStreak)

	if !s.cfg.Enabled || s.cfg.APIKey == "" {
		s.logger.Debug().
			Str("trace_id", dctx.TraceID).
			Bool("enabled", s.cfg.Enabled).
			Msg("Strategist disabled or unconfigured, using fallback")
		return Evaluation{
			Decision:   Fallback(dctx.AgentResults),
			ModelLabel: FallbackModelLabel,
			PeakMode:   peak,
			Fallback:   true,
		}
	}

	model := s.cfg.DeepModel
	if peak || dctx.Regime == domain.RegimeVolatile {
		model = s.cfg.FastModel
	}

	timeout := s.cfg.Timeout
	if peak {
		timeout = s.cfg.PeakTimeout
	}

	prompt := BuildPrompt(dctx, memory, peak)

	decision, err := s.invoke(ctx, model, prompt, timeout)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("trace_id", dctx.TraceID).
			Str("model", model).
			Msg("Strategist call failed, using rule-based fallback")
		return Evaluation{
			Decision:   Fallback(dctx.AgentResults),
			ModelLabel: FallbackModelLabel,
			PeakMode:   peak,
			Fallback:   true,
		}
	}

	return Evaluation{
		Decision:   decision,
		ModelLabel: model,
		PeakMode:   peak,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (s *Strategist) invoke(ctx context.Context, model, prompt string, timeout time.Duration) (domain.StrategistDecision, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		content, err := s.complete(callCtx, model, prompt)
		if err != nil {
			return domain.StrategistDecision{}, err
		}
		return ParseDecision(content)
	})
	if err != nil {
		return domain.StrategistDecision{}, err
	}
	return result.(domain.StrategistDecision), nil
}

func (s *Strategist) complete(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("LLM API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(raw, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in LLM response")
	}

	s.logger.Debug().
		Str("model", model).
		Dur("duration", time.Since(start)).
		Msg("LLM request completed")

	return chatResp.Choices[0].Message.Content, nil
}

// ParseDecision extracts and validates a StrategistDecision from raw LLM
// output, tolerating markdown code fences around the JSON.
func ParseDecision(content string) (domain.StrategistDecision, error) {
	content = extractJSONFromMarkdown(content)

	var decision domain.StrategistDecision
	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		return domain.StrategistDecision{}, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	if !decision.FinalSignal.Valid() {
		return domain.StrategistDecision{}, fmt.Errorf("invalid signal %q in strategist response", decision.FinalSignal)
	}
	if decision.Confidence < 0 || decision.Confidence > 1 {
		return domain.StrategistDecision{}, fmt.Errorf("confidence %f out of range", decision.Confidence)
	}
	if decision.TradeDirection == "" {
		decision.TradeDirection = domain.DirectionForSignal(decision.FinalSignal)
	}
	return decision, nil
}

// extractJSONFromMarkdown strips ```json fences when the model wraps its
// answer in a code block.
func extractJSONFromMarkdown(content string) string {
	contentBytes := []byte(content)

	start := -1
	if idx := bytes.Index(contentBytes, []byte("```json")); idx >= 0 {
		start = idx + 7
	} else if idx := bytes.Index(contentBytes, []byte("```")); idx >= 0 {
		start = idx + 3
	}

	if start >= 0 {
		if idx := bytes.Index(contentBytes[start:], []byte("```")); idx >= 0 {
			content = content[start : start+idx]
		}
	}

	return string(bytes.TrimSpace([]byte(content)))
}
