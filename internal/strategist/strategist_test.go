package strategist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketmind/decisioncore/internal/domain"
)

func testContext() domain.DecisionContext {
	return domain.AssembleContext(
		domain.Trigger{Symbol: "NIFTY50", TriggeredAt: time.Now(), TraceID: "t-1"},
		domain.RegimeTrending,
		domain.SessionOpeningBurst,
		200.0,
		[]domain.AnalysisResult{
			{AgentName: "trend-agent", Signal: domain.SignalBuy, Confidence: 0.82, Summary: "uptrend intact"},
			{AgentName: "risk-agent", Signal: domain.SignalHold, Confidence: 0.50},
			{AgentName: "portfolio-agent", Signal: domain.SignalBuy, Confidence: 0.70},
		},
		map[string]float64{"trend-agent": 1.2, "risk-agent": 0.9, "portfolio-agent": 1.0},
		domain.BiasBullish,
		domain.StateBuilding,
	)
}

func llmServer(t *testing.T, content string, wantModel string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if wantModel != "" {
			assert.Equal(t, wantModel, req.Model)
		}

		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: content}}},
		})
	}))
}

func TestEvaluateHappyPath(t *testing.T) {
	srv := llmServer(t, `{"final_signal":"BUY","confidence":0.78,"reasoning":"breakout","entry_price":200.5,"target_price":204.0,"stop_loss":198.0,"estimated_hold_minutes":15,"trade_direction":"LONG"}`, "deep-model")
	defer srv.Close()

	s := New(Config{
		Enabled:   true,
		Endpoint:  srv.URL,
		APIKey:    "secret",
		DeepModel: "deep-model",
		FastModel: "fast-model",
	})

	eval := s.Evaluate(context.Background(), testContext(), nil, 0)

	assert.False(t, eval.Fallback)
	assert.Equal(t, "deep-model", eval.ModelLabel)
	assert.Equal(t, domain.SignalBuy, eval.Decision.FinalSignal)
	assert.Equal(t, 0.78, eval.Decision.Confidence)
	require.NotNil(t, eval.Decision.EntryPrice)
	assert.Equal(t, 200.5, *eval.Decision.EntryPrice)
	require.NotNil(t, eval.Decision.EstimatedHoldMinutes)
	assert.Equal(t, 15, *eval.Decision.EstimatedHoldMinutes)
}

func TestEvaluateVolatileSelectsFastModel(t *testing.T) {
	srv := llmServer(t, `{"final_signal":"HOLD","confidence":0.5,"reasoning":"chop"}`, "fast-model")
	defer srv.Close()

	s := New(Config{
		Enabled:   true,
		Endpoint:  srv.URL,
		APIKey:    "secret",
		DeepModel: "deep-model",
		FastModel: "fast-model",
	})

	dctx := testContext()
	dctx.Regime = domain.RegimeVolatile

	// Divergence streak suppresses peak mode but VOLATILE still picks fast.
	eval := s.Evaluate(context.Background(), dctx, nil, 2)

	assert.False(t, eval.PeakMode)
	assert.Equal(t, "fast-model", eval.ModelLabel)
}

func TestEvaluatePeakMode(t *testing.T) {
	srv := llmServer(t, `{"final_signal":"WATCH","confidence":0.6,"reasoning":"fast read"}`, "fast-model")
	defer srv.Close()

	s := New(Config{
		Enabled:   true,
		Endpoint:  srv.URL,
		APIKey:    "secret",
		DeepModel: "deep-model",
		FastModel: "fast-model",
	})

	dctx := testContext()
	dctx.Regime = domain.RegimeVolatile

	eval := s.Evaluate(context.Background(), dctx, nil, 0)

	assert.True(t, eval.PeakMode)
	assert.False(t, eval.Fallback)
	assert.Equal(t, "fast-model", eval.ModelLabel)
}

func TestEvaluateMalformedResponseFallsBack(t *testing.T) {
	srv := llmServer(t, `I think you should buy, the market looks great!`, "")
	defer srv.Close()

	s := New(Config{Enabled: true, Endpoint: srv.URL, APIKey: "secret"})

	eval := s.Evaluate(context.Background(), testContext(), nil, 0)

	assert.True(t, eval.Fallback)
	assert.Equal(t, FallbackModelLabel, eval.ModelLabel)
	// Majority: 2x BUY vs 1x HOLD.
	assert.Equal(t, domain.SignalBuy, eval.Decision.FinalSignal)
	assert.InDelta(t, (0.82+0.50+0.70)/3, eval.Decision.Confidence, 1e-9)
}

func TestEvaluateMissingCredentialsFallsBack(t *testing.T) {
	s := New(Config{Enabled: true, Endpoint: "http://llm.local", APIKey: ""})

	eval := s.Evaluate(context.Background(), testContext(), nil, 0)

	assert.True(t, eval.Fallback)
	assert.Equal(t, FallbackModelLabel, eval.ModelLabel)
}

func TestEvaluateDisabledFallsBack(t *testing.T) {
	s := New(Config{Enabled: false, APIKey: "secret"})

	eval := s.Evaluate(context.Background(), testContext(), nil, 0)
	assert.True(t, eval.Fallback)
}

func TestEvaluateServerDownFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	s := New(Config{Enabled: true, Endpoint: srv.URL, APIKey: "secret", Timeout: 500 * time.Millisecond})

	eval := s.Evaluate(context.Background(), testContext(), nil, 0)
	assert.True(t, eval.Fallback)
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		want    domain.Signal
	}{
		{
			name:    "bare JSON",
			content: `{"final_signal":"SELL","confidence":0.7,"reasoning":"breakdown"}`,
			want:    domain.SignalSell,
		},
		{
			name:    "json code fence",
			content: "```json\n{\"final_signal\":\"BUY\",\"confidence\":0.8,\"reasoning\":\"x\"}\n```",
			want:    domain.SignalBuy,
		},
		{
			name:    "plain code fence",
			content: "```\n{\"final_signal\":\"HOLD\",\"confidence\":0.5,\"reasoning\":\"x\"}\n```",
			want:    domain.SignalHold,
		},
		{name: "prose", content: "buy it", wantErr: true},
		{name: "bad signal", content: `{"final_signal":"LONG","confidence":0.5}`, wantErr: true},
		{name: "confidence out of range", content: `{"final_signal":"BUY","confidence":1.4}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecision(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.FinalSignal)
		})
	}
}

func TestParseDecisionDerivesDirection(t *testing.T) {
	got, err := ParseDecision(`{"final_signal":"SELL","confidence":0.7,"reasoning":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionShort, got.TradeDirection)
}

func TestFallbackMajorityVote(t *testing.T) {
	tests := []struct {
		name    string
		results []domain.AnalysisResult
		want    domain.Signal
	}{
		{"empty results hold", nil, domain.SignalHold},
		{
			"clear majority",
			[]domain.AnalysisResult{
				{Signal: domain.SignalBuy, Confidence: 0.8},
				{Signal: domain.SignalBuy, Confidence: 0.7},
				{Signal: domain.SignalHold, Confidence: 0.5},
			},
			domain.SignalBuy,
		},
		{
			"tie resolves to less active",
			[]domain.AnalysisResult{
				{Signal: domain.SignalBuy, Confidence: 0.8},
				{Signal: domain.SignalHold, Confidence: 0.5},
			},
			domain.SignalHold,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fallback(tt.results)
			assert.Equal(t, tt.want, got.FinalSignal)
		})
	}
}

func TestFallbackMeanConfidence(t *testing.T) {
	got := Fallback([]domain.AnalysisResult{
		{Signal: domain.SignalBuy, Confidence: 0.9},
		{Signal: domain.SignalBuy, Confidence: 0.5},
	})
	assert.InDelta(t, 0.7, got.Confidence, 1e-9)
	assert.Equal(t, domain.DirectionLong, got.TradeDirection)
}

func TestPeakMode(t *testing.T) {
	assert.True(t, PeakMode(domain.SessionOpeningBurst, domain.RegimeVolatile, 0))
	assert.True(t, PeakMode(domain.SessionPowerHour, domain.RegimeVolatile, 0))
	assert.False(t, PeakMode(domain.SessionMidday, domain.RegimeVolatile, 0))
	assert.False(t, PeakMode(domain.SessionOpeningBurst, domain.RegimeTrending, 0))
	assert.False(t, PeakMode(domain.SessionOpeningBurst, domain.RegimeVolatile, 1))
}

func TestBuildPromptVariants(t *testing.T) {
	dctx := testContext()
	memory := []domain.StrategyMemoryEntry{
		{FinalSignal: domain.SignalBuy, Confidence: 0.7, Regime: domain.RegimeTrending},
	}

	long := BuildPrompt(dctx, memory, false)
	assert.Contains(t, long, "NIFTY50")
	assert.Contains(t, long, "trend-agent")
	assert.Contains(t, long, "Recent decisions")
	assert.Contains(t, long, "Opening burst")

	short := BuildPrompt(dctx, memory, true)
	assert.Contains(t, short, "NIFTY50")
	assert.NotContains(t, short, "Recent decisions")
	assert.Less(t, len(short), len(long))
}
