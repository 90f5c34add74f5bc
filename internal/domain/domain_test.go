package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignalActivityOrdering(t *testing.T) {
	assert.True(t, SignalBuy.MoreActiveThan(SignalWatch))
	assert.True(t, SignalSell.MoreActiveThan(SignalHold))
	assert.True(t, SignalWatch.MoreActiveThan(SignalHold))

	// BUY and SELL share the top rank; neither outranks the other.
	assert.False(t, SignalBuy.MoreActiveThan(SignalSell))
	assert.False(t, SignalSell.MoreActiveThan(SignalBuy))
	assert.False(t, SignalHold.MoreActiveThan(SignalHold))
}

func TestSignalValid(t *testing.T) {
	for _, s := range []Signal{SignalBuy, SignalSell, SignalHold, SignalWatch} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Signal("SHORT").Valid())
	assert.False(t, Signal("").Valid())
}

func TestTradingSessionActive(t *testing.T) {
	assert.True(t, SessionOpeningBurst.Active())
	assert.True(t, SessionPowerHour.Active())
	assert.False(t, SessionMidday.Active())
	assert.False(t, SessionOffHours.Active())
}

func TestDirectionalBiasFamilies(t *testing.T) {
	assert.True(t, BiasStrongBullish.Bullish())
	assert.True(t, BiasBullish.Bullish())
	assert.False(t, BiasNeutral.Bullish())
	assert.True(t, BiasStrongBearish.Bearish())
	assert.True(t, BiasBearish.Bearish())
	assert.False(t, BiasNeutral.Bearish())
}

func TestParseDirectionalBias(t *testing.T) {
	assert.Equal(t, BiasBullish, ParseDirectionalBias("BULLISH"))
	assert.Equal(t, BiasNeutral, ParseDirectionalBias("bullish"))
	assert.Equal(t, BiasNeutral, ParseDirectionalBias("garbage"))
}

func TestDirectionForSignal(t *testing.T) {
	assert.Equal(t, DirectionLong, DirectionForSignal(SignalBuy))
	assert.Equal(t, DirectionShort, DirectionForSignal(SignalSell))
	assert.Equal(t, DirectionFlat, DirectionForSignal(SignalHold))
	assert.Equal(t, DirectionFlat, DirectionForSignal(SignalWatch))
}

func TestAnalysisResultValidate(t *testing.T) {
	tests := []struct {
		name           string
		in             AnalysisResult
		wantSignal     Signal
		wantConfidence float64
	}{
		{"well formed passes through", AnalysisResult{Signal: SignalBuy, Confidence: 0.8}, SignalBuy, 0.8},
		{"unknown signal defaults to hold", AnalysisResult{Signal: "LONG", Confidence: 0.8}, SignalHold, 0.8},
		{"negative confidence clamps to zero", AnalysisResult{Signal: SignalSell, Confidence: -0.5}, SignalSell, 0.0},
		{"overshoot clamps to one", AnalysisResult{Signal: SignalSell, Confidence: 1.7}, SignalSell, 1.0},
		{"NaN resets to zero", AnalysisResult{Signal: SignalBuy, Confidence: math.NaN()}, SignalBuy, 0.0},
		{"infinity resets to zero", AnalysisResult{Signal: SignalBuy, Confidence: math.Inf(1)}, SignalBuy, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Validate()
			assert.Equal(t, tt.wantSignal, got.Signal)
			assert.Equal(t, tt.wantConfidence, got.Confidence)
		})
	}
}

func TestDegradedResult(t *testing.T) {
	got := DegradedResult("trend-agent", errors.New("connection refused"))

	assert.Equal(t, "trend-agent", got.AgentName)
	assert.Equal(t, SignalHold, got.Signal)
	assert.Equal(t, 0.0, got.Confidence)
	assert.Equal(t, "connection refused", got.Metadata["error"])
}

func TestAssembleContextDefensiveCopies(t *testing.T) {
	results := []AnalysisResult{{AgentName: "trend", Signal: SignalBuy, Confidence: 0.8}}
	weights := map[string]float64{"trend": 1.2}

	ctx := AssembleContext(
		Trigger{Symbol: "NIFTY50", TriggeredAt: time.Now(), TraceID: "t-1"},
		RegimeTrending, SessionOpeningBurst, 200.0,
		results, weights, BiasBullish, StateBuilding,
	)

	results[0].Signal = SignalSell
	weights["trend"] = 0.1

	assert.Equal(t, SignalBuy, ctx.AgentResults[0].Signal)
	assert.Equal(t, 1.2, ctx.AdaptiveWeights["trend"])
}

func TestContextEnrichmentIsCopyOnWrite(t *testing.T) {
	base := AssembleContext(
		Trigger{Symbol: "NIFTY50", TraceID: "t-1"},
		RegimeTrending, SessionOpeningBurst, 200.0,
		nil, nil, BiasBullish, StateCalm,
	)

	enriched := base.
		WithStrategist(StrategistDecision{FinalSignal: SignalBuy, Confidence: 0.7}, "deep", false).
		WithConsensus(ConsensusResult{FinalSignal: SignalSell, NormalizedConfidence: 0.8}).
		WithDivergenceStreak(2)

	assert.Nil(t, base.StrategistDecision)
	assert.Zero(t, base.ConsensusScore)
	assert.Zero(t, base.DivergenceStreak)

	assert.NotNil(t, enriched.StrategistDecision)
	assert.Equal(t, 0.8, enriched.ConsensusScore)
	assert.True(t, enriched.DivergenceFlag)
	assert.Equal(t, 2, enriched.DivergenceStreak)
}

func TestWithConsensusDivergenceComparison(t *testing.T) {
	base := DecisionContext{}.WithStrategist(StrategistDecision{FinalSignal: SignalBuy}, "deep", false)

	aligned := base.WithConsensus(ConsensusResult{FinalSignal: SignalBuy})
	assert.False(t, aligned.DivergenceFlag)

	divergent := base.WithConsensus(ConsensusResult{FinalSignal: SignalHold})
	assert.True(t, divergent.DivergenceFlag)

	// No strategist (replay path): flag stays false by construction.
	replay := DecisionContext{}.WithConsensus(ConsensusResult{FinalSignal: SignalBuy})
	assert.False(t, replay.DivergenceFlag)
}

func TestDecisionRecordSnapshot(t *testing.T) {
	now := time.Now()
	rec := DecisionRecord{
		ID: 7,
		FinalDecision: FinalDecision{
			Symbol:            "NIFTY50",
			Timestamp:         now,
			FinalSignal:       SignalBuy,
			Confidence:        0.78,
			ConsensusScore:    0.81,
			MarketRegime:      RegimeTrending,
			TradingSession:    SessionOpeningBurst,
			DirectionalBias:   BiasStrongBullish,
			TradeDirection:    DirectionLong,
			AgentCount:        4,
			DecisionLatencyMs: 950,
			AIReasoning:       "breakout",
			TraceID:           "t-42",
		},
		SavedAt: now,
	}

	snap := rec.Snapshot()

	assert.Equal(t, "NIFTY50", snap.Symbol)
	assert.Equal(t, SignalBuy, snap.FinalSignal)
	assert.Equal(t, 0.78, snap.Confidence)
	assert.Equal(t, 4, snap.AgentCount)
	assert.Equal(t, int64(950), snap.LatencyMs)
	assert.Equal(t, "t-42", snap.TraceID)
	assert.Equal(t, now, snap.SavedAt)
}

func TestEdgeConditionWinRate(t *testing.T) {
	assert.Equal(t, 0.0, EdgeCondition{}.WinRate())
	assert.Equal(t, 0.5, EdgeCondition{WinCount: 2, Total: 4}.WinRate())
	assert.Equal(t, 1.0, EdgeCondition{WinCount: 3, Total: 3}.WinRate())
}

func TestConsensusConviction(t *testing.T) {
	// Strong SELL near 0 and strong BUY near 1 carry the same conviction.
	assert.InDelta(t, 0.8, ConsensusResult{NormalizedConfidence: 0.2}.Conviction(), 1e-9)
	assert.InDelta(t, 0.8, ConsensusResult{NormalizedConfidence: 0.8}.Conviction(), 1e-9)
	assert.InDelta(t, 0.5, ConsensusResult{NormalizedConfidence: 0.5}.Conviction(), 1e-9)
}
