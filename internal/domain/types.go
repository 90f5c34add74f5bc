// Package domain defines the core records and enumerations shared by the
// scheduler, the orchestration pipeline, and the feedback store.
package domain

import (
	"math"
	"time"
)

// Signal is a trading signal emitted by agents, the strategist, and the
// consensus engine.
type Signal string

const (
	SignalBuy   Signal = "BUY"
	SignalSell  Signal = "SELL"
	SignalHold  Signal = "HOLD"
	SignalWatch Signal = "WATCH"
)

// Valid reports whether s is one of the four recognised signals.
func (s Signal) Valid() bool {
	switch s {
	case SignalBuy, SignalSell, SignalHold, SignalWatch:
		return true
	}
	return false
}

// signalActivity ranks signals by how "active" they are. The consensus
// guardrail may only move a decision toward a less active signal, never a
// more active one. BUY and SELL share the top rank.
var signalActivity = map[Signal]int{
	SignalHold:  0,
	SignalWatch: 1,
	SignalBuy:   2,
	SignalSell:  2,
}

// MoreActiveThan reports whether s outranks other in the activity ordering.
func (s Signal) MoreActiveThan(other Signal) bool {
	return signalActivity[s] > signalActivity[other]
}

// MarketRegime classifies recent price behaviour.
type MarketRegime string

const (
	RegimeTrending MarketRegime = "TRENDING"
	RegimeRanging  MarketRegime = "RANGING"
	RegimeVolatile MarketRegime = "VOLATILE"
	RegimeCalm     MarketRegime = "CALM"
	RegimeUnknown  MarketRegime = "UNKNOWN"
)

// TradingSession is a pure function of wall-clock time in the configured zone.
type TradingSession string

const (
	SessionOpeningBurst TradingSession = "OPENING_BURST"
	SessionPowerHour    TradingSession = "POWER_HOUR"
	SessionMidday       TradingSession = "MIDDAY_CONSOLIDATION"
	SessionOffHours     TradingSession = "OFF_HOURS"
)

// Active reports whether BUY/SELL signals can survive the gate chain in this
// session.
func (s TradingSession) Active() bool {
	return s == SessionOpeningBurst || s == SessionPowerHour
}

// MarketState summarises momentum over a window of recent decisions.
type MarketState string

const (
	StateCalm      MarketState = "CALM"
	StateBuilding  MarketState = "BUILDING"
	StateConfirmed MarketState = "CONFIRMED"
	StateWeakening MarketState = "WEAKENING"
)

// DirectionalBias is the five-point ordinal derived by majority vote among
// trend indicators.
type DirectionalBias string

const (
	BiasStrongBullish DirectionalBias = "STRONG_BULLISH"
	BiasBullish       DirectionalBias = "BULLISH"
	BiasNeutral       DirectionalBias = "NEUTRAL"
	BiasBearish       DirectionalBias = "BEARISH"
	BiasStrongBearish DirectionalBias = "STRONG_BEARISH"
)

// Bullish reports membership of the bullish family.
func (b DirectionalBias) Bullish() bool {
	return b == BiasBullish || b == BiasStrongBullish
}

// Bearish reports membership of the bearish family.
func (b DirectionalBias) Bearish() bool {
	return b == BiasBearish || b == BiasStrongBearish
}

// ParseDirectionalBias converts agent metadata into the enum; anything
// unrecognised maps to NEUTRAL.
func ParseDirectionalBias(v string) DirectionalBias {
	switch DirectionalBias(v) {
	case BiasStrongBullish, BiasBullish, BiasNeutral, BiasBearish, BiasStrongBearish:
		return DirectionalBias(v)
	}
	return BiasNeutral
}

// TradeDirection is the position side implied by a decision.
type TradeDirection string

const (
	DirectionLong  TradeDirection = "LONG"
	DirectionShort TradeDirection = "SHORT"
	DirectionFlat  TradeDirection = "FLAT"
)

// DirectionForSignal maps a final signal to its trade direction.
func DirectionForSignal(s Signal) TradeDirection {
	switch s {
	case SignalBuy:
		return DirectionLong
	case SignalSell:
		return DirectionShort
	}
	return DirectionFlat
}

// DecisionMode tags persisted rows so replay output stays out of the
// learning loop.
type DecisionMode string

const (
	ModeLive            DecisionMode = "LIVE"
	ModeReplayConsensus DecisionMode = "REPLAY_CONSENSUS_ONLY"
)

// AgentCapability replaces name-substring matching for regime affinity.
// Agents declare their capability at registration.
type AgentCapability string

const (
	CapabilityTrend      AgentCapability = "TREND"
	CapabilityRisk       AgentCapability = "RISK"
	CapabilityPortfolio  AgentCapability = "PORTFOLIO"
	CapabilityDiscipline AgentCapability = "DISCIPLINE"
)

// Trigger is the unit of work the scheduler hands to the pipeline. Consumed
// exactly once per pipeline invocation.
type Trigger struct {
	Symbol      string    `json:"symbol"`
	TriggeredAt time.Time `json:"triggered_at"`
	TraceID     string    `json:"trace_id"`
}

// AnalysisResult is one agent's output for one cycle.
type AnalysisResult struct {
	AgentName  string                 `json:"agent_name"`
	Summary    string                 `json:"summary"`
	Signal     Signal                 `json:"signal"`
	Confidence float64                `json:"confidence"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Validate clamps an out-of-range or non-finite confidence and defaults an
// unknown signal to HOLD. Agents are external; their payloads are not trusted.
func (r AnalysisResult) Validate() AnalysisResult {
	if !r.Signal.Valid() {
		r.Signal = SignalHold
	}
	if math.IsNaN(r.Confidence) || math.IsInf(r.Confidence, 0) {
		r.Confidence = 0.0
	}
	if r.Confidence < 0 {
		r.Confidence = 0.0
	}
	if r.Confidence > 1 {
		r.Confidence = 1.0
	}
	return r
}

// DegradedResult stands in for a failed agent so the pipeline can continue.
func DegradedResult(agentName string, err error) AnalysisResult {
	return AnalysisResult{
		AgentName:  agentName,
		Summary:    "agent unavailable",
		Signal:     SignalHold,
		Confidence: 0.0,
		Metadata:   map[string]interface{}{"error": err.Error()},
	}
}

// StrategistDecision is the primary strategist's (or the fallback's) answer.
type StrategistDecision struct {
	FinalSignal          Signal         `json:"final_signal"`
	Confidence           float64        `json:"confidence"`
	Reasoning            string         `json:"reasoning"`
	EntryPrice           *float64       `json:"entry_price,omitempty"`
	TargetPrice          *float64       `json:"target_price,omitempty"`
	StopLoss             *float64       `json:"stop_loss,omitempty"`
	EstimatedHoldMinutes *int           `json:"estimated_hold_minutes,omitempty"`
	TradeDirection       TradeDirection `json:"trade_direction,omitempty"`
}

// ConsensusResult is the performance-weighted aggregation of agent signals.
type ConsensusResult struct {
	FinalSignal          Signal             `json:"final_signal"`
	NormalizedConfidence float64            `json:"normalized_confidence"`
	PerAgentWeights      map[string]float64 `json:"per_agent_weights"`
}

// Conviction is the distance from the neutral midpoint on either side of the
// score axis. A strong SELL scores near 0 on the normalized scale but carries
// the same conviction as a strong BUY near 1.
func (c ConsensusResult) Conviction() float64 {
	if c.NormalizedConfidence < 0.5 {
		return 1.0 - c.NormalizedConfidence
	}
	return c.NormalizedConfidence
}

// StrategyMemoryEntry is the 4-field projection of a prior decision fed back
// into the strategist prompt.
type StrategyMemoryEntry struct {
	FinalSignal    Signal       `json:"final_signal"`
	Confidence     float64      `json:"confidence"`
	DivergenceFlag bool         `json:"divergence_flag"`
	Regime         MarketRegime `json:"regime"`
}
