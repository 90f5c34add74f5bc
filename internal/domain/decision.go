package domain

import "time"

// DecisionVersion is the current FinalDecision schema version. New fields are
// nullable and the factory accepts older rows without them.
const DecisionVersion = 9

// OrchestratorVersion identifies the pipeline build that produced a decision.
const OrchestratorVersion = "decisioncore/2.4"

// FinalDecision is the fully-traced output of one pipeline invocation.
type FinalDecision struct {
	Symbol               string             `json:"symbol"`
	Timestamp            time.Time          `json:"timestamp"`
	Agents               []AnalysisResult   `json:"agents"`
	FinalSignal          Signal             `json:"final_signal"`
	Confidence           float64            `json:"confidence"`
	Metadata             map[string]any     `json:"metadata,omitempty"`
	TraceID              string             `json:"trace_id"`
	DecisionVersion      int                `json:"decision_version"`
	OrchestratorVersion  string             `json:"orchestrator_version"`
	AgentCount           int                `json:"agent_count"`
	DecisionLatencyMs    int64              `json:"decision_latency_ms"`
	ConsensusScore       float64            `json:"consensus_score"`
	AgentWeightSnapshot  map[string]float64 `json:"agent_weight_snapshot,omitempty"`
	AdaptiveAgentWeights map[string]float64 `json:"adaptive_agent_weights,omitempty"`
	MarketRegime         MarketRegime       `json:"market_regime"`
	AIReasoning          string             `json:"ai_reasoning"`
	DivergenceFlag       bool               `json:"divergence_flag"`
	TradingSession       TradingSession     `json:"trading_session"`
	EntryPrice           *float64           `json:"entry_price,omitempty"`
	TargetPrice          *float64           `json:"target_price,omitempty"`
	StopLoss             *float64           `json:"stop_loss,omitempty"`
	EstimatedHoldMinutes *int               `json:"estimated_hold_minutes,omitempty"`
	TradeDirection       TradeDirection     `json:"trade_direction"`
	DirectionalBias      DirectionalBias    `json:"directional_bias"`
}

// OutcomeLabel grades a resolved trade outcome.
type OutcomeLabel string

const (
	OutcomeTargetHit OutcomeLabel = "TARGET_HIT"
	OutcomeStopOut   OutcomeLabel = "STOP_OUT"
	OutcomeFastWin   OutcomeLabel = "FAST_WIN"
	OutcomeSlowWin   OutcomeLabel = "SLOW_WIN"
	OutcomeNoEdge    OutcomeLabel = "NO_EDGE"
)

// DecisionRecord is the persisted form of a FinalDecision. Outcome fields are
// the only part mutated after the initial insert.
type DecisionRecord struct {
	ID int64 `json:"id"`
	FinalDecision
	SavedAt            time.Time     `json:"saved_at"`
	OutcomePercent     *float64      `json:"outcome_percent,omitempty"`
	OutcomeHoldMinutes *int          `json:"outcome_hold_minutes,omitempty"`
	OutcomeResolved    bool          `json:"outcome_resolved"`
	OutcomeLabel       *OutcomeLabel `json:"outcome_label,omitempty"`
	DecisionMode       DecisionMode  `json:"decision_mode"`
}

// DecisionSnapshot is the 15-field projection published on the snapshot
// stream and returned by the latest-per-symbol query.
type DecisionSnapshot struct {
	Symbol          string          `json:"symbol"`
	FinalSignal     Signal          `json:"final_signal"`
	Confidence      float64         `json:"confidence"`
	ConsensusScore  float64         `json:"consensus_score"`
	MarketRegime    MarketRegime    `json:"market_regime"`
	TradingSession  TradingSession  `json:"trading_session"`
	DirectionalBias DirectionalBias `json:"directional_bias"`
	TradeDirection  TradeDirection  `json:"trade_direction"`
	DivergenceFlag  bool            `json:"divergence_flag"`
	AgentCount      int             `json:"agent_count"`
	LatencyMs       int64           `json:"decision_latency_ms"`
	AIReasoning     string          `json:"ai_reasoning"`
	TraceID         string          `json:"trace_id"`
	Timestamp       time.Time       `json:"timestamp"`
	SavedAt         time.Time       `json:"saved_at"`
}

// Snapshot projects a record into its stream/broadcast form.
func (r *DecisionRecord) Snapshot() DecisionSnapshot {
	return DecisionSnapshot{
		Symbol:          r.Symbol,
		FinalSignal:     r.FinalSignal,
		Confidence:      r.Confidence,
		ConsensusScore:  r.ConsensusScore,
		MarketRegime:    r.MarketRegime,
		TradingSession:  r.TradingSession,
		DirectionalBias: r.DirectionalBias,
		TradeDirection:  r.TradeDirection,
		DivergenceFlag:  r.DivergenceFlag,
		AgentCount:      r.AgentCount,
		LatencyMs:       r.DecisionLatencyMs,
		AIReasoning:     r.AIReasoning,
		TraceID:         r.TraceID,
		Timestamp:       r.Timestamp,
		SavedAt:         r.SavedAt,
	}
}

// AgentPerformanceSnapshot carries the running counters and derived scores
// for one agent. Sole writer is the store's projection pipeline.
type AgentPerformanceSnapshot struct {
	AgentName               string    `json:"agent_name"`
	TotalDecisions          int64     `json:"total_decisions"`
	SumConfidence           float64   `json:"sum_confidence"`
	SumLatencyMs            float64   `json:"sum_latency_ms"`
	SumWins                 int64     `json:"sum_wins"`
	AvgConfidence           float64   `json:"avg_confidence"`
	AvgLatencyMs            float64   `json:"avg_latency_ms"`
	WinRate                 float64   `json:"win_rate"`
	LatencyWeight           float64   `json:"latency_weight"`
	HistoricalAccuracyScore float64   `json:"historical_accuracy_score"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// AgentFeedback is the market-truth view of one agent, used by the adaptive
// weight calculation.
type AgentFeedback struct {
	AgentName         string  `json:"agent_name"`
	WinRate           float64 `json:"win_rate"`
	AvgConfidence     float64 `json:"avg_confidence"`
	NormalizedLatency float64 `json:"normalized_latency"`
	ResolvedOutcomes  int     `json:"resolved_outcomes"`
}

// DecisionMetricsProjection is the per-symbol derived row maintained on save.
type DecisionMetricsProjection struct {
	Symbol           string    `json:"symbol"`
	LastConfidence   float64   `json:"last_confidence"`
	ConfidenceSlope5 float64   `json:"confidence_slope_5"`
	DivergenceStreak int       `json:"divergence_streak"`
	MomentumStreak   int       `json:"momentum_streak"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// EdgeCondition accumulates win rates for a (session, regime, bias, signal)
// combination. Only LIVE-mode rows contribute.
type EdgeCondition struct {
	Session  TradingSession  `json:"session"`
	Regime   MarketRegime    `json:"regime"`
	Bias     DirectionalBias `json:"bias"`
	Signal   Signal          `json:"signal"`
	WinCount int64           `json:"win_count"`
	Total    int64           `json:"total_count"`
}

// WinRate returns winCount/total, zero when no samples exist.
func (e EdgeCondition) WinRate() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.WinCount) / float64(e.Total)
}
