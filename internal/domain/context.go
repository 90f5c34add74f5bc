package domain

import "time"

// DecisionContext is the immutable state threaded through one pipeline
// invocation. Assembly produces the pre-strategy phase; later stages never
// mutate a context in place, they derive a new one through the With* copy
// factories. Slices and maps are defensively copied on assembly so later
// mutation of the source containers is invisible to the gate chain.
type DecisionContext struct {
	Symbol          string
	Timestamp       time.Time
	TraceID         string
	Regime          MarketRegime
	TradingSession  TradingSession
	LatestClose     float64
	AgentResults    []AnalysisResult
	AdaptiveWeights map[string]float64
	DirectionalBias DirectionalBias
	MomentumState   MarketState

	// Post-strategy enrichments, nil/zero until the matching With* call.
	StrategistDecision *StrategistDecision
	ConsensusScore     float64
	DivergenceFlag     bool
	ModelLabel         string
	DivergenceStreak   int
	PeakMode           bool
}

// AssembleContext builds the pre-strategy context, copying agentResults and
// adaptiveWeights.
func AssembleContext(
	trigger Trigger,
	regime MarketRegime,
	session TradingSession,
	latestClose float64,
	agentResults []AnalysisResult,
	adaptiveWeights map[string]float64,
	bias DirectionalBias,
	momentum MarketState,
) DecisionContext {
	results := make([]AnalysisResult, len(agentResults))
	copy(results, agentResults)
	weights := make(map[string]float64, len(adaptiveWeights))
	for k, v := range adaptiveWeights {
		weights[k] = v
	}

	return DecisionContext{
		Symbol:          trigger.Symbol,
		Timestamp:       trigger.TriggeredAt,
		TraceID:         trigger.TraceID,
		Regime:          regime,
		TradingSession:  session,
		LatestClose:     latestClose,
		AgentResults:    results,
		AdaptiveWeights: weights,
		DirectionalBias: bias,
		MomentumState:   momentum,
	}
}

// WithStrategist returns a copy enriched with the strategist's answer and the
// model that produced it.
func (c DecisionContext) WithStrategist(decision StrategistDecision, modelLabel string, peakMode bool) DecisionContext {
	c.StrategistDecision = &decision
	c.ModelLabel = modelLabel
	c.PeakMode = peakMode
	return c
}

// WithConsensus returns a copy enriched with the consensus score and the
// pre-gate divergence comparison against the strategist signal.
func (c DecisionContext) WithConsensus(consensus ConsensusResult) DecisionContext {
	c.ConsensusScore = consensus.NormalizedConfidence
	if c.StrategistDecision != nil {
		c.DivergenceFlag = c.StrategistDecision.FinalSignal != consensus.FinalSignal
	}
	return c
}

// WithDivergenceStreak returns a copy carrying the leading-run streak from
// strategy memory.
func (c DecisionContext) WithDivergenceStreak(streak int) DecisionContext {
	c.DivergenceStreak = streak
	return c
}
