// Package engine holds the deterministic scoring machinery: adaptive agent
// weights, the performance-weighted consensus, the discipline gate chain, and
// outcome grading. Everything here is pure; storage and transport live
// elsewhere.
package engine

import (
	"github.com/marketmind/decisioncore/internal/domain"
)

const (
	// WeightFloor and WeightCeil bound every adaptive weight.
	WeightFloor = 0.1
	WeightCeil  = 2.0

	defaultBaseWeight = 1.0
)

// regimeBoost maps (capability, regime) to an additive weight boost. Agents
// declare a capability; the table is the whole policy, there is no name
// matching.
var regimeBoost = map[domain.AgentCapability]map[domain.MarketRegime]float64{
	domain.CapabilityTrend:     {domain.RegimeTrending: 0.20},
	domain.CapabilityRisk:      {domain.RegimeVolatile: 0.20},
	domain.CapabilityPortfolio: {domain.RegimeRanging: 0.15},
}

// RegimeBoost looks up the additive boost for a capability under a regime.
func RegimeBoost(capability domain.AgentCapability, regime domain.MarketRegime) float64 {
	if byRegime, ok := regimeBoost[capability]; ok {
		return byRegime[regime]
	}
	return 0.0
}

// AgentScoreInput is everything known about one agent ahead of weighting.
// Performance and Feedback are nil when the store had nothing; the
// calculator then falls back to neutral defaults.
type AgentScoreInput struct {
	AgentName   string
	Capability  domain.AgentCapability
	Performance *domain.AgentPerformanceSnapshot
	Feedback    *domain.AgentFeedback
}

// ComputeAdaptiveWeight derives one agent's multiplier from historical
// accuracy, latency, market-truth feedback, and regime affinity. The result
// is always inside [WeightFloor, WeightCeil].
func ComputeAdaptiveWeight(in AgentScoreInput, regime domain.MarketRegime) float64 {
	base := defaultBaseWeight
	if in.Performance != nil {
		base = 0.5*in.Performance.HistoricalAccuracyScore - 0.2*in.Performance.LatencyWeight
		if base < WeightFloor {
			base = WeightFloor
		}
	}

	feedbackBoost := 0.0
	if in.Feedback != nil {
		feedbackBoost = 0.4*in.Feedback.WinRate +
			0.3*in.Feedback.AvgConfidence -
			0.2*in.Feedback.NormalizedLatency
	}

	return clamp(base+feedbackBoost+RegimeBoost(in.Capability, regime), WeightFloor, WeightCeil)
}

// ComputeAdaptiveWeights runs the calculation for every agent in the cycle.
func ComputeAdaptiveWeights(inputs []AgentScoreInput, regime domain.MarketRegime) map[string]float64 {
	weights := make(map[string]float64, len(inputs))
	for _, in := range inputs {
		weights[in.AgentName] = ComputeAdaptiveWeight(in, regime)
	}
	return weights
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
