package engine

import (
	"github.com/marketmind/decisioncore/internal/domain"
)

// signalScore maps signals onto the [-1, +1] axis used by the weighted
// consensus. WATCH leans mildly positive: it expresses interest, not exit.
var signalScore = map[domain.Signal]float64{
	domain.SignalBuy:   1.0,
	domain.SignalSell:  -1.0,
	domain.SignalHold:  0.0,
	domain.SignalWatch: 0.5,
}

const (
	buyThreshold  = 0.3
	sellThreshold = -0.3
)

// Consensus computes the performance-weighted linear combination of agent
// signals. Agents missing from weights contribute with weight 1.0. An empty
// result list yields {HOLD, 0.0}; callers guard against it, this is the
// backstop.
func Consensus(results []domain.AnalysisResult, weights map[string]float64) domain.ConsensusResult {
	if len(results) == 0 {
		return domain.ConsensusResult{
			FinalSignal:          domain.SignalHold,
			NormalizedConfidence: 0.0,
			PerAgentWeights:      map[string]float64{},
		}
	}

	perAgent := make(map[string]float64, len(results))
	var weightedSum, totalWeight float64
	for _, r := range results {
		w, ok := weights[r.AgentName]
		if !ok {
			w = 1.0
		}
		perAgent[r.AgentName] = w
		weightedSum += signalScore[r.Signal] * w
		totalWeight += w
	}

	rawScore := 0.0
	if totalWeight > 0 {
		rawScore = weightedSum / totalWeight
	}

	var signal domain.Signal
	switch {
	case rawScore > buyThreshold:
		signal = domain.SignalBuy
	case rawScore < sellThreshold:
		signal = domain.SignalSell
	case rawScore > 0.0:
		signal = domain.SignalWatch
	default:
		signal = domain.SignalHold
	}

	return domain.ConsensusResult{
		FinalSignal:          signal,
		NormalizedConfidence: (rawScore + 1.0) / 2.0,
		PerAgentWeights:      perAgent,
	}
}

// DivergenceStreak counts the leading run of divergent decisions in strategy
// memory, most-recent first. The streak breaks at the first aligned decision.
func DivergenceStreak(memory []domain.StrategyMemoryEntry) int {
	streak := 0
	for _, entry := range memory {
		if !entry.DivergenceFlag {
			break
		}
		streak++
	}
	return streak
}
