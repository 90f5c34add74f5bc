package strategist

import (
	"fmt"

	"github.com/marketmind/decisioncore/internal/domain"
)

// fallbackOrder fixes tie-breaking for the majority vote: on equal counts the
// less active signal wins, keeping the fallback conservative.
var fallbackOrder = []domain.Signal{
	domain.SignalHold,
	domain.SignalWatch,
	domain.SignalBuy,
	domain.SignalSell,
}

// Fallback is the deterministic stand-in for the LLM: majority vote over the
// agent signals, confidence equal to the mean agent confidence.
func Fallback(results []domain.AnalysisResult) domain.StrategistDecision {
	if len(results) == 0 {
		return domain.StrategistDecision{
			FinalSignal:    domain.SignalHold,
			Confidence:     0.0,
			Reasoning:      "fallback: no agent results",
			TradeDirection: domain.DirectionFlat,
		}
	}

	counts := make(map[domain.Signal]int, 4)
	var confidenceSum float64
	for _, r := range results {
		counts[r.Signal]++
		confidenceSum += r.Confidence
	}

	winner := domain.SignalHold
	best := -1
	for _, s := range fallbackOrder {
		if counts[s] > best {
			winner = s
			best = counts[s]
		}
	}

	confidence := confidenceSum / float64(len(results))

	return domain.StrategistDecision{
		FinalSignal: winner,
		Confidence:  confidence,
		Reasoning: fmt.Sprintf("fallback: majority vote %s (%d/%d agents), mean confidence %.2f",
			winner, counts[winner], len(results), confidence),
		TradeDirection: domain.DirectionForSignal(winner),
	}
}
