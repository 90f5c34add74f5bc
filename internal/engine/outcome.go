package engine

import (
	"github.com/marketmind/decisioncore/internal/domain"
)

const (
	fastWinMaxMinutes = 5.0
	slowWinMinMinutes = 15.0

	// DefaultProfitThresholdPct separates a real edge from spread noise.
	// Overridable through configuration.
	DefaultProfitThresholdPct = 0.10
)

// OutcomePercent computes signed P&L percent for a resolved trade. SELL
// decisions profit when the price falls, so the move is negated.
func OutcomePercent(signal domain.Signal, entryPrice, currentPrice float64) float64 {
	if entryPrice == 0 {
		return 0
	}
	pct := (currentPrice - entryPrice) / entryPrice * 100.0
	if signal == domain.SignalSell {
		pct = -pct
	}
	return pct
}

// OutcomeInput is everything needed to grade one resolved decision.
// TargetPrice and StopLoss are nil when the strategist did not set them.
type OutcomeInput struct {
	Signal         domain.Signal
	EntryPrice     float64
	CurrentPrice   float64
	TargetPrice    *float64
	StopLoss       *float64
	OutcomePercent float64
	HoldMinutes    float64
}

// LabelOutcome grades a resolved decision. Target and stop checks win over
// the time-based labels; a flat or losing trade with neither level touched
// is NO_EDGE.
func LabelOutcome(in OutcomeInput) domain.OutcomeLabel {
	long := in.Signal != domain.SignalSell

	if in.TargetPrice != nil {
		if (long && in.CurrentPrice >= *in.TargetPrice) || (!long && in.CurrentPrice <= *in.TargetPrice) {
			return domain.OutcomeTargetHit
		}
	}
	if in.StopLoss != nil {
		if (long && in.CurrentPrice <= *in.StopLoss) || (!long && in.CurrentPrice >= *in.StopLoss) {
			return domain.OutcomeStopOut
		}
	}
	if in.OutcomePercent > 0 {
		if in.HoldMinutes <= fastWinMaxMinutes {
			return domain.OutcomeFastWin
		}
		if in.HoldMinutes >= slowWinMinMinutes {
			return domain.OutcomeSlowWin
		}
	}
	return domain.OutcomeNoEdge
}

// AgentWin says whether one agent's signal was vindicated by the market.
// Profitable outcomes credit agents that leaned with the trade direction,
// losses credit the agents that stayed out.
func AgentWin(agentSignal, finalSignal domain.Signal, outcomePercent, profitThresholdPct float64) bool {
	profitable := outcomePercent > profitThresholdPct
	agreed := agentSignal == finalSignal
	if profitable {
		return agreed
	}
	return !agreed
}
