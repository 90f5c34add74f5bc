package strategist

import (
	"fmt"
	"strings"

	"github.com/marketmind/decisioncore/internal/domain"
)

const systemPrompt = `You are the primary strategist for an intraday equity decision engine.
Given agent analyses and market context, respond with a single JSON object:
{"final_signal":"BUY|SELL|HOLD|WATCH","confidence":0.0-1.0,"reasoning":"...",
"entry_price":null,"target_price":null,"stop_loss":null,
"estimated_hold_minutes":null,"trade_direction":"LONG|SHORT|FLAT"}
Respond with JSON only.`

// BuildPrompt renders the user prompt for one cycle. The short variant is
// used in peak mode where the 1.2 s budget leaves no room for a long read.
func BuildPrompt(dctx domain.DecisionContext, memory []domain.StrategyMemoryEntry, short bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Symbol: %s\n", dctx.Symbol)
	fmt.Fprintf(&b, "Latest close: %.2f\n", dctx.LatestClose)
	fmt.Fprintf(&b, "Market regime: %s\n", dctx.Regime)
	fmt.Fprintf(&b, "Trading session: %s\n", dctx.TradingSession)
	fmt.Fprintf(&b, "Directional bias: %s\n", dctx.DirectionalBias)
	fmt.Fprintf(&b, "Momentum state: %s\n", dctx.MomentumState)

	b.WriteString("\nAgent analyses:\n")
	for _, r := range dctx.AgentResults {
		weight := dctx.AdaptiveWeights[r.AgentName]
		fmt.Fprintf(&b, "- %s [weight %.2f]: %s (%.2f)", r.AgentName, weight, r.Signal, r.Confidence)
		if !short && r.Summary != "" {
			fmt.Fprintf(&b, " -- %s", r.Summary)
		}
		b.WriteString("\n")
	}

	if short {
		b.WriteString("\nDecide now. JSON only.\n")
		return b.String()
	}

	if len(memory) > 0 {
		b.WriteString("\nRecent decisions (newest first):\n")
		for _, m := range memory {
			fmt.Fprintf(&b, "- %s (%.2f) regime=%s divergence=%t\n",
				m.FinalSignal, m.Confidence, m.Regime, m.DivergenceFlag)
		}
	}

	b.WriteString("\nSession guidance:\n")
	switch dctx.TradingSession {
	case domain.SessionOpeningBurst:
		b.WriteString("Opening burst: moves are fast and tradable, both directions allowed.\n")
	case domain.SessionPowerHour:
		b.WriteString("Power hour: final positioning window, long entries only.\n")
	case domain.SessionMidday:
		b.WriteString("Midday consolidation: entries are gated, prefer WATCH or HOLD.\n")
	default:
		b.WriteString("Market closed: no actionable entries.\n")
	}

	b.WriteString("\nGive the trade levels (entry, target, stop) when signalling BUY or SELL.\n")
	return b.String()
}
