package engine

import (
	"fmt"

	"github.com/marketmind/decisioncore/internal/domain"
)

// GateInput is everything the discipline chain needs. DivergenceFlag is the
// pre-gate strategist/consensus comparison and is never modified by the
// chain; persisted decisions keep the raw disagreement.
type GateInput struct {
	Signal           domain.Signal
	Confidence       float64
	Reasoning        string
	Consensus        domain.ConsensusResult
	Session          domain.TradingSession
	Regime           domain.MarketRegime
	Bias             domain.DirectionalBias
	DivergenceFlag   bool
	DivergenceStreak int
}

// GateResult is the post-chain triple plus the names of the gates that fired.
type GateResult struct {
	Signal     domain.Signal
	Confidence float64
	Reasoning  string
	Fired      []string
}

const (
	authorityConfidenceMin  = 0.65
	divergencePenaltyFactor = 0.85
	divergencePenaltyFloor  = 0.50
	minActionableConfidence = 0.65
	divergenceStreakLimit   = 2
)

// ApplyGates runs the discipline chain in its fixed order. The strategist
// signal is authoritative; every gate can only move the outcome toward a less
// active signal, never a more active one.
func ApplyGates(in GateInput) GateResult {
	res := GateResult{
		Signal:     in.Signal,
		Confidence: in.Confidence,
		Reasoning:  in.Reasoning,
	}

	res = authorityChain(in, res)
	res = sessionGate(in, res)
	res = biasGate(in, res)
	res = divergencePenalty(in, res)
	res = multiFilter(in, res)
	res = eligibilityGuard(in, res)

	return res
}

func fire(res GateResult, gate string) GateResult {
	res.Fired = append(res.Fired, gate)
	res.Reasoning = fmt.Sprintf("%s [OVERRIDE: %s]", res.Reasoning, gate)
	return res
}

// authorityChain lets a confident, disagreeing consensus replace the
// strategist's answer, but only downward in the activity ordering.
func authorityChain(in GateInput, res GateResult) GateResult {
	if !in.DivergenceFlag {
		return res
	}
	if in.Consensus.Conviction() < authorityConfidenceMin {
		return res
	}
	if in.Consensus.FinalSignal.MoreActiveThan(res.Signal) {
		return res
	}
	res.Signal = in.Consensus.FinalSignal
	res.Confidence = in.Consensus.Conviction()
	return fire(res, "ConsensusAuthority")
}

// sessionGate blocks active signals outside the two tradable windows.
// OFF_HOURS demotes all the way to HOLD, midday keeps a WATCH.
func sessionGate(in GateInput, res GateResult) GateResult {
	if res.Signal != domain.SignalBuy && res.Signal != domain.SignalSell {
		return res
	}
	switch in.Session {
	case domain.SessionOffHours:
		res.Signal = domain.SignalHold
		return fire(res, "SessionGate")
	case domain.SessionMidday:
		res.Signal = domain.SignalWatch
		return fire(res, "SessionGate")
	}
	return res
}

// biasGate requires the directional bias to back the trade side.
func biasGate(in GateInput, res GateResult) GateResult {
	switch res.Signal {
	case domain.SignalBuy:
		if !in.Bias.Bullish() {
			res.Signal = domain.SignalWatch
			return fire(res, "BiasGate")
		}
	case domain.SignalSell:
		if !in.Bias.Bearish() {
			res.Signal = domain.SignalWatch
			return fire(res, "BiasGate")
		}
	}
	return res
}

// divergencePenalty discounts confidence on disagreement and demotes
// persistent divergence outright.
func divergencePenalty(in GateInput, res GateResult) GateResult {
	if !in.DivergenceFlag {
		return res
	}
	res.Confidence *= divergencePenaltyFactor
	if res.Confidence < divergencePenaltyFloor {
		res.Confidence = divergencePenaltyFloor
	}
	if in.DivergenceStreak >= divergenceStreakLimit && res.Signal.MoreActiveThan(domain.SignalWatch) {
		res.Signal = domain.SignalWatch
	}
	return fire(res, "DivergencePenalty")
}

// multiFilter demotes active signals that lack conviction, carry divergence,
// or fall in an inactive session.
func multiFilter(in GateInput, res GateResult) GateResult {
	if !res.Signal.MoreActiveThan(domain.SignalWatch) {
		return res
	}
	if res.Confidence < minActionableConfidence || in.DivergenceFlag || !in.Session.Active() {
		res.Signal = domain.SignalWatch
		return fire(res, "MultiFilter")
	}
	return res
}

// eligibilityGuard is the hard final check before an actionable signal
// leaves the chain.
func eligibilityGuard(in GateInput, res GateResult) GateResult {
	switch res.Signal {
	case domain.SignalBuy:
		if in.Session.Active() &&
			(in.Regime == domain.RegimeVolatile || in.Regime == domain.RegimeTrending) &&
			in.Bias.Bullish() &&
			res.Confidence >= minActionableConfidence &&
			!in.DivergenceFlag {
			return res
		}
	case domain.SignalSell:
		if in.Session == domain.SessionOpeningBurst &&
			in.Regime == domain.RegimeVolatile &&
			in.Bias.Bearish() &&
			res.Confidence >= minActionableConfidence &&
			!in.DivergenceFlag {
			return res
		}
	default:
		return res
	}
	res.Signal = domain.SignalWatch
	return fire(res, "EligibilityGuard")
}
