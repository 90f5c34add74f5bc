package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marketmind/decisioncore/internal/domain"
	"github.com/marketmind/decisioncore/internal/engine"
)

// resolveWindow is how far back the batch resolver scans for unresolved
// actionable decisions.
const resolveWindow = 10 * time.Minute

// unresolvedDecision is the slice of a decision row the resolver needs.
type unresolvedDecision struct {
	ID              int64
	TraceID         string
	FinalSignal     domain.Signal
	EntryPrice      float64
	TargetPrice     *float64
	StopLoss        *float64
	Agents          []domain.AnalysisResult
	TradingSession  domain.TradingSession
	MarketRegime    domain.MarketRegime
	DirectionalBias domain.DirectionalBias
	DecisionMode    domain.DecisionMode
	SavedAt         time.Time
}

const updateOutcomeSQL = `
	UPDATE decision_history SET
		outcome_percent = $2,
		outcome_hold_minutes = $3,
		outcome_resolved = true,
		outcome_label = $4
	WHERE id = $1 AND NOT outcome_resolved`

// RecordOutcome resolves a single decision by trace id with an externally
// computed P&L, then re-scores its agents against the market truth.
func (s *Store) RecordOutcome(ctx context.Context, traceID string, outcomePercent float64, holdMinutes int) error {
	var d unresolvedDecision
	var agentsRaw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, trace_id, final_signal, COALESCE(entry_price, 0),
			target_price, stop_loss, agents, trading_session, market_regime,
			directional_bias, decision_mode, saved_at
		FROM decision_history
		WHERE trace_id = $1 AND NOT outcome_resolved
		ORDER BY saved_at DESC
		LIMIT 1`, traceID).
		Scan(&d.ID, &d.TraceID, &d.FinalSignal, &d.EntryPrice, &d.TargetPrice,
			&d.StopLoss, &agentsRaw, &d.TradingSession, &d.MarketRegime,
			&d.DirectionalBias, &d.DecisionMode, &d.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("no unresolved decision for trace %s", traceID)
	}
	if err != nil {
		return fmt.Errorf("load decision %s: %w", traceID, err)
	}
	if err := json.Unmarshal(agentsRaw, &d.Agents); err != nil {
		return fmt.Errorf("unmarshal agents for %s: %w", traceID, err)
	}

	label := engine.LabelOutcome(engine.OutcomeInput{
		Signal:         d.FinalSignal,
		EntryPrice:     d.EntryPrice,
		OutcomePercent: outcomePercent,
		HoldMinutes:    float64(holdMinutes),
	})

	return s.finalizeOutcome(ctx, d, outcomePercent, holdMinutes, label)
}

// ResolveOutcomes scans the last ten minutes of unresolved BUY/SELL decisions
// for a symbol and grades each against the current price. Per-decision
// failures are logged and the batch continues. Decisions that age out of the
// ten-minute window stay unresolved here; the operator path (RecordOutcome)
// resolves them with an externally computed result and the same labelling.
func (s *Store) ResolveOutcomes(ctx context.Context, symbol string, currentPrice float64) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, trace_id, final_signal, entry_price, target_price,
			stop_loss, agents, trading_session, market_regime,
			directional_bias, decision_mode, saved_at
		FROM decision_history
		WHERE symbol = $1
			AND NOT outcome_resolved
			AND final_signal IN ('BUY', 'SELL')
			AND entry_price IS NOT NULL
			AND saved_at > now() - interval '10 minutes'
		ORDER BY saved_at`, symbol)
	if err != nil {
		return fmt.Errorf("query unresolved decisions: %w", err)
	}

	var pending []unresolvedDecision
	var parseFailures int
	for rows.Next() {
		var d unresolvedDecision
		var agentsRaw []byte
		if err := rows.Scan(&d.ID, &d.TraceID, &d.FinalSignal, &d.EntryPrice,
			&d.TargetPrice, &d.StopLoss, &agentsRaw, &d.TradingSession,
			&d.MarketRegime, &d.DirectionalBias, &d.DecisionMode, &d.SavedAt,
		); err != nil {
			rows.Close()
			return fmt.Errorf("scan unresolved decision: %w", err)
		}
		if err := json.Unmarshal(agentsRaw, &d.Agents); err != nil {
			parseFailures++
			s.logger.Warn().
				Err(err).
				Str("trace_id", d.TraceID).
				Msg("Skipping outcome with unreadable agents payload")
			continue
		}
		pending = append(pending, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate unresolved decisions: %w", err)
	}

	now := time.Now().UTC()
	resolved := 0
	for _, d := range pending {
		outcomePercent := engine.OutcomePercent(d.FinalSignal, d.EntryPrice, currentPrice)
		holdMinutes := int(now.Sub(d.SavedAt).Minutes())
		label := engine.LabelOutcome(engine.OutcomeInput{
			Signal:         d.FinalSignal,
			EntryPrice:     d.EntryPrice,
			CurrentPrice:   currentPrice,
			TargetPrice:    d.TargetPrice,
			StopLoss:       d.StopLoss,
			OutcomePercent: outcomePercent,
			HoldMinutes:    float64(holdMinutes),
		})

		if err := s.finalizeOutcome(ctx, d, outcomePercent, holdMinutes, label); err != nil {
			s.logger.Warn().
				Err(err).
				Str("trace_id", d.TraceID).
				Msg("Outcome resolution failed for decision, continuing batch")
			continue
		}
		resolved++
	}

	if resolved > 0 || parseFailures > 0 {
		s.logger.Info().
			Str("symbol", symbol).
			Int("resolved", resolved).
			Int("skipped", parseFailures).
			Float64("current_price", currentPrice).
			Msg("Resolved outcome batch")
	}
	return nil
}

// finalizeOutcome writes the outcome fields, re-scores the participating
// agents by market truth, and feeds the edge-condition registry. Replay rows
// never reach the learning tables.
func (s *Store) finalizeOutcome(
	ctx context.Context,
	d unresolvedDecision,
	outcomePercent float64,
	holdMinutes int,
	label domain.OutcomeLabel,
) error {
	if _, err := s.pool.Exec(ctx, updateOutcomeSQL,
		d.ID, outcomePercent, holdMinutes, label); err != nil {
		return fmt.Errorf("update outcome %s: %w", d.TraceID, err)
	}

	if d.DecisionMode != domain.ModeLive {
		return nil
	}

	profitable := outcomePercent > s.cfg.ProfitThresholdPct

	for _, agent := range d.Agents {
		win := engine.AgentWin(agent.Signal, d.FinalSignal, outcomePercent, s.cfg.ProfitThresholdPct)
		if err := s.upsertAgentOutcome(ctx, agent, win); err != nil {
			s.logger.Warn().
				Err(err).
				Str("trace_id", d.TraceID).
				Str("agent", agent.AgentName).
				Msg("Agent re-scoring failed")
		}
	}

	if err := s.upsertEdgeCondition(ctx, domain.EdgeCondition{
		Session: d.TradingSession,
		Regime:  d.MarketRegime,
		Bias:    d.DirectionalBias,
		Signal:  d.FinalSignal,
	}, profitable); err != nil {
		s.logger.Warn().
			Err(err).
			Str("trace_id", d.TraceID).
			Msg("Edge condition update failed")
	}

	return nil
}

// GetUnresolvedDecisions lists unresolved actionable decisions for a symbol
// newer than sinceMins minutes, for the operator API.
func (s *Store) GetUnresolvedDecisions(ctx context.Context, symbol string, sinceMins int) ([]domain.DecisionSnapshot, error) {
	if sinceMins <= 0 {
		sinceMins = int(resolveWindow.Minutes())
	}

	rows, err := s.pool.Query(ctx, `
		SELECT symbol, final_signal, confidence, consensus_score, market_regime,
			trading_session, directional_bias, trade_direction, divergence_flag,
			agent_count, decision_latency_ms, ai_reasoning, trace_id,
			timestamp, saved_at
		FROM decision_history
		WHERE symbol = $1
			AND NOT outcome_resolved
			AND final_signal IN ('BUY', 'SELL')
			AND saved_at > now() - ($2 * interval '1 minute')
		ORDER BY saved_at DESC`, symbol, sinceMins)
	if err != nil {
		return nil, fmt.Errorf("query unresolved decisions: %w", err)
	}
	defer rows.Close()

	var snapshots []domain.DecisionSnapshot
	for rows.Next() {
		var snap domain.DecisionSnapshot
		if err := rows.Scan(
			&snap.Symbol, &snap.FinalSignal, &snap.Confidence, &snap.ConsensusScore,
			&snap.MarketRegime, &snap.TradingSession, &snap.DirectionalBias,
			&snap.TradeDirection, &snap.DivergenceFlag, &snap.AgentCount,
			&snap.LatencyMs, &snap.AIReasoning, &snap.TraceID,
			&snap.Timestamp, &snap.SavedAt,
		); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}
