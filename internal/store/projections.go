package store

import (
	"context"
	"fmt"

	"github.com/marketmind/decisioncore/internal/classify"
	"github.com/marketmind/decisioncore/internal/domain"
	"github.com/marketmind/decisioncore/internal/engine"
)

// agentUpsertSQL increments the running counters in a single atomic
// statement so concurrent saves need no application-level lock.
const agentUpsertSQL = `
	INSERT INTO agent_performance_snapshot (
		agent_name, total_decisions, sum_confidence, sum_latency_ms, sum_wins,
		updated_at
	) VALUES ($1, 1, $2, $3, $4, now())
	ON CONFLICT (agent_name) DO UPDATE SET
		total_decisions = agent_performance_snapshot.total_decisions + 1,
		sum_confidence  = agent_performance_snapshot.sum_confidence + $2,
		sum_latency_ms  = agent_performance_snapshot.sum_latency_ms + $3,
		sum_wins        = agent_performance_snapshot.sum_wins + $4,
		updated_at      = now()`

const agentDerivedSQL = `
	UPDATE agent_performance_snapshot SET
		avg_confidence = sum_confidence / GREATEST(total_decisions, 1),
		avg_latency_ms = sum_latency_ms / GREATEST(total_decisions, 1),
		win_rate = sum_wins::double precision / GREATEST(total_decisions, 1),
		historical_accuracy_score = sum_wins::double precision / GREATEST(total_decisions, 1)`

const latencyNormalizeSQL = `
	UPDATE agent_performance_snapshot SET
		latency_weight = CASE
			WHEN m.max_latency > 0 THEN avg_latency_ms / m.max_latency
			ELSE 0
		END
	FROM (SELECT MAX(avg_latency_ms) AS max_latency FROM agent_performance_snapshot) m`

// applyAgentProjections runs the per-agent upsert for every agent in the
// decision, then recomputes the derived columns and renormalizes latency
// weight so the slowest agent sits at 1.0.
func (s *Store) applyAgentProjections(ctx context.Context, decision domain.FinalDecision) error {
	for _, agent := range decision.Agents {
		win := 0
		if agent.Signal == decision.FinalSignal {
			win = 1
		}
		if _, err := s.pool.Exec(ctx, agentUpsertSQL,
			agent.AgentName,
			agent.Confidence,
			agentLatencyMs(agent),
			win,
		); err != nil {
			return fmt.Errorf("agent upsert %s: %w", agent.AgentName, err)
		}
	}

	if _, err := s.pool.Exec(ctx, agentDerivedSQL); err != nil {
		return fmt.Errorf("recompute derived agent columns: %w", err)
	}
	if _, err := s.pool.Exec(ctx, latencyNormalizeSQL); err != nil {
		return fmt.Errorf("normalize latency weight: %w", err)
	}
	return nil
}

// upsertAgentOutcome feeds a resolved market outcome back into the same
// counter path: a decision is re-counted with the market's verdict instead
// of signal self-agreement.
func (s *Store) upsertAgentOutcome(ctx context.Context, agent domain.AnalysisResult, win bool) error {
	w := 0
	if win {
		w = 1
	}
	if _, err := s.pool.Exec(ctx, agentUpsertSQL,
		agent.AgentName,
		agent.Confidence,
		agentLatencyMs(agent),
		w,
	); err != nil {
		return fmt.Errorf("agent outcome upsert %s: %w", agent.AgentName, err)
	}
	if _, err := s.pool.Exec(ctx, agentDerivedSQL); err != nil {
		return fmt.Errorf("recompute derived agent columns: %w", err)
	}
	if _, err := s.pool.Exec(ctx, latencyNormalizeSQL); err != nil {
		return fmt.Errorf("normalize latency weight: %w", err)
	}
	return nil
}

// agentLatencyMs reads the per-agent latency the dispatch service reports in
// result metadata; zero when absent.
func agentLatencyMs(agent domain.AnalysisResult) float64 {
	if agent.Metadata == nil {
		return 0
	}
	switch v := agent.Metadata["latency_ms"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

const metricsUpsertSQL = `
	INSERT INTO decision_metrics_projection (
		symbol, last_confidence, confidence_slope_5, divergence_streak,
		momentum_streak, updated_at
	) VALUES ($1, $2, $3, $4, $5, now())
	ON CONFLICT (symbol) DO UPDATE SET
		last_confidence    = $2,
		confidence_slope_5 = $3,
		divergence_streak  = $4,
		momentum_streak    = $5,
		updated_at         = now()`

// applySymbolMetrics recomputes the per-symbol projection from the last five
// decisions: confidence slope, leading divergence run, leading same-signal
// run.
func (s *Store) applySymbolMetrics(ctx context.Context, symbol string) error {
	entries, err := s.GetRecentDecisions(ctx, symbol, metricsWindow)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	// Entries are newest first; the slope wants chronological order.
	confidences := make([]float64, len(entries))
	for i, e := range entries {
		confidences[len(entries)-1-i] = e.Confidence
	}

	divergenceStreak := engine.DivergenceStreak(entries)

	momentumStreak := 1
	for i := 1; i < len(entries); i++ {
		if entries[i].FinalSignal != entries[0].FinalSignal {
			break
		}
		momentumStreak++
	}

	_, err = s.pool.Exec(ctx, metricsUpsertSQL,
		symbol,
		entries[0].Confidence,
		classify.LeastSquaresSlope(confidences),
		divergenceStreak,
		momentumStreak,
	)
	if err != nil {
		return fmt.Errorf("metrics upsert: %w", err)
	}
	return nil
}

const edgeUpsertSQL = `
	INSERT INTO edge_conditions (
		session, regime, bias, signal, win_count, total_count
	) VALUES ($1, $2, $3, $4, $5, 1)
	ON CONFLICT (session, regime, bias, signal) DO UPDATE SET
		win_count   = edge_conditions.win_count + $5,
		total_count = edge_conditions.total_count + 1`

// upsertEdgeCondition accumulates one resolved outcome into the win-rate
// registry. Callers exclude replay rows before reaching here.
func (s *Store) upsertEdgeCondition(ctx context.Context, cond domain.EdgeCondition, win bool) error {
	w := 0
	if win {
		w = 1
	}
	if _, err := s.pool.Exec(ctx, edgeUpsertSQL,
		cond.Session, cond.Regime, cond.Bias, cond.Signal, w,
	); err != nil {
		return fmt.Errorf("edge condition upsert: %w", err)
	}
	return nil
}
