package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind/decisioncore/internal/classify"
	"github.com/marketmind/decisioncore/internal/domain"
	"github.com/marketmind/decisioncore/internal/engine"
)

const (
	// recentDecisionsCap bounds the recent-decisions read regardless of the
	// requested limit.
	recentDecisionsCap = 10

	// feedbackWindow is how many resolved decisions the market-truth feedback
	// query looks back over.
	feedbackWindow = 200

	// momentumWindow is how many decisions feed the market-state calculation.
	momentumWindow = 8

	// metricsWindow is how many decisions feed the per-symbol metrics
	// projection.
	metricsWindow = 5

	defaultMinResolvedOutcomes = 5
)

// Config tunes the store's learning thresholds.
type Config struct {
	// MinResolvedOutcomes is how many resolved outcomes an agent needs before
	// market-truth feedback replaces the neutral default.
	MinResolvedOutcomes int
	// ProfitThresholdPct separates a winning outcome from spread noise.
	ProfitThresholdPct float64
}

// Store is the feedback and projection repository over decision history.
type Store struct {
	pool        PoolInterface
	broadcaster *SnapshotBroadcaster
	cfg         Config
	logger      zerolog.Logger
}

// New creates a store over an existing pool.
func New(pool PoolInterface, cfg Config) *Store {
	if cfg.MinResolvedOutcomes <= 0 {
		cfg.MinResolvedOutcomes = defaultMinResolvedOutcomes
	}
	if cfg.ProfitThresholdPct <= 0 {
		cfg.ProfitThresholdPct = engine.DefaultProfitThresholdPct
	}

	return &Store{
		pool:        pool,
		broadcaster: NewSnapshotBroadcaster(),
		cfg:         cfg,
		logger:      log.With().Str("component", "store").Logger(),
	}
}

// SubscribeSnapshots returns a handle on the snapshot stream.
func (s *Store) SubscribeSnapshots() *Subscriber {
	return s.broadcaster.Subscribe()
}

// Shutdown closes the snapshot stream.
func (s *Store) Shutdown() {
	s.broadcaster.Shutdown()
}

const insertDecisionSQL = `
	INSERT INTO decision_history (
		symbol, timestamp, agents, final_signal, confidence, metadata,
		trace_id, decision_version, orchestrator_version, agent_count,
		decision_latency_ms, consensus_score, agent_weight_snapshot,
		adaptive_agent_weights, market_regime, ai_reasoning, divergence_flag,
		trading_session, entry_price, target_price, stop_loss,
		estimated_hold_minutes, trade_direction, directional_bias,
		decision_mode, saved_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10,
		$11, $12, $13,
		$14, $15, $16, $17,
		$18, $19, $20, $21,
		$22, $23, $24,
		$25, $26
	)
	RETURNING id, saved_at`

// Save persists one decision, publishes its snapshot, and runs the projection
// pipeline. Projection failures are logged and swallowed; the save itself is
// the only operation that can fail.
func (s *Store) Save(ctx context.Context, decision domain.FinalDecision, mode domain.DecisionMode) (*domain.DecisionRecord, error) {
	agents, err := json.Marshal(decision.Agents)
	if err != nil {
		return nil, fmt.Errorf("marshal agents: %w", err)
	}
	metadata, err := json.Marshal(decision.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	weightSnapshot, err := json.Marshal(decision.AgentWeightSnapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal weight snapshot: %w", err)
	}
	adaptiveWeights, err := json.Marshal(decision.AdaptiveAgentWeights)
	if err != nil {
		return nil, fmt.Errorf("marshal adaptive weights: %w", err)
	}

	record := domain.DecisionRecord{FinalDecision: decision, DecisionMode: mode}

	err = s.pool.QueryRow(ctx, insertDecisionSQL,
		decision.Symbol,
		decision.Timestamp,
		agents,
		decision.FinalSignal,
		decision.Confidence,
		metadata,
		decision.TraceID,
		decision.DecisionVersion,
		decision.OrchestratorVersion,
		decision.AgentCount,
		decision.DecisionLatencyMs,
		decision.ConsensusScore,
		weightSnapshot,
		adaptiveWeights,
		decision.MarketRegime,
		decision.AIReasoning,
		decision.DivergenceFlag,
		decision.TradingSession,
		decision.EntryPrice,
		decision.TargetPrice,
		decision.StopLoss,
		decision.EstimatedHoldMinutes,
		decision.TradeDirection,
		decision.DirectionalBias,
		mode,
		time.Now().UTC(),
	).Scan(&record.ID, &record.SavedAt)
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}

	s.broadcaster.Publish(record.Snapshot())

	// Projection pipeline. Non-fatal: the next save re-establishes any state
	// a failed upsert missed.
	if err := s.applyAgentProjections(ctx, decision); err != nil {
		s.logger.Warn().
			Err(err).
			Str("trace_id", decision.TraceID).
			Msg("Agent projection upsert failed")
	}
	if err := s.applySymbolMetrics(ctx, decision.Symbol); err != nil {
		s.logger.Warn().
			Err(err).
			Str("trace_id", decision.TraceID).
			Msg("Symbol metrics upsert failed")
	}

	return &record, nil
}

// FindLatestPerSymbol returns the most recent snapshot for every symbol that
// has at least one decision.
func (s *Store) FindLatestPerSymbol(ctx context.Context) ([]domain.DecisionSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (symbol)
			symbol, final_signal, confidence, consensus_score, market_regime,
			trading_session, directional_bias, trade_direction, divergence_flag,
			agent_count, decision_latency_ms, ai_reasoning, trace_id,
			timestamp, saved_at
		FROM decision_history
		ORDER BY symbol, saved_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query latest per symbol: %w", err)
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

// GetAgentPerformance returns all agent performance snapshots keyed by name.
func (s *Store) GetAgentPerformance(ctx context.Context) (map[string]domain.AgentPerformanceSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_name, total_decisions, sum_confidence, sum_latency_ms,
			sum_wins, avg_confidence, avg_latency_ms, win_rate, latency_weight,
			historical_accuracy_score, updated_at
		FROM agent_performance_snapshot`)
	if err != nil {
		return nil, fmt.Errorf("query agent performance: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.AgentPerformanceSnapshot)
	for rows.Next() {
		var p domain.AgentPerformanceSnapshot
		if err := rows.Scan(
			&p.AgentName, &p.TotalDecisions, &p.SumConfidence, &p.SumLatencyMs,
			&p.SumWins, &p.AvgConfidence, &p.AvgLatencyMs, &p.WinRate,
			&p.LatencyWeight, &p.HistoricalAccuracyScore, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out[p.AgentName] = p
	}
	return out, rows.Err()
}

// GetAgentFeedback computes market-truth feedback per agent over the last 200
// resolved LIVE decisions. Agents below the resolved-outcome threshold get
// the neutral 0.5 default.
func (s *Store) GetAgentFeedback(ctx context.Context) (map[string]domain.AgentFeedback, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			agent->>'agent_name' AS agent_name,
			COUNT(*) AS resolved,
			AVG((agent->>'confidence')::double precision) AS avg_confidence,
			AVG(CASE
				WHEN (d.outcome_percent > $1) = ((agent->>'signal') = d.final_signal::text)
				THEN 1.0 ELSE 0.0
			END) AS win_rate,
			COALESCE(MAX(aps.latency_weight), 0.5) AS normalized_latency
		FROM (
			SELECT agents, outcome_percent, final_signal
			FROM decision_history
			WHERE outcome_resolved AND decision_mode = 'LIVE'
			ORDER BY saved_at DESC
			LIMIT $2
		) d
		CROSS JOIN LATERAL jsonb_array_elements(d.agents) agent
		LEFT JOIN agent_performance_snapshot aps
			ON aps.agent_name = agent->>'agent_name'
		GROUP BY 1`,
		s.cfg.ProfitThresholdPct, feedbackWindow)
	if err != nil {
		return nil, fmt.Errorf("query agent feedback: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.AgentFeedback)
	for rows.Next() {
		var fb domain.AgentFeedback
		if err := rows.Scan(&fb.AgentName, &fb.ResolvedOutcomes, &fb.AvgConfidence,
			&fb.WinRate, &fb.NormalizedLatency); err != nil {
			return nil, err
		}
		if fb.ResolvedOutcomes < s.cfg.MinResolvedOutcomes {
			fb = domain.AgentFeedback{
				AgentName:         fb.AgentName,
				WinRate:           0.5,
				AvgConfidence:     0.5,
				NormalizedLatency: 0.5,
				ResolvedOutcomes:  fb.ResolvedOutcomes,
			}
		}
		out[fb.AgentName] = fb
	}
	return out, rows.Err()
}

// GetDecisionMetrics reads the per-symbol metrics projection. Missing symbol
// returns a zero-valued projection, not an error.
func (s *Store) GetDecisionMetrics(ctx context.Context, symbol string) (domain.DecisionMetricsProjection, error) {
	var m domain.DecisionMetricsProjection
	err := s.pool.QueryRow(ctx, `
		SELECT symbol, last_confidence, confidence_slope_5, divergence_streak,
			momentum_streak, updated_at
		FROM decision_metrics_projection
		WHERE symbol = $1`, symbol).
		Scan(&m.Symbol, &m.LastConfidence, &m.ConfidenceSlope5,
			&m.DivergenceStreak, &m.MomentumStreak, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DecisionMetricsProjection{Symbol: symbol}, nil
	}
	if err != nil {
		return m, fmt.Errorf("query decision metrics: %w", err)
	}
	return m, nil
}

// GetLatestRegime returns the regime recorded on the most recent decision for
// a symbol; UNKNOWN when the symbol has no history.
func (s *Store) GetLatestRegime(ctx context.Context, symbol string) (domain.MarketRegime, error) {
	var regime domain.MarketRegime
	err := s.pool.QueryRow(ctx, `
		SELECT market_regime
		FROM decision_history
		WHERE symbol = $1
		ORDER BY saved_at DESC
		LIMIT 1`, symbol).Scan(&regime)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RegimeUnknown, nil
	}
	if err != nil {
		return domain.RegimeUnknown, fmt.Errorf("query latest regime: %w", err)
	}
	return regime, nil
}

// GetRecentDecisions returns the strategy-memory projection of the last
// decisions for a symbol, most-recent first. The limit is capped at 10.
func (s *Store) GetRecentDecisions(ctx context.Context, symbol string, limit int) ([]domain.StrategyMemoryEntry, error) {
	if limit <= 0 || limit > recentDecisionsCap {
		limit = recentDecisionsCap
	}

	rows, err := s.pool.Query(ctx, `
		SELECT final_signal, confidence, divergence_flag, market_regime
		FROM decision_history
		WHERE symbol = $1
		ORDER BY saved_at DESC
		LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent decisions: %w", err)
	}
	defer rows.Close()

	var entries []domain.StrategyMemoryEntry
	for rows.Next() {
		var e domain.StrategyMemoryEntry
		if err := rows.Scan(&e.FinalSignal, &e.Confidence, &e.DivergenceFlag, &e.Regime); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetMarketState derives the momentum state for a symbol from its last eight
// decisions.
func (s *Store) GetMarketState(ctx context.Context, symbol string) (domain.MarketState, error) {
	entries, err := s.GetRecentDecisions(ctx, symbol, momentumWindow)
	if err != nil {
		return domain.StateCalm, err
	}

	// Query order is newest first; the calculator wants oldest first.
	w := classify.MomentumWindow{
		Signals:     make([]domain.Signal, len(entries)),
		Confidences: make([]float64, len(entries)),
		Divergences: make([]bool, len(entries)),
		Regimes:     make([]domain.MarketRegime, len(entries)),
	}
	for i, e := range entries {
		j := len(entries) - 1 - i
		w.Signals[j] = e.FinalSignal
		w.Confidences[j] = e.Confidence
		w.Divergences[j] = e.DivergenceFlag
		w.Regimes[j] = e.Regime
	}
	return classify.MomentumState(w), nil
}

// GetEdgeConditions returns the full win-rate table, highest totals first.
func (s *Store) GetEdgeConditions(ctx context.Context) ([]domain.EdgeCondition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session, regime, bias, signal, win_count, total_count
		FROM edge_conditions
		ORDER BY total_count DESC, session, regime, bias, signal`)
	if err != nil {
		return nil, fmt.Errorf("query edge conditions: %w", err)
	}
	defer rows.Close()

	var conditions []domain.EdgeCondition
	for rows.Next() {
		var e domain.EdgeCondition
		if err := rows.Scan(&e.Session, &e.Regime, &e.Bias, &e.Signal, &e.WinCount, &e.Total); err != nil {
			return nil, err
		}
		conditions = append(conditions, e)
	}
	return conditions, rows.Err()
}

// FeedbackLoopStatus summarises how much market truth the learning loop has
// accumulated.
type FeedbackLoopStatus struct {
	ResolvedDecisions   int64                           `json:"resolved_decisions"`
	UnresolvedDecisions int64                           `json:"unresolved_decisions"`
	AgentFeedback       map[string]domain.AgentFeedback `json:"agent_feedback"`
}

// GetFeedbackLoopStatus reports resolved/unresolved counts plus per-agent
// market-truth feedback.
func (s *Store) GetFeedbackLoopStatus(ctx context.Context) (*FeedbackLoopStatus, error) {
	status := &FeedbackLoopStatus{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE outcome_resolved),
			COUNT(*) FILTER (WHERE NOT outcome_resolved)
		FROM decision_history
		WHERE decision_mode = 'LIVE'`).
		Scan(&status.ResolvedDecisions, &status.UnresolvedDecisions)
	if err != nil {
		return nil, fmt.Errorf("query feedback loop status: %w", err)
	}

	feedback, err := s.GetAgentFeedback(ctx)
	if err != nil {
		return nil, err
	}
	status.AgentFeedback = feedback
	return status, nil
}
