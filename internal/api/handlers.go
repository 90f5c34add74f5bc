package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/marketmind/decisioncore/internal/domain"
	"github.com/marketmind/decisioncore/internal/replay"
	"github.com/marketmind/decisioncore/internal/store"
)

// Query parameter bounds.
const (
	DefaultRecentLimit = 3
	MaxRecentLimit     = 10
)

// Orchestrator runs one pipeline invocation per injected trigger.
type Orchestrator interface {
	Orchestrate(ctx context.Context, trigger domain.Trigger, replayMode bool) (*domain.FinalDecision, error)
}

// DecisionStore defines the read and outcome operations the handlers need.
type DecisionStore interface {
	FindLatestPerSymbol(ctx context.Context) ([]domain.DecisionSnapshot, error)
	SubscribeSnapshots() *store.Subscriber
	GetLatestRegime(ctx context.Context, symbol string) (domain.MarketRegime, error)
	GetRecentDecisions(ctx context.Context, symbol string, limit int) ([]domain.StrategyMemoryEntry, error)
	GetUnresolvedDecisions(ctx context.Context, symbol string, sinceMins int) ([]domain.DecisionSnapshot, error)
	RecordOutcome(ctx context.Context, traceID string, outcomePercent float64, holdMinutes int) error
	ResolveOutcomes(ctx context.Context, symbol string, currentPrice float64) error
	GetAgentPerformance(ctx context.Context) (map[string]domain.AgentPerformanceSnapshot, error)
	GetAgentFeedback(ctx context.Context) (map[string]domain.AgentFeedback, error)
	GetFeedbackLoopStatus(ctx context.Context) (*store.FeedbackLoopStatus, error)
	GetDecisionMetrics(ctx context.Context, symbol string) (domain.DecisionMetricsProjection, error)
	GetMarketState(ctx context.Context, symbol string) (domain.MarketState, error)
	GetEdgeConditions(ctx context.Context) ([]domain.EdgeCondition, error)
}

// ReplayController gates live scheduling while a replay run is active.
type ReplayController interface {
	Start(label string) error
	Stop()
	Status() replay.Status
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// orchestrateRequest is the body of POST /api/v1/orchestrate.
type orchestrateRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

// handleOrchestrate handles POST /api/v1/orchestrate. The response carries
// the per-agent results only; the full decision stays internal and reaches
// consumers through the persisted snapshot stream.
func (s *Server) handleOrchestrate(c *gin.Context) {
	var req orchestrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	replayMode := false
	if raw := c.GetHeader(s.replayHeader); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			replayMode = parsed
		}
	}

	trigger := domain.Trigger{
		Symbol:      req.Symbol,
		TriggeredAt: time.Now(),
		TraceID:     uuid.NewString(),
	}

	decision, err := s.orchestrator.Orchestrate(c.Request.Context(), trigger, replayMode)
	if err != nil {
		s.logger.Err(err).
			Str("symbol", req.Symbol).
			Str("trace_id", trigger.TraceID).
			Msg("Injected trigger failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "orchestration failed",
			"trace_id": trigger.TraceID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":      decision.Symbol,
		"trace_id":    decision.TraceID,
		"agents":      decision.Agents,
		"agent_count": decision.AgentCount,
		"replay_mode": replayMode,
	})
}

// handleSnapshot handles GET /api/v1/decisions/snapshot. Missing data is an
// empty list, never an error.
func (s *Server) handleSnapshot(c *gin.Context) {
	snapshots, err := s.store.FindLatestPerSymbol(c.Request.Context())
	if err != nil {
		s.logger.Err(err).Msg("Snapshot query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch snapshots"})
		return
	}
	if snapshots == nil {
		snapshots = []domain.DecisionSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

// handleLatestRegime handles GET /api/v1/decisions/latest-regime?symbol=X.
func (s *Server) handleLatestRegime(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol query parameter is required"})
		return
	}

	regime, err := s.store.GetLatestRegime(c.Request.Context(), symbol)
	if err != nil {
		s.logger.Err(err).Str("symbol", symbol).Msg("Latest regime query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch regime"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"regime": regime,
	})
}

// handleRecentDecisions handles GET /api/v1/decisions/recent/:symbol.
func (s *Server) handleRecentDecisions(c *gin.Context) {
	symbol := c.Param("symbol")

	limit := DefaultRecentLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
			if limit > MaxRecentLimit {
				limit = MaxRecentLimit
			}
		}
	}

	entries, err := s.store.GetRecentDecisions(c.Request.Context(), symbol, limit)
	if err != nil {
		s.logger.Err(err).Str("symbol", symbol).Msg("Recent decisions query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch recent decisions"})
		return
	}
	if entries == nil {
		entries = []domain.StrategyMemoryEntry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":    symbol,
		"decisions": entries,
		"count":     len(entries),
	})
}

// handleUnresolvedDecisions handles GET /api/v1/decisions/unresolved/:symbol.
func (s *Server) handleUnresolvedDecisions(c *gin.Context) {
	symbol := c.Param("symbol")

	sinceMins := 0
	if sinceStr := c.Query("since_mins"); sinceStr != "" {
		if parsed, err := strconv.Atoi(sinceStr); err == nil && parsed > 0 {
			sinceMins = parsed
		}
	}

	snapshots, err := s.store.GetUnresolvedDecisions(c.Request.Context(), symbol, sinceMins)
	if err != nil {
		s.logger.Err(err).Str("symbol", symbol).Msg("Unresolved decisions query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch unresolved decisions"})
		return
	}
	if snapshots == nil {
		snapshots = []domain.DecisionSnapshot{}
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":     symbol,
		"unresolved": snapshots,
		"count":      len(snapshots),
	})
}

// recordOutcomeRequest is the body of POST /api/v1/outcomes/:traceId.
type recordOutcomeRequest struct {
	OutcomePercent float64 `json:"outcome_percent"`
	HoldMinutes    int     `json:"hold_minutes"`
}

// handleRecordOutcome handles POST /api/v1/outcomes/:traceId with an
// externally computed P&L.
func (s *Server) handleRecordOutcome(c *gin.Context) {
	traceID := c.Param("traceId")

	var req recordOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := s.store.RecordOutcome(c.Request.Context(), traceID, req.OutcomePercent, req.HoldMinutes); err != nil {
		s.logger.Err(err).Str("trace_id", traceID).Msg("Outcome recording failed")
		c.JSON(http.StatusNotFound, gin.H{"error": "no unresolved decision for trace"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trace_id": traceID,
		"resolved": true,
	})
}

// handleResolveOutcomes handles POST /api/v1/outcomes/resolve/:symbol.
func (s *Server) handleResolveOutcomes(c *gin.Context) {
	symbol := c.Param("symbol")

	currentPrice, err := strconv.ParseFloat(c.Query("current_price"), 64)
	if err != nil || currentPrice <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "current_price query parameter must be a positive number"})
		return
	}

	if err := s.store.ResolveOutcomes(c.Request.Context(), symbol, currentPrice); err != nil {
		s.logger.Err(err).Str("symbol", symbol).Msg("Outcome batch resolution failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve outcomes"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":        symbol,
		"current_price": currentPrice,
	})
}

// handleAgentPerformance handles GET /api/v1/agents/performance.
func (s *Server) handleAgentPerformance(c *gin.Context) {
	performance, err := s.store.GetAgentPerformance(c.Request.Context())
	if err != nil {
		s.logger.Err(err).Msg("Agent performance query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch agent performance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agents": performance,
		"count":  len(performance),
	})
}

// handleAgentFeedback handles GET /api/v1/agents/feedback.
func (s *Server) handleAgentFeedback(c *gin.Context) {
	feedback, err := s.store.GetAgentFeedback(c.Request.Context())
	if err != nil {
		s.logger.Err(err).Msg("Agent feedback query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch agent feedback"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agents": feedback,
		"count":  len(feedback),
	})
}

// handleFeedbackLoopStatus handles GET /api/v1/feedback-loop-status.
func (s *Server) handleFeedbackLoopStatus(c *gin.Context) {
	status, err := s.store.GetFeedbackLoopStatus(c.Request.Context())
	if err != nil {
		s.logger.Err(err).Msg("Feedback loop status query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch feedback loop status"})
		return
	}

	c.JSON(http.StatusOK, status)
}

// handleDecisionMetrics handles GET /api/v1/decision-metrics/:symbol. A
// symbol with no history gets a zero-valued projection.
func (s *Server) handleDecisionMetrics(c *gin.Context) {
	symbol := c.Param("symbol")

	metrics, err := s.store.GetDecisionMetrics(c.Request.Context(), symbol)
	if err != nil {
		s.logger.Err(err).Str("symbol", symbol).Msg("Decision metrics query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch decision metrics"})
		return
	}

	c.JSON(http.StatusOK, metrics)
}

// handleMarketState handles GET /api/v1/market-state/:symbol.
func (s *Server) handleMarketState(c *gin.Context) {
	symbol := c.Param("symbol")

	state, err := s.store.GetMarketState(c.Request.Context(), symbol)
	if err != nil {
		s.logger.Err(err).Str("symbol", symbol).Msg("Market state query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch market state"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"state":  state,
	})
}

// handleEdgeConditions handles GET /api/v1/edge-conditions.
func (s *Server) handleEdgeConditions(c *gin.Context) {
	conditions, err := s.store.GetEdgeConditions(c.Request.Context())
	if err != nil {
		s.logger.Err(err).Msg("Edge conditions query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch edge conditions"})
		return
	}
	if conditions == nil {
		conditions = []domain.EdgeCondition{}
	}

	type edgeConditionView struct {
		domain.EdgeCondition
		WinRate float64 `json:"win_rate"`
	}
	views := make([]edgeConditionView, len(conditions))
	for i, cond := range conditions {
		views[i] = edgeConditionView{EdgeCondition: cond, WinRate: cond.WinRate()}
	}

	c.JSON(http.StatusOK, gin.H{
		"conditions": views,
		"count":      len(views),
	})
}

// replayStartRequest is the body of POST /api/v1/replay/start.
type replayStartRequest struct {
	Label string `json:"label"`
}

// handleReplayStart handles POST /api/v1/replay/start.
func (s *Server) handleReplayStart(c *gin.Context) {
	var req replayStartRequest
	// Body is optional; an unlabelled run is fine.
	_ = c.ShouldBindJSON(&req)

	if err := s.replay.Start(req.Label); err != nil {
		if errors.Is(err, replay.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "replay already running"})
			return
		}
		s.logger.Err(err).Msg("Replay start failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start replay"})
		return
	}

	c.JSON(http.StatusOK, s.replay.Status())
}

// handleReplayStop handles POST /api/v1/replay/stop. Idempotent.
func (s *Server) handleReplayStop(c *gin.Context) {
	s.replay.Stop()
	c.JSON(http.StatusOK, s.replay.Status())
}

// handleReplayStatus handles GET /api/v1/replay/status.
func (s *Server) handleReplayStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.replay.Status())
}
