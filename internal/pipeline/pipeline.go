// Package pipeline turns one scheduler trigger into one persisted decision.
// Every stage logs a named event with the trigger's trace id; only market
// data and agent dispatch can abort an invocation.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/marketmind/decisioncore/internal/agents"
	"github.com/marketmind/decisioncore/internal/classify"
	"github.com/marketmind/decisioncore/internal/domain"
	"github.com/marketmind/decisioncore/internal/engine"
	"github.com/marketmind/decisioncore/internal/market"
	"github.com/marketmind/decisioncore/internal/metrics"
	"github.com/marketmind/decisioncore/internal/strategist"
)

const strategyMemoryDepth = 3

// sideEffectTimeout bounds the fire-and-forget branches so they cannot leak
// goroutines when the store or sink hangs.
const sideEffectTimeout = 15 * time.Second

// MarketSource fetches quotes. Satisfied by market.Client.
type MarketSource interface {
	FetchQuote(ctx context.Context, symbol string) (*market.Quote, error)
}

// QuoteCache is the regime-aware quote cache. Satisfied by market.QuoteCache;
// a nil cache disables caching.
type QuoteCache interface {
	Get(ctx context.Context, symbol string) (*market.Quote, bool)
	Set(ctx context.Context, symbol string, quote *market.Quote, regime domain.MarketRegime) error
}

// AgentRunner dispatches one cycle to the external agents. Satisfied by
// agents.Client.
type AgentRunner interface {
	Run(ctx context.Context, req agents.DispatchRequest) ([]domain.AnalysisResult, error)
	CapabilityFor(name string) domain.AgentCapability
}

// DecisionStore is the slice of the feedback store the pipeline reads and
// writes.
type DecisionStore interface {
	Save(ctx context.Context, decision domain.FinalDecision, mode domain.DecisionMode) (*domain.DecisionRecord, error)
	GetAgentPerformance(ctx context.Context) (map[string]domain.AgentPerformanceSnapshot, error)
	GetAgentFeedback(ctx context.Context) (map[string]domain.AgentFeedback, error)
	GetRecentDecisions(ctx context.Context, symbol string, limit int) ([]domain.StrategyMemoryEntry, error)
	GetMarketState(ctx context.Context, symbol string) (domain.MarketState, error)
	ResolveOutcomes(ctx context.Context, symbol string, currentPrice float64) error
}

// StrategistEvaluator produces the strategist decision. Satisfied by
// strategist.Strategist.
type StrategistEvaluator interface {
	Evaluate(ctx context.Context, dctx domain.DecisionContext, memory []domain.StrategyMemoryEntry, divergenceStreak int) strategist.Evaluation
}

// NotificationSink receives published decisions. Satisfied by notify.Notifier.
type NotificationSink interface {
	Send(ctx context.Context, decision domain.FinalDecision) error
}

// Pipeline wires the stages together. One Pipeline serves all symbols;
// per-invocation state lives in the DecisionContext.
type Pipeline struct {
	market     MarketSource
	cache      QuoteCache
	agents     AgentRunner
	strategist StrategistEvaluator
	store      DecisionStore
	notifier   NotificationSink
	location   *time.Location
	logger     zerolog.Logger
}

// New assembles a pipeline. cache and notifier may be nil.
func New(
	marketSource MarketSource,
	cache QuoteCache,
	agentRunner AgentRunner,
	strategistEval StrategistEvaluator,
	store DecisionStore,
	notifier NotificationSink,
	location *time.Location,
) *Pipeline {
	if location == nil {
		location = time.UTC
	}
	return &Pipeline{
		market:     marketSource,
		cache:      cache,
		agents:     agentRunner,
		strategist: strategistEval,
		store:      store,
		notifier:   notifier,
		location:   location,
		logger:     log.With().Str("component", "pipeline").Logger(),
	}
}

// Orchestrate runs the full stage sequence for one trigger. It returns the
// built decision, or an error only when market data or agent dispatch is
// unreachable.
func (p *Pipeline) Orchestrate(ctx context.Context, trigger domain.Trigger, replayMode bool) (*domain.FinalDecision, error) {
	start := time.Now()
	logger := p.logger.With().
		Str("trace_id", trigger.TraceID).
		Str("symbol", trigger.Symbol).
		Bool("replay", replayMode).
		Logger()

	// Stage 1: FetchMarketData.
	quote, cached, err := p.fetchMarketData(ctx, trigger.Symbol)
	if err != nil {
		metrics.PipelineRuns.WithLabelValues("upstream_error").Inc()
		logger.Error().Err(err).Msg("FetchMarketData failed, aborting")
		return nil, fmt.Errorf("fetch market data for %s: %w", trigger.Symbol, err)
	}
	logger.Debug().
		Bool("cache_hit", cached).
		Float64("latest_close", quote.LatestClose).
		Int("prices", len(quote.RecentClosingPrices)).
		Msg("FetchMarketData")

	// Stage 2: ClassifyRegime.
	regime := classify.Regime(quote.RecentClosingPrices, quote.LatestClose)
	logger.Debug().Str("regime", string(regime)).Msg("ClassifyRegime")

	if !cached && p.cache != nil {
		go p.writeCache(trigger.Symbol, quote, regime)
	}

	// Stage 3: ClassifySession.
	session := classify.Session(trigger.TriggeredAt, p.location)
	logger.Debug().Str("session", string(session)).Msg("ClassifySession")

	// Stage 4: ResolveOpenOutcomes, fire-and-forget.
	go p.resolveOutcomes(trigger.Symbol, quote.LatestClose)

	// Stage 5: RunAgents.
	results, err := p.agents.Run(ctx, agents.DispatchRequest{
		Symbol:     trigger.Symbol,
		Timestamp:  trigger.TriggeredAt,
		MarketData: quote,
		Prices:     quote.RecentClosingPrices,
		TraceID:    trigger.TraceID,
	})
	if err != nil {
		metrics.PipelineRuns.WithLabelValues("upstream_error").Inc()
		logger.Error().Err(err).Msg("RunAgents failed, aborting")
		return nil, fmt.Errorf("run agents for %s: %w", trigger.Symbol, err)
	}
	logger.Debug().Int("agents", len(results)).Msg("RunAgents")

	// Stage 6: ExtractDirectionalBias.
	bias := classify.BiasFromResults(results)
	logger.Debug().Str("bias", string(bias)).Msg("ExtractDirectionalBias")

	// Stage 7: FetchPerformance & Feedback, plus momentum state, in parallel.
	// Each degrades to its zero value on error.
	performance, feedback, momentum := p.fetchProjections(ctx, trigger.Symbol, logger)

	// Stage 8: ComputeAdaptiveWeights.
	inputs := make([]engine.AgentScoreInput, 0, len(results))
	for _, r := range results {
		in := engine.AgentScoreInput{
			AgentName:  r.AgentName,
			Capability: p.agents.CapabilityFor(r.AgentName),
		}
		if perf, ok := performance[r.AgentName]; ok {
			perf := perf
			in.Performance = &perf
		}
		if fb, ok := feedback[r.AgentName]; ok {
			fb := fb
			in.Feedback = &fb
		}
		inputs = append(inputs, in)
	}
	weights := engine.ComputeAdaptiveWeights(inputs, regime)
	logger.Debug().Int("weighted_agents", len(weights)).Msg("ComputeAdaptiveWeights")

	// Stage 9: AssembleContext.
	dctx := domain.AssembleContext(trigger, regime, session, quote.LatestClose, results, weights, bias, momentum)

	// Stage 10: FetchStrategyMemory. Replay cycles run without memory.
	var memory []domain.StrategyMemoryEntry
	if !replayMode {
		memory, err = p.store.GetRecentDecisions(ctx, trigger.Symbol, strategyMemoryDepth)
		if err != nil {
			logger.Warn().Err(err).Msg("FetchStrategyMemory failed, continuing without memory")
			memory = nil
		}
	}

	// Stage 13 (early: the strategist's peak-mode check needs it).
	divergenceStreak := 0
	if !replayMode {
		divergenceStreak = engine.DivergenceStreak(memory)
	}

	// Stage 12: ComputeConsensus.
	consensus := engine.Consensus(results, weights)
	logger.Debug().
		Str("consensus_signal", string(consensus.FinalSignal)).
		Float64("consensus_confidence", consensus.NormalizedConfidence).
		Msg("ComputeConsensus")

	// Stage 11: EvaluateStrategist. Replay substitutes the consensus itself,
	// so the gate chain runs identically with a zero divergence flag.
	var evaluation strategist.Evaluation
	if replayMode {
		evaluation = strategist.Evaluation{
			Decision: domain.StrategistDecision{
				FinalSignal:    consensus.FinalSignal,
				Confidence:     consensus.NormalizedConfidence,
				Reasoning:      "Replay: consensus-only decision",
				TradeDirection: domain.DirectionForSignal(consensus.FinalSignal),
			},
			ModelLabel: "replay-consensus",
		}
	} else {
		evaluation = p.strategist.Evaluate(ctx, dctx, memory, divergenceStreak)
		if evaluation.Fallback {
			metrics.StrategistFallbacks.Inc()
		}
	}
	metrics.StrategistCalls.WithLabelValues(evaluation.ModelLabel).Inc()
	logger.Debug().
		Str("model", evaluation.ModelLabel).
		Bool("peak_mode", evaluation.PeakMode).
		Bool("fallback", evaluation.Fallback).
		Str("signal", string(evaluation.Decision.FinalSignal)).
		Msg("EvaluateStrategist")

	dctx = dctx.
		WithStrategist(evaluation.Decision, evaluation.ModelLabel, evaluation.PeakMode).
		WithConsensus(consensus).
		WithDivergenceStreak(divergenceStreak)

	// Stage 14: GateChain.
	gated := engine.ApplyGates(engine.GateInput{
		Signal:           evaluation.Decision.FinalSignal,
		Confidence:       evaluation.Decision.Confidence,
		Reasoning:        evaluation.Decision.Reasoning,
		Consensus:        consensus,
		Session:          session,
		Regime:           regime,
		Bias:             bias,
		DivergenceFlag:   dctx.DivergenceFlag,
		DivergenceStreak: divergenceStreak,
	})
	for _, gate := range gated.Fired {
		metrics.GateFirings.WithLabelValues(gate).Inc()
	}
	logger.Info().
		Str("final_signal", string(gated.Signal)).
		Float64("confidence", gated.Confidence).
		Strs("gates_fired", gated.Fired).
		Bool("divergence", dctx.DivergenceFlag).
		Msg("GateChain")

	// Stage 15: BuildDecision.
	decision := p.buildDecision(dctx, evaluation, consensus, gated, start)

	// Stage 16: Publish, two fire-and-forget branches.
	mode := domain.ModeLive
	if replayMode {
		mode = domain.ModeReplayConsensus
	}
	go p.persist(*decision, mode)
	go p.notify(*decision)

	metrics.PipelineRuns.WithLabelValues("ok").Inc()
	metrics.DecisionsBySignal.WithLabelValues(string(decision.FinalSignal)).Inc()
	metrics.PipelineDuration.WithLabelValues(trigger.Symbol).Observe(time.Since(start).Seconds())

	return decision, nil
}

// fetchMarketData serves from cache when possible, otherwise hits the
// upstream client. The bool reports a cache hit.
func (p *Pipeline) fetchMarketData(ctx context.Context, symbol string) (*market.Quote, bool, error) {
	if p.cache != nil {
		if quote, ok := p.cache.Get(ctx, symbol); ok {
			return quote, true, nil
		}
	}
	quote, err := p.market.FetchQuote(ctx, symbol)
	if err != nil {
		return nil, false, err
	}
	return quote, false, nil
}

func (p *Pipeline) writeCache(symbol string, quote *market.Quote, regime domain.MarketRegime) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := p.cache.Set(ctx, symbol, quote, regime); err != nil {
		p.logger.Debug().Err(err).Str("symbol", symbol).Msg("Quote cache write failed")
	}
}

func (p *Pipeline) resolveOutcomes(symbol string, currentPrice float64) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := p.store.ResolveOutcomes(ctx, symbol, currentPrice); err != nil {
		p.logger.Warn().Err(err).Str("symbol", symbol).Msg("ResolveOpenOutcomes failed")
	}
}

// fetchProjections runs the three store reads concurrently. Failures degrade
// to empty maps and CALM.
func (p *Pipeline) fetchProjections(ctx context.Context, symbol string, logger zerolog.Logger) (
	map[string]domain.AgentPerformanceSnapshot,
	map[string]domain.AgentFeedback,
	domain.MarketState,
) {
	performance := map[string]domain.AgentPerformanceSnapshot{}
	feedback := map[string]domain.AgentFeedback{}
	momentum := domain.StateCalm

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		perf, err := p.store.GetAgentPerformance(gctx)
		if err != nil {
			logger.Warn().Err(err).Msg("FetchPerformance failed, using defaults")
			return nil
		}
		performance = perf
		return nil
	})
	g.Go(func() error {
		fb, err := p.store.GetAgentFeedback(gctx)
		if err != nil {
			logger.Warn().Err(err).Msg("FetchFeedback failed, using defaults")
			return nil
		}
		feedback = fb
		return nil
	})
	g.Go(func() error {
		state, err := p.store.GetMarketState(gctx, symbol)
		if err != nil {
			logger.Warn().Err(err).Msg("FetchMarketState failed, using CALM")
			return nil
		}
		momentum = state
		return nil
	})
	_ = g.Wait()

	return performance, feedback, momentum
}

func (p *Pipeline) buildDecision(
	dctx domain.DecisionContext,
	evaluation strategist.Evaluation,
	consensus domain.ConsensusResult,
	gated engine.GateResult,
	start time.Time,
) *domain.FinalDecision {
	confidence := gated.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	metadata := map[string]any{
		"model_label":    dctx.ModelLabel,
		"peak_mode":      dctx.PeakMode,
		"fallback":       evaluation.Fallback,
		"momentum_state": string(dctx.MomentumState),
	}
	if len(gated.Fired) > 0 {
		metadata["gates_fired"] = gated.Fired
	}

	return &domain.FinalDecision{
		Symbol:               dctx.Symbol,
		Timestamp:            dctx.Timestamp,
		Agents:               dctx.AgentResults,
		FinalSignal:          gated.Signal,
		Confidence:           confidence,
		Metadata:             metadata,
		TraceID:              dctx.TraceID,
		DecisionVersion:      domain.DecisionVersion,
		OrchestratorVersion:  domain.OrchestratorVersion,
		AgentCount:           len(dctx.AgentResults),
		DecisionLatencyMs:    time.Since(start).Milliseconds(),
		ConsensusScore:       dctx.ConsensusScore,
		AgentWeightSnapshot:  consensus.PerAgentWeights,
		AdaptiveAgentWeights: dctx.AdaptiveWeights,
		MarketRegime:         dctx.Regime,
		AIReasoning:          gated.Reasoning,
		DivergenceFlag:       dctx.DivergenceFlag,
		TradingSession:       dctx.TradingSession,
		EntryPrice:           evaluation.Decision.EntryPrice,
		TargetPrice:          evaluation.Decision.TargetPrice,
		StopLoss:             evaluation.Decision.StopLoss,
		EstimatedHoldMinutes: evaluation.Decision.EstimatedHoldMinutes,
		TradeDirection:       domain.DirectionForSignal(gated.Signal),
		DirectionalBias:      dctx.DirectionalBias,
	}
}

func (p *Pipeline) persist(decision domain.FinalDecision, mode domain.DecisionMode) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if _, err := p.store.Save(ctx, decision, mode); err != nil {
		metrics.StoreSaveFailures.Inc()
		p.logger.Error().
			Err(err).
			Str("trace_id", decision.TraceID).
			Msg("Decision save failed, record lost")
	}
}

func (p *Pipeline) notify(decision domain.FinalDecision) {
	if p.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	_ = p.notifier.Send(ctx, decision)
}
