// Package scheduler runs one independent trigger loop per watched symbol.
// The loop's tempo follows the regime the store last observed, with session
// overrides, and goes quiet while a replay run is active.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind/decisioncore/internal/classify"
	"github.com/marketmind/decisioncore/internal/domain"
	"github.com/marketmind/decisioncore/internal/metrics"
)

// triggerTimeout bounds one async pipeline invocation issued by a loop.
const triggerTimeout = 2 * time.Minute

// TempoConfig holds the interval for each regime bucket and the two session
// overrides.
type TempoConfig struct {
	Volatile time.Duration
	Trending time.Duration
	Ranging  time.Duration
	Calm     time.Duration
	Unknown  time.Duration
	OffHours time.Duration
	Midday   time.Duration
}

// DefaultTempo is the production tempo table.
func DefaultTempo() TempoConfig {
	return TempoConfig{
		Volatile: 30 * time.Second,
		Trending: 2 * time.Minute,
		Ranging:  5 * time.Minute,
		Calm:     10 * time.Minute,
		Unknown:  5 * time.Minute,
		OffHours: 30 * time.Minute,
		Midday:   15 * time.Minute,
	}
}

// NextInterval is the tempo policy: session overrides win, then the regime
// bucket decides.
func NextInterval(tempo TempoConfig, regime domain.MarketRegime, session domain.TradingSession) time.Duration {
	switch session {
	case domain.SessionOffHours:
		return tempo.OffHours
	case domain.SessionMidday:
		return tempo.Midday
	}
	switch regime {
	case domain.RegimeVolatile:
		return tempo.Volatile
	case domain.RegimeTrending:
		return tempo.Trending
	case domain.RegimeRanging:
		return tempo.Ranging
	case domain.RegimeCalm:
		return tempo.Calm
	default:
		return tempo.Unknown
	}
}

// Orchestrator is the pipeline entry point the scheduler feeds.
type Orchestrator interface {
	Orchestrate(ctx context.Context, trigger domain.Trigger, replayMode bool) (*domain.FinalDecision, error)
}

// RegimeSource reads the last persisted regime per symbol.
type RegimeSource interface {
	GetLatestRegime(ctx context.Context, symbol string) (domain.MarketRegime, error)
}

// ReplayGate reports whether live triggers are suppressed.
type ReplayGate interface {
	Running() bool
}

// Config tunes the scheduler.
type Config struct {
	Symbols  []string
	Location *time.Location
	Tempo    TempoConfig
}

// Scheduler owns the per-symbol loops.
type Scheduler struct {
	cfg      Config
	pipeline Orchestrator
	store    RegimeSource
	replay   ReplayGate
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a stopped scheduler.
func New(cfg Config, pipeline Orchestrator, store RegimeSource, replay ReplayGate) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	zero := TempoConfig{}
	if cfg.Tempo == zero {
		cfg.Tempo = DefaultTempo()
	}
	return &Scheduler{
		cfg:      cfg,
		pipeline: pipeline,
		store:    store,
		replay:   replay,
		logger:   log.With().Str("component", "scheduler").Logger(),
	}
}

// Start spawns one loop per symbol. Idempotent; a second call is ignored.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn().Msg("Scheduler already running, ignoring Start")
		return
	}
	s.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, symbol := range s.cfg.Symbols {
		s.wg.Add(1)
		go s.loop(loopCtx, symbol)
	}
	s.logger.Info().
		Strs("symbols", s.cfg.Symbols).
		Msg("Scheduler started")
}

// Stop signals every loop and waits for them to exit. In-flight pipeline
// invocations are not cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// loop is one symbol's trigger cycle. It never dies: every failure degrades
// to UNKNOWN and the fallback interval.
func (s *Scheduler) loop(ctx context.Context, symbol string) {
	defer s.wg.Done()
	logger := s.logger.With().Str("symbol", symbol).Logger()

	interval := s.nextInterval(ctx, symbol, time.Now())
	timer := time.NewTimer(interval)
	defer timer.Stop()

	logger.Info().Dur("interval", interval).Msg("Symbol loop started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		now := time.Now()
		if s.replay != nil && s.replay.Running() {
			metrics.SchedulerSkips.WithLabelValues("replay").Inc()
			logger.Debug().Msg("Replay active, skipping trigger")
		} else {
			trigger := domain.Trigger{
				Symbol:      symbol,
				TriggeredAt: now,
				TraceID:     uuid.NewString(),
			}
			go s.submit(trigger, logger)
		}

		interval = s.nextInterval(ctx, symbol, now)
		metrics.SchedulerInterval.WithLabelValues(symbol).Set(interval.Seconds())
		timer.Reset(interval)
	}
}

// submit fires one pipeline invocation without awaiting it.
func (s *Scheduler) submit(trigger domain.Trigger, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
	defer cancel()
	if _, err := s.pipeline.Orchestrate(ctx, trigger, false); err != nil {
		logger.Warn().
			Err(err).
			Str("trace_id", trigger.TraceID).
			Msg("Pipeline invocation failed")
	}
}

func (s *Scheduler) nextInterval(ctx context.Context, symbol string, now time.Time) time.Duration {
	regime, err := s.store.GetLatestRegime(ctx, symbol)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("symbol", symbol).
			Msg("Regime read failed, using UNKNOWN tempo")
		regime = domain.RegimeUnknown
	}
	session := classify.Session(now, s.cfg.Location)
	return NextInterval(s.cfg.Tempo, regime, session)
}
