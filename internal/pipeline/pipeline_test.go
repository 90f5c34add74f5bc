package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketmind/decisioncore/internal/agents"
	"github.com/marketmind/decisioncore/internal/domain"
	"github.com/marketmind/decisioncore/internal/market"
	"github.com/marketmind/decisioncore/internal/strategist"
)

type fakeMarket struct {
	quote *market.Quote
	err   error
	calls int
}

func (f *fakeMarket) FetchQuote(ctx context.Context, symbol string) (*market.Quote, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.quote, nil
}

type fakeCache struct {
	mu     sync.Mutex
	quotes map[string]*market.Quote
	sets   chan domain.MarketRegime
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		quotes: map[string]*market.Quote{},
		sets:   make(chan domain.MarketRegime, 4),
	}
}

func (f *fakeCache) Get(ctx context.Context, symbol string) (*market.Quote, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[symbol]
	return q, ok
}

func (f *fakeCache) Set(ctx context.Context, symbol string, quote *market.Quote, regime domain.MarketRegime) error {
	f.mu.Lock()
	f.quotes[symbol] = quote
	f.mu.Unlock()
	f.sets <- regime
	return nil
}

type fakeAgents struct {
	results []domain.AnalysisResult
	err     error
}

func (f *fakeAgents) Run(ctx context.Context, req agents.DispatchRequest) ([]domain.AnalysisResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeAgents) CapabilityFor(name string) domain.AgentCapability {
	return domain.CapabilityDiscipline
}

type savedDecision struct {
	decision domain.FinalDecision
	mode     domain.DecisionMode
}

type fakeStore struct {
	mu           sync.Mutex
	saved        chan savedDecision
	saveErr      error
	memory       []domain.StrategyMemoryEntry
	memoryCalls  int
	performance  map[string]domain.AgentPerformanceSnapshot
	feedback     map[string]domain.AgentFeedback
	state        domain.MarketState
	resolveCalls chan string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		saved:        make(chan savedDecision, 4),
		state:        domain.StateCalm,
		resolveCalls: make(chan string, 4),
	}
}

func (f *fakeStore) Save(ctx context.Context, decision domain.FinalDecision, mode domain.DecisionMode) (*domain.DecisionRecord, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.saved <- savedDecision{decision: decision, mode: mode}
	return &domain.DecisionRecord{FinalDecision: decision, DecisionMode: mode, SavedAt: time.Now()}, nil
}

func (f *fakeStore) GetAgentPerformance(ctx context.Context) (map[string]domain.AgentPerformanceSnapshot, error) {
	return f.performance, nil
}

func (f *fakeStore) GetAgentFeedback(ctx context.Context) (map[string]domain.AgentFeedback, error) {
	return f.feedback, nil
}

func (f *fakeStore) GetRecentDecisions(ctx context.Context, symbol string, limit int) ([]domain.StrategyMemoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memoryCalls++
	return f.memory, nil
}

func (f *fakeStore) GetMarketState(ctx context.Context, symbol string) (domain.MarketState, error) {
	return f.state, nil
}

func (f *fakeStore) ResolveOutcomes(ctx context.Context, symbol string, currentPrice float64) error {
	f.resolveCalls <- symbol
	return nil
}

type fakeStrategist struct {
	mu     sync.Mutex
	eval   strategist.Evaluation
	called bool
}

func (f *fakeStrategist) Evaluate(ctx context.Context, dctx domain.DecisionContext, memory []domain.StrategyMemoryEntry, divergenceStreak int) strategist.Evaluation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = true
	return f.eval
}

func (f *fakeStrategist) wasCalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.called
}

type fakeNotifier struct {
	sent chan domain.FinalDecision
}

func (f *fakeNotifier) Send(ctx context.Context, decision domain.FinalDecision) error {
	f.sent <- decision
	return nil
}

func ist(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

// trendingQuote builds a 60-close rising series with stdev just under 4, so
// the classifier lands on TRENDING for a close above both moving averages.
func trendingQuote(symbol string) *market.Quote {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100.0 + 0.23*float64(i)
	}
	return &market.Quote{
		Symbol:              symbol,
		LatestClose:         114.0,
		RecentClosingPrices: prices,
		FetchedAt:           time.Now(),
	}
}

func calmQuote(symbol string) *market.Quote {
	return &market.Quote{
		Symbol:              symbol,
		LatestClose:         200.0,
		RecentClosingPrices: []float64{198, 199, 200, 201, 200},
		FetchedAt:           time.Now(),
	}
}

func strategistBuy(confidence float64) strategist.Evaluation {
	return strategist.Evaluation{
		Decision: domain.StrategistDecision{
			FinalSignal:    domain.SignalBuy,
			Confidence:     confidence,
			Reasoning:      "momentum breakout",
			TradeDirection: domain.DirectionLong,
		},
		ModelLabel: "deep",
	}
}

func waitSaved(t *testing.T, store *fakeStore) savedDecision {
	t.Helper()
	select {
	case s := <-store.saved:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("decision was never saved")
		return savedDecision{}
	}
}

func TestQuietMiddayCycle(t *testing.T) {
	store := newFakeStore()
	strat := &fakeStrategist{eval: strategistBuy(0.78)}
	p := New(
		&fakeMarket{quote: calmQuote("NIFTY50")},
		nil,
		&fakeAgents{results: []domain.AnalysisResult{
			{AgentName: "trend", Signal: domain.SignalBuy, Confidence: 0.82},
			{AgentName: "risk", Signal: domain.SignalHold, Confidence: 0.50},
			{AgentName: "portfolio", Signal: domain.SignalBuy, Confidence: 0.70},
			{AgentName: "discipline", Signal: domain.SignalHold, Confidence: 0.40},
		}},
		strat, store, nil, ist(t),
	)

	trigger := domain.Trigger{
		Symbol:      "NIFTY50",
		TriggeredAt: time.Date(2026, 3, 2, 10, 30, 0, 0, ist(t)),
		TraceID:     "trace-midday",
	}

	decision, err := p.Orchestrate(context.Background(), trigger, false)
	require.NoError(t, err)

	assert.Equal(t, domain.SessionMidday, decision.TradingSession)
	assert.Equal(t, domain.RegimeCalm, decision.MarketRegime)
	assert.Equal(t, domain.SignalWatch, decision.FinalSignal)
	assert.False(t, decision.DivergenceFlag)
	assert.Contains(t, decision.AIReasoning, "[OVERRIDE: SessionGate]")
	assert.Equal(t, domain.DirectionFlat, decision.TradeDirection)

	saved := waitSaved(t, store)
	assert.Equal(t, domain.ModeLive, saved.mode)
	assert.Equal(t, "trace-midday", saved.decision.TraceID)
}

func TestCleanOpeningBuy(t *testing.T) {
	store := newFakeStore()
	strat := &fakeStrategist{eval: strategistBuy(0.78)}
	p := New(
		&fakeMarket{quote: trendingQuote("RELIANCE")},
		nil,
		&fakeAgents{results: []domain.AnalysisResult{
			{
				AgentName: "trend", Signal: domain.SignalBuy, Confidence: 0.80,
				Metadata: map[string]interface{}{"directionalBias": "STRONG_BULLISH"},
			},
			{AgentName: "risk", Signal: domain.SignalBuy, Confidence: 0.70},
			{AgentName: "portfolio", Signal: domain.SignalBuy, Confidence: 0.75},
			{AgentName: "discipline", Signal: domain.SignalBuy, Confidence: 0.90},
		}},
		strat, store, nil, ist(t),
	)

	trigger := domain.Trigger{
		Symbol:      "RELIANCE",
		TriggeredAt: time.Date(2026, 3, 2, 9, 20, 0, 0, ist(t)),
		TraceID:     "trace-open",
	}

	decision, err := p.Orchestrate(context.Background(), trigger, false)
	require.NoError(t, err)

	assert.Equal(t, domain.SessionOpeningBurst, decision.TradingSession)
	assert.Equal(t, domain.RegimeTrending, decision.MarketRegime)
	assert.Equal(t, domain.SignalBuy, decision.FinalSignal)
	assert.Equal(t, domain.DirectionLong, decision.TradeDirection)
	assert.False(t, decision.DivergenceFlag)
	assert.InDelta(t, 0.78, decision.Confidence, 1e-9)
	assert.Equal(t, domain.BiasStrongBullish, decision.DirectionalBias)
	assert.NotContains(t, decision.AIReasoning, "[OVERRIDE")
	assert.Equal(t, 4, decision.AgentCount)
	assert.Len(t, decision.AdaptiveAgentWeights, 4)
}

func TestDivergenceOverride(t *testing.T) {
	store := newFakeStore()
	store.memory = []domain.StrategyMemoryEntry{
		{FinalSignal: domain.SignalWatch, DivergenceFlag: true},
		{FinalSignal: domain.SignalWatch, DivergenceFlag: true},
		{FinalSignal: domain.SignalBuy, DivergenceFlag: false},
	}
	strat := &fakeStrategist{eval: strategistBuy(0.70)}
	p := New(
		&fakeMarket{quote: trendingQuote("RELIANCE")},
		nil,
		&fakeAgents{results: []domain.AnalysisResult{
			{
				AgentName: "trend", Signal: domain.SignalSell, Confidence: 0.85,
				Metadata: map[string]interface{}{"directionalBias": "STRONG_BULLISH"},
			},
			{AgentName: "risk", Signal: domain.SignalSell, Confidence: 0.80},
			{AgentName: "portfolio", Signal: domain.SignalSell, Confidence: 0.75},
			{AgentName: "discipline", Signal: domain.SignalSell, Confidence: 0.90},
		}},
		strat, store, nil, ist(t),
	)

	trigger := domain.Trigger{
		Symbol:      "RELIANCE",
		TriggeredAt: time.Date(2026, 3, 2, 9, 20, 0, 0, ist(t)),
		TraceID:     "trace-diverge",
	}

	decision, err := p.Orchestrate(context.Background(), trigger, false)
	require.NoError(t, err)

	// Consensus replaced the strategist BUY with SELL, then the bullish bias
	// blocked the SELL and divergence discounted the confidence.
	assert.True(t, decision.DivergenceFlag)
	assert.Equal(t, domain.SignalWatch, decision.FinalSignal)
	assert.Contains(t, decision.AIReasoning, "[OVERRIDE: ConsensusAuthority]")
	assert.Contains(t, decision.AIReasoning, "[OVERRIDE: BiasGate]")
	assert.InDelta(t, 0.85, decision.Confidence, 1e-9)
}

func TestReplayCycle(t *testing.T) {
	store := newFakeStore()
	strat := &fakeStrategist{eval: strategistBuy(0.99)}
	p := New(
		&fakeMarket{quote: trendingQuote("RELIANCE")},
		nil,
		&fakeAgents{results: []domain.AnalysisResult{
			{
				AgentName: "trend", Signal: domain.SignalBuy, Confidence: 0.80,
				Metadata: map[string]interface{}{"directionalBias": "STRONG_BULLISH"},
			},
			{AgentName: "risk", Signal: domain.SignalBuy, Confidence: 0.70},
			{AgentName: "portfolio", Signal: domain.SignalBuy, Confidence: 0.75},
			{AgentName: "discipline", Signal: domain.SignalHold, Confidence: 0.40},
		}},
		strat, store, nil, ist(t),
	)

	trigger := domain.Trigger{
		Symbol:      "RELIANCE",
		TriggeredAt: time.Date(2026, 3, 2, 9, 20, 0, 0, ist(t)),
		TraceID:     "trace-replay",
	}

	decision, err := p.Orchestrate(context.Background(), trigger, true)
	require.NoError(t, err)

	assert.False(t, strat.wasCalled(), "strategist must not run in replay mode")
	assert.False(t, decision.DivergenceFlag)
	assert.Equal(t, 0, store.memoryCalls, "strategy memory must not be read in replay mode")

	saved := waitSaved(t, store)
	assert.Equal(t, domain.ModeReplayConsensus, saved.mode)
}

func TestEmptyPricesStillDecides(t *testing.T) {
	store := newFakeStore()
	strat := &fakeStrategist{eval: strategistBuy(0.78)}
	p := New(
		&fakeMarket{quote: &market.Quote{Symbol: "NEWSYMBOL", LatestClose: 50.0}},
		nil,
		&fakeAgents{results: []domain.AnalysisResult{
			{AgentName: "trend", Signal: domain.SignalHold, Confidence: 0.4},
		}},
		strat, store, nil, ist(t),
	)

	decision, err := p.Orchestrate(context.Background(), domain.Trigger{
		Symbol:      "NEWSYMBOL",
		TriggeredAt: time.Date(2026, 3, 2, 9, 20, 0, 0, ist(t)),
		TraceID:     "trace-empty",
	}, false)
	require.NoError(t, err)

	assert.Equal(t, domain.RegimeUnknown, decision.MarketRegime)
	assert.Equal(t, domain.SignalWatch, decision.FinalSignal)
}

func TestMarketDataFailureAborts(t *testing.T) {
	store := newFakeStore()
	p := New(
		&fakeMarket{err: market.ErrUpstreamUnavailable},
		nil,
		&fakeAgents{},
		&fakeStrategist{}, store, nil, ist(t),
	)

	_, err := p.Orchestrate(context.Background(), domain.Trigger{
		Symbol: "RELIANCE", TriggeredAt: time.Now(), TraceID: "trace-down",
	}, false)
	assert.ErrorIs(t, err, market.ErrUpstreamUnavailable)
}

func TestAgentDispatchFailureAborts(t *testing.T) {
	store := newFakeStore()
	p := New(
		&fakeMarket{quote: calmQuote("RELIANCE")},
		nil,
		&fakeAgents{err: agents.ErrDispatchUnavailable},
		&fakeStrategist{}, store, nil, ist(t),
	)

	_, err := p.Orchestrate(context.Background(), domain.Trigger{
		Symbol: "RELIANCE", TriggeredAt: time.Now(), TraceID: "trace-agents-down",
	}, false)
	assert.ErrorIs(t, err, agents.ErrDispatchUnavailable)
}

func TestSaveFailureStillReturns(t *testing.T) {
	store := newFakeStore()
	store.saveErr = assert.AnError
	strat := &fakeStrategist{eval: strategistBuy(0.78)}
	p := New(
		&fakeMarket{quote: calmQuote("RELIANCE")},
		nil,
		&fakeAgents{results: []domain.AnalysisResult{
			{AgentName: "trend", Signal: domain.SignalHold, Confidence: 0.5},
		}},
		strat, store, nil, ist(t),
	)

	decision, err := p.Orchestrate(context.Background(), domain.Trigger{
		Symbol:      "RELIANCE",
		TriggeredAt: time.Date(2026, 3, 2, 10, 30, 0, 0, ist(t)),
		TraceID:     "trace-savefail",
	}, false)
	require.NoError(t, err)
	require.NotNil(t, decision)
}

func TestCacheMissPopulatesCacheWithRegimeTTL(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	m := &fakeMarket{quote: calmQuote("RELIANCE")}
	strat := &fakeStrategist{eval: strategistBuy(0.78)}
	p := New(m, cache,
		&fakeAgents{results: []domain.AnalysisResult{
			{AgentName: "trend", Signal: domain.SignalHold, Confidence: 0.5},
		}},
		strat, store, nil, ist(t),
	)

	trigger := domain.Trigger{
		Symbol:      "RELIANCE",
		TriggeredAt: time.Date(2026, 3, 2, 10, 30, 0, 0, ist(t)),
		TraceID:     "trace-cache",
	}

	_, err := p.Orchestrate(context.Background(), trigger, false)
	require.NoError(t, err)
	assert.Equal(t, 1, m.calls)

	select {
	case regime := <-cache.sets:
		assert.Equal(t, domain.RegimeCalm, regime)
	case <-time.After(2 * time.Second):
		t.Fatal("cache was never populated")
	}

	// Second run is served from the cache.
	trigger.TraceID = "trace-cache-2"
	_, err = p.Orchestrate(context.Background(), trigger, false)
	require.NoError(t, err)
	assert.Equal(t, 1, m.calls)
}

func TestOutcomeResolutionIsTriggered(t *testing.T) {
	store := newFakeStore()
	strat := &fakeStrategist{eval: strategistBuy(0.78)}
	p := New(
		&fakeMarket{quote: calmQuote("RELIANCE")},
		nil,
		&fakeAgents{results: []domain.AnalysisResult{
			{AgentName: "trend", Signal: domain.SignalHold, Confidence: 0.5},
		}},
		strat, store, nil, ist(t),
	)

	_, err := p.Orchestrate(context.Background(), domain.Trigger{
		Symbol:      "RELIANCE",
		TriggeredAt: time.Date(2026, 3, 2, 10, 30, 0, 0, ist(t)),
		TraceID:     "trace-resolve",
	}, false)
	require.NoError(t, err)

	select {
	case symbol := <-store.resolveCalls:
		assert.Equal(t, "RELIANCE", symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("outcome resolution was never triggered")
	}
}

func TestNotifierReceivesDecision(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{sent: make(chan domain.FinalDecision, 1)}
	strat := &fakeStrategist{eval: strategistBuy(0.78)}
	p := New(
		&fakeMarket{quote: calmQuote("RELIANCE")},
		nil,
		&fakeAgents{results: []domain.AnalysisResult{
			{AgentName: "trend", Signal: domain.SignalHold, Confidence: 0.5},
		}},
		strat, store, notifier, ist(t),
	)

	decision, err := p.Orchestrate(context.Background(), domain.Trigger{
		Symbol:      "RELIANCE",
		TriggeredAt: time.Date(2026, 3, 2, 10, 30, 0, 0, ist(t)),
		TraceID:     "trace-notify",
	}, false)
	require.NoError(t, err)

	select {
	case sent := <-notifier.sent:
		assert.Equal(t, decision.TraceID, sent.TraceID)
	case <-time.After(2 * time.Second):
		t.Fatal("notifier never received the decision")
	}
}
