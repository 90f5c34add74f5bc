// Package classify holds the pure classifiers: market regime, trading
// session, momentum state, and directional bias. No I/O, no clock reads;
// time is always a parameter, which keeps the replay path byte-identical to
// the live path.
package classify

import (
	"math"

	"github.com/cinar/indicator/v2/trend"

	"github.com/marketmind/decisioncore/internal/domain"
)

const (
	volatileStdevThreshold = 7.0
	calmStdevThreshold     = 3.0
	longSMAPeriod          = 50
	shortSMAPeriod         = 20
)

// Regime classifies recent closing prices into a market regime.
// Empty input yields UNKNOWN; the pipeline still proceeds on UNKNOWN.
func Regime(prices []float64, latestClose float64) domain.MarketRegime {
	if len(prices) == 0 {
		return domain.RegimeUnknown
	}

	sd := stdev(prices)
	if sd > volatileStdevThreshold {
		return domain.RegimeVolatile
	}
	if latestClose > sma(prices, longSMAPeriod) && latestClose > sma(prices, shortSMAPeriod) {
		return domain.RegimeTrending
	}
	if sd < calmStdevThreshold {
		return domain.RegimeCalm
	}
	return domain.RegimeRanging
}

// sma computes a simple moving average over the last period values. Windows
// shorter than the period return NaN so the trending comparison fails closed
// right after startup, before enough history has accumulated.
func sma(prices []float64, period int) float64 {
	if period > len(prices) {
		return math.NaN()
	}
	window := prices[len(prices)-period:]

	in := make(chan float64, len(window))
	for _, p := range window {
		in <- p
	}
	close(in)

	out := trend.NewSmaWithPeriod[float64](period).Compute(in)
	last := math.NaN()
	for v := range out {
		last = v
	}
	return last
}

// stdev is the population standard deviation of the whole window.
func stdev(prices []float64) float64 {
	n := float64(len(prices))
	if n == 0 {
		return 0
	}
	mean := 0.0
	for _, p := range prices {
		mean += p
	}
	mean /= n

	variance := 0.0
	for _, p := range prices {
		d := p - mean
		variance += d * d
	}
	return math.Sqrt(variance / n)
}
