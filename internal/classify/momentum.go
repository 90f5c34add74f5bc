package classify

import (
	"github.com/marketmind/decisioncore/internal/domain"
)

// MomentumWindow is the per-decision input to the momentum state calculator,
// ordered oldest to newest so a positive confidence slope means momentum is
// building. Entries beyond maxMomentumWindow are ignored.
type MomentumWindow struct {
	Signals     []domain.Signal
	Confidences []float64
	Divergences []bool
	Regimes     []domain.MarketRegime
}

const (
	maxMomentumWindow   = 8
	minMomentumWindow   = 3
	confirmedAlignment  = 0.80
	weakeningAlignment  = 0.65
	decliningTrend      = -0.03
	buildingTrend       = 0.02
	divergenceRatioHigh = 0.40
)

// MomentumState resolves the market state from a window of recent decisions.
// Priority order: CONFIRMED, WEAKENING, BUILDING, CALM. Windows shorter than
// three decisions are always CALM.
func MomentumState(w MomentumWindow) domain.MarketState {
	n := len(w.Signals)
	if n > maxMomentumWindow {
		n = maxMomentumWindow
	}
	if n < minMomentumWindow {
		return domain.StateCalm
	}

	alignment := signalAlignment(w.Signals[:n])
	trend := LeastSquaresSlope(w.Confidences[:n])
	divergenceRatio := ratioTrue(w.Divergences[:n])
	regimeStable := allSameRegime(w.Regimes[:n])

	switch {
	case alignment >= confirmedAlignment && trend >= decliningTrend &&
		divergenceRatio < divergenceRatioHigh && regimeStable:
		return domain.StateConfirmed
	case alignment >= weakeningAlignment && (trend < decliningTrend || divergenceRatio >= divergenceRatioHigh):
		return domain.StateWeakening
	case alignment >= weakeningAlignment && trend > buildingTrend && divergenceRatio < divergenceRatioHigh:
		return domain.StateBuilding
	case alignment >= weakeningAlignment && trend >= decliningTrend && divergenceRatio < divergenceRatioHigh:
		// Softened BUILDING: flat-but-not-declining confidence still counts
		// once the stronger conditions have been ruled out.
		return domain.StateBuilding
	default:
		return domain.StateCalm
	}
}

// signalAlignment is the fraction of the window on the dominant signal.
func signalAlignment(signals []domain.Signal) float64 {
	counts := make(map[domain.Signal]int, 4)
	for _, s := range signals {
		counts[s]++
	}
	max := 0
	for _, c := range counts {
		if c > max {
			max = c
		}
	}
	return float64(max) / float64(len(signals))
}

// LeastSquaresSlope fits y = a + b*x over index positions and returns b.
// Shared with the per-symbol confidence-slope projection.
func LeastSquaresSlope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func ratioTrue(flags []bool) float64 {
	if len(flags) == 0 {
		return 0
	}
	count := 0
	for _, f := range flags {
		if f {
			count++
		}
	}
	return float64(count) / float64(len(flags))
}

func allSameRegime(regimes []domain.MarketRegime) bool {
	for i := 1; i < len(regimes); i++ {
		if regimes[i] != regimes[0] {
			return false
		}
	}
	return len(regimes) > 0
}
