package classify

import (
	"github.com/marketmind/decisioncore/internal/domain"
)

// TrendVotes carries the five boolean indicators the trend agent reports.
// Each true vote is a point toward the bullish end of the scale.
type TrendVotes struct {
	TrendSlopeUp     bool
	MACDHistogramUp  bool
	PriceAboveSMA20  bool
	PriceAboveEMA12  bool
	FiveCandleMomUp  bool
}

// Bias converts the five-vote majority into the directional bias ordinal.
func Bias(v TrendVotes) domain.DirectionalBias {
	count := 0
	for _, vote := range []bool{
		v.TrendSlopeUp, v.MACDHistogramUp, v.PriceAboveSMA20, v.PriceAboveEMA12, v.FiveCandleMomUp,
	} {
		if vote {
			count++
		}
	}

	switch count {
	case 5:
		return domain.BiasStrongBullish
	case 4:
		return domain.BiasBullish
	case 2, 3:
		return domain.BiasNeutral
	case 1:
		return domain.BiasBearish
	default:
		return domain.BiasStrongBearish
	}
}

// BiasFromResults scans agent results for a declared directional bias in
// metadata. The first result carrying one wins; absent or malformed metadata
// defaults to NEUTRAL.
func BiasFromResults(results []domain.AnalysisResult) domain.DirectionalBias {
	for _, r := range results {
		if raw, ok := r.Metadata["directionalBias"]; ok {
			if s, ok := raw.(string); ok {
				return domain.ParseDirectionalBias(s)
			}
		}
	}
	return domain.BiasNeutral
}
