package classify

import (
	"time"

	"github.com/marketmind/decisioncore/internal/domain"
)

// Session buckets for an NSE-style trading day, in minutes from midnight.
// The boundaries are half-open: 09:15:00 is OPENING_BURST, 10:00:00 is
// already MIDDAY_CONSOLIDATION.
const (
	openingStart = 9*60 + 15  // 09:15
	middayStart  = 10 * 60    // 10:00
	powerStart   = 15 * 60    // 15:00
	marketClose  = 15*60 + 30 // 15:30
)

// Session classifies a timestamp into a trading session in the given zone.
func Session(ts time.Time, loc *time.Location) domain.TradingSession {
	local := ts.In(loc)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return domain.SessionOffHours
	}

	minute := local.Hour()*60 + local.Minute()
	switch {
	case minute >= openingStart && minute < middayStart:
		return domain.SessionOpeningBurst
	case minute >= middayStart && minute < powerStart:
		return domain.SessionMidday
	case minute >= powerStart && minute < marketClose:
		return domain.SessionPowerHour
	default:
		return domain.SessionOffHours
	}
}
