// Package context classifies the multi-bar market backdrop: trend direction
// and strength, trend location within recent structure, congestion, volume
// trend, and higher-timeframe dominant alignment.
//
// All outputs are recomputed each bar from bounded trailing windows; there
// is no persistent trend state beyond the lookback.
package context

import (
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// Analyze produces a ContextSnapshot for the last bar in bars.
// Alignment is left unknown here; resolve it against a higher-timeframe
// snapshot with ResolveAlignment.
func Analyze(bars []models.Bar, cfg *config.Config, tf string) models.ContextSnapshot {
	if len(bars) < 2 {
		return unknownSnapshot(tf)
	}

	trend, strength := detectTrend(bars, cfg.Trend)
	return models.ContextSnapshot{
		Timeframe:     tf,
		Trend:         trend,
		TrendStrength: strength,
		Location:      detectLocation(bars, cfg.Trend),
		Congestion:    detectCongestion(bars, cfg.Trend),
		VolumeTrend:   detectVolumeTrend(bars, cfg.Trend),
		Alignment:     models.AlignmentUnknown,
	}
}

func unknownSnapshot(tf string) models.ContextSnapshot {
	return models.ContextSnapshot{
		Timeframe:     tf,
		Trend:         models.TrendUnknown,
		TrendStrength: models.StrengthWeak,
		Location:      models.LocationUnknown,
		VolumeTrend:   models.VolumeFlat,
		Alignment:     models.AlignmentUnknown,
	}
}

// detectTrend counts up-closes vs down-closes over a trailing window.
// Strength is graded from the consistency ratio of the dominant side.
func detectTrend(bars []models.Bar, t config.TrendConfig) (models.TrendDirection, models.TrendStrength) {
	lookback := t.WindowK
	if avail := len(bars) - 1; lookback > avail {
		lookback = avail
	}
	if lookback < 1 {
		return models.TrendUnknown, models.StrengthWeak
	}

	recent := bars[len(bars)-lookback-1:]
	ups, downs := 0, 0
	for i := 1; i < len(recent); i++ {
		switch {
		case recent[i].Close > recent[i-1].Close:
			ups++
		case recent[i].Close < recent[i-1].Close:
			downs++
		}
	}

	if ups == downs {
		return models.TrendRange, models.StrengthWeak
	}

	direction := models.TrendUp
	dominant := ups
	if downs > ups {
		direction = models.TrendDown
		dominant = downs
	}

	ratio := float64(dominant) / float64(lookback)
	strength := models.StrengthWeak
	switch {
	case ratio >= t.StrongRatio:
		strength = models.StrengthStrong
	case ratio >= t.ModerateRatio:
		strength = models.StrengthModerate
	}
	return direction, strength
}

// detectLocation places the current close within the [lowest low, highest
// high] envelope of the lookback window as a percentile.
func detectLocation(bars []models.Bar, t config.TrendConfig) models.TrendLocation {
	window := bars
	if len(bars) > t.LocationLookback {
		window = bars[len(bars)-t.LocationLookback:]
	}
	if len(window) < 2 {
		return models.LocationUnknown
	}

	highest, lowest := envelope(window)
	fullRange := highest - lowest
	if fullRange <= 0 {
		return models.LocationMiddle
	}

	pct := (bars[len(bars)-1].Close - lowest) / fullRange
	switch {
	case pct >= t.TopPct:
		return models.LocationTop
	case pct <= t.BottomPct:
		return models.LocationBottom
	default:
		return models.LocationMiddle
	}
}

// detectCongestion compares the recent window's range against the wider
// location lookback range. A tight recent band marks an active congestion
// zone with its bounds.
func detectCongestion(bars []models.Bar, t config.TrendConfig) models.Congestion {
	if len(bars) < t.CongestionWindow {
		return models.Congestion{}
	}

	recent := bars[len(bars)-t.CongestionWindow:]
	recentHigh, recentLow := envelope(recent)

	wider := bars
	if len(bars) > t.LocationLookback {
		wider = bars[len(bars)-t.LocationLookback:]
	}
	widerHigh, widerLow := envelope(wider)
	widerRange := widerHigh - widerLow
	if widerRange <= 0 {
		return models.Congestion{}
	}

	c := models.Congestion{RangeHigh: recentHigh, RangeLow: recentLow}
	if (recentHigh-recentLow)/widerRange < t.CongestionPct {
		c.Active = true
	}
	return c
}

// detectVolumeTrend compares the mean volume of the newer half of the
// window against the older half, with a flat band around parity.
func detectVolumeTrend(bars []models.Bar, t config.TrendConfig) models.VolumeTrend {
	window := t.VolumeTrendWindow
	if len(bars) < window || window < 2 {
		return models.VolumeFlat
	}

	recent := bars[len(bars)-window:]
	half := len(recent) / 2
	older := mean(recent[:half])
	newer := mean(recent[len(recent)-half:])
	if older <= 0 {
		return models.VolumeFlat
	}

	ratio := newer / older
	switch {
	case ratio > 1+t.VolumeTrendFlat:
		return models.VolumeRising
	case ratio < 1-t.VolumeTrendFlat:
		return models.VolumeFalling
	default:
		return models.VolumeFlat
	}
}

// ResolveAlignment compares a signal's directional bias against the
// higher-timeframe trend. Returns unknown while the higher timeframe has
// no readable trend or the bias is non-directional.
func ResolveAlignment(htf models.ContextSnapshot, bias models.DirectionBias) models.Alignment {
	if htf.Trend != models.TrendUp && htf.Trend != models.TrendDown {
		return models.AlignmentUnknown
	}
	if bias != models.BiasBullish && bias != models.BiasBearish {
		return models.AlignmentUnknown
	}

	bullish := bias == models.BiasBullish
	if (bullish && htf.Trend == models.TrendUp) || (!bullish && htf.Trend == models.TrendDown) {
		return models.AlignmentWith
	}
	return models.AlignmentAgainst
}

// DirectionAlignment is ResolveAlignment for a trade direction instead of
// a signal bias.
func DirectionAlignment(htf models.ContextSnapshot, dir models.TradeDirection) models.Alignment {
	bias := models.BiasBullish
	if dir == models.DirectionShort {
		bias = models.BiasBearish
	}
	return ResolveAlignment(htf, bias)
}

func envelope(bars []models.Bar) (high, low float64) {
	high, low = bars[0].High, bars[0].Low
	for _, b := range bars[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	return high, low
}

func mean(bars []models.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	var sum int64
	for _, b := range bars {
		sum += b.Volume
	}
	return float64(sum) / float64(len(bars))
}
