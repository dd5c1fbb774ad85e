// Package features implements per-bar candle/volume feature extraction.
//
// Everything here is a pure function of a bar plus a trailing window of
// prior bars. Spread is always the candle body (|close - open|); range is
// the full high-low extent. Relative measures divide by rolling baselines
// that exclude the current bar.
package features

import (
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// Extract computes CandleFeatures for the last bar in bars.
//
// Returns ok=false when the trailing window is shorter than the configured
// baseline windows. That is the expected warm-up condition, not an error;
// downstream stages skip rule evaluation for the bar.
func Extract(bars []models.Bar, cfg *config.Config, tf string) (models.CandleFeatures, bool) {
	required := cfg.Vol.AvgWindow
	if cfg.Spread.AvgWindow > required {
		required = cfg.Spread.AvgWindow
	}
	// Current bar plus a full baseline window of priors.
	if len(bars) < required+1 {
		return models.CandleFeatures{}, false
	}

	current := bars[len(bars)-1]

	volAvg := AverageVolume(bars, cfg.Vol.AvgWindow)
	volRel := 0.0
	if volAvg > 0 {
		volRel = float64(current.Volume) / volAvg
	}

	spreadAvg := AverageSpread(bars, cfg.Spread.AvgWindow)
	spreadRel := 0.0
	if spreadAvg > 0 {
		spreadRel = current.Spread() / spreadAvg
	}

	direction := models.CandleDown
	if current.IsUp() {
		direction = models.CandleUp
	}

	return models.CandleFeatures{
		Symbol:      current.Symbol,
		Timeframe:   tf,
		Timestamp:   current.Timestamp,
		Spread:      current.Spread(),
		Range:       current.Range(),
		UpperWick:   current.UpperWick(),
		LowerWick:   current.LowerWick(),
		SpreadRel:   spreadRel,
		VolRel:      volRel,
		VolState:    ClassifyVolume(volRel, cfg.Vol.Thresholds),
		SpreadState: ClassifySpread(spreadRel, cfg.Spread.Thresholds),
		Direction:   direction,
		BarHigh:     current.High,
		BarLow:      current.Low,
		BarClose:    current.Close,
	}, true
}

// AverageVolume returns the mean volume over the last lookback bars,
// excluding the current (last) bar.
func AverageVolume(bars []models.Bar, lookback int) float64 {
	window := trailingWindow(len(bars), lookback)
	if window == 0 {
		return 0
	}
	var sum int64
	for _, b := range bars[len(bars)-1-window : len(bars)-1] {
		sum += b.Volume
	}
	return float64(sum) / float64(window)
}

// AverageSpread returns the mean candle body over the last lookback bars,
// excluding the current (last) bar. Same windowing as AverageVolume.
func AverageSpread(bars []models.Bar, lookback int) float64 {
	window := trailingWindow(len(bars), lookback)
	if window == 0 {
		return 0
	}
	var sum float64
	for _, b := range bars[len(bars)-1-window : len(bars)-1] {
		sum += b.Spread()
	}
	return sum / float64(window)
}

// trailingWindow clamps lookback to the bars available before the current one.
func trailingWindow(n, lookback int) int {
	if lookback <= 0 || n < 2 {
		return 0
	}
	if avail := n - 1; lookback > avail {
		return avail
	}
	return lookback
}

// ClassifyVolume maps a relative-volume ratio into the 4-state band set.
//
//	low        : vol_rel < low_lt
//	average    : low_lt <= vol_rel <= high_gt
//	high       : high_gt < vol_rel <= ultra_high_gt
//	ultra_high : vol_rel > ultra_high_gt
func ClassifyVolume(volRel float64, t config.VolThresholds) models.VolumeState {
	switch {
	case volRel > t.UltraHighGT:
		return models.VolumeUltraHigh
	case volRel > t.HighGT:
		return models.VolumeHigh
	case volRel < t.LowLT:
		return models.VolumeLow
	default:
		return models.VolumeAverage
	}
}

// ClassifySpread maps a relative-spread ratio into the 3-state band set.
//
//	narrow : spread_rel < narrow_lt
//	normal : narrow_lt <= spread_rel <= wide_gt
//	wide   : spread_rel > wide_gt
func ClassifySpread(spreadRel float64, t config.SpreadThresholds) models.SpreadState {
	switch {
	case spreadRel > t.WideGT:
		return models.SpreadWide
	case spreadRel < t.NarrowLT:
		return models.SpreadNarrow
	default:
		return models.SpreadNormal
	}
}
