package rules

import (
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// detectAvoidWide1 fires on a wide two-sided bar (long-legged doji shape)
// on very low volume: an ambiguous shakeout bar nobody should trade into.
// This is the hard avoidance rule.
func detectAvoidWide1(in Input, cfg *config.Config) *models.SignalEvent {
	f := in.Features
	if f.Range <= 0 {
		return nil
	}
	if f.VolState != models.VolumeLow {
		return nil
	}

	d := cfg.Patterns.Doji
	bodyRatio := f.Spread / f.Range
	upperRatio := f.UpperWick / f.Range
	lowerRatio := f.LowerWick / f.Range

	if bodyRatio > d.BodyMax || upperRatio < d.MinWickEach || lowerRatio < d.MinWickEach {
		return nil
	}
	return newSignal(RuleAvoidWide1, in, map[string]float64{
		"body_ratio":       bodyRatio,
		"upper_wick_ratio": upperRatio,
		"lower_wick_ratio": lowerRatio,
		"vol_rel":          f.VolRel,
	})
}

// detectAvoidAnom1 fires when the bar carries an anomaly with no validation
// signal on the same bar to resolve it. An unresolved anomaly is a reason
// to wait, not to act. Soft avoidance.
func detectAvoidAnom1(in Input, current []models.SignalEvent) *models.SignalEvent {
	hasAnomaly := false
	for i := range current {
		switch current[i].Class {
		case models.ClassAnomaly:
			hasAnomaly = true
		case models.ClassValidation:
			return nil
		}
	}
	if !hasAnomaly {
		return nil
	}
	return newSignal(RuleAvoidAnom1, in, nil)
}

// detectAvoidCounter1 fires when a directional signal on this bar runs
// against a readable higher-timeframe trend. Soft avoidance; CTX-2 decides
// whether that means reduced size or an outright block.
func detectAvoidCounter1(in Input, current []models.SignalEvent) *models.SignalEvent {
	if in.Higher == nil {
		return nil
	}
	htf := *in.Higher
	if htf.Trend != models.TrendUp && htf.Trend != models.TrendDown {
		return nil
	}

	counter := 0
	for i := range current {
		bias := current[i].Bias
		if bias != models.BiasBullish && bias != models.BiasBearish {
			continue
		}
		if (bias == models.BiasBullish && htf.Trend == models.TrendDown) ||
			(bias == models.BiasBearish && htf.Trend == models.TrendUp) {
			counter++
		}
	}
	if counter == 0 {
		return nil
	}
	return newSignal(RuleAvoidCounter1, in, map[string]float64{
		"counter_signals": float64(counter),
	})
}
