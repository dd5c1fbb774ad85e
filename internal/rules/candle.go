package rules

import (
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// detectVal1 fires on a wide up bar with high or ultra-high volume:
// effort and result agree, buyers in control.
func detectVal1(in Input, cfg *config.Config) *models.SignalEvent {
	f := in.Features
	if f.Direction != models.CandleUp {
		return nil
	}
	if f.SpreadState != models.SpreadWide {
		return nil
	}
	if f.VolState != models.VolumeHigh && f.VolState != models.VolumeUltraHigh {
		return nil
	}
	return newSignal(RuleVal1, in, map[string]float64{
		"vol_rel":    f.VolRel,
		"spread_rel": f.SpreadRel,
	})
}

// detectVal2 is the bearish mirror of VAL-1: a wide down bar on high or
// ultra-high volume validates selling pressure.
func detectVal2(in Input, cfg *config.Config) *models.SignalEvent {
	f := in.Features
	if f.Direction != models.CandleDown {
		return nil
	}
	if f.SpreadState != models.SpreadWide {
		return nil
	}
	if f.VolState != models.VolumeHigh && f.VolState != models.VolumeUltraHigh {
		return nil
	}
	return newSignal(RuleVal2, in, map[string]float64{
		"vol_rel":    f.VolRel,
		"spread_rel": f.SpreadRel,
	})
}

// detectAnom1 fires on a wide up bar with low volume: big result on little
// effort, a trap-up warning.
func detectAnom1(in Input, cfg *config.Config) *models.SignalEvent {
	f := in.Features
	if f.Direction != models.CandleUp {
		return nil
	}
	if f.SpreadState != models.SpreadWide {
		return nil
	}
	if f.VolState != models.VolumeLow {
		return nil
	}
	return newSignal(RuleAnom1, in, map[string]float64{
		"vol_rel":    f.VolRel,
		"spread_rel": f.SpreadRel,
	})
}

// detectAnom2 fires when high or ultra-high volume produces only a narrow
// or normal result: effort absorbed, not rewarded. Direction-agnostic on
// the candle; the bias is the warning side.
func detectAnom2(in Input, cfg *config.Config) *models.SignalEvent {
	f := in.Features
	if f.VolState != models.VolumeHigh && f.VolState != models.VolumeUltraHigh {
		return nil
	}
	if f.SpreadState != models.SpreadNarrow && f.SpreadState != models.SpreadNormal {
		return nil
	}
	return newSignal(RuleAnom2, in, map[string]float64{
		"vol_rel":    f.VolRel,
		"spread_rel": f.SpreadRel,
	})
}

// detectStr1 fires on a hammer: the session falls then recovers, selling
// absorbed. All ratios are of the full bar range.
func detectStr1(in Input, cfg *config.Config) *models.SignalEvent {
	f := in.Features
	if f.Range <= 0 {
		// Doji / zero-range bars cannot carry wick ratios.
		return nil
	}

	h := cfg.Patterns.Hammer
	lowerRatio := f.LowerWick / f.Range
	bodyRatio := f.Spread / f.Range
	upperRatio := f.UpperWick / f.Range

	if lowerRatio < h.LowerWickMin || bodyRatio > h.BodyMax || upperRatio > h.UpperWickMax {
		return nil
	}
	return newSignal(RuleStr1, in, map[string]float64{
		"lower_wick_ratio": lowerRatio,
		"body_ratio":       bodyRatio,
		"upper_wick_ratio": upperRatio,
		"vol_rel":          f.VolRel,
	})
}

// detectWeak1 fires on a shooting star: the market pushed higher then fell
// back, demand exhausted.
func detectWeak1(in Input, cfg *config.Config) *models.SignalEvent {
	f := in.Features
	if f.Range <= 0 {
		return nil
	}

	ss := cfg.Patterns.ShootingStar
	upperRatio := f.UpperWick / f.Range
	bodyRatio := f.Spread / f.Range
	lowerRatio := f.LowerWick / f.Range

	if upperRatio < ss.UpperWickMin || bodyRatio > ss.BodyMax || lowerRatio > ss.LowerWickMax {
		return nil
	}
	return newSignal(RuleWeak1, in, map[string]float64{
		"upper_wick_ratio": upperRatio,
		"body_ratio":       bodyRatio,
		"lower_wick_ratio": lowerRatio,
		"vol_rel":          f.VolRel,
	})
}

// detectTest fires when the bar re-probes the lowest low of the trailing
// test lookback and closes back above it. Volume at the probe classifies
// the outcome: low volume passes (supply removed), high or ultra-high
// volume fails (supply still present). At most one of the two fires.
func detectTest(in Input, cfg *config.Config) *models.SignalEvent {
	lookback := cfg.Test.Lookback
	if len(in.Bars) < lookback+1 {
		return nil
	}

	prior := in.Bars[len(in.Bars)-1-lookback : len(in.Bars)-1]
	priorLow := prior[0].Low
	for _, b := range prior[1:] {
		if b.Low < priorLow {
			priorLow = b.Low
		}
	}

	f := in.Features
	probeLevel := priorLow * (1 + cfg.Test.TolerancePct)
	if f.BarLow > probeLevel || f.BarClose <= priorLow {
		return nil
	}

	evidence := map[string]float64{
		"probe_level": priorLow,
		"vol_rel":     f.VolRel,
	}

	switch f.VolState {
	case models.VolumeLow:
		if f.SpreadState == models.SpreadWide {
			// A wide bar is not a quiet test.
			return nil
		}
		return newSignal(RuleTestSup1, in, evidence)
	case models.VolumeHigh, models.VolumeUltraHigh:
		return newSignal(RuleTestFail1, in, evidence)
	default:
		return nil
	}
}
