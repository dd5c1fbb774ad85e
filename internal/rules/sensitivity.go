package rules

import (
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// NearMiss records a rule that failed exactly one numeric condition on a
// bar, with the observed value and the threshold it missed. Near-misses
// are diagnostics for threshold calibration; they never feed the
// composer or risk engine.
type NearMiss struct {
	Rule      models.RuleID `json:"rule"`
	Condition string        `json:"condition"`
	Observed  float64       `json:"observed"`
	Threshold float64       `json:"threshold"`
	// Margin is the relative shortfall against the threshold, always
	// positive: 0.05 means the condition missed by 5%.
	Margin float64 `json:"margin"`
}

// cond is one evaluated rule condition. Boolean preconditions (candle
// direction, volume state membership) carry no margin; failing one
// disqualifies the rule from near-miss reporting.
type cond struct {
	name      string
	pass      bool
	numeric   bool
	observed  float64
	threshold float64
	margin    float64
}

func condBool(name string, pass bool) cond {
	return cond{name: name, pass: pass}
}

// condGT: observed must exceed threshold.
func condGT(name string, observed, threshold float64) cond {
	c := cond{name: name, numeric: true, observed: observed, threshold: threshold}
	if observed > threshold {
		c.pass = true
	} else if threshold > 0 {
		c.margin = (threshold - observed) / threshold
	} else {
		c.margin = 1
	}
	return c
}

// condLT: observed must stay below threshold.
func condLT(name string, observed, threshold float64) cond {
	c := cond{name: name, numeric: true, observed: observed, threshold: threshold}
	if observed < threshold {
		c.pass = true
	} else if threshold > 0 {
		c.margin = (observed - threshold) / threshold
	} else {
		c.margin = 1
	}
	return c
}

// ComputeNearMisses evaluates the numeric-threshold candle rules against
// the bar and reports every rule that missed on exactly one numeric
// condition by no more than tolerance (relative). Rules that fired, or
// that failed a boolean precondition, or that missed on two or more
// conditions, are skipped.
func ComputeNearMisses(in Input, cfg *config.Config, fired []models.SignalEvent, tolerance float64) []NearMiss {
	firedSet := make(map[models.RuleID]bool, len(fired))
	for i := range fired {
		firedSet[fired[i].Rule] = true
	}

	f := in.Features
	var out []NearMiss

	check := func(id models.RuleID, conds []cond) {
		if firedSet[id] {
			return
		}
		var failed *cond
		for i := range conds {
			c := &conds[i]
			if c.pass {
				continue
			}
			if !c.numeric || failed != nil {
				return
			}
			failed = c
		}
		if failed == nil || failed.margin > tolerance {
			return
		}
		out = append(out, NearMiss{
			Rule:      id,
			Condition: failed.name,
			Observed:  failed.observed,
			Threshold: failed.threshold,
			Margin:    failed.margin,
		})
	}

	check(RuleVal1, []cond{
		condBool("direction_up", f.Direction == models.CandleUp),
		condGT("spread_rel", f.SpreadRel, cfg.Spread.Thresholds.WideGT),
		condGT("vol_rel", f.VolRel, cfg.Vol.Thresholds.HighGT),
	})
	check(RuleVal2, []cond{
		condBool("direction_down", f.Direction == models.CandleDown),
		condGT("spread_rel", f.SpreadRel, cfg.Spread.Thresholds.WideGT),
		condGT("vol_rel", f.VolRel, cfg.Vol.Thresholds.HighGT),
	})
	check(RuleAnom1, []cond{
		condBool("direction_up", f.Direction == models.CandleUp),
		condGT("spread_rel", f.SpreadRel, cfg.Spread.Thresholds.WideGT),
		condLT("vol_rel", f.VolRel, cfg.Vol.Thresholds.LowLT),
	})
	check(RuleAnom2, []cond{
		condGT("vol_rel", f.VolRel, cfg.Vol.Thresholds.HighGT),
		condLT("spread_rel", f.SpreadRel, cfg.Spread.Thresholds.WideGT),
	})

	if f.Range > 0 {
		h := cfg.Patterns.Hammer
		check(RuleStr1, []cond{
			condGT("lower_wick_ratio", f.LowerWick/f.Range, h.LowerWickMin),
			condLT("body_ratio", f.Spread/f.Range, h.BodyMax),
			condLT("upper_wick_ratio", f.UpperWick/f.Range, h.UpperWickMax),
		})
		s := cfg.Patterns.ShootingStar
		check(RuleWeak1, []cond{
			condGT("upper_wick_ratio", f.UpperWick/f.Range, s.UpperWickMin),
			condLT("body_ratio", f.Spread/f.Range, s.BodyMax),
			condLT("lower_wick_ratio", f.LowerWick/f.Range, s.LowerWickMax),
		})
	}

	return out
}
