package rules

import (
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// Input carries everything one bar's evaluation may read. Nothing in it
// reaches past the bar currently being evaluated.
type Input struct {
	// Bars is the trailing history, oldest first; the last element is the
	// bar being evaluated.
	Bars []models.Bar
	// Features for the last bar.
	Features models.CandleFeatures
	// Context for the evaluation timeframe.
	Context models.ContextSnapshot
	// Higher is the higher-timeframe context, nil until enough history
	// exists.
	Higher *models.ContextSnapshot
	// PriorSignals holds the emitted signal sets of preceding bars, oldest
	// first, trimmed to the largest trailing window any rule needs.
	PriorSignals [][]models.SignalEvent
	// BarIndex is the sequential index of the bar being evaluated.
	BarIndex int
}

// Evaluate runs the full catalog against one bar and returns every signal
// that fired. Detector order is fixed; multiple signals may coexist on one
// bar and none suppresses another.
func Evaluate(in Input, cfg *config.Config) []models.SignalEvent {
	var out []models.SignalEvent

	appendIf := func(sig *models.SignalEvent) {
		if sig != nil {
			out = append(out, *sig)
		}
	}

	// Candle-level rules.
	appendIf(detectVal1(in, cfg))
	appendIf(detectVal2(in, cfg))
	appendIf(detectAnom1(in, cfg))
	appendIf(detectAnom2(in, cfg))
	appendIf(detectStr1(in, cfg))
	appendIf(detectWeak1(in, cfg))
	appendIf(detectTest(in, cfg))

	// Trend-level and multi-bar rules.
	appendIf(detectTrendVal1(in, cfg))
	appendIf(detectTrendAnom1(in, cfg))
	appendIf(detectClimaxSell1(in, cfg))
	appendIf(detectClimaxBuy1(in, cfg))
	appendIf(detectClust1(in, cfg, out))

	// Confirmation requires agreement within the same evaluation.
	appendIf(detectConf1(in, out))

	// Avoidance rules run last: they read the bar plus what already fired.
	appendIf(detectAvoidWide1(in, cfg))
	appendIf(detectAvoidAnom1(in, out))
	appendIf(detectAvoidCounter1(in, out))

	return out
}

// newSignal builds a SignalEvent for a rule from the catalog template.
// Bar extremes ride along in the evidence so the composer and risk engine
// can place stops without holding bar references.
func newSignal(id models.RuleID, in Input, evidence map[string]float64) *models.SignalEvent {
	s := spec(id)
	if evidence == nil {
		evidence = make(map[string]float64, 2)
	}
	evidence["bar_high"] = in.Features.BarHigh
	evidence["bar_low"] = in.Features.BarLow

	return &models.SignalEvent{
		Rule:         id,
		Name:         s.name,
		Symbol:       in.Features.Symbol,
		Timeframe:    in.Features.Timeframe,
		Timestamp:    in.Features.Timestamp,
		BarIndex:     in.BarIndex,
		Class:        s.class,
		Bias:         s.bias,
		Priority:     s.priority,
		Evidence:     evidence,
		RequiresGate: s.requiresGate,
	}
}

// withBias returns the signal with a dynamically resolved direction bias.
func withBias(sig *models.SignalEvent, bias models.DirectionBias) *models.SignalEvent {
	sig.Bias = bias
	return sig
}
