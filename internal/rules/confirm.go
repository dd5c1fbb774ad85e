package rules

import (
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// detectConf1 fires when a candle-level detection and a trend/cluster-level
// detection agree on direction within the same evaluation. Single-bar
// evidence backed by multi-bar structure is stronger than either alone.
// Bullish agreement wins ties deterministically when both sides exist.
func detectConf1(in Input, current []models.SignalEvent) *models.SignalEvent {
	var candle, trend [2]bool // [bullish, bearish]

	for i := range current {
		sig := &current[i]
		var side int
		switch sig.Bias {
		case models.BiasBullish:
			side = 0
		case models.BiasBearish:
			side = 1
		default:
			continue
		}
		switch {
		case candleLevel(sig.Rule):
			candle[side] = true
		case trendLevel(sig.Rule):
			trend[side] = true
		}
	}

	switch {
	case candle[0] && trend[0]:
		return withBias(newSignal(RuleConf1, in, nil), models.BiasBullish)
	case candle[1] && trend[1]:
		return withBias(newSignal(RuleConf1, in, nil), models.BiasBearish)
	default:
		return nil
	}
}
