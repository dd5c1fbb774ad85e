package rules

import (
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// detectTrendVal1 fires when the volume trend confirms the price trend
// over the context window: rising volume behind a directional move.
// Bias follows the price trend.
func detectTrendVal1(in Input, cfg *config.Config) *models.SignalEvent {
	ctx := in.Context
	if ctx.VolumeTrend != models.VolumeRising {
		return nil
	}

	var bias models.DirectionBias
	switch ctx.Trend {
	case models.TrendUp:
		bias = models.BiasBullish
	case models.TrendDown:
		bias = models.BiasBearish
	default:
		return nil
	}

	sig := newSignal(RuleTrendVal1, in, map[string]float64{
		"trend_window": float64(cfg.Trend.WindowK),
	})
	return withBias(sig, bias)
}

// detectTrendAnom1 fires when volume falls away beneath a directional
// move: the trend is running out of effort. Bias is against the trend.
func detectTrendAnom1(in Input, cfg *config.Config) *models.SignalEvent {
	ctx := in.Context
	if ctx.VolumeTrend != models.VolumeFalling {
		return nil
	}

	var bias models.DirectionBias
	switch ctx.Trend {
	case models.TrendUp:
		bias = models.BiasBearish
	case models.TrendDown:
		bias = models.BiasBullish
	default:
		return nil
	}

	sig := newSignal(RuleTrendAnom1, in, map[string]float64{
		"trend_window": float64(cfg.Trend.WindowK),
	})
	return withBias(sig, bias)
}
