package rules

import (
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// Climax rules count repeated extreme-wick bars at extreme volume across a
// trailing window. A climax is a phase event, not a single candle: one
// wicked bar is noise, several in quick succession mark exhaustion.
//
// Volume extremity for every bar in the window is judged against the same
// baseline (the current bar's trailing average), which keeps the count
// cheap and deterministic.

// detectClimaxSell1 fires when enough upper-wick bars on high volume have
// accumulated in the trailing window and the current bar is one of them.
func detectClimaxSell1(in Input, cfg *config.Config) *models.SignalEvent {
	count, currentQualifies := countClimaxBars(in, cfg, true)
	if count < cfg.Climax.MinBars || !currentQualifies {
		return nil
	}
	return newSignal(RuleClimaxSell1, in, map[string]float64{
		"climax_bars": float64(count),
		"window":      float64(cfg.Climax.Window),
	})
}

// detectClimaxBuy1 is the lower-wick mirror: repeated selling into demand
// at extreme volume, marking downside exhaustion.
func detectClimaxBuy1(in Input, cfg *config.Config) *models.SignalEvent {
	count, currentQualifies := countClimaxBars(in, cfg, false)
	if count < cfg.Climax.MinBars || !currentQualifies {
		return nil
	}
	return newSignal(RuleClimaxBuy1, in, map[string]float64{
		"climax_bars": float64(count),
		"window":      float64(cfg.Climax.Window),
	})
}

// countClimaxBars counts bars in the trailing climax window whose wick
// ratio and volume both qualify. upper selects upper-wick (selling) vs
// lower-wick (buying) climax bars.
func countClimaxBars(in Input, cfg *config.Config, upper bool) (count int, currentQualifies bool) {
	window := cfg.Climax.Window
	if len(in.Bars) < window {
		return 0, false
	}

	avgVol := averageVolumeExcludingLast(in.Bars, cfg.Vol.AvgWindow)
	if avgVol <= 0 {
		return 0, false
	}
	volFloor := cfg.Vol.Thresholds.HighGT * avgVol

	recent := in.Bars[len(in.Bars)-window:]
	for i, b := range recent {
		rng := b.Range()
		if rng <= 0 {
			continue
		}
		wick := b.UpperWick()
		if !upper {
			wick = b.LowerWick()
		}
		if wick/rng < cfg.Climax.WickRatioMin {
			continue
		}
		if float64(b.Volume) <= volFloor {
			continue
		}
		count++
		if i == len(recent)-1 {
			currentQualifies = true
		}
	}
	return count, currentQualifies
}

func averageVolumeExcludingLast(bars []models.Bar, lookback int) float64 {
	n := len(bars)
	if n < 2 || lookback <= 0 {
		return 0
	}
	if lookback > n-1 {
		lookback = n - 1
	}
	var sum int64
	for _, b := range bars[n-1-lookback : n-1] {
		sum += b.Volume
	}
	return float64(sum) / float64(lookback)
}
