// Package risk turns ready setups into sized trade intents or typed
// rejections.
//
// The hard-reject checklist runs in configured priority order and the
// first matching reject wins; a rejected intent never reaches sizing.
// Evaluation is pure: account state comes in, an intent comes out, and
// the same inputs always produce the same intent.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/mohamedkhairy/vpa-engine/internal/composer"
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// AccountState is the caller's view of the account at evaluation time.
type AccountState struct {
	Equity        float64 `json:"equity"`
	OpenPositions int     `json:"open_positions"`
	// DailyPnL is realized profit and loss for the current session day;
	// losses are negative.
	DailyPnL float64 `json:"daily_pnl"`
	// AvoidanceActive is set when a hard avoidance signal fired on the
	// evaluation bar.
	AvoidanceActive bool `json:"avoidance_active"`
}

// Input bundles one ready setup with everything sizing needs.
type Input struct {
	Ready   composer.Ready
	Account AccountState
	// RefPrice anchors stop distance and per-unit risk: the close of the
	// bar on which the setup became ready.
	RefPrice float64
	// ATR of the evaluation bar, 0 while the ATR window is warming up.
	ATR float64

	Symbol    string
	Timeframe string
	BarIndex  int
	Timestamp time.Time
}

// Evaluate produces exactly one TradeIntent per ready setup: either a
// sized, stopped, ready intent or a rejection carrying the first matching
// typed reason.
func Evaluate(in Input, cfg *config.Config) models.TradeIntent {
	intent := models.TradeIntent{
		ID:           intentID(in.Ready.Setup, in.BarIndex),
		Setup:        in.Ready.Setup,
		Symbol:       in.Symbol,
		Timeframe:    in.Timeframe,
		Direction:    in.Ready.Direction,
		EntryTiming:  models.EntryNextBarOpen,
		CreatedAtBar: in.BarIndex,
		Timestamp:    in.Timestamp,
		Rationale: []string{
			fmt.Sprintf("setup %s triggered by %s, completed by %s",
				in.Ready.Setup, in.Ready.TriggerRule, in.Ready.CompletedBy),
		},
	}

	sized := false
	for _, check := range cfg.Risk.RejectOrder {
		switch check {
		case "max_positions":
			if in.Account.OpenPositions >= cfg.Risk.MaxConcurrentPositions {
				return reject(intent, models.RejectMaxPositions,
					fmt.Sprintf("open positions %d at limit %d",
						in.Account.OpenPositions, cfg.Risk.MaxConcurrentPositions))
			}
		case "daily_loss_limit":
			limit := cfg.Risk.DailyLossLimitPct * in.Account.Equity
			if limit > 0 && -in.Account.DailyPnL >= limit {
				return reject(intent, models.RejectDailyLossLimit,
					fmt.Sprintf("daily loss %.2f at limit %.2f", -in.Account.DailyPnL, limit))
			}
		case "avoidance_active":
			if in.Account.AvoidanceActive {
				return reject(intent, models.RejectAvoidanceActive,
					"hard avoidance active on evaluation bar")
			}
		case "zero_size":
			if reason, why := applySizing(&intent, in, cfg); reason != "" {
				return reject(intent, reason, why)
			}
			sized = true
		}
	}

	// A ready intent always carries a stop and a size. When the configured
	// reject order omits the zero_size check it still runs, at the lowest
	// priority.
	if !sized {
		if reason, why := applySizing(&intent, in, cfg); reason != "" {
			return reject(intent, reason, why)
		}
	}

	intent.Status = models.IntentReady
	return intent
}

// applySizing resolves the stop and position size onto the intent. An
// empty reason means the intent is fully sized.
func applySizing(intent *models.TradeIntent, in Input, cfg *config.Config) (models.RejectReason, string) {
	stop, method, ok := resolveStop(in, cfg)
	if !ok {
		return models.RejectStopUnavailable,
			"no valid stop: trigger extreme unusable and ATR unavailable"
	}
	intent.StopPrice = stop
	intent.StopMethod = method

	size, riskPct := computeSize(in, cfg, stop, intent)
	if size <= 0 {
		return models.RejectZeroSize,
			"computed size rounds to zero at current equity and stop distance"
	}
	intent.Size = size
	intent.RiskPct = riskPct
	return "", ""
}

func reject(intent models.TradeIntent, reason models.RejectReason, why string) models.TradeIntent {
	intent.Status = models.IntentRejected
	intent.RejectReason = reason
	intent.Rationale = append(intent.Rationale, "rejected: "+why)
	return intent
}

// resolveStop picks the protective stop. The setup's configured method is
// tried first; a trigger-extreme stop that would sit on the wrong side of
// the reference price falls back to the ATR method. Returns ok=false only
// when no method can produce a valid stop.
func resolveStop(in Input, cfg *config.Config) (float64, models.StopMethod, bool) {
	long := in.Ready.Direction == models.DirectionLong

	if in.Ready.StopMethod == models.StopTriggerExtreme {
		if long && in.Ready.TriggerLow > 0 && in.Ready.TriggerLow < in.RefPrice {
			return in.Ready.TriggerLow, models.StopTriggerExtreme, true
		}
		if !long && in.Ready.TriggerHigh > in.RefPrice {
			return in.Ready.TriggerHigh, models.StopTriggerExtreme, true
		}
	}

	if in.ATR <= 0 {
		return 0, "", false
	}
	dist := in.ATR * cfg.ATR.StopMultiplier
	if long {
		stop := in.RefPrice - dist
		if stop <= 0 {
			return 0, "", false
		}
		return stop, models.StopATRMultiple, true
	}
	return in.RefPrice + dist, models.StopATRMultiple, true
}

// computeSize converts the per-trade risk budget into a lot-rounded unit
// count. REDUCE_RISK setups are scaled by the countertrend multiplier.
func computeSize(in Input, cfg *config.Config, stop float64, intent *models.TradeIntent) (int64, float64) {
	perUnit := math.Abs(in.RefPrice - stop)
	if perUnit <= 0 || in.Account.Equity <= 0 {
		return 0, 0
	}

	riskPct := cfg.Risk.RiskPctPerTrade
	if in.Ready.ReducedRisk {
		riskPct *= cfg.Risk.CountertrendMultiplier
		intent.Rationale = append(intent.Rationale,
			fmt.Sprintf("counter-dominant setup: risk scaled by %.2f", cfg.Risk.CountertrendMultiplier))
	}

	raw := in.Account.Equity * riskPct / perUnit
	lot := cfg.Risk.LotSize
	size := int64(raw/float64(lot)) * lot
	return size, riskPct
}

// intentID is deterministic per (setup, bar) so replays of the same data
// produce identical journals.
func intentID(setup models.SetupID, bar int) string {
	return fmt.Sprintf("TI-%s-bar%d", setup, bar)
}
