package composer

import (
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
	"github.com/mohamedkhairy/vpa-engine/internal/rules"
)

// Definition describes one tradeable setup: a trigger signal, the signals
// that may complete it, and the bar window in which completion must arrive.
type Definition struct {
	ID        models.SetupID        `json:"id"`
	Direction models.TradeDirection `json:"direction"`

	// Trigger opens an instance when it fires actionably.
	Trigger models.RuleID `json:"trigger"`
	// Completers confirm a pending instance; any one suffices. Empty for
	// self-confirming setups.
	Completers []models.RuleID `json:"completers,omitempty"`

	// WindowX is the number of bars after the trigger bar within which a
	// completer must fire before the instance expires.
	WindowX int `json:"window_x"`

	StopMethod models.StopMethod `json:"stop_method"`

	// InvalidatingClasses are the signal classes whose opposing-direction
	// events kill a live instance of this setup.
	InvalidatingClasses []models.SignalClass `json:"invalidating_classes,omitempty"`

	// SoftPolicy decides what a soft avoidance signal does to this setup:
	// terminate the instance, or suppress completion while the signal is
	// present.
	SoftPolicy config.SoftPolicy `json:"soft_policy"`

	// SelfConfirming setups go ready on the trigger bar itself.
	SelfConfirming bool `json:"self_confirming,omitempty"`

	// RequiredLocation restricts the trigger to a structural location.
	// Empty means any location.
	RequiredLocation models.TrendLocation `json:"required_location,omitempty"`
}

// Setup identifiers.
const (
	SetupLong1  models.SetupID = "LONG-1"
	SetupLong2  models.SetupID = "LONG-2"
	SetupShort1 models.SetupID = "SHORT-1"
	SetupShort2 models.SetupID = "SHORT-2"
	SetupShort3 models.SetupID = "SHORT-3"
)

// DefaultInvalidatingClasses returns the signal classes whose
// opposing-direction events invalidate a live instance. Meta and
// avoidance classes are excluded; the composer handles those separately.
func DefaultInvalidatingClasses() []models.SignalClass {
	return []models.SignalClass{
		models.ClassValidation,
		models.ClassStrength,
		models.ClassWeakness,
		models.ClassClimax,
		models.ClassTest,
		models.ClassConfirmation,
	}
}

// DefaultDefinitions returns the built-in setup catalog. Order is fixed;
// the composer iterates definitions in this order when opening instances.
// Every built-in setup invalidates on the full directional class set and
// shares the configured soft policy.
func DefaultDefinitions(cfg *config.Config) []Definition {
	w := cfg.Setup.WindowX
	defs := []Definition{
		{
			// Successful test of supply, confirmed by bullish drive or
			// candle/trend agreement.
			ID:         SetupLong1,
			Direction:  models.DirectionLong,
			Trigger:    rules.RuleTestSup1,
			Completers: []models.RuleID{rules.RuleVal1, rules.RuleConf1},
			WindowX:    w,
			StopMethod: models.StopTriggerExtreme,
		},
		{
			// Hammer absorption, confirmed by a bullish drive or a clean
			// follow-up test.
			ID:         SetupLong2,
			Direction:  models.DirectionLong,
			Trigger:    rules.RuleStr1,
			Completers: []models.RuleID{rules.RuleVal1, rules.RuleTestSup1},
			WindowX:    w,
			StopMethod: models.StopTriggerExtreme,
		},
		{
			// Selling climax, confirmed by demand exhaustion or absorption.
			ID:         SetupShort1,
			Direction:  models.DirectionShort,
			Trigger:    rules.RuleClimaxSell1,
			Completers: []models.RuleID{rules.RuleWeak1, rules.RuleAnom2},
			WindowX:    w,
			StopMethod: models.StopTriggerExtreme,
		},
		{
			// Selling climax confirmed by a failed test: supply proven still
			// present. Climax extremes are too wide for a sane stop, so the
			// stop is ATR-based.
			ID:         SetupShort2,
			Direction:  models.DirectionShort,
			Trigger:    rules.RuleClimaxSell1,
			Completers: []models.RuleID{rules.RuleTestFail1},
			WindowX:    w,
			StopMethod: models.StopATRMultiple,
		},
		{
			// Shooting star at the top of structure is self-confirming.
			ID:               SetupShort3,
			Direction:        models.DirectionShort,
			Trigger:          rules.RuleWeak1,
			WindowX:          w,
			StopMethod:       models.StopTriggerExtreme,
			SelfConfirming:   true,
			RequiredLocation: models.LocationTop,
		},
	}
	for i := range defs {
		defs[i].InvalidatingClasses = DefaultInvalidatingClasses()
		defs[i].SoftPolicy = cfg.Setup.SoftPolicy
	}
	return defs
}
