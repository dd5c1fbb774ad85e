// Package rules implements the fixed catalog of pure signal detectors.
//
// The catalog is a closed enumeration: every rule id is declared here and
// described by an exhaustive switch, so adding a rule is a compile-time
// change rather than a registry lookup. Detectors are total over well-typed
// inputs; "no match" is an explicit absence, never an error.
//
// Detectors emit SignalEvents only. No orders, no sizes, no stops.
package rules

import (
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// The closed rule catalog.
const (
	// Candle-level effort-vs-result rules.
	RuleVal1  models.RuleID = "VAL-1"  // wide up bar on high/ultra volume
	RuleVal2  models.RuleID = "VAL-2"  // wide down bar on high/ultra volume
	RuleAnom1 models.RuleID = "ANOM-1" // wide up bar on low volume (trap-up)
	RuleAnom2 models.RuleID = "ANOM-2" // high volume, narrow result (absorption)

	// Premier candle shapes.
	RuleStr1  models.RuleID = "STR-1"  // hammer: selling absorbed
	RuleWeak1 models.RuleID = "WEAK-1" // shooting star: demand exhaustion

	// Structural tests.
	RuleTestSup1  models.RuleID = "TEST-SUP-1"  // low-volume probe of prior lows (pass)
	RuleTestFail1 models.RuleID = "TEST-FAIL-1" // high-volume probe of prior lows (fail)

	// Trend-level effort-vs-result rules.
	RuleTrendVal1  models.RuleID = "TREND-VAL-1"  // volume trend confirms price trend
	RuleTrendAnom1 models.RuleID = "TREND-ANOM-1" // volume trend contradicts price trend

	// Cluster escalation.
	RuleClust1 models.RuleID = "CLUST-1" // anomaly cluster in trailing window

	// Climax rules (counted across bars, not single-bar).
	RuleClimaxSell1 models.RuleID = "CLIMAX-SELL-1"
	RuleClimaxBuy1  models.RuleID = "CLIMAX-BUY-1"

	// Confirmation.
	RuleConf1 models.RuleID = "CONF-1" // candle-level and trend/cluster-level agree

	// Avoidance.
	RuleAvoidWide1    models.RuleID = "AVOID-WIDE-1"    // wide two-sided bar on very low volume (hard)
	RuleAvoidAnom1    models.RuleID = "AVOID-ANOM-1"    // unresolved anomaly, no same-bar validation (soft)
	RuleAvoidCounter1 models.RuleID = "AVOID-COUNTER-1" // counter-dominant-trend condition (soft)
)

// Catalog lists every rule id in evaluation order. Priorities are fixed per
// rule and used downstream only for tie-breaking, never for suppression.
var Catalog = []models.RuleID{
	RuleVal1, RuleVal2, RuleAnom1, RuleAnom2,
	RuleStr1, RuleWeak1,
	RuleTestSup1, RuleTestFail1,
	RuleTrendVal1, RuleTrendAnom1,
	RuleClust1,
	RuleClimaxSell1, RuleClimaxBuy1,
	RuleConf1,
	RuleAvoidWide1, RuleAvoidAnom1, RuleAvoidCounter1,
}

// ruleSpec is the static description of one catalog entry.
type ruleSpec struct {
	name         string
	class        models.SignalClass
	bias         models.DirectionBias // default; some detectors resolve bias dynamically
	priority     int
	requiresGate bool
}

// spec returns the static description for a rule id. The switch is
// exhaustive over the catalog; an unknown id is a programming error.
func spec(id models.RuleID) ruleSpec {
	switch id {
	case RuleVal1:
		return ruleSpec{"SingleBarValidation_BullishDrive", models.ClassValidation, models.BiasBullish, 1, false}
	case RuleVal2:
		return ruleSpec{"SingleBarValidation_BearishDrive", models.ClassValidation, models.BiasBearish, 1, false}
	case RuleAnom1:
		return ruleSpec{"BigResultLittleEffort_TrapUpWarning", models.ClassAnomaly, models.BiasBearish, 2, true}
	case RuleAnom2:
		return ruleSpec{"BigEffortLittleResult_Absorption", models.ClassAnomaly, models.BiasBearish, 2, true}
	case RuleStr1:
		return ruleSpec{"Hammer_SellingAbsorbed", models.ClassStrength, models.BiasBullish, 2, true}
	case RuleWeak1:
		return ruleSpec{"ShootingStar_DemandExhaustion", models.ClassWeakness, models.BiasBearish, 2, true}
	case RuleTestSup1:
		return ruleSpec{"TestOfSupply_SellingPressureRemoved", models.ClassTest, models.BiasBullish, 1, true}
	case RuleTestFail1:
		return ruleSpec{"TestOfSupply_SupplyStillPresent", models.ClassTest, models.BiasBearish, 2, true}
	case RuleTrendVal1:
		return ruleSpec{"TrendValidation_VolumeConfirms", models.ClassValidation, models.BiasNeutral, 1, false}
	case RuleTrendAnom1:
		return ruleSpec{"TrendAnomaly_VolumeDiverges", models.ClassAnomaly, models.BiasNeutral, 2, true}
	case RuleClust1:
		return ruleSpec{"AnomalyCluster_Escalation", models.ClassMeta, models.BiasNeutral, 3, true}
	case RuleClimaxSell1:
		return ruleSpec{"SellingClimax_RepeatedUpperWicks", models.ClassClimax, models.BiasBearish, 3, true}
	case RuleClimaxBuy1:
		return ruleSpec{"BuyingClimax_RepeatedLowerWicks", models.ClassClimax, models.BiasBullish, 3, true}
	case RuleConf1:
		return ruleSpec{"Confirmation_CandleAndTrendAgree", models.ClassConfirmation, models.BiasNeutral, 2, false}
	case RuleAvoidWide1:
		return ruleSpec{"Avoid_WideTwoSidedLowVolume", models.ClassAvoidance, models.BiasNeutral, 3, false}
	case RuleAvoidAnom1:
		return ruleSpec{"Avoid_UnresolvedAnomaly", models.ClassAvoidance, models.BiasNeutral, 2, false}
	case RuleAvoidCounter1:
		return ruleSpec{"Avoid_CounterDominantTrend", models.ClassAvoidance, models.BiasNeutral, 2, false}
	}
	panic("rules: unknown rule id " + string(id))
}

// HardAvoidance reports whether an avoidance rule is a hard block.
// Hard avoidance invalidates pending setups and rejects intents; soft
// avoidance degrades confidence per the setup's policy.
func HardAvoidance(id models.RuleID) bool {
	return id == RuleAvoidWide1
}

// IsAvoidance reports whether the rule belongs to the avoidance family.
func IsAvoidance(id models.RuleID) bool {
	return id == RuleAvoidWide1 || id == RuleAvoidAnom1 || id == RuleAvoidCounter1
}

// candleLevel reports whether the rule evaluates a single bar's candle.
func candleLevel(id models.RuleID) bool {
	switch id {
	case RuleVal1, RuleVal2, RuleAnom1, RuleAnom2, RuleStr1, RuleWeak1, RuleTestSup1, RuleTestFail1:
		return true
	}
	return false
}

// trendLevel reports whether the rule evaluates multi-bar trend/cluster
// structure.
func trendLevel(id models.RuleID) bool {
	switch id {
	case RuleTrendVal1, RuleTrendAnom1, RuleClust1, RuleClimaxSell1, RuleClimaxBuy1:
		return true
	}
	return false
}
