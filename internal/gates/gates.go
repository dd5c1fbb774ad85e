// Package gates applies the context gates that partition raw signals into
// actionable and non-actionable sets.
//
// Gates never mutate or suppress signals: every emitted signal stays in the
// record, and a Decision annotates it. Actionability is what the composer
// consumes; blocked signals remain visible for journaling and diagnostics.
package gates

import (
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	ctxengine "github.com/mohamedkhairy/vpa-engine/internal/context"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// Block reasons, stable identifiers journaled with each blocked decision.
const (
	BlockLocationUnknown  = "location_unknown"
	BlockInsideCongestion = "inside_congestion"
	BlockCounterDominant  = "counter_dominant_trend"
)

// Decision is the gate verdict for one signal on one bar.
type Decision struct {
	Signal       models.SignalEvent `json:"signal"`
	Actionable   bool               `json:"actionable"`
	ReducedRisk  bool               `json:"reduced_risk"`
	BlockReasons []string           `json:"block_reasons,omitempty"`
}

// Apply runs every enabled gate over the bar's signals and returns one
// Decision per signal, in input order.
//
// Signals whose catalog entry does not require gating pass through
// untouched, as do avoidance signals (they are inputs to other stages,
// not trade triggers). All gates are direction-symmetric: the same
// conditions block a bullish signal at the top as a bearish one at the
// bottom.
func Apply(signals []models.SignalEvent, snapshot models.ContextSnapshot, higher *models.ContextSnapshot, cfg *config.Config) []Decision {
	out := make([]Decision, 0, len(signals))
	for i := range signals {
		out = append(out, decide(signals[i], snapshot, higher, cfg))
	}
	return out
}

func decide(sig models.SignalEvent, snapshot models.ContextSnapshot, higher *models.ContextSnapshot, cfg *config.Config) Decision {
	d := Decision{Signal: sig, Actionable: true}

	if !sig.RequiresGate || sig.Class == models.ClassAvoidance {
		return d
	}

	// CTX-1: a gated signal needs a readable location. Unknown location
	// means the structural backdrop is not yet established, so the signal
	// cannot be acted on.
	if cfg.Gates.CTX1LocationRequired && snapshot.Location == models.LocationUnknown {
		d.Actionable = false
		d.BlockReasons = append(d.BlockReasons, BlockLocationUnknown)
	}

	// CTX-3: anomaly readings inside an active congestion zone are
	// ambiguous; non-anomaly classes pass through unaffected.
	if cfg.Gates.CTX3CongestionAware && snapshot.Congestion.Active && sig.Class == models.ClassAnomaly {
		d.Actionable = false
		d.BlockReasons = append(d.BlockReasons, BlockInsideCongestion)
	}

	// CTX-2: counter-dominant-trend handling per policy. Only applies when
	// the higher-timeframe trend is readable and the signal is directional.
	if higher != nil && directional(sig.Bias) {
		if ctxengine.ResolveAlignment(*higher, sig.Bias) == models.AlignmentAgainst {
			switch cfg.Gates.CTX2AlignmentPolicy {
			case config.AlignmentDisallow:
				d.Actionable = false
				d.BlockReasons = append(d.BlockReasons, BlockCounterDominant)
			case config.AlignmentReduceRisk:
				d.ReducedRisk = true
			case config.AlignmentAllow:
			}
		}
	}

	return d
}

func directional(b models.DirectionBias) bool {
	return b == models.BiasBullish || b == models.BiasBearish
}

// Actionable filters decisions down to the signals the composer may use.
func Actionable(decisions []Decision) []models.SignalEvent {
	var out []models.SignalEvent
	for i := range decisions {
		if decisions[i].Actionable {
			out = append(out, decisions[i].Signal)
		}
	}
	return out
}

// AnyReducedRisk reports whether any actionable decision carries the
// REDUCE_RISK flag. The risk engine scales position size accordingly.
func AnyReducedRisk(decisions []Decision) bool {
	for i := range decisions {
		if decisions[i].Actionable && decisions[i].ReducedRisk {
			return true
		}
	}
	return false
}
