// Package composer runs the setup state machines that turn gated signals
// into ready setups.
//
// One instance per definition may be live at a time. An instance opens on
// its trigger, waits in pending-confirm for a completer, and ends in
// exactly one terminal state: ready, invalidated, or expired. The composer
// is deterministic and side-effect free; all inputs arrive through Process.
package composer

import (
	"sort"
	"time"

	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
	"github.com/mohamedkhairy/vpa-engine/internal/rules"
)

// Instance is the live (or just-terminated) state of one setup definition.
type Instance struct {
	Setup        models.SetupID        `json:"setup"`
	Direction    models.TradeDirection `json:"direction"`
	State        models.SetupState     `json:"state"`
	CreatedAtBar int                   `json:"created_at_bar"`
	// Countdown is the number of bars left before expiry; decremented on
	// each bar after the trigger bar.
	Countdown   int           `json:"countdown"`
	TriggerRule models.RuleID `json:"trigger_rule"`
	TriggerHigh float64       `json:"trigger_high"`
	TriggerLow  float64       `json:"trigger_low"`
	CompletedBy models.RuleID `json:"completed_by,omitempty"`
	// InvalidatedBy is the signal key that killed the instance.
	InvalidatedBy string `json:"invalidated_by,omitempty"`
}

// Ready is a completed setup handed to the risk engine.
type Ready struct {
	Setup       models.SetupID        `json:"setup"`
	Direction   models.TradeDirection `json:"direction"`
	StopMethod  models.StopMethod     `json:"stop_method"`
	TriggerRule models.RuleID         `json:"trigger_rule"`
	CompletedBy models.RuleID         `json:"completed_by"`
	TriggerHigh float64               `json:"trigger_high"`
	TriggerLow  float64               `json:"trigger_low"`
	ReadyAtBar  int                   `json:"ready_at_bar"`
	Timestamp   time.Time             `json:"timestamp"`
	// ReducedRisk is set when the completing bar carried a REDUCE_RISK
	// gate verdict; the risk engine scales size down.
	ReducedRisk bool `json:"reduced_risk,omitempty"`
}

// BarInput is everything the composer reads for one bar.
type BarInput struct {
	BarIndex  int
	Timestamp time.Time
	// Actionable signals passed the context gates; only these trigger and
	// complete setups.
	Actionable []models.SignalEvent
	// All signals, gated or not. Invalidation reads the full set: blocked
	// evidence still argues against holding the opposite thesis.
	All []models.SignalEvent
	// Snapshot is the trading-timeframe context for this bar.
	Snapshot models.ContextSnapshot
	// ReducedRisk carries the bar-level CTX-2 verdict onto setups that
	// become ready this bar.
	ReducedRisk bool
}

// Result is what one bar did to the setup pool.
type Result struct {
	Ready       []Ready
	Opened      []Instance
	Expired     []Instance
	Invalidated []Instance
}

// Composer owns the live instance pool.
type Composer struct {
	defs []Definition
	live map[models.SetupID]*Instance
}

// New builds a composer over the given definitions. Soft-avoidance policy
// and invalidating classes come from each definition.
func New(defs []Definition) *Composer {
	return &Composer{
		defs: defs,
		live: make(map[models.SetupID]*Instance),
	}
}

// Process advances the pool by one bar. Phase order is fixed:
// advance, invalidate, complete, expire, open. A completer on the trigger
// bar never completes (the instance is still a candidate), and a trigger
// and completer on the same bar never produce a same-bar ready.
func (c *Composer) Process(in BarInput) Result {
	var res Result

	// Advance: candidates become pending, countdowns tick.
	for _, inst := range c.live {
		if inst.State == models.SetupCandidate {
			inst.State = models.SetupPendingConfirm
		}
		inst.Countdown--
	}

	hardAvoid := findHardAvoidance(in.All)
	softAvoid := findSoftAvoidance(in.All)

	// Invalidate: hard avoidance kills every live instance; an opposing
	// directional signal kills instances on the other side.
	for id, inst := range c.live {
		if key, dead := c.invalidationFor(inst, hardAvoid, softAvoid, in.All); dead {
			inst.State = models.SetupInvalidated
			inst.InvalidatedBy = key
			res.Invalidated = append(res.Invalidated, *inst)
			delete(c.live, id)
		}
	}

	// Complete. Soft avoidance under a setup's suppress policy holds back
	// ready emission for this bar; the instance keeps waiting (and aging).
	for id, inst := range c.live {
		if inst.State != models.SetupPendingConfirm {
			continue
		}
		def := c.definition(inst.Setup)
		if softAvoid != nil && def.SoftPolicy == config.SoftSuppress {
			continue
		}
		completer := findCompleter(def, in.Actionable)
		if completer == nil {
			continue
		}
		inst.State = models.SetupReady
		inst.CompletedBy = completer.Rule
		res.Ready = append(res.Ready, c.ready(inst, completer.Rule, in))
		delete(c.live, id)
	}

	// Expire.
	for id, inst := range c.live {
		if inst.Countdown <= 0 {
			inst.State = models.SetupExpired
			res.Expired = append(res.Expired, *inst)
			delete(c.live, id)
		}
	}

	// Open: a soft signal never stops a trigger from creating an instance;
	// only hard avoidance freezes opens for the bar.
	if hardAvoid == nil {
		c.open(in, &res)
	}

	sortResult(&res)
	return res
}

func (c *Composer) open(in BarInput, res *Result) {
	for i := range c.defs {
		def := &c.defs[i]
		if _, exists := c.live[def.ID]; exists {
			continue
		}
		trigger := findRule(def.Trigger, in.Actionable)
		if trigger == nil {
			continue
		}
		if def.RequiredLocation != "" && in.Snapshot.Location != def.RequiredLocation {
			continue
		}

		inst := &Instance{
			Setup:        def.ID,
			Direction:    def.Direction,
			State:        models.SetupCandidate,
			CreatedAtBar: in.BarIndex,
			Countdown:    def.WindowX,
			TriggerRule:  def.Trigger,
			TriggerHigh:  trigger.Evidence["bar_high"],
			TriggerLow:   trigger.Evidence["bar_low"],
		}

		if def.SelfConfirming {
			inst.State = models.SetupReady
			inst.CompletedBy = def.Trigger
			res.Ready = append(res.Ready, c.ready(inst, def.Trigger, in))
			res.Opened = append(res.Opened, *inst)
			continue
		}

		c.live[def.ID] = inst
		res.Opened = append(res.Opened, *inst)
	}
}

func (c *Composer) ready(inst *Instance, completedBy models.RuleID, in BarInput) Ready {
	def := c.definition(inst.Setup)
	return Ready{
		Setup:       inst.Setup,
		Direction:   inst.Direction,
		StopMethod:  def.StopMethod,
		TriggerRule: inst.TriggerRule,
		CompletedBy: completedBy,
		TriggerHigh: inst.TriggerHigh,
		TriggerLow:  inst.TriggerLow,
		ReadyAtBar:  in.BarIndex,
		Timestamp:   in.Timestamp,
		ReducedRisk: in.ReducedRisk,
	}
}

// invalidationFor decides whether the instance dies this bar and returns
// the killing signal's key. Soft policy and the opposing class set come
// from the instance's own definition.
func (c *Composer) invalidationFor(inst *Instance, hardAvoid, softAvoid *models.SignalEvent, all []models.SignalEvent) (string, bool) {
	if hardAvoid != nil {
		return hardAvoid.Key(), true
	}
	def := c.definition(inst.Setup)
	if softAvoid != nil && def.SoftPolicy == config.SoftTerminate {
		return softAvoid.Key(), true
	}
	for i := range all {
		if opposes(&all[i], inst.Direction, def.InvalidatingClasses) {
			return all[i].Key(), true
		}
	}
	return "", false
}

// opposes reports whether a signal is directional evidence against holding
// a setup in the given direction. Only the definition's invalidating
// classes count; meta and avoidance classes are handled separately.
func opposes(sig *models.SignalEvent, dir models.TradeDirection, classes []models.SignalClass) bool {
	member := false
	for _, class := range classes {
		if sig.Class == class {
			member = true
			break
		}
	}
	if !member {
		return false
	}
	if dir == models.DirectionLong {
		return sig.Bias == models.BiasBearish
	}
	return sig.Bias == models.BiasBullish
}

func findHardAvoidance(signals []models.SignalEvent) *models.SignalEvent {
	for i := range signals {
		if rules.HardAvoidance(signals[i].Rule) {
			return &signals[i]
		}
	}
	return nil
}

func findSoftAvoidance(signals []models.SignalEvent) *models.SignalEvent {
	for i := range signals {
		if rules.IsAvoidance(signals[i].Rule) && !rules.HardAvoidance(signals[i].Rule) {
			return &signals[i]
		}
	}
	return nil
}

func findRule(id models.RuleID, signals []models.SignalEvent) *models.SignalEvent {
	for i := range signals {
		if signals[i].Rule == id {
			return &signals[i]
		}
	}
	return nil
}

func findCompleter(def *Definition, signals []models.SignalEvent) *models.SignalEvent {
	for _, id := range def.Completers {
		if sig := findRule(id, signals); sig != nil {
			return sig
		}
	}
	return nil
}

func (c *Composer) definition(id models.SetupID) *Definition {
	for i := range c.defs {
		if c.defs[i].ID == id {
			return &c.defs[i]
		}
	}
	panic("composer: unknown setup id " + string(id))
}

// Live returns the live instances, ordered by definition order. Read-only
// snapshot for journaling and inspection.
func (c *Composer) Live() []Instance {
	var out []Instance
	for i := range c.defs {
		if inst, ok := c.live[c.defs[i].ID]; ok {
			out = append(out, *inst)
		}
	}
	return out
}

// Flush expires every live instance. Called on session gaps: stale setups
// never survive a discontinuity in the bar stream.
func (c *Composer) Flush() []Instance {
	var out []Instance
	for i := range c.defs {
		id := c.defs[i].ID
		inst, ok := c.live[id]
		if !ok {
			continue
		}
		inst.State = models.SetupExpired
		out = append(out, *inst)
		delete(c.live, id)
	}
	return out
}

// sortResult fixes the emission order of each result slice so map
// iteration never leaks into outputs.
func sortResult(res *Result) {
	sort.Slice(res.Ready, func(i, j int) bool { return res.Ready[i].Setup < res.Ready[j].Setup })
	sortInstances(res.Opened)
	sortInstances(res.Expired)
	sortInstances(res.Invalidated)
}

func sortInstances(is []Instance) {
	sort.Slice(is, func(i, j int) bool { return is[i].Setup < is[j].Setup })
}
