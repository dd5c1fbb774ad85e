package composer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
	"github.com/mohamedkhairy/vpa-engine/internal/rules"
)

func newComposer(policy config.SoftPolicy) *Composer {
	cfg := config.Default()
	cfg.Setup.SoftPolicy = policy
	return New(DefaultDefinitions(cfg))
}

func event(rule models.RuleID, class models.SignalClass, bias models.DirectionBias, bar int) models.SignalEvent {
	return models.SignalEvent{
		Rule:     rule,
		Symbol:   "SPY",
		Class:    class,
		Bias:     bias,
		BarIndex: bar,
		Evidence: map[string]float64{"bar_high": 101.5, "bar_low": 99.5},
	}
}

// barAt builds a BarInput where every signal passed the gates.
func barAt(bar int, signals ...models.SignalEvent) BarInput {
	return BarInput{
		BarIndex:   bar,
		Timestamp:  time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC).Add(time.Duration(bar) * 15 * time.Minute),
		Actionable: signals,
		All:        signals,
		Snapshot:   models.ContextSnapshot{Location: models.LocationMiddle},
	}
}

func quiet(bar int) BarInput { return barAt(bar) }

func TestProcess_TriggerThenComplete(t *testing.T) {
	c := newComposer(config.SoftSuppress)

	res := c.Process(barAt(10, event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 10)))
	require.Len(t, res.Opened, 1)
	assert.Empty(t, res.Ready)

	inst := res.Opened[0]
	assert.Equal(t, SetupLong1, inst.Setup)
	assert.Equal(t, models.SetupCandidate, inst.State)
	assert.Equal(t, 10, inst.CreatedAtBar)
	assert.Equal(t, 101.5, inst.TriggerHigh)
	assert.Equal(t, 99.5, inst.TriggerLow)

	res = c.Process(barAt(11, event(rules.RuleVal1, models.ClassValidation, models.BiasBullish, 11)))
	require.Len(t, res.Ready, 1)

	ready := res.Ready[0]
	assert.Equal(t, SetupLong1, ready.Setup)
	assert.Equal(t, models.DirectionLong, ready.Direction)
	assert.Equal(t, models.StopTriggerExtreme, ready.StopMethod)
	assert.Equal(t, rules.RuleTestSup1, ready.TriggerRule)
	assert.Equal(t, rules.RuleVal1, ready.CompletedBy)
	assert.Equal(t, 101.5, ready.TriggerHigh)
	assert.Equal(t, 99.5, ready.TriggerLow)
	assert.Equal(t, 11, ready.ReadyAtBar)
	assert.Empty(t, c.Live())
}

func TestProcess_NoSameBarCompletion(t *testing.T) {
	c := newComposer(config.SoftSuppress)

	res := c.Process(barAt(10,
		event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 10),
		event(rules.RuleVal1, models.ClassValidation, models.BiasBullish, 10),
	))
	assert.Len(t, res.Opened, 1)
	assert.Empty(t, res.Ready)

	res = c.Process(barAt(11, event(rules.RuleVal1, models.ClassValidation, models.BiasBullish, 11)))
	assert.Len(t, res.Ready, 1)
}

func TestProcess_ExpiryAtWindowEnd(t *testing.T) {
	cfg := config.Default()
	c := newComposer(config.SoftSuppress)

	c.Process(barAt(10, event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 10)))

	// Bars 11 .. 10+WindowX-1 keep the instance pending.
	for bar := 11; bar < 10+cfg.Setup.WindowX; bar++ {
		res := c.Process(quiet(bar))
		assert.Empty(t, res.Expired, "bar %d", bar)
		require.Len(t, c.Live(), 1)
		assert.Equal(t, models.SetupPendingConfirm, c.Live()[0].State)
	}

	// The countdown reaches zero exactly WindowX bars after the trigger.
	res := c.Process(quiet(10 + cfg.Setup.WindowX))
	require.Len(t, res.Expired, 1)
	assert.Equal(t, models.SetupExpired, res.Expired[0].State)
	assert.Empty(t, c.Live())

	// The bar after shows no trace.
	res = c.Process(quiet(11 + cfg.Setup.WindowX))
	assert.Empty(t, res.Expired)
}

func TestProcess_CompleterAfterExpiryOpensNothing(t *testing.T) {
	cfg := config.Default()
	c := newComposer(config.SoftSuppress)

	c.Process(barAt(10, event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 10)))
	for bar := 11; bar <= 10+cfg.Setup.WindowX; bar++ {
		c.Process(quiet(bar))
	}

	res := c.Process(barAt(11+cfg.Setup.WindowX, event(rules.RuleVal1, models.ClassValidation, models.BiasBullish, 11+cfg.Setup.WindowX)))
	assert.Empty(t, res.Ready)
}

func TestProcess_OpposingSignalInvalidates(t *testing.T) {
	c := newComposer(config.SoftSuppress)

	c.Process(barAt(10, event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 10)))

	// The bearish evidence was blocked by a gate; invalidation still reads it.
	weak := event(rules.RuleWeak1, models.ClassWeakness, models.BiasBearish, 11)
	in := quiet(11)
	in.All = []models.SignalEvent{weak}

	res := c.Process(in)
	require.Len(t, res.Invalidated, 1)
	assert.Equal(t, SetupLong1, res.Invalidated[0].Setup)
	assert.Equal(t, models.SetupInvalidated, res.Invalidated[0].State)
	assert.Equal(t, weak.Key(), res.Invalidated[0].InvalidatedBy)
	assert.Empty(t, c.Live())
}

func TestProcess_SameSideSignalDoesNotInvalidate(t *testing.T) {
	c := newComposer(config.SoftSuppress)

	c.Process(barAt(10, event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 10)))

	res := c.Process(barAt(11, event(rules.RuleStr1, models.ClassStrength, models.BiasBullish, 11)))
	assert.Empty(t, res.Invalidated)
	// STR-1 also triggers its own setup alongside the surviving one.
	require.Len(t, c.Live(), 2)
}

func TestProcess_HardAvoidanceKillsAndBlocksOpens(t *testing.T) {
	c := newComposer(config.SoftSuppress)

	c.Process(barAt(10, event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 10)))

	res := c.Process(barAt(11,
		event(rules.RuleAvoidWide1, models.ClassAvoidance, models.BiasNeutral, 11),
		event(rules.RuleStr1, models.ClassStrength, models.BiasBullish, 11),
	))
	require.Len(t, res.Invalidated, 1)
	assert.Equal(t, SetupLong1, res.Invalidated[0].Setup)
	assert.Empty(t, res.Opened)
	assert.Empty(t, c.Live())
}

func TestProcess_SoftSuppressHoldsCompletionOnly(t *testing.T) {
	c := newComposer(config.SoftSuppress)

	c.Process(barAt(10, event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 10)))

	res := c.Process(barAt(11,
		event(rules.RuleAvoidAnom1, models.ClassAvoidance, models.BiasNeutral, 11),
		event(rules.RuleVal1, models.ClassValidation, models.BiasBullish, 11),
	))
	assert.Empty(t, res.Ready)
	assert.Empty(t, res.Invalidated)
	require.Len(t, c.Live(), 1)

	// The suppressed bar still aged the countdown; the next clean completer
	// goes through.
	res = c.Process(barAt(12, event(rules.RuleVal1, models.ClassValidation, models.BiasBullish, 12)))
	require.Len(t, res.Ready, 1)
	assert.Equal(t, 12, res.Ready[0].ReadyAtBar)
}

func TestProcess_SoftAvoidanceDoesNotBlockOpens(t *testing.T) {
	c := newComposer(config.SoftSuppress)

	// An unresolved-anomaly advisory on the trigger bar must not stop the
	// trigger from opening its instance.
	res := c.Process(barAt(10,
		event(rules.RuleAvoidAnom1, models.ClassAvoidance, models.BiasNeutral, 10),
		event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 10),
	))
	require.Len(t, res.Opened, 1)
	assert.Equal(t, SetupLong1, res.Opened[0].Setup)
	assert.Equal(t, models.SetupCandidate, res.Opened[0].State)
}

func TestProcess_PerSetupSoftPolicy(t *testing.T) {
	defs := []Definition{
		{
			ID: SetupLong1, Direction: models.DirectionLong,
			Trigger: rules.RuleTestSup1, Completers: []models.RuleID{rules.RuleVal1},
			WindowX: 5, StopMethod: models.StopTriggerExtreme,
			InvalidatingClasses: DefaultInvalidatingClasses(),
			SoftPolicy:          config.SoftTerminate,
		},
		{
			ID: SetupLong2, Direction: models.DirectionLong,
			Trigger: rules.RuleStr1, Completers: []models.RuleID{rules.RuleVal1},
			WindowX: 5, StopMethod: models.StopTriggerExtreme,
			InvalidatingClasses: DefaultInvalidatingClasses(),
			SoftPolicy:          config.SoftSuppress,
		},
	}
	c := New(defs)

	c.Process(barAt(10,
		event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 10),
		event(rules.RuleStr1, models.ClassStrength, models.BiasBullish, 10),
	))
	require.Len(t, c.Live(), 2)

	// The terminate setup dies on the soft bar; the suppress setup only
	// skips completion.
	res := c.Process(barAt(11,
		event(rules.RuleAvoidAnom1, models.ClassAvoidance, models.BiasNeutral, 11),
		event(rules.RuleVal1, models.ClassValidation, models.BiasBullish, 11),
	))
	require.Len(t, res.Invalidated, 1)
	assert.Equal(t, SetupLong1, res.Invalidated[0].Setup)
	assert.Empty(t, res.Ready)
	require.Len(t, c.Live(), 1)
	assert.Equal(t, SetupLong2, c.Live()[0].Setup)

	res = c.Process(barAt(12, event(rules.RuleVal1, models.ClassValidation, models.BiasBullish, 12)))
	require.Len(t, res.Ready, 1)
	assert.Equal(t, SetupLong2, res.Ready[0].Setup)
}

func TestProcess_InvalidatingClassesPerDefinition(t *testing.T) {
	defs := []Definition{{
		ID: SetupLong1, Direction: models.DirectionLong,
		Trigger: rules.RuleTestSup1, Completers: []models.RuleID{rules.RuleVal1},
		WindowX: 5, StopMethod: models.StopTriggerExtreme,
		InvalidatingClasses: []models.SignalClass{models.ClassClimax},
		SoftPolicy:          config.SoftSuppress,
	}}
	c := New(defs)

	c.Process(barAt(10, event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 10)))

	// Bearish weakness is outside the configured class set.
	res := c.Process(barAt(11, event(rules.RuleWeak1, models.ClassWeakness, models.BiasBearish, 11)))
	assert.Empty(t, res.Invalidated)
	require.Len(t, c.Live(), 1)

	climax := event(rules.RuleClimaxSell1, models.ClassClimax, models.BiasBearish, 12)
	res = c.Process(barAt(12, climax))
	require.Len(t, res.Invalidated, 1)
	assert.Equal(t, climax.Key(), res.Invalidated[0].InvalidatedBy)
}

func TestProcess_SoftTerminateInvalidates(t *testing.T) {
	c := newComposer(config.SoftTerminate)

	c.Process(barAt(10, event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 10)))

	soft := event(rules.RuleAvoidAnom1, models.ClassAvoidance, models.BiasNeutral, 11)
	res := c.Process(barAt(11, soft))
	require.Len(t, res.Invalidated, 1)
	assert.Equal(t, soft.Key(), res.Invalidated[0].InvalidatedBy)
	assert.Empty(t, c.Live())
}

func TestProcess_SharedTriggerOpensIndependentInstances(t *testing.T) {
	c := newComposer(config.SoftSuppress)

	res := c.Process(barAt(10, event(rules.RuleClimaxSell1, models.ClassClimax, models.BiasBearish, 10)))
	require.Len(t, res.Opened, 2)
	assert.Equal(t, SetupShort1, res.Opened[0].Setup)
	assert.Equal(t, SetupShort2, res.Opened[1].Setup)

	// TEST-FAIL-1 completes SHORT-2 only; SHORT-1 keeps waiting.
	res = c.Process(barAt(11, event(rules.RuleTestFail1, models.ClassTest, models.BiasBearish, 11)))
	require.Len(t, res.Ready, 1)
	assert.Equal(t, SetupShort2, res.Ready[0].Setup)
	assert.Equal(t, models.StopATRMultiple, res.Ready[0].StopMethod)

	require.Len(t, c.Live(), 1)
	assert.Equal(t, SetupShort1, c.Live()[0].Setup)
}

func TestProcess_SelfConfirmingAtRequiredLocation(t *testing.T) {
	c := newComposer(config.SoftSuppress)

	in := barAt(10, event(rules.RuleWeak1, models.ClassWeakness, models.BiasBearish, 10))
	in.Snapshot.Location = models.LocationTop

	res := c.Process(in)
	require.Len(t, res.Ready, 1)
	assert.Equal(t, SetupShort3, res.Ready[0].Setup)
	assert.Equal(t, rules.RuleWeak1, res.Ready[0].CompletedBy)
	assert.Equal(t, 10, res.Ready[0].ReadyAtBar)
	assert.Empty(t, c.Live())
}

func TestProcess_SelfConfirmingRequiresLocation(t *testing.T) {
	c := newComposer(config.SoftSuppress)

	res := c.Process(barAt(10, event(rules.RuleWeak1, models.ClassWeakness, models.BiasBearish, 10)))
	assert.Empty(t, res.Ready)
	assert.Empty(t, res.Opened)
}

func TestProcess_OneLiveInstancePerDefinition(t *testing.T) {
	c := newComposer(config.SoftSuppress)

	c.Process(barAt(10, event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 10)))

	res := c.Process(barAt(11, event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 11)))
	assert.Empty(t, res.Opened)

	require.Len(t, c.Live(), 1)
	assert.Equal(t, 10, c.Live()[0].CreatedAtBar)
}

func TestProcess_ReducedRiskRidesOntoReady(t *testing.T) {
	c := newComposer(config.SoftSuppress)

	c.Process(barAt(10, event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 10)))

	in := barAt(11, event(rules.RuleVal1, models.ClassValidation, models.BiasBullish, 11))
	in.ReducedRisk = true

	res := c.Process(in)
	require.Len(t, res.Ready, 1)
	assert.True(t, res.Ready[0].ReducedRisk)
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	c := newComposer(config.SoftSuppress)
	c.Process(barAt(10, event(rules.RuleTestSup1, models.ClassTest, models.BiasBullish, 10)))
	c.Process(quiet(11))

	state := c.Snapshot()
	require.Len(t, state.Instances, 1)
	assert.Equal(t, models.SetupPendingConfirm, state.Instances[0].State)

	restored := newComposer(config.SoftSuppress)
	restored.Restore(state)

	res := restored.Process(barAt(12, event(rules.RuleVal1, models.ClassValidation, models.BiasBullish, 12)))
	require.Len(t, res.Ready, 1)
	assert.Equal(t, SetupLong1, res.Ready[0].Setup)
}

func TestRestore_SkipsTerminalAndUnknown(t *testing.T) {
	c := newComposer(config.SoftSuppress)
	c.Restore(State{Instances: []Instance{
		{Setup: SetupLong1, State: models.SetupExpired},
		{Setup: "NOT-A-SETUP", State: models.SetupPendingConfirm},
		{Setup: SetupShort1, Direction: models.DirectionShort, State: models.SetupPendingConfirm, Countdown: 3},
	}})

	live := c.Live()
	require.Len(t, live, 1)
	assert.Equal(t, SetupShort1, live[0].Setup)
}

func TestFlush_ExpiresEverything(t *testing.T) {
	c := newComposer(config.SoftSuppress)
	c.Process(barAt(10, event(rules.RuleClimaxSell1, models.ClassClimax, models.BiasBearish, 10)))
	require.Len(t, c.Live(), 2)

	flushed := c.Flush()
	require.Len(t, flushed, 2)
	for _, inst := range flushed {
		assert.Equal(t, models.SetupExpired, inst.State)
	}
	assert.Empty(t, c.Live())
}
