package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/vpa-engine/internal/checkpoint"
	"github.com/mohamedkhairy/vpa-engine/internal/composer"
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/gates"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
	"github.com/mohamedkhairy/vpa-engine/internal/risk"
)

var testStart = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.VolumeGuard.Enabled = false
	return cfg
}

func testAccount() risk.AccountState {
	return risk.AccountState{Equity: 100000}
}

// flatBars builds n identical bars: body 1.0, range 1.4, volume 1000.
func flatBars(n int) []models.Bar {
	bars := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, models.Bar{
			Symbol:    "SPY",
			Timestamp: testStart.Add(time.Duration(i) * 15 * time.Minute),
			Open:      100.0,
			High:      101.2,
			Low:       99.8,
			Close:     101.0,
			Volume:    1000,
		})
	}
	return bars
}

// risingBars builds n bars stepping 0.2 per close, body 0.4, volume 1000.
func risingBars(n int) []models.Bar {
	bars := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		c := 100.0 + 0.2*float64(i)
		bars = append(bars, models.Bar{
			Symbol:    "SPY",
			Timestamp: testStart.Add(time.Duration(i) * 15 * time.Minute),
			Open:      c - 0.4,
			High:      c + 0.3,
			Low:       c - 0.7,
			Close:     c,
			Volume:    1000,
		})
	}
	return bars
}

// nextBar continues a series one interval after its last bar.
func nextBar(bars []models.Bar, open, high, low, close float64, volume int64) models.Bar {
	return models.Bar{
		Symbol:    "SPY",
		Timestamp: bars[len(bars)-1].Timestamp.Add(15 * time.Minute),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}
}

func feed(t *testing.T, e *Engine, bars []models.Bar) []BarResult {
	t.Helper()
	out := make([]BarResult, 0, len(bars))
	for _, b := range bars {
		res, err := e.OnBar(b, testAccount())
		require.NoError(t, err)
		out = append(out, res)
	}
	return out
}

func findDecision(decisions []gates.Decision, rule models.RuleID) *gates.Decision {
	for i := range decisions {
		if decisions[i].Signal.Rule == rule {
			return &decisions[i]
		}
	}
	return nil
}

func TestOnBar_WarmUp(t *testing.T) {
	cfg := testConfig()
	e, err := New(cfg)
	require.NoError(t, err)

	results := feed(t, e, flatBars(cfg.Vol.AvgWindow+1))
	for i := 0; i < cfg.Vol.AvgWindow; i++ {
		assert.True(t, results[i].WarmingUp, "bar %d", i)
		assert.Empty(t, results[i].Signals)
	}
	assert.False(t, results[cfg.Vol.AvgWindow].WarmingUp)
}

func TestOnBar_SymbolMismatch(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	bar := flatBars(1)[0]
	bar.Symbol = "QQQ"
	_, err = e.OnBar(bar, testAccount())
	assert.ErrorIs(t, err, models.ErrSymbolMismatch)
}

func TestOnBar_OutOfOrderRejected(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	bar := flatBars(1)[0]
	_, err = e.OnBar(bar, testAccount())
	require.NoError(t, err)

	_, err = e.OnBar(bar, testAccount())
	assert.ErrorIs(t, err, models.ErrOutOfOrderBar)
}

func TestOnBar_InvalidBarRejected(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	bar := flatBars(1)[0]
	bar.High, bar.Low = bar.Low, bar.High
	_, err = e.OnBar(bar, testAccount())
	assert.Error(t, err)
}

func TestOnBar_VolumeGuard(t *testing.T) {
	cfg := config.Default() // guard enabled, floor 10000
	e, err := New(cfg)
	require.NoError(t, err)

	results := feed(t, e, flatBars(25))
	last := results[len(results)-1]
	assert.False(t, last.WarmingUp)
	assert.True(t, last.VolumeGuarded)
	assert.Empty(t, last.Signals)
}

func TestOnBar_SetupOpensAndGapFlushes(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	bars := flatBars(25)
	feed(t, e, bars)

	// Low-volume probe of the prior lows: TEST-SUP-1 opens LONG-1.
	probe := nextBar(bars, 100.2, 100.6, 99.85, 100.5, 700)
	res, err := e.OnBar(probe, testAccount())
	require.NoError(t, err)

	require.NotNil(t, findDecision(res.Decisions, "TEST-SUP-1"))
	require.Len(t, res.Setups.Opened, 1)
	assert.Equal(t, composer.SetupLong1, res.Setups.Opened[0].Setup)

	// A missing bar resets history and flushes the pending setup.
	gap := models.Bar{
		Symbol:    "SPY",
		Timestamp: probe.Timestamp.Add(30 * time.Minute),
		Open:      100.5, High: 101.0, Low: 100.2, Close: 100.8, Volume: 1000,
	}
	res, err = e.OnBar(gap, testAccount())
	require.NoError(t, err)

	assert.True(t, res.GapDetected)
	require.Len(t, res.GapExpired, 1)
	assert.Equal(t, composer.SetupLong1, res.GapExpired[0].Setup)
	assert.Equal(t, models.SetupExpired, res.GapExpired[0].State)
	assert.True(t, res.WarmingUp)
}

func TestOnBar_ReadySetupProducesIntent(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	bars := flatBars(25)
	feed(t, e, bars)

	probe := nextBar(bars, 100.2, 100.6, 99.85, 100.5, 700)
	res, err := e.OnBar(probe, testAccount())
	require.NoError(t, err)
	require.Len(t, res.Setups.Opened, 1)

	// Wide bullish drive on high volume completes LONG-1.
	drive := models.Bar{
		Symbol:    "SPY",
		Timestamp: probe.Timestamp.Add(15 * time.Minute),
		Open:      100.5, High: 102.2, Low: 100.5, Close: 102.0, Volume: 1400,
	}
	res, err = e.OnBar(drive, testAccount())
	require.NoError(t, err)

	require.Len(t, res.Setups.Ready, 1)
	ready := res.Setups.Ready[0]
	assert.Equal(t, composer.SetupLong1, ready.Setup)
	assert.Equal(t, "TEST-SUP-1", string(ready.TriggerRule))
	assert.Equal(t, "VAL-1", string(ready.CompletedBy))

	require.Len(t, res.Intents, 1)
	intent := res.Intents[0]
	assert.Equal(t, models.IntentReady, intent.Status)
	assert.Equal(t, "TI-LONG-1-bar26", intent.ID)
	// Stop at the probe bar's low.
	assert.Equal(t, 99.85, intent.StopPrice)
	assert.Equal(t, models.StopTriggerExtreme, intent.StopMethod)
	assert.Positive(t, intent.Size)
}

func TestOnBar_AbsorptionAtTopIsActionable(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	bars := risingBars(25)
	feed(t, e, bars)

	// Ultra-high volume, narrow result at the top of the envelope.
	absorption := nextBar(bars, 104.8, 105.2, 104.7, 105.04, 1900)
	res, err := e.OnBar(absorption, testAccount())
	require.NoError(t, err)

	assert.Equal(t, models.LocationTop, res.Snapshot.Location)
	assert.False(t, res.Snapshot.Congestion.Active)

	d := findDecision(res.Decisions, "ANOM-2")
	require.NotNil(t, d)
	assert.True(t, d.Actionable)
	assert.Empty(t, d.BlockReasons)
	assert.Equal(t, models.VolumeUltraHigh, res.Features.VolState)
	assert.Equal(t, models.SpreadNarrow, res.Features.SpreadState)
}

func TestOnBar_Deterministic(t *testing.T) {
	bars := risingBars(25)
	bars = append(bars, nextBar(bars, 104.8, 105.2, 104.7, 105.04, 1900))
	bars = append(bars, nextBar(bars, 105.0, 105.4, 104.9, 105.3, 1100))

	a, err := New(testConfig())
	require.NoError(t, err)
	b, err := New(testConfig())
	require.NoError(t, err)

	resA := feed(t, a, bars)
	resB := feed(t, b, bars)
	require.Equal(t, resA, resB)
}

func TestCheckpointRestore_ResumesSetups(t *testing.T) {
	store, err := checkpoint.NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	bars := flatBars(25)
	probe := nextBar(bars, 100.2, 100.6, 99.85, 100.5, 700)
	history := append(append([]models.Bar{}, bars...), probe)

	a, err := New(testConfig())
	require.NoError(t, err)
	feed(t, a, history)
	require.NoError(t, a.Checkpoint(context.Background(), store))

	b, err := New(testConfig())
	require.NoError(t, err)
	require.NoError(t, b.Restore(context.Background(), store))
	assert.Equal(t, probe.Timestamp, b.LastTimestamp())
	b.SeedBars(history)

	drive := models.Bar{
		Symbol:    "SPY",
		Timestamp: probe.Timestamp.Add(15 * time.Minute),
		Open:      100.5, High: 102.2, Low: 100.5, Close: 102.0, Volume: 1400,
	}
	resA, err := a.OnBar(drive, testAccount())
	require.NoError(t, err)
	resB, err := b.OnBar(drive, testAccount())
	require.NoError(t, err)

	require.Len(t, resB.Setups.Ready, 1)
	assert.Equal(t, resA.Setups.Ready, resB.Setups.Ready)
	assert.Equal(t, resA.Intents, resB.Intents)
}

func TestCheckpointRestore_KeepsAnomalyHistory(t *testing.T) {
	store, err := checkpoint.NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	// High volume into a narrow close: ANOM-2 on two consecutive bars.
	bars := flatBars(25)
	first := nextBar(bars, 100.5, 100.9, 100.2, 100.8, 1400)
	history := append(append([]models.Bar{}, bars...), first)

	a, err := New(testConfig())
	require.NoError(t, err)
	feed(t, a, history)
	require.NoError(t, a.Checkpoint(context.Background(), store))

	b, err := New(testConfig())
	require.NoError(t, err)
	require.NoError(t, b.Restore(context.Background(), store))
	b.SeedBars(history)

	// The second anomaly completes the cluster; a restored run must count
	// the first one exactly like the continuous run does.
	second := nextBar(history, 100.8, 101.2, 100.5, 101.1, 1400)
	resA, err := a.OnBar(second, testAccount())
	require.NoError(t, err)
	resB, err := b.OnBar(second, testAccount())
	require.NoError(t, err)

	require.Equal(t, resA.Signals, resB.Signals)

	found := false
	for _, sig := range resB.Signals {
		if sig.Rule == "CLUST-1" {
			found = true
			assert.Equal(t, 2.0, sig.Evidence["anomaly_count"])
		}
	}
	assert.True(t, found, "cluster escalation must survive the restore")
}

func TestRestore_NoCheckpointIsTyped(t *testing.T) {
	store, err := checkpoint.NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	e, err := New(testConfig())
	require.NoError(t, err)
	assert.ErrorIs(t, e.Restore(context.Background(), store), models.ErrNoCheckpoint)
}

func TestOnBar_GapBarCountedOnce(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	bars := flatBars(2)
	feed(t, e, bars)

	gapBefore := testutil.ToFloat64(pipelineBarsTotal.WithLabelValues("gap"))
	warmBefore := testutil.ToFloat64(pipelineBarsTotal.WithLabelValues("warming_up"))

	gap := models.Bar{
		Symbol:    "SPY",
		Timestamp: bars[1].Timestamp.Add(30 * time.Minute),
		Open:      100.0, High: 101.2, Low: 99.8, Close: 101.0, Volume: 1000,
	}
	res, err := e.OnBar(gap, testAccount())
	require.NoError(t, err)
	require.True(t, res.GapDetected)

	assert.Equal(t, gapBefore+1, testutil.ToFloat64(pipelineBarsTotal.WithLabelValues("gap")))
	assert.Equal(t, warmBefore, testutil.ToFloat64(pipelineBarsTotal.WithLabelValues("warming_up")))
}

func TestOnHigherTimeframeBar_Alignment(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	// Six rising daily closes make the dominant trend readable.
	day := testStart.AddDate(0, 0, -7)
	for i := 0; i < 6; i++ {
		c := 400.0 + float64(i)
		require.NoError(t, e.OnHigherTimeframeBar(models.Bar{
			Symbol:    "SPY",
			Timestamp: day.AddDate(0, 0, i),
			Open:      c - 0.5,
			High:      c + 1.0,
			Low:       c - 1.5,
			Close:     c,
			Volume:    5000000,
		}))
	}

	results := feed(t, e, risingBars(25))
	last := results[len(results)-1]
	assert.Equal(t, models.TrendUp, last.Snapshot.Trend)
	assert.Equal(t, models.AlignmentWith, last.Snapshot.Alignment)
}

func TestOnHigherTimeframeBar_OutOfOrderRejected(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	bar := models.Bar{
		Symbol:    "SPY",
		Timestamp: testStart,
		Open:      400, High: 401, Low: 399, Close: 400.5, Volume: 1000,
	}
	require.NoError(t, e.OnHigherTimeframeBar(bar))
	assert.ErrorIs(t, e.OnHigherTimeframeBar(bar), models.ErrOutOfOrderBar)
}
