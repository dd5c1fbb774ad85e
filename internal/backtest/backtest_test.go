package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/journal"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

var testStart = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.VolumeGuard.Enabled = false
	cfg.Execution.Slippage.Value = 0
	return cfg
}

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

func nextBar(bars []models.Bar, open, high, low, close float64, volume int64) []models.Bar {
	return append(bars, models.Bar{
		Symbol:    "SPY",
		Timestamp: bars[len(bars)-1].Timestamp.Add(15 * time.Minute),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	})
}

// longSetupBars is a flat baseline, a low-volume probe of the lows
// (TEST-SUP-1, opens LONG-1), and a wide bullish drive on high volume
// (VAL-1, completes it). The ready intent stops at the probe low 99.85.
func longSetupBars() []models.Bar {
	bars := flatBars(25)
	bars = nextBar(bars, 100.2, 100.6, 99.85, 100.5, 700)
	bars = nextBar(bars, 100.5, 102.2, 100.5, 102.0, 1400)
	return bars
}

func TestRun_EntryAtNextOpenStopIntrabar(t *testing.T) {
	bars := longSetupBars()
	bars = nextBar(bars, 102.0, 102.4, 101.6, 102.2, 1000) // entry bar
	bars = nextBar(bars, 102.2, 102.3, 99.5, 100.0, 1000)  // trades through the stop

	r, err := New(testConfig(), journal.Discard{}, "test-run")
	require.NoError(t, err)

	summary, err := r.Run(bars, nil)
	require.NoError(t, err)

	assert.Equal(t, len(bars), summary.Bars)
	assert.Equal(t, 1, summary.SetupsReady)
	assert.Equal(t, 1, summary.IntentsReady)

	trades := r.Trades()
	require.Len(t, trades, 1)
	trade := trades[0]

	assert.Equal(t, "TI-LONG-1-bar26", trade.IntentID)
	assert.Equal(t, models.DirectionLong, trade.Direction)
	assert.Equal(t, 27, trade.EntryBar)
	assert.Equal(t, 102.0, trade.EntryPrice) // next bar's open, zero slippage
	assert.Equal(t, 99.85, trade.StopPrice)
	assert.Equal(t, 28, trade.ExitBar)
	assert.Equal(t, 99.85, trade.ExitPrice) // stop touched intrabar, open above it
	assert.Equal(t, "stop", trade.ExitReason)

	wantPnL := (99.85 - 102.0) * float64(trade.Size)
	assert.InDelta(t, wantPnL, trade.PnL, 1e-9)
	assert.InDelta(t, wantPnL, summary.TotalPnL, 1e-9)
	assert.Equal(t, 1, summary.Losses)
	assert.InDelta(t, testConfig().Execution.InitialCash+wantPnL, summary.FinalEquity, 1e-9)
	assert.InDelta(t, -wantPnL, summary.MaxDrawdown, 1e-9)
}

func TestRun_EndOfDataClosesAtLastClose(t *testing.T) {
	bars := longSetupBars()
	bars = nextBar(bars, 102.0, 102.4, 101.6, 102.2, 1000) // entry bar, stop never hit

	r, err := New(testConfig(), journal.Discard{}, "test-run")
	require.NoError(t, err)

	summary, err := r.Run(bars, nil)
	require.NoError(t, err)

	trades := r.Trades()
	require.Len(t, trades, 1)
	trade := trades[0]

	assert.Equal(t, "end_of_data", trade.ExitReason)
	assert.Equal(t, 102.2, trade.ExitPrice)
	assert.InDelta(t, (102.2-102.0)*float64(trade.Size), trade.PnL, 1e-9)
	assert.Equal(t, 1, summary.Wins)
	assert.Positive(t, summary.TotalPnL)
}

func TestRun_GapCancelsPendingEntry(t *testing.T) {
	bars := longSetupBars()
	// The bar after the ready bar is missing: the promised open never
	// exists, so the pending entry is voided.
	last := bars[len(bars)-1]
	bars = append(bars, models.Bar{
		Symbol:    "SPY",
		Timestamp: last.Timestamp.Add(30 * time.Minute),
		Open:      102.0, High: 102.4, Low: 99.0, Close: 100.0, Volume: 1000,
	})

	r, err := New(testConfig(), journal.Discard{}, "test-run")
	require.NoError(t, err)

	summary, err := r.Run(bars, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.IntentsReady)
	assert.Empty(t, r.Trades())
	assert.Equal(t, 0, summary.Trades)
	assert.InDelta(t, testConfig().Execution.InitialCash, summary.FinalEquity, 1e-9)
}

func TestRun_SlippageIsAdverse(t *testing.T) {
	cfg := testConfig()
	cfg.Execution.Slippage = config.SlippageConfig{Model: config.SlippageTicks, Value: 2, TickSize: 0.01}

	bars := longSetupBars()
	bars = nextBar(bars, 102.0, 102.4, 101.6, 102.2, 1000)

	r, err := New(cfg, journal.Discard{}, "test-run")
	require.NoError(t, err)
	_, err = r.Run(bars, nil)
	require.NoError(t, err)

	trades := r.Trades()
	require.Len(t, trades, 1)
	assert.InDelta(t, 102.02, trades[0].EntryPrice, 1e-9)
}

func TestRun_CommissionReducesPnL(t *testing.T) {
	cfg := testConfig()
	cfg.Execution.CommissionPerUnit = 0.01

	bars := longSetupBars()
	bars = nextBar(bars, 102.0, 102.4, 101.6, 102.2, 1000)

	r, err := New(cfg, journal.Discard{}, "test-run")
	require.NoError(t, err)
	summary, err := r.Run(bars, nil)
	require.NoError(t, err)

	trades := r.Trades()
	require.Len(t, trades, 1)
	size := float64(trades[0].Size)

	// Entry commission comes out of cash, exit commission out of the trade.
	wantTrade := (102.2-102.0)*size - 0.01*size
	assert.InDelta(t, wantTrade, trades[0].PnL, 1e-9)
	assert.InDelta(t, cfg.Execution.InitialCash+wantTrade-0.01*size, summary.FinalEquity, 1e-9)
}

func TestRun_DeterministicReplay(t *testing.T) {
	bars := longSetupBars()
	bars = nextBar(bars, 102.0, 102.4, 101.6, 102.2, 1000)
	bars = nextBar(bars, 102.2, 102.3, 99.5, 100.0, 1000)

	a, err := New(testConfig(), journal.Discard{}, "run-a")
	require.NoError(t, err)
	b, err := New(testConfig(), journal.Discard{}, "run-b")
	require.NoError(t, err)

	sa, err := a.Run(bars, nil)
	require.NoError(t, err)
	sb, err := b.Run(bars, nil)
	require.NoError(t, err)

	assert.Equal(t, sa, sb)
	assert.Equal(t, a.Trades(), b.Trades())
}
