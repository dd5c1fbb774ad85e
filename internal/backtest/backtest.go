// Package backtest replays historical bars through the pipeline and
// executes its intents under the deterministic timing contract: entries
// at the next bar's open, stop exits within the bar that touches the
// stop, both slippage-adjusted. Replaying the same bars with the same
// config produces the same trades.
package backtest

import (
	"fmt"
	"time"

	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/execution"
	"github.com/mohamedkhairy/vpa-engine/internal/journal"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
	"github.com/mohamedkhairy/vpa-engine/internal/pipeline"
	"github.com/mohamedkhairy/vpa-engine/internal/risk"
	"github.com/mohamedkhairy/vpa-engine/pkg/logger"
)

// Trade is one completed round trip.
type Trade struct {
	IntentID   string                `json:"intent_id"`
	Setup      models.SetupID        `json:"setup"`
	Direction  models.TradeDirection `json:"direction"`
	Size       int64                 `json:"size"`
	EntryBar   int                   `json:"entry_bar"`
	EntryTime  time.Time             `json:"entry_time"`
	EntryPrice float64               `json:"entry_price"`
	StopPrice  float64               `json:"stop_price"`
	ExitBar    int                   `json:"exit_bar"`
	ExitTime   time.Time             `json:"exit_time"`
	ExitPrice  float64               `json:"exit_price"`
	ExitReason string                `json:"exit_reason"` // "stop" or "end_of_data"
	PnL        float64               `json:"pnl"`
}

// Summary aggregates one backtest run.
type Summary struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`

	Bars            int `json:"bars"`
	Signals         int `json:"signals"`
	SetupsReady     int `json:"setups_ready"`
	IntentsReady    int `json:"intents_ready"`
	IntentsRejected int `json:"intents_rejected"`

	Trades int `json:"trades"`
	Wins   int `json:"wins"`
	Losses int `json:"losses"`

	TotalPnL    float64 `json:"total_pnl"`
	FinalEquity float64 `json:"final_equity"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

type position struct {
	intent     models.TradeIntent
	entryBar   int
	entryTime  time.Time
	entryPrice float64
}

// Runner drives one replay.
type Runner struct {
	cfg    *config.Config
	engine *pipeline.Engine
	sink   journal.Sink
	runID  string

	cash       float64
	peakEquity float64
	dailyPnL   float64
	currentDay time.Time

	open    []*position
	pending []models.TradeIntent
	trades  []Trade

	summary Summary
}

// New builds a runner. sink may be journal.Discard{}.
func New(cfg *config.Config, sink journal.Sink, runID string) (*Runner, error) {
	engine, err := pipeline.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:        cfg,
		engine:     engine,
		sink:       sink,
		runID:      runID,
		cash:       cfg.Execution.InitialCash,
		peakEquity: cfg.Execution.InitialCash,
		summary:    Summary{Symbol: cfg.Symbol, Timeframe: cfg.Timeframe},
	}, nil
}

// Run replays the bar series. higherBars is the optional coarser series
// for dominant alignment, timestamped at bar close, chronological.
func (r *Runner) Run(bars, higherBars []models.Bar) (Summary, error) {
	interval, err := r.cfg.BarInterval()
	if err != nil {
		return Summary{}, err
	}

	var prevTS time.Time
	hi := 0

	for i := range bars {
		bar := bars[i]

		// Feed higher-timeframe bars that closed at or before this bar's
		// close; the context never sees an unfinished higher bar.
		for hi < len(higherBars) && !higherBars[hi].Timestamp.After(bar.Timestamp) {
			if err := r.engine.OnHigherTimeframeBar(higherBars[hi]); err != nil {
				return Summary{}, fmt.Errorf("higher timeframe bar %d: %w", hi, err)
			}
			hi++
		}

		r.rollDay(bar.Timestamp)

		// A gap before this bar voids pending entries: the open they were
		// promised no longer exists.
		gap := !prevTS.IsZero() && !bar.Timestamp.Equal(prevTS.Add(interval))
		if gap && len(r.pending) > 0 {
			for _, intent := range r.pending {
				r.journalFill(intent, bar, 0, "cancelled_gap")
			}
			r.pending = r.pending[:0]
		}
		prevTS = bar.Timestamp

		r.fillPending(bar)
		r.checkStops(bar)

		res, err := r.engine.OnBar(bar, r.account())
		if err != nil {
			return Summary{}, fmt.Errorf("bar %d: %w", i, err)
		}
		r.record(res)

		for _, intent := range res.Intents {
			switch intent.Status {
			case models.IntentReady:
				r.summary.IntentsReady++
				r.pending = append(r.pending, intent)
			case models.IntentRejected:
				r.summary.IntentsRejected++
			}
		}
	}

	r.closeRemaining(bars)

	r.summary.FinalEquity = r.cash
	logger.Info("Backtest complete",
		logger.String("symbol", r.summary.Symbol),
		logger.Int("bars", r.summary.Bars),
		logger.Int("trades", r.summary.Trades),
		logger.Float64("pnl", r.summary.TotalPnL),
	)
	return r.summary, nil
}

// Trades returns the completed trade log.
func (r *Runner) Trades() []Trade {
	return r.trades
}

func (r *Runner) account() risk.AccountState {
	return risk.AccountState{
		Equity:        r.cash,
		OpenPositions: len(r.open) + len(r.pending),
		DailyPnL:      r.dailyPnL,
	}
}

// rollDay resets the daily loss accumulator at UTC day boundaries.
func (r *Runner) rollDay(ts time.Time) {
	day := ts.UTC().Truncate(24 * time.Hour)
	if !day.Equal(r.currentDay) {
		r.currentDay = day
		r.dailyPnL = 0
	}
}

// fillPending enters positions queued on the previous bar at this bar's
// open, slippage-adjusted.
func (r *Runner) fillPending(bar models.Bar) {
	for _, intent := range r.pending {
		price := execution.EntryFillPrice(bar.Open, intent.Direction, r.cfg.Execution.Slippage)
		r.cash -= r.cfg.Execution.CommissionPerUnit * float64(intent.Size)

		pos := &position{
			intent:     intent,
			entryBar:   intent.CreatedAtBar + 1,
			entryTime:  bar.Timestamp,
			entryPrice: price,
		}
		r.open = append(r.open, pos)
		r.journalFill(intent, bar, price, "entry")
	}
	r.pending = r.pending[:0]
}

// checkStops exits any open position whose stop traded within this bar.
// A position entered at this bar's open can stop out on the same bar.
func (r *Runner) checkStops(bar models.Bar) {
	remaining := r.open[:0]
	for _, pos := range r.open {
		if !execution.StopHit(bar, pos.intent.Direction, pos.intent.StopPrice) {
			remaining = append(remaining, pos)
			continue
		}
		price := execution.StopFillPrice(bar, pos.intent.Direction, pos.intent.StopPrice, r.cfg.Execution.Slippage)
		r.closePosition(pos, bar, price, "stop")
	}
	r.open = remaining
}

// closeRemaining marks open positions to the final close. End-of-data
// exits skip slippage: no trade occurs, the book is simply valued.
func (r *Runner) closeRemaining(bars []models.Bar) {
	if len(bars) == 0 || len(r.open) == 0 {
		return
	}
	last := bars[len(bars)-1]
	for _, pos := range r.open {
		r.closePosition(pos, last, last.Close, "end_of_data")
	}
	r.open = r.open[:0]
}

func (r *Runner) closePosition(pos *position, bar models.Bar, price float64, reason string) {
	var pnl float64
	if pos.intent.Direction == models.DirectionLong {
		pnl = (price - pos.entryPrice) * float64(pos.intent.Size)
	} else {
		pnl = (pos.entryPrice - price) * float64(pos.intent.Size)
	}
	pnl -= r.cfg.Execution.CommissionPerUnit * float64(pos.intent.Size)

	r.cash += pnl
	r.dailyPnL += pnl
	r.summary.TotalPnL += pnl
	if pnl >= 0 {
		r.summary.Wins++
	} else {
		r.summary.Losses++
	}
	r.summary.Trades++

	if r.cash > r.peakEquity {
		r.peakEquity = r.cash
	}
	if dd := r.peakEquity - r.cash; dd > r.summary.MaxDrawdown {
		r.summary.MaxDrawdown = dd
	}

	trade := Trade{
		IntentID:   pos.intent.ID,
		Setup:      pos.intent.Setup,
		Direction:  pos.intent.Direction,
		Size:       pos.intent.Size,
		EntryBar:   pos.entryBar,
		EntryTime:  pos.entryTime,
		EntryPrice: pos.entryPrice,
		StopPrice:  pos.intent.StopPrice,
		ExitBar:    r.summary.Bars,
		ExitTime:   bar.Timestamp,
		ExitPrice:  price,
		ExitReason: reason,
		PnL:        pnl,
	}
	r.trades = append(r.trades, trade)
	r.journal(journal.TypeTrade, trade.ExitTime, trade)
}

// record journals everything one pipeline bar produced.
func (r *Runner) record(res pipeline.BarResult) {
	r.summary.Bars++
	r.summary.Signals += len(res.Signals)
	r.summary.SetupsReady += len(res.Setups.Ready)

	ts := res.Bar.Timestamp
	if res.GapDetected {
		r.journal(journal.TypeGap, ts, res.GapExpired)
	}
	for i := range res.Signals {
		r.journal(journal.TypeSignal, ts, res.Signals[i])
	}
	for i := range res.Decisions {
		if !res.Decisions[i].Actionable || res.Decisions[i].ReducedRisk {
			r.journal(journal.TypeGate, ts, res.Decisions[i])
		}
	}
	for i := range res.NearMisses {
		r.journal(journal.TypeNearMiss, ts, res.NearMisses[i])
	}
	for i := range res.Setups.Opened {
		r.journal(journal.TypeSetup, ts, res.Setups.Opened[i])
	}
	for i := range res.Setups.Invalidated {
		r.journal(journal.TypeSetup, ts, res.Setups.Invalidated[i])
	}
	for i := range res.Setups.Expired {
		r.journal(journal.TypeSetup, ts, res.Setups.Expired[i])
	}
	for i := range res.Intents {
		r.journal(journal.TypeIntent, ts, res.Intents[i])
	}
}

func (r *Runner) journal(typ string, ts time.Time, payload any) {
	rec := journal.NewRecord(r.runID, typ, r.cfg.Symbol, r.cfg.Timeframe, r.summary.Bars, ts, payload)
	if err := r.sink.Append(rec); err != nil {
		logger.Warn("Failed to append journal record",
			logger.ErrorField(err),
			logger.String("type", typ),
		)
	}
}

func (r *Runner) journalFill(intent models.TradeIntent, bar models.Bar, price float64, kind string) {
	r.journal(journal.TypeFill, bar.Timestamp, map[string]any{
		"intent_id": intent.ID,
		"setup":     intent.Setup,
		"direction": intent.Direction,
		"kind":      kind,
		"price":     price,
		"size":      intent.Size,
	})
}
