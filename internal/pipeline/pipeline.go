// Package pipeline orchestrates the per-bar evaluation chain: features,
// context, rules, gates, composer, risk. One Engine instance owns one
// (symbol, timeframe) stream and is driven bar by bar; it never reads
// ahead of the bar it is given.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/mohamedkhairy/vpa-engine/internal/checkpoint"
	"github.com/mohamedkhairy/vpa-engine/internal/composer"
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	ctxengine "github.com/mohamedkhairy/vpa-engine/internal/context"
	"github.com/mohamedkhairy/vpa-engine/internal/features"
	"github.com/mohamedkhairy/vpa-engine/internal/gates"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
	"github.com/mohamedkhairy/vpa-engine/internal/risk"
	"github.com/mohamedkhairy/vpa-engine/internal/rules"
	"github.com/mohamedkhairy/vpa-engine/pkg/logger"
)

// nearMissTolerance is the relative gap within which a failed detector
// condition is reported as a near-miss.
const nearMissTolerance = 0.10

// BarResult is everything one bar produced, in evaluation order.
type BarResult struct {
	BarIndex int        `json:"bar_index"`
	Bar      models.Bar `json:"bar"`

	// GapDetected marks a discontinuity before this bar. History was reset
	// and GapExpired lists the setups flushed by the gap.
	GapDetected bool                `json:"gap_detected,omitempty"`
	GapExpired  []composer.Instance `json:"gap_expired,omitempty"`

	// WarmingUp is set while the baselines lack history; no rules ran.
	WarmingUp bool `json:"warming_up,omitempty"`
	// VolumeGuarded is set when the liquidity floor suppressed evaluation.
	VolumeGuarded bool `json:"volume_guarded,omitempty"`

	Features   models.CandleFeatures  `json:"features"`
	Snapshot   models.ContextSnapshot `json:"snapshot"`
	Signals    []models.SignalEvent   `json:"signals,omitempty"`
	Decisions  []gates.Decision       `json:"decisions,omitempty"`
	NearMisses []rules.NearMiss       `json:"near_misses,omitempty"`
	Setups     composer.Result        `json:"setups"`
	Intents    []models.TradeIntent   `json:"intents,omitempty"`
}

// Engine is the per-stream pipeline driver.
type Engine struct {
	cfg      *config.Config
	interval time.Duration
	comp     *composer.Composer

	bars       []models.Bar
	maxHistory int
	// signalHistory holds prior bars' emitted signal sets, oldest first,
	// bounded to the cluster window.
	signalHistory [][]models.SignalEvent

	barIndex int
	lastTS   time.Time

	higherBars   []models.Bar
	lastHigherTS time.Time
	higher       *models.ContextSnapshot
}

// New builds an Engine from a validated config.
func New(cfg *config.Config) (*Engine, error) {
	interval, err := cfg.BarInterval()
	if err != nil {
		return nil, err
	}

	maxHistory := cfg.Vol.AvgWindow
	for _, w := range []int{
		cfg.Spread.AvgWindow,
		cfg.Trend.LocationLookback,
		cfg.Trend.CongestionWindow,
		cfg.Trend.VolumeTrendWindow,
		cfg.Trend.WindowK,
		cfg.Test.Lookback,
		cfg.Climax.Window,
		cfg.ATR.Period,
	} {
		if w > maxHistory {
			maxHistory = w
		}
	}

	return &Engine{
		cfg:      cfg,
		interval: interval,
		comp:     composer.New(composer.DefaultDefinitions(cfg)),
		// Largest lookback plus the current bar and one spare for the
		// prior-close needs of ATR and trend counting.
		maxHistory: maxHistory + 2,
		barIndex:   -1,
	}, nil
}

// OnBar ingests one closed bar and runs the full evaluation chain.
// Account state is the caller's truth as of the previous bar's close.
func (e *Engine) OnBar(bar models.Bar, account risk.AccountState) (BarResult, error) {
	start := time.Now()
	defer func() {
		pipelineBarLatency.Observe(time.Since(start).Seconds())
	}()

	if err := bar.Validate(); err != nil {
		return BarResult{}, err
	}
	if bar.Symbol != e.cfg.Symbol {
		return BarResult{}, fmt.Errorf("%w: got %s, want %s", models.ErrSymbolMismatch, bar.Symbol, e.cfg.Symbol)
	}
	if !e.lastTS.IsZero() && !bar.Timestamp.After(e.lastTS) {
		return BarResult{}, fmt.Errorf("%w: %s after %s", models.ErrOutOfOrderBar,
			bar.Timestamp.Format(time.RFC3339), e.lastTS.Format(time.RFC3339))
	}

	e.barIndex++
	res := BarResult{BarIndex: e.barIndex, Bar: bar}

	// Gap handling: a missing bar resets every rolling baseline (they must
	// never mix across a discontinuity) and flushes in-flight setups.
	if !e.lastTS.IsZero() && !bar.Timestamp.Equal(e.lastTS.Add(e.interval)) {
		res.GapDetected = true
		res.GapExpired = e.comp.Flush()
		e.bars = e.bars[:0]
		e.signalHistory = e.signalHistory[:0]
		pipelineBarsTotal.WithLabelValues("gap").Inc()
		logger.Warn("Bar gap detected, history reset",
			logger.String("symbol", bar.Symbol),
			logger.Time("last", e.lastTS),
			logger.Time("next", bar.Timestamp),
		)
	}
	e.lastTS = bar.Timestamp

	e.bars = append(e.bars, bar)
	if len(e.bars) > e.maxHistory {
		e.bars = e.bars[len(e.bars)-e.maxHistory:]
	}

	feats, warmedUp := features.Extract(e.bars, e.cfg, e.cfg.Timeframe)
	res.Features = feats
	res.WarmingUp = !warmedUp

	snapshot := ctxengine.Analyze(e.bars, e.cfg, e.cfg.Timeframe)
	if e.higher != nil {
		snapshot.Alignment = trendAlignment(snapshot.Trend, *e.higher)
	}
	res.Snapshot = snapshot

	guarded := false
	if warmedUp && e.cfg.VolumeGuard.Enabled {
		avgVol := features.AverageVolume(e.bars, e.cfg.Vol.AvgWindow)
		if avgVol < float64(e.cfg.VolumeGuard.MinAvgVolume) {
			guarded = true
		}
	}
	res.VolumeGuarded = guarded

	if warmedUp && !guarded {
		in := rules.Input{
			Bars:         e.bars,
			Features:     feats,
			Context:      snapshot,
			Higher:       e.higher,
			PriorSignals: e.signalHistory,
			BarIndex:     e.barIndex,
		}
		res.Signals = rules.Evaluate(in, e.cfg)
		res.NearMisses = rules.ComputeNearMisses(in, e.cfg, res.Signals, nearMissTolerance)
	}

	// Each bar is counted exactly once; a gap bar was already counted in
	// the gap branch.
	switch {
	case res.GapDetected:
	case !warmedUp:
		pipelineBarsTotal.WithLabelValues("warming_up").Inc()
	case guarded:
		pipelineBarsTotal.WithLabelValues("volume_guarded").Inc()
	default:
		pipelineBarsTotal.WithLabelValues("processed").Inc()
	}

	res.Decisions = gates.Apply(res.Signals, snapshot, e.higher, e.cfg)
	actionable := gates.Actionable(res.Decisions)
	reducedRisk := gates.AnyReducedRisk(res.Decisions)
	e.recordSignalMetrics(res.Decisions)

	// The composer runs every bar, signals or not: countdowns age on bars,
	// not on signal activity.
	res.Setups = e.comp.Process(composer.BarInput{
		BarIndex:    e.barIndex,
		Timestamp:   bar.Timestamp,
		Actionable:  actionable,
		All:         res.Signals,
		Snapshot:    snapshot,
		ReducedRisk: reducedRisk,
	})
	e.recordSetupMetrics(res.Setups)

	if hardAvoidanceFired(res.Signals) {
		account.AvoidanceActive = true
	}

	atr := features.ATR(e.bars, e.cfg.ATR.Period)
	for _, ready := range res.Setups.Ready {
		intent := risk.Evaluate(risk.Input{
			Ready:     ready,
			Account:   account,
			RefPrice:  bar.Close,
			ATR:       atr,
			Symbol:    e.cfg.Symbol,
			Timeframe: e.cfg.Timeframe,
			BarIndex:  e.barIndex,
			Timestamp: bar.Timestamp,
		}, e.cfg)
		res.Intents = append(res.Intents, intent)
		pipelineIntentsTotal.WithLabelValues(string(intent.Status), string(intent.RejectReason)).Inc()
	}

	e.signalHistory = append(e.signalHistory, res.Signals)
	if len(e.signalHistory) > e.cfg.Cluster.Window {
		e.signalHistory = e.signalHistory[len(e.signalHistory)-e.cfg.Cluster.Window:]
	}

	return res, nil
}

// OnHigherTimeframeBar ingests a closed bar from the coarser series used
// for dominant alignment. Callers must feed it before the lower-timeframe
// bars it precedes; the snapshot only ever reflects closed higher bars.
func (e *Engine) OnHigherTimeframeBar(bar models.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	if !e.lastHigherTS.IsZero() && !bar.Timestamp.After(e.lastHigherTS) {
		return fmt.Errorf("%w: higher timeframe %s after %s", models.ErrOutOfOrderBar,
			bar.Timestamp.Format(time.RFC3339), e.lastHigherTS.Format(time.RFC3339))
	}
	e.lastHigherTS = bar.Timestamp

	e.higherBars = append(e.higherBars, bar)
	if len(e.higherBars) > e.maxHistory {
		e.higherBars = e.higherBars[len(e.higherBars)-e.maxHistory:]
	}

	snapshot := ctxengine.Analyze(e.higherBars, e.cfg, e.cfg.HigherTimeframe)
	e.higher = &snapshot
	return nil
}

// trendAlignment maps the trading-timeframe trend onto the higher trend.
func trendAlignment(trend models.TrendDirection, higher models.ContextSnapshot) models.Alignment {
	switch trend {
	case models.TrendUp:
		return ctxengine.ResolveAlignment(higher, models.BiasBullish)
	case models.TrendDown:
		return ctxengine.ResolveAlignment(higher, models.BiasBearish)
	default:
		return models.AlignmentUnknown
	}
}

func hardAvoidanceFired(signals []models.SignalEvent) bool {
	for i := range signals {
		if rules.HardAvoidance(signals[i].Rule) {
			return true
		}
	}
	return false
}

func (e *Engine) recordSignalMetrics(decisions []gates.Decision) {
	for i := range decisions {
		d := &decisions[i]
		pipelineSignalsTotal.WithLabelValues(string(d.Signal.Rule)).Inc()
		for _, reason := range d.BlockReasons {
			pipelineBlockedTotal.WithLabelValues(reason).Inc()
		}
	}
}

func (e *Engine) recordSetupMetrics(res composer.Result) {
	for i := range res.Ready {
		pipelineSetupsTotal.WithLabelValues(string(res.Ready[i].Setup), string(models.SetupReady)).Inc()
	}
	for i := range res.Expired {
		pipelineSetupsTotal.WithLabelValues(string(res.Expired[i].Setup), string(models.SetupExpired)).Inc()
	}
	for i := range res.Invalidated {
		pipelineSetupsTotal.WithLabelValues(string(res.Invalidated[i].Setup), string(models.SetupInvalidated)).Inc()
	}
}

// State is the serializable engine snapshot persisted by Checkpoint.
// Bar history is not included: on restore the caller reloads trailing
// bars from the bar store before resuming the stream. Signal history is
// included so cluster counting survives a restore.
type State struct {
	BarIndex      int                    `json:"bar_index"`
	LastTimestamp time.Time              `json:"last_timestamp"`
	Composer      composer.State         `json:"composer"`
	SignalHistory [][]models.SignalEvent `json:"signal_history,omitempty"`
}

// CheckpointKey identifies this stream's snapshot in the checkpoint store.
func (e *Engine) CheckpointKey() string {
	return fmt.Sprintf("pipeline-%s-%s", e.cfg.Symbol, e.cfg.Timeframe)
}

// Checkpoint persists the engine state.
func (e *Engine) Checkpoint(ctx context.Context, store checkpoint.Store) error {
	state := State{
		BarIndex:      e.barIndex,
		LastTimestamp: e.lastTS,
		Composer:      e.comp.Snapshot(),
		SignalHistory: e.signalHistory,
	}
	return store.Save(ctx, e.CheckpointKey(), state)
}

// Restore loads a previous snapshot. models.ErrNoCheckpoint means a fresh
// start, not a failure.
func (e *Engine) Restore(ctx context.Context, store checkpoint.Store) error {
	var state State
	if err := store.Load(ctx, e.CheckpointKey(), &state); err != nil {
		return err
	}
	e.barIndex = state.BarIndex
	e.lastTS = state.LastTimestamp
	e.comp.Restore(state.Composer)
	e.signalHistory = append(e.signalHistory[:0], state.SignalHistory...)

	logger.Info("Pipeline state restored",
		logger.String("key", e.CheckpointKey()),
		logger.Int("bar_index", e.barIndex),
		logger.Time("last_timestamp", e.lastTS),
	)
	return nil
}

// LastTimestamp is the close time of the most recent bar the engine has
// seen (zero before the first bar or after a fresh restore without seed).
func (e *Engine) LastTimestamp() time.Time {
	return e.lastTS
}

// SeedBars preloads trailing bar history after a restore so baselines are
// warm immediately. Bars must be chronological and end at the checkpoint
// timestamp.
func (e *Engine) SeedBars(bars []models.Bar) {
	if len(bars) > e.maxHistory {
		bars = bars[len(bars)-e.maxHistory:]
	}
	e.bars = append(e.bars[:0], bars...)
	if len(bars) > 0 {
		e.lastTS = bars[len(bars)-1].Timestamp
	}
}
