package models

import (
	"fmt"
	"time"
)

// Bar represents a single closed OHLCV bar. Bars are produced by ingestion,
// UTC-normalized and gap-checked; the pipeline treats them as read-only.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Validate validates a Bar
func (b *Bar) Validate() error {
	if b.Symbol == "" {
		return ErrInvalidSymbol
	}
	if b.Timestamp.IsZero() {
		return ErrInvalidTimestamp
	}
	if b.High < b.Low {
		return ErrInvalidBar
	}
	if b.Volume < 0 {
		return ErrInvalidVolume
	}
	return nil
}

// Spread is the candle body magnitude: |close - open|.
// Spread is always the body, never the full range; range is a separate
// measure used by wick-ratio shapes and congestion detection.
func (b *Bar) Spread() float64 {
	if b.Close >= b.Open {
		return b.Close - b.Open
	}
	return b.Open - b.Close
}

// Range is the full extent of the candle: high - low.
func (b *Bar) Range() float64 {
	return b.High - b.Low
}

// UpperWick is high - max(open, close).
func (b *Bar) UpperWick() float64 {
	if b.Open > b.Close {
		return b.High - b.Open
	}
	return b.High - b.Close
}

// LowerWick is min(open, close) - low.
func (b *Bar) LowerWick() float64 {
	if b.Open < b.Close {
		return b.Open - b.Low
	}
	return b.Close - b.Low
}

// IsUp reports whether the candle closed at or above its open.
func (b *Bar) IsUp() bool {
	return b.Close >= b.Open
}

// VolumeState is the 4-state relative volume classification.
type VolumeState string

const (
	VolumeLow       VolumeState = "low"
	VolumeAverage   VolumeState = "average"
	VolumeHigh      VolumeState = "high"
	VolumeUltraHigh VolumeState = "ultra_high"
)

// SpreadState is the 3-state relative spread classification.
type SpreadState string

const (
	SpreadNarrow SpreadState = "narrow"
	SpreadNormal SpreadState = "normal"
	SpreadWide   SpreadState = "wide"
)

// CandleDirection is the direction of a single candle.
type CandleDirection string

const (
	CandleUp   CandleDirection = "up"
	CandleDown CandleDirection = "down"
)

// CandleFeatures holds the per-bar derived measures consumed by the rule
// engine. Pure function of one bar plus a trailing window; immutable once
// computed.
type CandleFeatures struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`

	Spread    float64 `json:"spread"`
	Range     float64 `json:"range"`
	UpperWick float64 `json:"upper_wick"`
	LowerWick float64 `json:"lower_wick"`

	SpreadRel float64 `json:"spread_rel"`
	VolRel    float64 `json:"vol_rel"`

	VolState    VolumeState     `json:"vol_state"`
	SpreadState SpreadState     `json:"spread_state"`
	Direction   CandleDirection `json:"direction"`

	// Bar extremes carried along for stop placement and test probes.
	BarHigh  float64 `json:"bar_high"`
	BarLow   float64 `json:"bar_low"`
	BarClose float64 `json:"bar_close"`
}

// TrendDirection is the multi-bar trend classification.
type TrendDirection string

const (
	TrendUp      TrendDirection = "up"
	TrendDown    TrendDirection = "down"
	TrendRange   TrendDirection = "range"
	TrendUnknown TrendDirection = "unknown"
)

// TrendStrength grades trend consistency.
type TrendStrength string

const (
	StrengthWeak     TrendStrength = "weak"
	StrengthModerate TrendStrength = "moderate"
	StrengthStrong   TrendStrength = "strong"
)

// TrendLocation is the bar's position within recent price structure.
type TrendLocation string

const (
	LocationTop     TrendLocation = "top"
	LocationBottom  TrendLocation = "bottom"
	LocationMiddle  TrendLocation = "middle"
	LocationUnknown TrendLocation = "unknown"
)

// VolumeTrend is the direction of volume over a trailing window.
type VolumeTrend string

const (
	VolumeRising  VolumeTrend = "rising"
	VolumeFalling VolumeTrend = "falling"
	VolumeFlat    VolumeTrend = "flat"
)

// Alignment compares the trading-timeframe direction against the
// higher-timeframe dominant trend.
type Alignment string

const (
	AlignmentWith    Alignment = "with"
	AlignmentAgainst Alignment = "against"
	AlignmentUnknown Alignment = "unknown"
)

// Congestion marks a bounded, low-range price region.
type Congestion struct {
	Active    bool    `json:"active"`
	RangeHigh float64 `json:"range_high,omitempty"`
	RangeLow  float64 `json:"range_low,omitempty"`
}

// ContextSnapshot is the per-bar classification of the market backdrop.
// Recomputed each bar from a bounded trailing window; never shared across
// symbols.
type ContextSnapshot struct {
	Timeframe     string         `json:"timeframe"`
	Trend         TrendDirection `json:"trend"`
	TrendStrength TrendStrength  `json:"trend_strength"`
	Location      TrendLocation  `json:"location"`
	Congestion    Congestion     `json:"congestion"`
	VolumeTrend   VolumeTrend    `json:"volume_trend"`
	Alignment     Alignment      `json:"alignment"`
}

// SignalClass groups detectors by what kind of evidence they produce.
type SignalClass string

const (
	ClassValidation   SignalClass = "validation"
	ClassAnomaly      SignalClass = "anomaly"
	ClassTest         SignalClass = "test"
	ClassClimax       SignalClass = "climax"
	ClassStrength     SignalClass = "strength"
	ClassWeakness     SignalClass = "weakness"
	ClassAvoidance    SignalClass = "avoidance"
	ClassConfirmation SignalClass = "confirmation"
	ClassMeta         SignalClass = "meta"
)

// DirectionBias is the directional lean of a signal.
type DirectionBias string

const (
	BiasBullish DirectionBias = "bullish"
	BiasBearish DirectionBias = "bearish"
	BiasNeutral DirectionBias = "neutral"
)

// RuleID identifies one detector in the closed rule catalog.
type RuleID string

// SignalEvent is an atomic detector output. One instance per (rule, bar);
// immutable once emitted. Gates partition and annotate signals but never
// mutate them.
type SignalEvent struct {
	Rule         RuleID             `json:"rule"`
	Name         string             `json:"name"`
	Symbol       string             `json:"symbol"`
	Timeframe    string             `json:"timeframe"`
	Timestamp    time.Time          `json:"timestamp"`
	BarIndex     int                `json:"bar_index"`
	Class        SignalClass        `json:"class"`
	Bias         DirectionBias      `json:"bias"`
	Priority     int                `json:"priority"`
	Evidence     map[string]float64 `json:"evidence,omitempty"`
	RequiresGate bool               `json:"requires_gate"`
}

// Key uniquely identifies a signal within a run: rule id + bar index.
func (s SignalEvent) Key() string {
	return fmt.Sprintf("%s@%d", s.Rule, s.BarIndex)
}

// TradeDirection is the side of a setup or intent.
type TradeDirection string

const (
	DirectionLong  TradeDirection = "long"
	DirectionShort TradeDirection = "short"
)

// Opposite returns the other trade direction.
func (d TradeDirection) Opposite() TradeDirection {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// SetupID identifies a setup definition.
type SetupID string

// SetupState is the lifecycle state of one setup instance.
type SetupState string

const (
	SetupInactive       SetupState = "inactive"
	SetupCandidate      SetupState = "candidate"
	SetupPendingConfirm SetupState = "pending_confirm"
	SetupReady          SetupState = "ready"
	SetupInvalidated    SetupState = "invalidated"
	SetupExpired        SetupState = "expired"
)

// Terminal reports whether the state ends an instance's lifecycle.
func (s SetupState) Terminal() bool {
	return s == SetupReady || s == SetupInvalidated || s == SetupExpired
}

// StopMethod selects how the risk engine places the protective stop.
type StopMethod string

const (
	StopTriggerExtreme StopMethod = "trigger_extreme"
	StopATRMultiple    StopMethod = "atr_multiple"
)

// IntentStatus is the terminal status of a trade intent.
type IntentStatus string

const (
	IntentReady    IntentStatus = "ready"
	IntentRejected IntentStatus = "rejected"
)

// RejectReason is the typed reason attached to a rejected intent.
type RejectReason string

const (
	RejectMaxPositions    RejectReason = "max_positions"
	RejectDailyLossLimit  RejectReason = "daily_loss_limit"
	RejectAvoidanceActive RejectReason = "avoidance_active"
	RejectZeroSize        RejectReason = "zero_size"
	RejectStopUnavailable RejectReason = "stop_unavailable"
)

// EntryTiming is the deterministic execution-timing mode for entries.
type EntryTiming string

// NextBarOpen: fills occur at the open of the bar immediately following
// the bar on which the setup became ready. The only supported mode.
const EntryNextBarOpen EntryTiming = "next_bar_open"

// TradeIntent is the risk engine's output: a sized, stopped intent or a
// typed rejection. Immutable once emitted.
type TradeIntent struct {
	ID           string         `json:"id"`
	Setup        SetupID        `json:"setup"`
	Symbol       string         `json:"symbol"`
	Timeframe    string         `json:"timeframe"`
	Direction    TradeDirection `json:"direction"`
	Status       IntentStatus   `json:"status"`
	EntryTiming  EntryTiming    `json:"entry_timing"`
	StopPrice    float64        `json:"stop_price,omitempty"`
	StopMethod   StopMethod     `json:"stop_method,omitempty"`
	Size         int64          `json:"size,omitempty"`
	RiskPct      float64        `json:"risk_pct,omitempty"`
	CreatedAtBar int            `json:"created_at_bar"`
	Timestamp    time.Time      `json:"timestamp"`
	Rationale    []string       `json:"rationale"`
	RejectReason RejectReason   `json:"reject_reason,omitempty"`
}
