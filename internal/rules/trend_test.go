package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

func TestTrendVal1_VolumeConfirmsTrend(t *testing.T) {
	cfg := config.Default()
	in := inputFor(t, baselineBars(25), cfg)
	in.Context.Trend = models.TrendUp
	in.Context.VolumeTrend = models.VolumeRising

	sig := findSignal(Evaluate(in, cfg), RuleTrendVal1)
	require.NotNil(t, sig)
	assert.Equal(t, models.ClassValidation, sig.Class)
	assert.Equal(t, models.BiasBullish, sig.Bias)

	in.Context.Trend = models.TrendDown
	sig = findSignal(Evaluate(in, cfg), RuleTrendVal1)
	require.NotNil(t, sig)
	assert.Equal(t, models.BiasBearish, sig.Bias)
}

func TestTrendAnom1_VolumeDivergesFromTrend(t *testing.T) {
	cfg := config.Default()
	in := inputFor(t, baselineBars(25), cfg)
	in.Context.Trend = models.TrendUp
	in.Context.VolumeTrend = models.VolumeFalling

	sig := findSignal(Evaluate(in, cfg), RuleTrendAnom1)
	require.NotNil(t, sig)
	assert.Equal(t, models.ClassAnomaly, sig.Class)
	assert.Equal(t, models.BiasBearish, sig.Bias)
}

func TestTrendRules_SilentWithoutDirectionalTrend(t *testing.T) {
	cfg := config.Default()
	in := inputFor(t, baselineBars(25), cfg)
	in.Context.Trend = models.TrendRange
	in.Context.VolumeTrend = models.VolumeRising

	signals := Evaluate(in, cfg)
	assert.Nil(t, findSignal(signals, RuleTrendVal1))
	assert.Nil(t, findSignal(signals, RuleTrendAnom1))
}

// climaxBars appends repeated upper-wick, high-volume bars to a baseline.
func climaxBars(n int) []models.Bar {
	bars := baselineBars(25)
	for i := 0; i < n; i++ {
		bars = withLast(bars, 100.0, 101.5, 99.9, 100.2, 2000)
		if i < n-1 {
			next := bars[len(bars)-1]
			next.Timestamp = next.Timestamp.Add(15 * time.Minute)
			bars = append(bars, next)
		}
	}
	return bars
}

func TestClimaxSell1_RepeatedUpperWicks(t *testing.T) {
	cfg := config.Default()
	in := inputFor(t, climaxBars(3), cfg)

	sig := findSignal(Evaluate(in, cfg), RuleClimaxSell1)
	require.NotNil(t, sig)
	assert.Equal(t, models.ClassClimax, sig.Class)
	assert.Equal(t, models.BiasBearish, sig.Bias)
	assert.GreaterOrEqual(t, sig.Evidence["climax_bars"], 2.0)
}

func TestClimaxSell1_SingleWickInsufficient(t *testing.T) {
	cfg := config.Default()
	in := inputFor(t, climaxBars(1), cfg)

	assert.Nil(t, findSignal(Evaluate(in, cfg), RuleClimaxSell1))
}

func TestClimaxBuy1_RepeatedLowerWicks(t *testing.T) {
	cfg := config.Default()
	bars := baselineBars(25)
	for i := 0; i < 3; i++ {
		bars = withLast(bars, 100.0, 100.3, 98.7, 100.0, 2000)
		if i < 2 {
			next := bars[len(bars)-1]
			next.Timestamp = next.Timestamp.Add(15 * time.Minute)
			bars = append(bars, next)
		}
	}
	in := inputFor(t, bars, cfg)

	sig := findSignal(Evaluate(in, cfg), RuleClimaxBuy1)
	require.NotNil(t, sig)
	assert.Equal(t, models.BiasBullish, sig.Bias)
}

func TestClust1_AnomalyClusterEscalates(t *testing.T) {
	cfg := config.Default()

	// Prior bar carried an anomaly; the current bar fires another.
	bars := withLast(baselineBars(25), 100.0, 100.8, 100.0, 100.6, 1900)
	in := inputFor(t, bars, cfg)
	in.PriorSignals = [][]models.SignalEvent{
		{{Rule: RuleAnom2, Class: models.ClassAnomaly, Bias: models.BiasBearish, BarIndex: in.BarIndex - 1}},
	}

	signals := Evaluate(in, cfg)
	require.NotNil(t, findSignal(signals, RuleAnom2))

	clust := findSignal(signals, RuleClust1)
	require.NotNil(t, clust)
	assert.Equal(t, models.ClassMeta, clust.Class)
	assert.Equal(t, models.BiasBearish, clust.Bias)
	assert.Equal(t, 2.0, clust.Evidence["anomaly_count"])
}

func TestClust1_OldAnomaliesOutsideWindowIgnored(t *testing.T) {
	cfg := config.Default()

	bars := withLast(baselineBars(25), 100.0, 100.8, 100.0, 100.6, 1900)
	in := inputFor(t, bars, cfg)

	// One anomaly, but it sits beyond the cluster window.
	prior := make([][]models.SignalEvent, cfg.Cluster.Window)
	prior[0] = []models.SignalEvent{
		{Rule: RuleAnom2, Class: models.ClassAnomaly, Bias: models.BiasBearish},
	}
	in.PriorSignals = prior

	assert.Nil(t, findSignal(Evaluate(in, cfg), RuleClust1))
}

func TestConf1_CandleAndTrendAgreement(t *testing.T) {
	cfg := config.Default()

	// Wide up bar on high volume plus a rising-volume uptrend: candle and
	// trend levels agree bullish.
	bars := withLast(baselineBars(25), 100.0, 101.7, 100.0, 101.5, 1400)
	in := inputFor(t, bars, cfg)
	in.Context.Trend = models.TrendUp
	in.Context.VolumeTrend = models.VolumeRising

	signals := Evaluate(in, cfg)
	require.NotNil(t, findSignal(signals, RuleVal1))
	require.NotNil(t, findSignal(signals, RuleTrendVal1))

	conf := findSignal(signals, RuleConf1)
	require.NotNil(t, conf)
	assert.Equal(t, models.ClassConfirmation, conf.Class)
	assert.Equal(t, models.BiasBullish, conf.Bias)
}

func TestConf1_NoAgreementNoConfirmation(t *testing.T) {
	cfg := config.Default()

	// Candle level only: no trend-level signal to agree with.
	bars := withLast(baselineBars(25), 100.0, 101.7, 100.0, 101.5, 1400)
	in := inputFor(t, bars, cfg)

	assert.Nil(t, findSignal(Evaluate(in, cfg), RuleConf1))
}
