package rules

import (
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// detectClust1 escalates when the count of anomaly-class signals within
// the trailing cluster window (including the current bar) reaches the
// configured minimum. One anomaly is a warning; a cluster is a campaign.
//
// The bias follows the most recent anomaly in the window.
func detectClust1(in Input, cfg *config.Config, current []models.SignalEvent) *models.SignalEvent {
	window := cfg.Cluster.Window
	if window <= 0 {
		return nil
	}

	count := 0
	var latest *models.SignalEvent

	// Prior bars, newest last, limited to window-1 (current bar is the
	// window's final slot).
	prior := in.PriorSignals
	if len(prior) > window-1 {
		prior = prior[len(prior)-(window-1):]
	}
	for i := range prior {
		for j := range prior[i] {
			if prior[i][j].Class == models.ClassAnomaly {
				count++
				latest = &prior[i][j]
			}
		}
	}
	for i := range current {
		if current[i].Class == models.ClassAnomaly {
			count++
			latest = &current[i]
		}
	}

	if count < cfg.Cluster.MinAnomalies || latest == nil {
		return nil
	}

	sig := newSignal(RuleClust1, in, map[string]float64{
		"anomaly_count": float64(count),
		"window":        float64(window),
	})
	return withBias(sig, latest.Bias)
}
