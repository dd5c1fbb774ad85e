package features

import "github.com/mohamedkhairy/vpa-engine/internal/models"

// TrueRange computes the True Range for one bar against the prior close.
// It accounts for gaps between bars by comparing the bar's high/low to the
// previous close.
func TrueRange(current models.Bar, prevClose float64) float64 {
	tr := current.High - current.Low
	if hi := abs(current.High - prevClose); hi > tr {
		tr = hi
	}
	if lo := abs(current.Low - prevClose); lo > tr {
		tr = lo
	}
	return tr
}

// ATR computes the Average True Range over the last period bars using a
// simple moving average. Returns 0 when fewer than 2 bars are available.
func ATR(bars []models.Bar, period int) float64 {
	if len(bars) < 2 || period <= 0 {
		return 0
	}
	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		trs = append(trs, TrueRange(bars[i], bars[i-1].Close))
	}
	if len(trs) > period {
		trs = trs[len(trs)-period:]
	}
	var sum float64
	for _, tr := range trs {
		sum += tr
	}
	return sum / float64(len(trs))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
