// Package execution pins the deterministic fill semantics: entries at the
// next bar's open, stop exits within the bar that touches the stop, both
// adjusted by a configured slippage model. Decisions are made only on
// closed bars; this package never looks inside the deciding bar.
package execution

import (
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// ApplySlippage moves a price adversely for the aggressor. buying=true
// means paying up (entry long, covering a short stop); buying=false means
// selling down.
func ApplySlippage(price float64, buying bool, s config.SlippageConfig) float64 {
	var adj float64
	switch s.Model {
	case config.SlippageTicks:
		adj = s.Value * s.TickSize
	default: // bps
		adj = price * s.Value / 10000
	}
	if buying {
		return price + adj
	}
	return price - adj
}

// EntryFillPrice is the fill for a next-bar-open entry: the open of the
// bar following the ready bar, plus adverse slippage.
func EntryFillPrice(nextOpen float64, dir models.TradeDirection, s config.SlippageConfig) float64 {
	return ApplySlippage(nextOpen, dir == models.DirectionLong, s)
}

// StopHit reports whether the bar traded through the stop for a position
// in the given direction.
func StopHit(bar models.Bar, dir models.TradeDirection, stop float64) bool {
	if dir == models.DirectionLong {
		return bar.Low <= stop
	}
	return bar.High >= stop
}

// StopFillPrice is the exit fill for a stopped position. A bar that opens
// through the stop fills at its open (the stop price no longer exists);
// otherwise the fill anchors at the stop. Slippage is adverse to the exit
// side.
func StopFillPrice(bar models.Bar, dir models.TradeDirection, stop float64, s config.SlippageConfig) float64 {
	anchor := stop
	if dir == models.DirectionLong {
		if bar.Open < stop {
			anchor = bar.Open
		}
		return ApplySlippage(anchor, false, s)
	}
	if bar.Open > stop {
		anchor = bar.Open
	}
	return ApplySlippage(anchor, true, s)
}
