// Package barstore persists and serves OHLCV bars.
package barstore

import (
	"context"
	"time"

	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// BarStore defines the interface for bar persistence.
type BarStore interface {
	// WriteBars writes closed bars to storage.
	WriteBars(ctx context.Context, timeframe string, bars []models.Bar) error

	// GetBars retrieves bars for a symbol within a time range, oldest first.
	GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]models.Bar, error)

	// GetLatestBars retrieves the latest N bars for a symbol, oldest first.
	GetLatestBars(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error)

	// Close closes the storage connection.
	Close() error
}
