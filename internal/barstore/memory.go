package barstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// MemoryStore is an in-memory BarStore used in tests and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	bars map[string][]models.Bar // key: symbol + "/" + timeframe
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bars: make(map[string][]models.Bar)}
}

func key(symbol, timeframe string) string {
	return symbol + "/" + timeframe
}

// WriteBars appends bars, keeping each series timestamp-sorted. Duplicate
// timestamps overwrite, matching the Postgres upsert.
func (m *MemoryStore) WriteBars(ctx context.Context, timeframe string, bars []models.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, bar := range bars {
		if err := bar.Validate(); err != nil {
			continue
		}
		k := key(bar.Symbol, timeframe)
		series := m.bars[k]

		replaced := false
		for i := range series {
			if series[i].Timestamp.Equal(bar.Timestamp) {
				series[i] = bar
				replaced = true
				break
			}
		}
		if !replaced {
			series = append(series, bar)
		}
		sort.Slice(series, func(i, j int) bool {
			return series[i].Timestamp.Before(series[j].Timestamp)
		})
		m.bars[k] = series
	}
	return nil
}

// GetBars returns bars within [start, end], oldest first.
func (m *MemoryStore) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]models.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Bar
	for _, bar := range m.bars[key(symbol, timeframe)] {
		if bar.Timestamp.Before(start) || bar.Timestamp.After(end) {
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}

// GetLatestBars returns the last N bars, oldest first.
func (m *MemoryStore) GetLatestBars(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series := m.bars[key(symbol, timeframe)]
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	out := make([]models.Bar, len(series))
	copy(out, series)
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
