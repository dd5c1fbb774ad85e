package barstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCSV_RFC3339Timestamps(t *testing.T) {
	path := writeCSV(t, `timestamp,open,high,low,close,volume
2024-03-01T14:30:00Z,100.0,101.2,99.8,101.0,1000
2024-03-01T14:45:00Z,101.0,101.5,100.5,101.2,1200
`)

	bars, err := ReadCSV(path, "SPY")
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "SPY", bars[0].Symbol)
	assert.Equal(t, time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC), bars[0].Timestamp)
	assert.Equal(t, 100.0, bars[0].Open)
	assert.Equal(t, int64(1200), bars[1].Volume)
}

func TestReadCSV_UnixSecondsAndColumnOrder(t *testing.T) {
	// Reordered columns with a "time" header and Unix-second stamps.
	path := writeCSV(t, `volume,close,low,high,open,time
1000,101.0,99.8,101.2,100.0,1709303400
1200,101.2,100.5,101.5,101.0,1709304300
`)

	bars, err := ReadCSV(path, "SPY")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC), bars[0].Timestamp)
	assert.Equal(t, 101.0, bars[0].Close)
}

func TestReadCSV_OutOfOrderRowFails(t *testing.T) {
	path := writeCSV(t, `timestamp,open,high,low,close,volume
2024-03-01T14:45:00Z,101.0,101.5,100.5,101.2,1200
2024-03-01T14:30:00Z,100.0,101.2,99.8,101.0,1000
`)

	_, err := ReadCSV(path, "SPY")
	assert.ErrorIs(t, err, models.ErrOutOfOrderBar)
}

func TestReadCSV_MissingColumnFails(t *testing.T) {
	path := writeCSV(t, `timestamp,open,high,low,close
2024-03-01T14:30:00Z,100.0,101.2,99.8,101.0
`)

	_, err := ReadCSV(path, "SPY")
	assert.Error(t, err)
}

func TestReadCSV_BadValueFails(t *testing.T) {
	path := writeCSV(t, `timestamp,open,high,low,close,volume
2024-03-01T14:30:00Z,not-a-price,101.2,99.8,101.0,1000
`)

	_, err := ReadCSV(path, "SPY")
	assert.Error(t, err)
}
