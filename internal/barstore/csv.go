package barstore

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohamedkhairy/vpa-engine/internal/models"
)

// ReadCSV loads bars from a CSV file with a header row of
// timestamp,open,high,low,close,volume. Timestamps are RFC 3339 or Unix
// seconds, normalized to UTC. Rows must be chronological; an out-of-order
// row fails the load.
func ReadCSV(path, symbol string) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	col, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var bars []models.Bar
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		line++

		bar, err := parseBar(rec, col, symbol)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if len(bars) > 0 && !bar.Timestamp.After(bars[len(bars)-1].Timestamp) {
			return nil, fmt.Errorf("csv line %d: %w", line, models.ErrOutOfOrderBar)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

type columns struct {
	ts, open, high, low, close, volume int
}

func columnIndex(header []string) (columns, error) {
	col := columns{ts: -1, open: -1, high: -1, low: -1, close: -1, volume: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "timestamp", "time", "date":
			col.ts = i
		case "open":
			col.open = i
		case "high":
			col.high = i
		case "low":
			col.low = i
		case "close":
			col.close = i
		case "volume":
			col.volume = i
		}
	}
	if col.ts < 0 || col.open < 0 || col.high < 0 || col.low < 0 || col.close < 0 || col.volume < 0 {
		return col, fmt.Errorf("csv header missing required columns: %v", header)
	}
	return col, nil
}

func parseBar(rec []string, col columns, symbol string) (models.Bar, error) {
	ts, err := parseTimestamp(rec[col.ts])
	if err != nil {
		return models.Bar{}, err
	}

	open, err := strconv.ParseFloat(rec[col.open], 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("invalid open %q", rec[col.open])
	}
	high, err := strconv.ParseFloat(rec[col.high], 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("invalid high %q", rec[col.high])
	}
	low, err := strconv.ParseFloat(rec[col.low], 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("invalid low %q", rec[col.low])
	}
	cls, err := strconv.ParseFloat(rec[col.close], 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("invalid close %q", rec[col.close])
	}
	vol, err := strconv.ParseInt(rec[col.volume], 10, 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("invalid volume %q", rec[col.volume])
	}

	bar := models.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}
	if err := bar.Validate(); err != nil {
		return models.Bar{}, err
	}
	return bar, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
