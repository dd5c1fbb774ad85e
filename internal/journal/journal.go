// Package journal is the append-only record of everything the pipeline
// decides: signals, gate verdicts, setup transitions, intents, fills.
// Records are JSON lines; replaying the same data yields a byte-identical
// journal except for record ids and logged-at times.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record types.
const (
	TypeBar      = "bar"
	TypeSignal   = "signal"
	TypeGate     = "gate"
	TypeSetup    = "setup"
	TypeIntent   = "intent"
	TypeFill     = "fill"
	TypeTrade    = "trade"
	TypeNearMiss = "near_miss"
	TypeGap      = "gap"
)

// Record is one journal line. Payload carries the stage-specific body and
// is marshaled as-is.
type Record struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	BarIndex  int       `json:"bar_index"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
	LoggedAt  time.Time `json:"logged_at"`
}

// NewRecord stamps a record with a fresh id and wall-clock logged-at.
// Everything else in the record is deterministic replay output.
func NewRecord(runID, typ, symbol, timeframe string, barIndex int, ts time.Time, payload any) Record {
	return Record{
		ID:        uuid.New().String(),
		RunID:     runID,
		Type:      typ,
		Symbol:    symbol,
		Timeframe: timeframe,
		BarIndex:  barIndex,
		Timestamp: ts,
		Payload:   payload,
		LoggedAt:  time.Now().UTC(),
	}
}

// Sink accepts journal records.
type Sink interface {
	Append(rec Record) error
	Close() error
}

// Writer appends records to a JSONL file, one JSON object per line.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	buf  *bufio.Writer
	echo bool
}

// NewWriter opens (creating directories as needed) the journal file for
// append. echo additionally prints each line to stdout.
func NewWriter(path string, echo bool) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	return &Writer{f: f, buf: bufio.NewWriter(f), echo: echo}, nil
}

// Append writes one record as a JSON line.
func (w *Writer) Append(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal journal record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.buf.Write(line); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	if w.echo {
		fmt.Println(string(line))
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

// Multi fans records out to several sinks; the first error wins.
type Multi []Sink

func (m Multi) Append(rec Record) error {
	for _, s := range m {
		if err := s.Append(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Discard drops every record. Used when journaling is disabled.
type Discard struct{}

func (Discard) Append(Record) error { return nil }
func (Discard) Close() error        { return nil }
