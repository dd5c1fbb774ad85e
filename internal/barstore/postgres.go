package barstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
	"github.com/mohamedkhairy/vpa-engine/pkg/logger"
)

var (
	barstoreWriteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barstore_write_total",
			Help: "Total number of bars written to the bar store",
		},
		[]string{"status"}, // "success" or "error"
	)

	barstoreWriteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "barstore_write_latency_seconds",
			Help:    "Bar store write latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)

	barstoreQueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "barstore_query_latency_seconds",
			Help:    "Bar store query latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)
)

// PostgresStore implements BarStore on Postgres. Bars upsert on
// (symbol, timeframe, timestamp) so re-ingesting a window is idempotent.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the connection pool and verifies connectivity.
func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to bar store",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
		logger.String("database", cfg.Database),
	)

	return &PostgresStore{db: db}, nil
}

// WriteBars inserts a batch of closed bars in one transaction. Invalid
// bars are skipped with a warning rather than failing the batch.
func (p *PostgresStore) WriteBars(ctx context.Context, timeframe string, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	valid := make([]models.Bar, 0, len(bars))
	for i := range bars {
		if err := bars[i].Validate(); err != nil {
			logger.Warn("Invalid bar, skipping",
				logger.ErrorField(err),
				logger.String("symbol", bars[i].Symbol),
			)
			continue
		}
		valid = append(valid, bars[i])
	}
	if len(valid) == 0 {
		return nil
	}

	start := time.Now()
	err := p.insertBars(ctx, timeframe, valid)
	barstoreWriteLatency.WithLabelValues("write").Observe(time.Since(start).Seconds())

	if err != nil {
		barstoreWriteTotal.WithLabelValues("error").Add(float64(len(valid)))
		return err
	}
	barstoreWriteTotal.WithLabelValues("success").Add(float64(len(valid)))
	return nil
}

func (p *PostgresStore) insertBars(ctx context.Context, timeframe string, bars []models.Bar) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, timeframe, timestamp) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		_, err := stmt.ExecContext(ctx,
			bar.Symbol,
			timeframe,
			bar.Timestamp,
			bar.Open,
			bar.High,
			bar.Low,
			bar.Close,
			bar.Volume,
		)
		if err != nil {
			return fmt.Errorf("failed to insert bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetBars retrieves bars for a symbol within a time range, oldest first.
func (p *PostgresStore) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]models.Bar, error) {
	t0 := time.Now()
	defer func() {
		barstoreQueryLatency.WithLabelValues("get_bars").Observe(time.Since(t0).Seconds())
	}()

	query := `
		SELECT symbol, timestamp, open, high, low, close, volume
		FROM bars
		WHERE symbol = $1 AND timeframe = $2 AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp ASC
	`

	rows, err := p.db.QueryContext(ctx, query, symbol, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// GetLatestBars retrieves the latest N bars for a symbol, oldest first.
func (p *PostgresStore) GetLatestBars(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error) {
	t0 := time.Now()
	defer func() {
		barstoreQueryLatency.WithLabelValues("get_latest_bars").Observe(time.Since(t0).Seconds())
	}()

	query := `
		SELECT symbol, timestamp, open, high, low, close, volume
		FROM bars
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY timestamp DESC
		LIMIT $3
	`

	rows, err := p.db.QueryContext(ctx, query, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest bars: %w", err)
	}
	defer rows.Close()

	bars, err := scanBars(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

func scanBars(rows *sql.Rows) ([]models.Bar, error) {
	var bars []models.Bar
	for rows.Next() {
		var bar models.Bar
		if err := rows.Scan(
			&bar.Symbol,
			&bar.Timestamp,
			&bar.Open,
			&bar.High,
			&bar.Low,
			&bar.Close,
			&bar.Volume,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return bars, nil
}

// Close closes the database connection.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
