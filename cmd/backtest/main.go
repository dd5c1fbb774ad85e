package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mohamedkhairy/vpa-engine/internal/backtest"
	"github.com/mohamedkhairy/vpa-engine/internal/barstore"
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/journal"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
	"github.com/mohamedkhairy/vpa-engine/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		csvPath    = flag.String("csv", "", "path to bar CSV file (overrides the database)")
		csvHigher  = flag.String("csv-higher", "", "path to higher-timeframe bar CSV file")
		fromStr    = flag.String("from", "", "start of the database bar range (RFC 3339)")
		toStr      = flag.String("to", "", "end of the database bar range (RFC 3339)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	runID := uuid.New().String()
	logger.Info("Starting backtest",
		logger.String("run_id", runID),
		logger.String("symbol", cfg.Symbol),
		logger.String("timeframe", cfg.Timeframe),
	)

	bars, higherBars, err := loadBars(cfg, *csvPath, *csvHigher, *fromStr, *toStr)
	if err != nil {
		logger.Fatal("Failed to load bars", logger.ErrorField(err))
	}
	if len(bars) == 0 {
		logger.Fatal("No bars to replay")
	}

	sink, err := buildSink(cfg)
	if err != nil {
		logger.Fatal("Failed to open journal", logger.ErrorField(err))
	}
	defer sink.Close()

	runner, err := backtest.New(cfg, sink, runID)
	if err != nil {
		logger.Fatal("Failed to build backtest runner", logger.ErrorField(err))
	}

	summary, err := runner.Run(bars, higherBars)
	if err != nil {
		logger.Fatal("Backtest failed", logger.ErrorField(err))
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		logger.Fatal("Failed to marshal summary", logger.ErrorField(err))
	}
	fmt.Println(string(out))
}

func loadBars(cfg *config.Config, csvPath, csvHigher, fromStr, toStr string) ([]models.Bar, []models.Bar, error) {
	if csvPath != "" {
		bars, err := barstore.ReadCSV(csvPath, cfg.Symbol)
		if err != nil {
			return nil, nil, err
		}
		var higher []models.Bar
		if csvHigher != "" {
			if higher, err = barstore.ReadCSV(csvHigher, cfg.Symbol); err != nil {
				return nil, nil, err
			}
		}
		return bars, higher, nil
	}

	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid -from: %w", err)
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid -to: %w", err)
	}

	store, err := barstore.NewPostgresStore(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bars, err := store.GetBars(ctx, cfg.Symbol, cfg.Timeframe, from, to)
	if err != nil {
		return nil, nil, err
	}

	var higher []models.Bar
	if cfg.HigherTimeframe != "" {
		if higher, err = store.GetBars(ctx, cfg.Symbol, cfg.HigherTimeframe, from, to); err != nil {
			return nil, nil, err
		}
	}
	return bars, higher, nil
}

func buildSink(cfg *config.Config) (journal.Sink, error) {
	if cfg.Journal.Path == "" {
		return journal.Discard{}, nil
	}
	w, err := journal.NewWriter(cfg.Journal.Path, cfg.Journal.EchoStdout)
	if err != nil {
		return nil, err
	}
	if cfg.Journal.Stream == "" {
		return w, nil
	}
	stream, err := journal.NewStreamSink(cfg.Redis, cfg.Journal.Stream)
	if err != nil {
		w.Close()
		return nil, err
	}
	return journal.Multi{w, stream}, nil
}
