package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mohamedkhairy/vpa-engine/internal/barstore"
	"github.com/mohamedkhairy/vpa-engine/internal/checkpoint"
	"github.com/mohamedkhairy/vpa-engine/internal/config"
	"github.com/mohamedkhairy/vpa-engine/internal/models"
	"github.com/mohamedkhairy/vpa-engine/internal/pipeline"
	"github.com/mohamedkhairy/vpa-engine/internal/risk"
	"github.com/mohamedkhairy/vpa-engine/pkg/logger"
)

// scan runs one pipeline pass over stored bars and prints what the latest
// bar produced. A scheduler invokes it after each bar close; checkpointing
// makes successive invocations resume instead of replaying.
func main() {
	var (
		configPath    = flag.String("config", "", "path to YAML config file")
		lookback      = flag.Int("lookback", 200, "number of stored bars to load")
		checkpointDir = flag.String("checkpoint-dir", "data/checkpoints", "checkpoint directory (empty disables, 'redis' uses Redis)")
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := barstore.NewPostgresStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open bar store", logger.ErrorField(err))
	}
	defer store.Close()

	engine, err := pipeline.New(cfg)
	if err != nil {
		logger.Fatal("Failed to build pipeline", logger.ErrorField(err))
	}

	ckpt, err := buildCheckpointStore(cfg, *checkpointDir)
	if err != nil {
		logger.Fatal("Failed to open checkpoint store", logger.ErrorField(err))
	}
	if ckpt != nil {
		defer ckpt.Close()
		if err := engine.Restore(ctx, ckpt); err != nil && !errors.Is(err, models.ErrNoCheckpoint) {
			logger.Fatal("Failed to restore checkpoint", logger.ErrorField(err))
		}
	}

	bars, err := store.GetLatestBars(ctx, cfg.Symbol, cfg.Timeframe, *lookback)
	if err != nil {
		logger.Fatal("Failed to load bars", logger.ErrorField(err))
	}
	if len(bars) == 0 {
		logger.Fatal("No bars in store",
			logger.String("symbol", cfg.Symbol),
			logger.String("timeframe", cfg.Timeframe),
		)
	}

	var higher []models.Bar
	if cfg.HigherTimeframe != "" {
		if higher, err = store.GetLatestBars(ctx, cfg.Symbol, cfg.HigherTimeframe, *lookback); err != nil {
			logger.Fatal("Failed to load higher-timeframe bars", logger.ErrorField(err))
		}
	}

	// No live account here; intents are sized against the nominal equity
	// so their risk math is still inspectable.
	account := risk.AccountState{Equity: cfg.Execution.InitialCash}

	last, err := replay(engine, bars, higher, account)
	if err != nil {
		logger.Fatal("Scan failed", logger.ErrorField(err))
	}

	if ckpt != nil {
		if err := engine.Checkpoint(ctx, ckpt); err != nil {
			logger.Warn("Failed to save checkpoint", logger.ErrorField(err))
		}
	}

	out, err := json.MarshalIndent(last, "", "  ")
	if err != nil {
		logger.Fatal("Failed to marshal result", logger.ErrorField(err))
	}
	fmt.Println(string(out))
}

// replay seeds history already covered by the checkpoint and evaluates
// the bars after it, returning the latest bar's result.
func replay(engine *pipeline.Engine, bars, higher []models.Bar, account risk.AccountState) (pipeline.BarResult, error) {
	resumeTS := engine.LastTimestamp()
	if !resumeTS.IsZero() {
		seed := make([]models.Bar, 0, len(bars))
		for _, b := range bars {
			if !b.Timestamp.After(resumeTS) {
				seed = append(seed, b)
			}
		}
		engine.SeedBars(seed)
	}

	hi := 0
	var last pipeline.BarResult
	evaluated := false

	for _, bar := range bars {
		if !resumeTS.IsZero() && !bar.Timestamp.After(resumeTS) {
			continue
		}
		for hi < len(higher) && !higher[hi].Timestamp.After(bar.Timestamp) {
			if err := engine.OnHigherTimeframeBar(higher[hi]); err != nil {
				return pipeline.BarResult{}, err
			}
			hi++
		}
		res, err := engine.OnBar(bar, account)
		if err != nil {
			return pipeline.BarResult{}, err
		}
		last = res
		evaluated = true
	}

	if !evaluated {
		return pipeline.BarResult{}, fmt.Errorf("no bars newer than checkpoint %s", resumeTS.Format(time.RFC3339))
	}
	return last, nil
}

func buildCheckpointStore(cfg *config.Config, dir string) (checkpoint.Store, error) {
	switch dir {
	case "":
		return nil, nil
	case "redis":
		return checkpoint.NewRedisStore(cfg.Redis, "vpa-checkpoint")
	default:
		return checkpoint.NewFileStore(dir)
	}
}
