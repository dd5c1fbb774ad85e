package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the single immutable configuration tree for a run. It is
// validated once at load time and passed through the whole pipeline;
// no stage reads configuration from ambient state.
type Config struct {
	Environment string `yaml:"environment" validate:"oneof=development production test"`
	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`

	Symbol    string `yaml:"symbol" validate:"required"`
	Timeframe string `yaml:"timeframe" validate:"required"`
	// HigherTimeframe is the coarser bar series used for dominant-alignment.
	// Empty disables the higher-timeframe context.
	HigherTimeframe string `yaml:"higher_timeframe"`

	Vol         VolConfig         `yaml:"vol"`
	Spread      SpreadConfig      `yaml:"spread"`
	Trend       TrendConfig       `yaml:"trend"`
	Test        TestConfig        `yaml:"test"`
	Cluster     ClusterConfig     `yaml:"cluster"`
	Climax      ClimaxConfig      `yaml:"climax"`
	Patterns    PatternsConfig    `yaml:"patterns"`
	Gates       GatesConfig       `yaml:"gates"`
	Setup       SetupConfig       `yaml:"setup"`
	Risk        RiskConfig        `yaml:"risk"`
	ATR         ATRConfig         `yaml:"atr"`
	VolumeGuard VolumeGuardConfig `yaml:"volume_guard"`
	Execution   ExecutionConfig   `yaml:"execution"`

	Journal  JournalConfig  `yaml:"journal"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
}

// VolConfig drives the relative-volume baseline and its 4-state bands.
type VolConfig struct {
	AvgWindow   int           `yaml:"avg_window" validate:"gt=1"`
	Thresholds  VolThresholds `yaml:"thresholds"`
	MinBaseline float64       `yaml:"min_baseline" validate:"gte=0"`
}

// VolThresholds are the relative-volume band boundaries.
// low < low_lt <= average <= high_gt < high <= ultra_high_gt < ultra_high.
type VolThresholds struct {
	LowLT       float64 `yaml:"low_lt" validate:"gt=0"`
	HighGT      float64 `yaml:"high_gt" validate:"gtfield=LowLT"`
	UltraHighGT float64 `yaml:"ultra_high_gt" validate:"gtfield=HighGT"`
}

// SpreadConfig drives the relative-spread baseline and its 3-state bands.
type SpreadConfig struct {
	AvgWindow  int              `yaml:"avg_window" validate:"gt=1"`
	Thresholds SpreadThresholds `yaml:"thresholds"`
}

// SpreadThresholds are the relative-spread band boundaries.
type SpreadThresholds struct {
	NarrowLT float64 `yaml:"narrow_lt" validate:"gt=0"`
	WideGT   float64 `yaml:"wide_gt" validate:"gtfield=NarrowLT"`
}

// TrendConfig parameterizes the context engine.
type TrendConfig struct {
	WindowK           int     `yaml:"window_k" validate:"gt=0"`
	LocationLookback  int     `yaml:"location_lookback" validate:"gt=1"`
	TopPct            float64 `yaml:"top_pct" validate:"gt=0,lt=1"`
	BottomPct         float64 `yaml:"bottom_pct" validate:"gt=0,ltfield=TopPct"`
	CongestionWindow  int     `yaml:"congestion_window" validate:"gt=1"`
	CongestionPct     float64 `yaml:"congestion_pct" validate:"gt=0,lt=1"`
	VolumeTrendWindow int     `yaml:"volume_trend_window" validate:"gt=1"`
	VolumeTrendFlat   float64 `yaml:"volume_trend_flat" validate:"gte=0,lt=1"`
	StrongRatio       float64 `yaml:"strong_ratio" validate:"gt=0,lte=1"`
	ModerateRatio     float64 `yaml:"moderate_ratio" validate:"gt=0,ltefield=StrongRatio"`
}

// TestConfig parameterizes structural-boundary test detection.
type TestConfig struct {
	Lookback     int     `yaml:"lookback" validate:"gt=1"`
	TolerancePct float64 `yaml:"tolerance_pct" validate:"gte=0,lt=0.1"`
}

// ClusterConfig parameterizes anomaly-cluster escalation.
type ClusterConfig struct {
	Window       int `yaml:"window" validate:"gt=0"`
	MinAnomalies int `yaml:"min_anomalies" validate:"gt=1"`
}

// ClimaxConfig parameterizes climax detection (repeated extreme-wick,
// extreme-volume bars counted across a trailing window).
type ClimaxConfig struct {
	Window       int     `yaml:"window" validate:"gt=0"`
	MinBars      int     `yaml:"min_bars" validate:"gt=1"`
	WickRatioMin float64 `yaml:"wick_ratio_min" validate:"gt=0,lt=1"`
}

// PatternsConfig holds the premier-candle shape thresholds.
type PatternsConfig struct {
	Hammer       HammerConfig       `yaml:"hammer"`
	ShootingStar ShootingStarConfig `yaml:"shooting_star"`
	Doji         DojiConfig         `yaml:"doji"`
}

// HammerConfig thresholds (all ratios of full bar range).
type HammerConfig struct {
	LowerWickMin float64 `yaml:"lower_wick_min" validate:"gt=0,lt=1"`
	BodyMax      float64 `yaml:"body_max" validate:"gt=0,lt=1"`
	UpperWickMax float64 `yaml:"upper_wick_max" validate:"gte=0,lt=1"`
}

// ShootingStarConfig thresholds (all ratios of full bar range).
type ShootingStarConfig struct {
	UpperWickMin float64 `yaml:"upper_wick_min" validate:"gt=0,lt=1"`
	BodyMax      float64 `yaml:"body_max" validate:"gt=0,lt=1"`
	LowerWickMax float64 `yaml:"lower_wick_max" validate:"gte=0,lt=1"`
}

// DojiConfig thresholds for the wide two-sided avoidance shape.
type DojiConfig struct {
	BodyMax     float64 `yaml:"body_max" validate:"gt=0,lt=1"`
	MinWickEach float64 `yaml:"min_wick_each" validate:"gt=0,lt=1"`
}

// AlignmentPolicy controls CTX-2 behavior for counter-dominant signals.
type AlignmentPolicy string

const (
	AlignmentAllow      AlignmentPolicy = "ALLOW"
	AlignmentReduceRisk AlignmentPolicy = "REDUCE_RISK"
	AlignmentDisallow   AlignmentPolicy = "DISALLOW"
)

// GatesConfig toggles the three context gates.
type GatesConfig struct {
	CTX1LocationRequired bool            `yaml:"ctx1_location_required"`
	CTX2AlignmentPolicy  AlignmentPolicy `yaml:"ctx2_alignment_policy" validate:"oneof=ALLOW REDUCE_RISK DISALLOW"`
	CTX3CongestionAware  bool            `yaml:"ctx3_congestion_aware"`
}

// SoftPolicy decides what a soft-avoidance signal does to a pending setup.
type SoftPolicy string

const (
	SoftTerminate SoftPolicy = "terminate"
	SoftSuppress  SoftPolicy = "suppress"
)

// SetupConfig holds composer-wide defaults for setup definitions.
type SetupConfig struct {
	WindowX    int        `yaml:"window_x" validate:"gt=0"`
	SoftPolicy SoftPolicy `yaml:"soft_policy" validate:"oneof=terminate suppress"`
}

// RiskConfig parameterizes sizing and the hard-reject checklist.
type RiskConfig struct {
	RiskPctPerTrade        float64 `yaml:"risk_pct_per_trade" validate:"gt=0,lte=0.1"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions" validate:"gt=0"`
	CountertrendMultiplier float64 `yaml:"countertrend_multiplier" validate:"gt=0,lte=1"`
	DailyLossLimitPct      float64 `yaml:"daily_loss_limit_pct" validate:"gte=0,lte=0.5"`
	LotSize                int64   `yaml:"lot_size" validate:"gt=0"`
	// RejectOrder is the priority-ordered hard-reject checklist. The first
	// matching reject wins; it never falls through to sizing.
	RejectOrder []string `yaml:"reject_order" validate:"min=1,dive,oneof=max_positions daily_loss_limit avoidance_active zero_size"`
}

// ATRConfig parameterizes the ATR stop method.
type ATRConfig struct {
	Period         int     `yaml:"period" validate:"gt=1"`
	StopMultiplier float64 `yaml:"stop_multiplier" validate:"gt=0"`
}

// VolumeGuardConfig skips rule evaluation for illiquid symbols.
type VolumeGuardConfig struct {
	Enabled      bool  `yaml:"enabled"`
	MinAvgVolume int64 `yaml:"min_avg_volume" validate:"gte=0"`
}

// SlippageModel selects how stop/entry fills are adjusted.
type SlippageModel string

const (
	SlippageBPS   SlippageModel = "bps"
	SlippageTicks SlippageModel = "ticks"
)

// SlippageConfig parameterizes the deterministic fill adjustment.
type SlippageConfig struct {
	Model    SlippageModel `yaml:"model" validate:"oneof=bps ticks"`
	Value    float64       `yaml:"value" validate:"gte=0"`
	TickSize float64       `yaml:"tick_size" validate:"gt=0"`
}

// ExecutionConfig pins the anti-lookahead execution semantics.
type ExecutionConfig struct {
	Slippage          SlippageConfig `yaml:"slippage"`
	InitialCash       float64        `yaml:"initial_cash" validate:"gt=0"`
	CommissionPerUnit float64        `yaml:"commission_per_unit" validate:"gte=0"`
}

// JournalConfig holds the append-only journal sink settings.
type JournalConfig struct {
	Path       string `yaml:"path"`
	EchoStdout bool   `yaml:"echo_stdout"`
	Stream     string `yaml:"stream"`
}

// DatabaseConfig holds the Postgres bar store connection settings.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds the checkpoint/journal-stream Redis settings.
type RedisConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
}

// Default returns the configuration with all default thresholds applied.
func Default() *Config {
	return &Config{
		Environment:     "development",
		LogLevel:        "info",
		Symbol:          "SPY",
		Timeframe:       "15m",
		HigherTimeframe: "1d",
		Vol: VolConfig{
			AvgWindow:   20,
			Thresholds:  VolThresholds{LowLT: 0.8, HighGT: 1.2, UltraHighGT: 1.8},
			MinBaseline: 0,
		},
		Spread: SpreadConfig{
			AvgWindow:  20,
			Thresholds: SpreadThresholds{NarrowLT: 0.7, WideGT: 1.3},
		},
		Trend: TrendConfig{
			WindowK:           5,
			LocationLookback:  20,
			TopPct:            0.75,
			BottomPct:         0.25,
			CongestionWindow:  10,
			CongestionPct:     0.30,
			VolumeTrendWindow: 6,
			VolumeTrendFlat:   0.05,
			StrongRatio:       0.80,
			ModerateRatio:     0.60,
		},
		Test:    TestConfig{Lookback: 10, TolerancePct: 0.002},
		Cluster: ClusterConfig{Window: 5, MinAnomalies: 2},
		Climax:  ClimaxConfig{Window: 5, MinBars: 2, WickRatioMin: 0.4},
		Patterns: PatternsConfig{
			Hammer:       HammerConfig{LowerWickMin: 0.60, BodyMax: 0.33, UpperWickMax: 0.10},
			ShootingStar: ShootingStarConfig{UpperWickMin: 0.60, BodyMax: 0.33, LowerWickMax: 0.10},
			Doji:         DojiConfig{BodyMax: 0.25, MinWickEach: 0.25},
		},
		Gates: GatesConfig{
			CTX1LocationRequired: true,
			CTX2AlignmentPolicy:  AlignmentReduceRisk,
			CTX3CongestionAware:  true,
		},
		Setup: SetupConfig{WindowX: 5, SoftPolicy: SoftSuppress},
		Risk: RiskConfig{
			RiskPctPerTrade:        0.01,
			MaxConcurrentPositions: 3,
			CountertrendMultiplier: 0.5,
			DailyLossLimitPct:      0.03,
			LotSize:                1,
			RejectOrder: []string{
				"max_positions",
				"daily_loss_limit",
				"avoidance_active",
				"zero_size",
			},
		},
		ATR:         ATRConfig{Period: 14, StopMultiplier: 1.5},
		VolumeGuard: VolumeGuardConfig{Enabled: true, MinAvgVolume: 10000},
		Execution: ExecutionConfig{
			Slippage:          SlippageConfig{Model: SlippageBPS, Value: 5, TickSize: 0.01},
			InitialCash:       100000,
			CommissionPerUnit: 0,
		},
		Journal: JournalConfig{Path: "data/journal.jsonl"},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "postgres",
			Database:        "vpa_engine",
			SSLMode:         "disable",
			MaxConnections:  25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			PoolSize:     10,
			MinIdleConns: 5,
		},
	}
}

// Load reads the YAML config at path (defaults layered underneath), applies
// environment overrides, and validates the result. Any validation failure is
// fatal: the config is never partially applied.
func Load(path string) (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the full configuration tree.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if _, err := c.BarInterval(); err != nil {
		return err
	}
	return nil
}

// BarInterval converts the configured timeframe label into a duration.
// Supported labels: Nm, Nh, Nd (e.g. "15m", "1h", "1d").
func (c *Config) BarInterval() (time.Duration, error) {
	return ParseTimeframe(c.Timeframe)
}

// ParseTimeframe parses a timeframe label into a bar duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	unit := tf[len(tf)-1]
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid timeframe unit in %q", tf)
	}
}

// applyEnvOverrides layers environment values over the file config.
// Only deployment-level knobs are overridable; rulebook thresholds are not.
func applyEnvOverrides(cfg *Config) {
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("DB_SSL_MODE", cfg.Database.SSLMode)

	cfg.Redis.Host = getEnv("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getEnvAsInt("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}
