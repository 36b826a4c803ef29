// Package config provides configuration management for the breakout trader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"breakout-trader/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Strategy    StrategyConfig            `mapstructure:"strategy"`
	Schedule    ScheduleConfig            `mapstructure:"schedule"`
	Instruments map[string]InstrumentSpec `mapstructure:"instruments"`
	Data        DataConfig                `mapstructure:"data"`
	Logging     LoggingConfig             `mapstructure:"logging"`
	Credentials Credentials               `mapstructure:"-"` // loaded separately
}

// StrategyConfig holds the breakout strategy parameters.
type StrategyConfig struct {
	EntryBuffer  float64 `mapstructure:"entry_buffer"`  // entry at ref high + this fraction
	Target       float64 `mapstructure:"target"`        // take-profit fraction above entry
	StopLoss     float64 `mapstructure:"stop_loss"`     // stop-loss fraction below entry
	SLBuffer     float64 `mapstructure:"sl_buffer"`     // stop floor below ref low
	GapThreshold float64 `mapstructure:"gap_threshold"` // overnight gap that defers entry
	LotsScale    int     `mapstructure:"lots_scale"`    // traded lots = scale * 2
	TieBreak     string  `mapstructure:"tie_break"`     // tp_first or sl_first
}

// ScheduleConfig holds the evaluation timetable. Times are HH:MM strings
// in config files and parsed into minutes at load.
type ScheduleConfig struct {
	EvalTimes    []string `mapstructure:"eval_times"`
	RefBarStarts []string `mapstructure:"ref_bar_starts"`
	RefBarEnds   []string `mapstructure:"ref_bar_ends"`
	GapTradeTime string   `mapstructure:"gap_trade_time"`
	EntryCutoff  string   `mapstructure:"entry_cutoff"`
	ForcedClose  string   `mapstructure:"forced_close"`
	MarketOpen   string   `mapstructure:"market_open"`
	MarketClose  string   `mapstructure:"market_close"`
	PollSeconds  int      `mapstructure:"poll_seconds"`
}

// InstrumentSpec mirrors models.InstrumentSpec for mapstructure decoding.
type InstrumentSpec struct {
	SpotSymbol      string `mapstructure:"spot_symbol"`
	LotSize         int    `mapstructure:"lot_size"`
	StrikeIncrement int    `mapstructure:"strike_increment"`
}

// DataConfig holds backtest data locations and output settings.
type DataConfig struct {
	Dir       string `mapstructure:"dir"`        // root of per-day option files
	SpotDir   string `mapstructure:"spot_dir"`   // spot_data_<SYMBOL>.csv files
	OutputDir string `mapstructure:"output_dir"` // ledger and summary CSVs
	DBPath    string `mapstructure:"db_path"`    // live audit database
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// Credentials holds broker API credentials.
type Credentials struct {
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
}

// ZerodhaCredentials holds Zerodha Kite Connect credentials.
type ZerodhaCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	UserID    string `mapstructure:"user_id"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/breakout-trader"
	}
	return filepath.Join(home, ".config", "breakout-trader")
}

// Load loads configuration from the specified directory. A missing config
// file yields the built-in defaults.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	canonicalizeInstruments(cfg)

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Strategy constants the backtest was tuned with.
	v.SetDefault("strategy.entry_buffer", 0.1)
	v.SetDefault("strategy.target", 0.1)
	v.SetDefault("strategy.stop_loss", 0.6)
	v.SetDefault("strategy.sl_buffer", 0.1)
	v.SetDefault("strategy.gap_threshold", 0.0039)
	v.SetDefault("strategy.lots_scale", 1)
	v.SetDefault("strategy.tie_break", "tp_first")

	// Five evaluations per day, one every 75 minutes. The first looks back
	// at the previous day's last block; the rest at today's prior block.
	v.SetDefault("schedule.eval_times", []string{"09:16", "10:30", "11:45", "13:00", "14:15"})
	v.SetDefault("schedule.ref_bar_starts", []string{"14:15", "09:15", "10:30", "11:45", "13:00"})
	v.SetDefault("schedule.ref_bar_ends", []string{"15:29", "10:29", "11:44", "12:59", "14:14"})
	v.SetDefault("schedule.gap_trade_time", "09:30")
	v.SetDefault("schedule.entry_cutoff", "15:20")
	v.SetDefault("schedule.forced_close", "15:19")
	v.SetDefault("schedule.market_open", "09:15")
	v.SetDefault("schedule.market_close", "15:30")
	v.SetDefault("schedule.poll_seconds", 3)

	v.SetDefault("instruments.NIFTY.spot_symbol", "NIFTY 50")
	v.SetDefault("instruments.NIFTY.lot_size", 75)
	v.SetDefault("instruments.NIFTY.strike_increment", 50)
	v.SetDefault("instruments.BANKNIFTY.spot_symbol", "NIFTY BANK")
	v.SetDefault("instruments.BANKNIFTY.lot_size", 25)
	v.SetDefault("instruments.BANKNIFTY.strike_increment", 100)

	v.SetDefault("data.dir", "Data")
	v.SetDefault("data.spot_dir", ".")
	v.SetDefault("data.output_dir", ".")
	v.SetDefault("data.db_path", filepath.Join(DefaultConfigDir(), "trader.db"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", false)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}
	return v.Unmarshal(creds)
}

// canonicalizeInstruments rewrites instrument map keys to upper case. Viper
// lowercases every key it reads, so "instruments.NIFTY" arrives as "nifty";
// the rest of the program keys instruments by their exchange symbol.
func canonicalizeInstruments(cfg *Config) {
	canon := make(map[string]InstrumentSpec, len(cfg.Instruments))
	for symbol, spec := range cfg.Instruments {
		canon[strings.ToUpper(symbol)] = spec
	}
	cfg.Instruments = canon
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZERODHA_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("ZERODHA_API_SECRET"); v != "" {
		cfg.Credentials.Zerodha.APISecret = v
	}
	if v := os.Getenv("ZERODHA_USER_ID"); v != "" {
		cfg.Credentials.Zerodha.UserID = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Strategy.EntryBuffer < 0 || c.Strategy.Target <= 0 {
		return fmt.Errorf("strategy: entry_buffer and target must be positive")
	}
	if c.Strategy.StopLoss <= 0 || c.Strategy.StopLoss >= 1 {
		return fmt.Errorf("strategy: stop_loss must be in (0, 1)")
	}
	if c.Strategy.TieBreak != "tp_first" && c.Strategy.TieBreak != "sl_first" {
		return fmt.Errorf("strategy: tie_break must be tp_first or sl_first")
	}
	if len(c.Schedule.EvalTimes) == 0 ||
		len(c.Schedule.EvalTimes) != len(c.Schedule.RefBarStarts) ||
		len(c.Schedule.EvalTimes) != len(c.Schedule.RefBarEnds) {
		return fmt.Errorf("schedule: eval_times, ref_bar_starts and ref_bar_ends must align")
	}
	for symbol, spec := range c.Instruments {
		if spec.LotSize <= 0 || spec.StrikeIncrement <= 0 {
			return fmt.Errorf("instrument %s: lot_size and strike_increment must be positive", symbol)
		}
	}
	return nil
}

// Instrument returns the models.InstrumentSpec for a symbol. Lookup is
// case-insensitive; the returned spec carries the canonical upper-case symbol.
func (c *Config) Instrument(symbol string) (models.InstrumentSpec, bool) {
	symbol = strings.ToUpper(symbol)
	spec, ok := c.Instruments[symbol]
	if !ok {
		return models.InstrumentSpec{}, false
	}
	return models.InstrumentSpec{
		Symbol:          symbol,
		SpotSymbol:      spec.SpotSymbol,
		LotSize:         spec.LotSize,
		StrikeIncrement: spec.StrikeIncrement,
	}, true
}
