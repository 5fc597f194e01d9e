package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance  Binance  `mapstructure:"binance"`
	Analysis Analysis `mapstructure:"analysis"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Binance holds the configuration for the Binance Futures API.
// Credentials are optional; without them the analyzer runs on local
// decision logs only and skips the fill-history fetch.
type Binance struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Server holds the configuration for the report web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Analysis holds the configuration for an analysis run.
type Analysis struct {
	// LogRoot is the directory that contains one decision-log
	// subdirectory per trader, e.g. decision_logs/binance_live_qwen.
	LogRoot string `mapstructure:"log_root"`
	// Traders lists the subdirectories of LogRoot to analyze.
	Traders []string `mapstructure:"traders"`
	// CycleIntervalMinutes is the polling cadence of the decision logs.
	// It determines the annualization base for the Sharpe-like ratio
	// when periods_per_year is left at zero.
	CycleIntervalMinutes int     `mapstructure:"cycle_interval_minutes"`
	PeriodsPerYear       float64 `mapstructure:"periods_per_year"`
	// MaxParallel bounds how many traders are analyzed concurrently.
	MaxParallel int `mapstructure:"max_parallel"`

	// FetchFills enables pulling userTrades from the exchange and merging
	// them into the event stream of FillsTrader. Requires API credentials.
	FetchFills        bool     `mapstructure:"fetch_fills"`
	FillsTrader       string   `mapstructure:"fills_trader"`
	FillSymbols       []string `mapstructure:"fill_symbols"`
	FillLookbackHours int      `mapstructure:"fill_lookback_hours"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PeriodsPerYearOrDefault returns the configured annualization base, or
// derives one from the cycle interval (e.g. a 5-minute cycle gives
// 288 samples per day, 105120 per year).
func (a Analysis) PeriodsPerYearOrDefault() float64 {
	if a.PeriodsPerYear > 0 {
		return a.PeriodsPerYear
	}
	interval := a.CycleIntervalMinutes
	if interval <= 0 {
		interval = 5
	}
	return 365 * 24 * 60 / float64(interval)
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("binance.rate_limit", 20)      // requests per second
	viper.SetDefault("binance.rate_limit_burst", 5) // burst size
	viper.SetDefault("analysis.cycle_interval_minutes", 5)
	viper.SetDefault("analysis.max_parallel", 4)
	viper.SetDefault("analysis.fill_lookback_hours", 6)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
