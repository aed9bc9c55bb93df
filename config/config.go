// Package config loads the process configuration from an optional JSON file
// with environment-variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ProviderConfig  ProviderConfig  `json:"provider"`
	RedisConfig     RedisConfig     `json:"redis"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	ServerConfig    ServerConfig    `json:"server"`
	EngineConfig    EngineConfig    `json:"engine"`
	MonitorConfig   MonitorConfig   `json:"monitor"`
	StorageConfig   StorageConfig   `json:"storage"`
	LoggingConfig   LoggingConfig   `json:"logging"`
	VaultConfig     VaultConfig     `json:"vault"`
	SentimentConfig SentimentConfig `json:"sentiment"`
}

// ProviderConfig holds the primary (Kite) and fallback (Yahoo) market data
// provider settings.
type ProviderConfig struct {
	KiteAPIKey      string        `json:"kite_api_key"`
	KiteAccessToken string        `json:"kite_access_token"`
	KiteBaseURL     string        `json:"kite_base_url"`
	YahooBaseURL    string        `json:"yahoo_base_url"`
	RequestTimeout  time.Duration `json:"request_timeout"`
}

type RedisConfig struct {
	URL      string `json:"url"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
	Enabled  bool   `json:"enabled"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslmode"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// EngineConfig tunes the Top Picks engine.
type EngineConfig struct {
	Universes         []string `json:"universes"`
	TopN              int      `json:"top_n"`
	WorkerCount       int      `json:"worker_count"`
	AgentTimeoutSecs  int      `json:"agent_timeout_secs"`
	RetentionDays     int      `json:"retention_days"`
	ScalpMaxHoldMins  int      `json:"scalp_max_hold_mins"`
	ScalpATRFloorPct  float64  `json:"scalp_atr_floor_pct"`
	RunTimeoutMinutes int      `json:"run_timeout_minutes"`
}

// MonitorConfig tunes the position monitors.
type MonitorConfig struct {
	ScalpingLookbackHours int      `json:"scalping_lookback_hours"`
	MaxFailureBackoffSecs int      `json:"max_failure_backoff_secs"`
	Watchlist             []string `json:"watchlist"`
}

// StorageConfig locates the file-backed stores.
type StorageConfig struct {
	DataDir  string `json:"data_dir"`
	CacheDir string `json:"cache_dir"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

type VaultConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
	Token   string `json:"token"`
	Mount   string `json:"mount"`
}

// SentimentConfig points at the pluggable news sentiment provider.
type SentimentConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url"`
}

// Load reads config.json when present and applies environment overrides.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := getEnvOrDefault("CONFIG_FILE", "config.json"); path != "" {
		if loaded, err := loadFromFile(path); err == nil {
			cfg = loaded
		} else if !os.IsNotExist(unwrapPathError(err)) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.ProviderConfig.KiteAPIKey = getEnvOrDefault("KITE_API_KEY", cfg.ProviderConfig.KiteAPIKey)
	cfg.ProviderConfig.KiteAccessToken = getEnvOrDefault("KITE_ACCESS_TOKEN", cfg.ProviderConfig.KiteAccessToken)
	cfg.ProviderConfig.KiteBaseURL = getEnvOrDefault("KITE_BASE_URL", cfg.ProviderConfig.KiteBaseURL)
	cfg.ProviderConfig.YahooBaseURL = getEnvOrDefault("YAHOO_BASE_URL", cfg.ProviderConfig.YahooBaseURL)

	cfg.RedisConfig.URL = getEnvOrDefault("REDIS_URL", cfg.RedisConfig.URL)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)

	cfg.EngineConfig.RetentionDays = getEnvIntOrDefault("TOP_PICKS_RETENTION_DAYS", cfg.EngineConfig.RetentionDays)
	if raw := os.Getenv("ENGINE_UNIVERSES"); raw != "" {
		var names []string
		for _, part := range strings.Split(raw, ",") {
			if name := strings.TrimSpace(part); name != "" {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			cfg.EngineConfig.Universes = names
		}
	}

	cfg.StorageConfig.DataDir = getEnvOrDefault("DATA_DIR", cfg.StorageConfig.DataDir)
	cfg.StorageConfig.CacheDir = getEnvOrDefault("CACHE_DIR", cfg.StorageConfig.CacheDir)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)

	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	if cfg.VaultConfig.Address != "" && cfg.VaultConfig.Token != "" {
		cfg.VaultConfig.Enabled = true
	}

	cfg.SentimentConfig.BaseURL = getEnvOrDefault("SENTIMENT_BASE_URL", cfg.SentimentConfig.BaseURL)
}

func applyDefaults(cfg *Config) {
	if cfg.ProviderConfig.KiteBaseURL == "" {
		cfg.ProviderConfig.KiteBaseURL = "https://api.kite.trade"
	}
	if cfg.ProviderConfig.YahooBaseURL == "" {
		cfg.ProviderConfig.YahooBaseURL = "https://query1.finance.yahoo.com"
	}
	if cfg.ProviderConfig.RequestTimeout == 0 {
		cfg.ProviderConfig.RequestTimeout = 10 * time.Second
	}
	if cfg.RedisConfig.Address == "" && cfg.RedisConfig.URL == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
	if cfg.RedisConfig.PoolSize == 0 {
		cfg.RedisConfig.PoolSize = 10
	}
	cfg.RedisConfig.Enabled = true
	if cfg.DatabaseConfig.Host == "" {
		cfg.DatabaseConfig.Host = "localhost"
	}
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}
	if cfg.DatabaseConfig.User == "" {
		cfg.DatabaseConfig.User = "arise"
	}
	if cfg.DatabaseConfig.Database == "" {
		cfg.DatabaseConfig.Database = "arise"
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8088
	}
	if len(cfg.EngineConfig.Universes) == 0 {
		cfg.EngineConfig.Universes = []string{"nifty50"}
	}
	if cfg.EngineConfig.TopN == 0 {
		cfg.EngineConfig.TopN = 10
	}
	if cfg.EngineConfig.WorkerCount == 0 {
		cfg.EngineConfig.WorkerCount = 10
	}
	if cfg.EngineConfig.AgentTimeoutSecs == 0 {
		cfg.EngineConfig.AgentTimeoutSecs = 15
	}
	if cfg.EngineConfig.RetentionDays == 0 {
		cfg.EngineConfig.RetentionDays = 90
	}
	if cfg.EngineConfig.ScalpMaxHoldMins == 0 {
		cfg.EngineConfig.ScalpMaxHoldMins = 60
	}
	if cfg.EngineConfig.ScalpATRFloorPct == 0 {
		cfg.EngineConfig.ScalpATRFloorPct = 0.3
	}
	if cfg.EngineConfig.RunTimeoutMinutes == 0 {
		cfg.EngineConfig.RunTimeoutMinutes = 10
	}
	if cfg.MonitorConfig.ScalpingLookbackHours == 0 {
		cfg.MonitorConfig.ScalpingLookbackHours = 2
	}
	if cfg.MonitorConfig.MaxFailureBackoffSecs == 0 {
		cfg.MonitorConfig.MaxFailureBackoffSecs = 300
	}
	if cfg.StorageConfig.DataDir == "" {
		cfg.StorageConfig.DataDir = "data"
	}
	if cfg.StorageConfig.CacheDir == "" {
		cfg.StorageConfig.CacheDir = ".cache/historical"
	}
	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "info"
	}
	if cfg.VaultConfig.Mount == "" {
		cfg.VaultConfig.Mount = "secret"
	}
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func unwrapPathError(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := unwrapper.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
