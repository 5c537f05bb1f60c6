package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

const (
	defaultDataDir      = "data"
	defaultListenAddr   = ":8080"
	defaultQueryTimeout = 10 * time.Second
	maxRetryAttempts    = 10
)

type Config struct {
	ListenAddr   string // HTTP listen address, e.g. ":8080"
	DatabasePath string
	// QueryTimeout bounds one refresh attempt (all aggregate queries of one
	// transaction). Zero disables the per-attempt timeout.
	QueryTimeout time.Duration
	// RefreshInterval forces a background refresh this often even when
	// nothing marked the cache dirty. Zero refreshes on invalidation only.
	RefreshInterval     time.Duration
	FilteredConcurrency int
	RetryMaxAttempts    int
	// RetryInitialBackoff of zero runs retry attempts back-to-back.
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	// DatasetRequestsPerMinute limits uncached dataset views per client.
	// Zero disables the limit.
	DatasetRequestsPerMinute int

	LogLevel     string
	LogFile      string
	ErrorLogFile string
	LogStdout    bool
}

type fileConfig struct {
	Server   serverFileConfig   `toml:"server"`
	Database databaseFileConfig `toml:"database"`
	Status   statusFileConfig   `toml:"status"`
	Logging  loggingFileConfig  `toml:"logging"`
}

type serverFileConfig struct {
	Listen *string `toml:"listen"`
}

type databaseFileConfig struct {
	Path           *string `toml:"path"`
	QueryTimeoutMs *int    `toml:"query_timeout_ms"`
}

type statusFileConfig struct {
	RefreshIntervalSeconds *int `toml:"refresh_interval_seconds"`
	FilteredConcurrency    *int `toml:"filtered_concurrency"`
	RetryMaxAttempts       *int `toml:"retry_max_attempts"`
	RetryInitialBackoffMs  *int `toml:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs      *int `toml:"retry_max_backoff_ms"`
	DatasetPerMinute       *int `toml:"dataset_requests_per_minute"`
}

type loggingFileConfig struct {
	Level     *string `toml:"level"`
	File      *string `toml:"file"`
	ErrorFile *string `toml:"error_file"`
	Stdout    *bool   `toml:"stdout"`
}

// defaultConfig returns the built-in defaults that config files and flags
// are layered on.
func defaultConfig() Config {
	return Config{
		ListenAddr:          defaultListenAddr,
		DatabasePath:        filepath.Join(defaultDataDir, "status.db"),
		QueryTimeout:        defaultQueryTimeout,
		RefreshInterval:     0,
		FilteredConcurrency: defaultFilteredConcurrency,
		RetryMaxAttempts:    defaultRetryMaxAttempts,
		LogLevel:            "info",
	}
}

func defaultConfigPath() string {
	return filepath.Join(defaultDataDir, "config.toml")
}

// loadConfig applies the TOML file at path on top of the defaults. A
// missing file is not an error.
func loadConfig(path string) (Config, bool, error) {
	cfg := defaultConfig()
	if path == "" {
		path = defaultConfigPath()
	}
	fc, ok, err := loadConfigFile(path)
	if err != nil {
		return cfg, false, err
	}
	if ok {
		applyFileConfig(&cfg, *fc)
	}
	return cfg, ok, nil
}

func loadConfigFile(path string) (*fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}
	return &fc, true, nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Server.Listen != nil {
		cfg.ListenAddr = strings.TrimSpace(*fc.Server.Listen)
	}
	if fc.Database.Path != nil {
		cfg.DatabasePath = strings.TrimSpace(*fc.Database.Path)
	}
	if fc.Database.QueryTimeoutMs != nil {
		cfg.QueryTimeout = time.Duration(*fc.Database.QueryTimeoutMs) * time.Millisecond
	}
	if fc.Status.RefreshIntervalSeconds != nil {
		cfg.RefreshInterval = time.Duration(*fc.Status.RefreshIntervalSeconds) * time.Second
	}
	if fc.Status.FilteredConcurrency != nil {
		cfg.FilteredConcurrency = *fc.Status.FilteredConcurrency
	}
	if fc.Status.RetryMaxAttempts != nil {
		cfg.RetryMaxAttempts = *fc.Status.RetryMaxAttempts
	}
	if fc.Status.RetryInitialBackoffMs != nil {
		cfg.RetryInitialBackoff = time.Duration(*fc.Status.RetryInitialBackoffMs) * time.Millisecond
	}
	if fc.Status.RetryMaxBackoffMs != nil {
		cfg.RetryMaxBackoff = time.Duration(*fc.Status.RetryMaxBackoffMs) * time.Millisecond
	}
	if fc.Status.DatasetPerMinute != nil {
		cfg.DatasetRequestsPerMinute = *fc.Status.DatasetPerMinute
	}
	if fc.Logging.Level != nil {
		cfg.LogLevel = strings.TrimSpace(*fc.Logging.Level)
	}
	if fc.Logging.File != nil {
		cfg.LogFile = strings.TrimSpace(*fc.Logging.File)
	}
	if fc.Logging.ErrorFile != nil {
		cfg.ErrorLogFile = strings.TrimSpace(*fc.Logging.ErrorFile)
	}
	if fc.Logging.Stdout != nil {
		cfg.LogStdout = *fc.Logging.Stdout
	}
}

// buildFileConfig is the inverse of applyFileConfig; every field is set.
func buildFileConfig(cfg Config) fileConfig {
	listen := cfg.ListenAddr
	path := cfg.DatabasePath
	queryTimeoutMs := int(cfg.QueryTimeout / time.Millisecond)
	refreshSeconds := int(cfg.RefreshInterval / time.Second)
	filtered := cfg.FilteredConcurrency
	attempts := cfg.RetryMaxAttempts
	initialMs := int(cfg.RetryInitialBackoff / time.Millisecond)
	maxMs := int(cfg.RetryMaxBackoff / time.Millisecond)
	datasetPerMinute := cfg.DatasetRequestsPerMinute
	level := cfg.LogLevel
	logFile := cfg.LogFile
	errFile := cfg.ErrorLogFile
	stdout := cfg.LogStdout
	return fileConfig{
		Server:   serverFileConfig{Listen: &listen},
		Database: databaseFileConfig{Path: &path, QueryTimeoutMs: &queryTimeoutMs},
		Status: statusFileConfig{
			RefreshIntervalSeconds: &refreshSeconds,
			FilteredConcurrency:    &filtered,
			RetryMaxAttempts:       &attempts,
			RetryInitialBackoffMs:  &initialMs,
			RetryMaxBackoffMs:      &maxMs,
			DatasetPerMinute:       &datasetPerMinute,
		},
		Logging: loggingFileConfig{
			Level:     &level,
			File:      &logFile,
			ErrorFile: &errFile,
			Stdout:    &stdout,
		},
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("server.listen is required")
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if cfg.QueryTimeout < 0 {
		return fmt.Errorf("database.query_timeout_ms must be >= 0, got %s", cfg.QueryTimeout)
	}
	if cfg.RefreshInterval < 0 {
		return fmt.Errorf("status.refresh_interval_seconds must be >= 0, got %s", cfg.RefreshInterval)
	}
	if cfg.FilteredConcurrency <= 0 {
		return fmt.Errorf("status.filtered_concurrency must be > 0, got %d", cfg.FilteredConcurrency)
	}
	if cfg.RetryMaxAttempts <= 0 || cfg.RetryMaxAttempts > maxRetryAttempts {
		return fmt.Errorf("status.retry_max_attempts must be between 1 and %d, got %d", maxRetryAttempts, cfg.RetryMaxAttempts)
	}
	if cfg.RetryInitialBackoff < 0 || cfg.RetryMaxBackoff < 0 {
		return fmt.Errorf("status retry backoff must be >= 0")
	}
	if cfg.RetryMaxBackoff > 0 && cfg.RetryMaxBackoff < cfg.RetryInitialBackoff {
		return fmt.Errorf("status.retry_max_backoff_ms (%s) must be >= retry_initial_backoff_ms (%s)", cfg.RetryMaxBackoff, cfg.RetryInitialBackoff)
	}
	if cfg.DatasetRequestsPerMinute < 0 {
		return fmt.Errorf("status.dataset_requests_per_minute must be >= 0, got %d", cfg.DatasetRequestsPerMinute)
	}
	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

func (cfg Config) retryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
	}
}
