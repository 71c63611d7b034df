package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// MaxWorkersLimit caps the parse worker pool
const MaxWorkersLimit = 8

// Config holds all configuration for the application
type Config struct {
	// Ingestion
	DataDir        string
	FilePatterns   []string // Glob patterns matched against file names in DataDir
	MaxFileSize    int64    // Bytes, applied on disk and after decompression
	MaxWorkers     int
	CacheTTL       time.Duration
	MetadataTTL    time.Duration
	RescanInterval time.Duration // 0 disables the directory watcher

	// HTTP
	HTTPAddr string

	// Observability
	LogLevel        string
	LogFile         string
	TracingEnabled  bool
	TracingProtocol string
	TracingEndpoint string

	// ClickHouse export sink
	ClickHouseEnabled bool
	ClickHouseHost    string
	ClickHousePort    int
	ClickHouseDB      string
	ClickHouseTable   string
	LogRetentionDays  int // TTL in days
}

// fileConfig is the YAML shape of Config. Sizes and durations are strings
// ("64MB", "30m") so the file stays readable.
type fileConfig struct {
	DataDir        string   `yaml:"data_dir"`
	FilePatterns   []string `yaml:"file_patterns"`
	MaxFileSize    string   `yaml:"max_file_size"`
	MaxWorkers     int      `yaml:"max_workers"`
	CacheTTL       string   `yaml:"cache_ttl"`
	MetadataTTL    string   `yaml:"metadata_ttl"`
	RescanInterval string   `yaml:"rescan_interval"`
	HTTPAddr       string   `yaml:"http_addr"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`

	Tracing struct {
		Enabled  *bool  `yaml:"enabled"`
		Protocol string `yaml:"protocol"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"tracing"`

	ClickHouse struct {
		Enabled       *bool  `yaml:"enabled"`
		Host          string `yaml:"host"`
		Port          int    `yaml:"port"`
		DB            string `yaml:"db"`
		Table         string `yaml:"table"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"clickhouse"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DataDir:        "./data",
		FilePatterns:   []string{"RMFW*.txt", "*.txt", "*.gz", "*.lz4"},
		MaxFileSize:    64 * 1024 * 1024,
		MaxWorkers:     4,
		CacheTTL:       30 * time.Minute,
		MetadataTTL:    30 * time.Second,
		RescanInterval: 10 * time.Second,

		HTTPAddr: "127.0.0.1:5001",

		LogLevel:        "info",
		TracingProtocol: "grpc",

		ClickHouseHost:   "localhost",
		ClickHousePort:   9000,
		ClickHouseDB:     "rmf",
		ClickHouseTable:  "workload_activity",
		LogRetentionDays: 30,
	}
}

// Load loads configuration from defaults, the optional YAML file named by
// RMF_CONFIG and environment variables, in that order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("RMF_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.mergeEnv(); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// mergeFile overlays the non-empty values of a YAML config file
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.DataDir, fc.DataDir)
	if len(fc.FilePatterns) > 0 {
		c.FilePatterns = fc.FilePatterns
	}
	if fc.MaxFileSize != "" {
		size, err := parseSize(fc.MaxFileSize)
		if err != nil {
			return fmt.Errorf("max_file_size: %w", err)
		}
		c.MaxFileSize = size
	}
	if fc.MaxWorkers != 0 {
		c.MaxWorkers = fc.MaxWorkers
	}
	for _, d := range []struct {
		dst   *time.Duration
		value string
		name  string
	}{
		{&c.CacheTTL, fc.CacheTTL, "cache_ttl"},
		{&c.MetadataTTL, fc.MetadataTTL, "metadata_ttl"},
		{&c.RescanInterval, fc.RescanInterval, "rescan_interval"},
	} {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	setString(&c.HTTPAddr, fc.HTTPAddr)

	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogFile, fc.Log.File)

	if fc.Tracing.Enabled != nil {
		c.TracingEnabled = *fc.Tracing.Enabled
	}
	setString(&c.TracingProtocol, fc.Tracing.Protocol)
	setString(&c.TracingEndpoint, fc.Tracing.Endpoint)

	if fc.ClickHouse.Enabled != nil {
		c.ClickHouseEnabled = *fc.ClickHouse.Enabled
	}
	setString(&c.ClickHouseHost, fc.ClickHouse.Host)
	if fc.ClickHouse.Port != 0 {
		c.ClickHousePort = fc.ClickHouse.Port
	}
	setString(&c.ClickHouseDB, fc.ClickHouse.DB)
	setString(&c.ClickHouseTable, fc.ClickHouse.Table)
	if fc.ClickHouse.RetentionDays != 0 {
		c.LogRetentionDays = fc.ClickHouse.RetentionDays
	}

	return nil
}

// mergeEnv overlays environment variables
func (c *Config) mergeEnv() error {
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	if patterns := parsePatternList(os.Getenv("FILE_PATTERNS")); len(patterns) > 0 {
		c.FilePatterns = patterns
	}
	if value := os.Getenv("MAX_FILE_SIZE"); value != "" {
		size, err := parseSize(value)
		if err != nil {
			return fmt.Errorf("MAX_FILE_SIZE: %w", err)
		}
		c.MaxFileSize = size
	}
	c.MaxWorkers = getEnvInt("MAX_WORKERS", c.MaxWorkers)
	c.CacheTTL = getEnvDuration("CACHE_TTL", c.CacheTTL)
	c.MetadataTTL = getEnvDuration("METADATA_TTL", c.MetadataTTL)
	c.RescanInterval = getEnvDuration("RESCAN_INTERVAL", c.RescanInterval)

	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.TracingEnabled = getEnvBool("TRACING_ENABLED", c.TracingEnabled)
	c.TracingProtocol = getEnv("TRACING_PROTOCOL", c.TracingProtocol)
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)

	c.ClickHouseEnabled = getEnvBool("CLICKHOUSE_ENABLED", c.ClickHouseEnabled)
	c.ClickHouseHost = getEnv("CLICKHOUSE_HOST", c.ClickHouseHost)
	c.ClickHousePort = getEnvInt("CLICKHOUSE_PORT", c.ClickHousePort)
	c.ClickHouseDB = getEnv("CLICKHOUSE_DB", c.ClickHouseDB)
	c.ClickHouseTable = getEnv("CLICKHOUSE_TABLE", c.ClickHouseTable)
	c.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", c.LogRetentionDays)

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if len(c.FilePatterns) == 0 {
		return fmt.Errorf("FILE_PATTERNS must contain at least one pattern")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.MaxWorkers < 1 || c.MaxWorkers > MaxWorkersLimit {
		return fmt.Errorf("MAX_WORKERS must be between 1 and %d", MaxWorkersLimit)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.MetadataTTL <= 0 {
		return fmt.Errorf("METADATA_TTL must be positive")
	}
	if c.RescanInterval < 0 {
		return fmt.Errorf("RESCAN_INTERVAL must not be negative")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if c.TracingProtocol != "grpc" && c.TracingProtocol != "http" {
		return fmt.Errorf("TRACING_PROTOCOL must be grpc or http")
	}

	if c.ClickHouseEnabled {
		if c.ClickHouseHost == "" {
			return fmt.Errorf("CLICKHOUSE_HOST is required")
		}
		if c.ClickHousePort <= 0 || c.ClickHousePort > 65535 {
			return fmt.Errorf("CLICKHOUSE_PORT must be between 1 and 65535")
		}
		if c.ClickHouseDB == "" {
			return fmt.Errorf("CLICKHOUSE_DB is required")
		}
		if c.ClickHouseTable == "" {
			return fmt.Errorf("CLICKHOUSE_TABLE is required")
		}
		if c.LogRetentionDays < 1 {
			return fmt.Errorf("LOG_RETENTION_DAYS must be at least 1")
		}
	}

	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// parseSize accepts human sizes such as "64MB", "512 KiB" or plain bytes
func parseSize(value string) (int64, error) {
	size, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, err
	}
	if size > uint64(1<<62) {
		return 0, fmt.Errorf("size %s is too large", value)
	}
	return int64(size), nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// parsePatternList parses a semicolon-separated list of glob patterns
func parsePatternList(patternsStr string) []string {
	if patternsStr == "" {
		return nil
	}

	patterns := strings.Split(patternsStr, ";")
	result := make([]string, 0, len(patterns))

	for _, pattern := range patterns {
		trimmed := strings.TrimSpace(pattern)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
