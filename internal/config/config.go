package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"hypoguard/domain/stats"
	"hypoguard/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Analysis AnalysisConfig
	Risk     RiskConfig
	Export   ExportConfig
	LogLevel string
}

// DatabaseConfig holds database connection settings. An empty URL keeps all
// state in memory.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Enabled reports whether a database is configured
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port         string
	GinMode      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AnalysisConfig holds defaults for corrections and sequential designs
type AnalysisConfig struct {
	DefaultAlpha            float64
	DefaultCorrectionMethod stats.Method
	FutilityScale           float64
	CorrectionParallelism   int
}

// RiskConfig holds session risk detector thresholds
type RiskConfig struct {
	RepetitionMin          int
	FishingMaxUncorrected  int
	PeekingMinGap          time.Duration
	MultipleComparisonsMax int
}

// ExportConfig holds file export settings
type ExportConfig struct {
	Dir string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	analysis, err := loadAnalysisConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load analysis configuration")
	}

	config := &Config{
		Database: *loadDatabaseConfig(),
		Server:   *loadServerConfig(),
		Analysis: *analysis,
		Risk:     *loadRiskConfig(),
		Export:   ExportConfig{Dir: getEnvOrDefault("EXPORT_DIR", "./exports")},
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		URL:             os.Getenv("DATABASE_URL"),
		MaxOpenConns:    getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		ConnMaxLifetime: getEnvDurationOrDefault("DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:         getEnvOrDefault("PORT", "8080"),
		GinMode:      getEnvOrDefault("GIN_MODE", "release"),
		ReadTimeout:  getEnvDurationOrDefault("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout: getEnvDurationOrDefault("HTTP_WRITE_TIMEOUT", 0),
	}
}

func loadAnalysisConfig() (*AnalysisConfig, error) {
	method, err := stats.ParseMethod(getEnvOrDefault("DEFAULT_CORRECTION_METHOD", string(stats.MethodHolm)))
	if err != nil {
		return nil, errors.ConfigInvalid(fmt.Sprintf("DEFAULT_CORRECTION_METHOD: %v", err))
	}
	return &AnalysisConfig{
		DefaultAlpha:            getEnvFloatOrDefault("DEFAULT_ALPHA", 0.05),
		DefaultCorrectionMethod: method,
		FutilityScale:           getEnvFloatOrDefault("FUTILITY_SCALE", stats.DefaultFutilityScale),
		CorrectionParallelism:   getEnvIntOrDefault("CORRECTION_PARALLELISM", 4),
	}, nil
}

func loadRiskConfig() *RiskConfig {
	return &RiskConfig{
		RepetitionMin:          getEnvIntOrDefault("RISK_REPETITION_MIN", 3),
		FishingMaxUncorrected:  getEnvIntOrDefault("RISK_FISHING_MAX_UNCORRECTED", 10),
		PeekingMinGap:          getEnvDurationOrDefault("RISK_PEEKING_MIN_GAP", 60*time.Second),
		MultipleComparisonsMax: getEnvIntOrDefault("RISK_MULTIPLE_COMPARISONS_MAX", 15),
	}
}

func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return errors.ConfigInvalid("PORT is required")
	}
	if _, err := strconv.Atoi(config.Server.Port); err != nil {
		return errors.ConfigInvalid(fmt.Sprintf("PORT must be numeric, got %q", config.Server.Port))
	}
	if err := stats.ValidateAlpha(config.Analysis.DefaultAlpha); err != nil {
		return errors.ConfigInvalid(fmt.Sprintf("DEFAULT_ALPHA: %v", err))
	}
	if config.Analysis.FutilityScale < 0 {
		return errors.ConfigInvalid("FUTILITY_SCALE must be non-negative")
	}
	if config.Analysis.CorrectionParallelism < 1 {
		return errors.ConfigInvalid("CORRECTION_PARALLELISM must be at least 1")
	}
	if config.Risk.RepetitionMin < 2 {
		return errors.ConfigInvalid("RISK_REPETITION_MIN must be at least 2")
	}
	if config.Risk.FishingMaxUncorrected < 1 || config.Risk.MultipleComparisonsMax < 1 {
		return errors.ConfigInvalid("RISK_FISHING_MAX_UNCORRECTED and RISK_MULTIPLE_COMPARISONS_MAX must be positive")
	}
	if config.Risk.PeekingMinGap <= 0 {
		return errors.ConfigInvalid("RISK_PEEKING_MIN_GAP must be positive")
	}
	if strings.TrimSpace(config.Export.Dir) == "" {
		return errors.ConfigInvalid("EXPORT_DIR cannot be blank")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
