// Package config provides configuration management for the zipper manager.
// It supports loading configuration from environment variables, config files,
// and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the zipper manager.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Storage StorageConfig `mapstructure:"storage"`
	History HistoryConfig `mapstructure:"history"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	OutputPath string `mapstructure:"outputPath"`
}

// NATSConfig holds NATS event bus configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// WorkerConfig holds configuration for the external zipper worker.
type WorkerConfig struct {
	ExecutablePath string `mapstructure:"executablePath"`
	BuildCommand   string `mapstructure:"buildCommand"`   // run when the executable is missing
	BuildTimeout   int    `mapstructure:"buildTimeout"`   // in seconds
	StopGrace      int    `mapstructure:"stopGrace"`      // in seconds, SIGTERM to SIGKILL escalation
	MaxThreads     int    `mapstructure:"maxThreads"`     // default parallelism handed to the worker
	InputFolder    string `mapstructure:"inputFolder"`    // default source folder
	OutputFolder   string `mapstructure:"outputFolder"`   // default destination folder
}

// StorageConfig holds configuration for the storage repository workflow.
type StorageConfig struct {
	RepoPath  string `mapstructure:"repoPath"`
	UserName  string `mapstructure:"userName"`
	UserEmail string `mapstructure:"userEmail"`
}

// HistoryConfig selects the session/push history backend.
type HistoryConfig struct {
	Backend    string `mapstructure:"backend"` // memory, sqlite
	SQLitePath string `mapstructure:"sqlitePath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// BuildTimeoutDuration returns the worker build timeout as a time.Duration.
func (w *WorkerConfig) BuildTimeoutDuration() time.Duration {
	return time.Duration(w.BuildTimeout) * time.Second
}

// StopGraceDuration returns the stop grace period as a time.Duration.
func (w *WorkerConfig) StopGraceDuration() time.Duration {
	return time.Duration(w.StopGrace) * time.Second
}

// detectDefaultLogFormat returns "json" in production environments and
// "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("MYSTORAGE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8084)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// NATS defaults (empty URL means use in-memory event bus)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "zipper-manager")
	v.SetDefault("nats.maxReconnects", 10)

	// Worker defaults
	v.SetDefault("worker.executablePath", "./high_performance_zipper")
	v.SetDefault("worker.buildCommand", "make performance")
	v.SetDefault("worker.buildTimeout", 30)
	v.SetDefault("worker.stopGrace", 5)
	v.SetDefault("worker.maxThreads", 8)
	v.SetDefault("worker.inputFolder", "input")
	v.SetDefault("worker.outputFolder", "../MyStorage/files")

	// Storage repository defaults
	v.SetDefault("storage.repoPath", "../MyStorage")
	v.SetDefault("storage.userName", "")
	v.SetDefault("storage.userEmail", "")

	// History defaults
	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.sqlitePath", "zipper-manager.db")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix MYSTORAGE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/mystorage/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("MYSTORAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("worker.executablePath", "MYSTORAGE_WORKER_EXECUTABLE_PATH")
	_ = v.BindEnv("worker.buildCommand", "MYSTORAGE_WORKER_BUILD_COMMAND")
	_ = v.BindEnv("worker.outputFolder", "MYSTORAGE_WORKER_OUTPUT_FOLDER")
	_ = v.BindEnv("storage.repoPath", "MYSTORAGE_STORAGE_REPO_PATH")
	_ = v.BindEnv("storage.userName", "MYSTORAGE_STORAGE_USER_NAME")
	_ = v.BindEnv("storage.userEmail", "MYSTORAGE_STORAGE_USER_EMAIL")
	_ = v.BindEnv("history.sqlitePath", "MYSTORAGE_HISTORY_SQLITE_PATH")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/mystorage/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Worker.ExecutablePath == "" {
		errs = append(errs, "worker.executablePath is required")
	}
	if cfg.Worker.BuildTimeout <= 0 {
		errs = append(errs, "worker.buildTimeout must be positive")
	}
	if cfg.Worker.StopGrace <= 0 {
		errs = append(errs, "worker.stopGrace must be positive")
	}
	if cfg.Worker.MaxThreads <= 0 {
		errs = append(errs, "worker.maxThreads must be positive")
	}

	switch cfg.History.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, "history.backend must be one of: memory, sqlite")
	}
	if cfg.History.Backend == "sqlite" && cfg.History.SQLitePath == "" {
		errs = append(errs, "history.sqlitePath is required when history.backend is sqlite")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
