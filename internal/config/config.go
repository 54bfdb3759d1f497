// Package config loads process configuration from the environment, an
// optional .env file and command line overrides.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/FynnBe/ilastik/internal/logging"
	"github.com/FynnBe/ilastik/pkg/serialization"
	"github.com/FynnBe/ilastik/pkg/validation"
)

// Config holds all configuration for the ilastik binary
type Config struct {
	Log     LogConfig
	Graph   GraphConfig
	Project ProjectConfig
	Debug   DebugConfig
}

type LogConfig struct {
	Prefix        string
	OutputMode    string `validate:"oneof=console logfile both logfile_with_console_errors"`
	Path          string
	Debug         bool
	OverrideFile  string
	WatchOverride bool
}

type GraphConfig struct {
	MaxWorkers     int           `validate:"min=1,max=1024"`
	CacheBudgetMB  int           `validate:"min=1"`
	BlockSize      int           `validate:"min=8,max=4096"`
	RequestTimeout time.Duration `validate:"min=0"`
}

type ProjectConfig struct {
	Store         string `validate:"omitempty,store_dsn"`
	Codec         string `validate:"oneof=json msgpack"`
	Compression   string `validate:"oneof=none gzip zstd"`
	EncryptionKey string `validate:"omitempty,hexadecimal"`
}

type DebugConfig struct {
	Addr string `validate:"required,hostname_port"`
}

// Load reads the given env files (".env" when none are given; missing files
// are ignored), then the environment, and validates the result.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return nil, fmt.Errorf("loading %s: %w", f, err)
			}
		}
	}

	cfg := &Config{
		Log: LogConfig{
			Prefix:        getEnvWithDefault("ILASTIK_LOG_PREFIX", ""),
			OutputMode:    getEnvWithDefault("ILASTIK_LOG_MODE", "console"),
			Path:          getEnvWithDefault("ILASTIK_LOG_FILE", logging.DefaultLogfilePath()),
			Debug:         getEnvAsBool("ILASTIK_DEBUG", false),
			OverrideFile:  getEnvWithDefault("ILASTIK_LOG_OVERRIDE", logging.DefaultOverridePath()),
			WatchOverride: getEnvAsBool("ILASTIK_LOG_WATCH", false),
		},
		Graph: GraphConfig{
			MaxWorkers:     getEnvAsInt("ILASTIK_MAX_WORKERS", runtime.NumCPU()),
			CacheBudgetMB:  getEnvAsInt("ILASTIK_CACHE_MB", 512),
			BlockSize:      getEnvAsInt("ILASTIK_BLOCK_SIZE", 64),
			RequestTimeout: getEnvAsDuration("ILASTIK_REQUEST_TIMEOUT", 0),
		},
		Project: ProjectConfig{
			Store:         getEnvWithDefault("ILASTIK_PROJECT_STORE", ""),
			Codec:         getEnvWithDefault("ILASTIK_PROJECT_CODEC", "msgpack"),
			Compression:   getEnvWithDefault("ILASTIK_PROJECT_COMPRESSION", "zstd"),
			EncryptionKey: getEnvWithDefault("ILASTIK_PROJECT_KEY", ""),
		},
		Debug: DebugConfig{
			Addr: getEnvWithDefault("ILASTIK_DEBUG_ADDR", "localhost:6060"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validation.ValidateWithPlayground(c); err != nil {
		return err
	}
	if c.Project.EncryptionKey != "" {
		switch len(c.Project.EncryptionKey) {
		case 32, 48, 64:
		default:
			return fmt.Errorf("ILASTIK_PROJECT_KEY must encode 16, 24 or 32 bytes")
		}
	}
	return nil
}

// Logging builds the logging configuration.
func (c *Config) Logging() (logging.Config, error) {
	mode, err := logging.ParseOutputMode(c.Log.OutputMode)
	if err != nil {
		return logging.Config{}, err
	}
	lc, err := logging.DefaultConfig(c.Log.Prefix, mode, c.Log.Path)
	if err != nil {
		return logging.Config{}, err
	}
	lc = lc.WithDebug(c.Log.Debug)
	lc.OverrideFile = c.Log.OverrideFile
	return lc, nil
}

// Serializer builds the project file serializer.
func (c *Config) Serializer() (*serialization.Serializer, error) {
	opts := serialization.Options{Codec: serialization.NewMsgPackCodec()}
	if c.Project.Codec == "json" {
		opts.Codec = serialization.NewJSONCodec()
	}
	comp, err := serialization.ParseCompression(c.Project.Compression)
	if err != nil {
		return nil, err
	}
	opts.Compression = comp
	if c.Project.EncryptionKey != "" {
		key, err := hex.DecodeString(c.Project.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("ILASTIK_PROJECT_KEY: %w", err)
		}
		opts.Key = key
	}
	return serialization.New(opts)
}

// CacheBudgetBytes is the block cache budget in bytes.
func (c *Config) CacheBudgetBytes() int64 {
	return int64(c.Graph.CacheBudgetMB) << 20
}

// Helper functions for environment variable parsing

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
