// Package config resolves the service configuration from defaults, an
// optional YAML file, .env files and SITEAUDIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"siteaudit/internal/logging"
)

const EnvPrefix = "SITEAUDIT"

type Config struct {
	Env         string         `mapstructure:"env"`
	ListenAddr  string         `mapstructure:"listen_addr"`
	DatabaseURL string         `mapstructure:"database_url"`
	Log         LogConfig      `mapstructure:"log"`
	Workers     WorkersConfig  `mapstructure:"workers"`
	Fetch       FetchConfig    `mapstructure:"fetch"`
	LLM         LLMConfig      `mapstructure:"llm"`
	Analyzer    AnalyzerConfig `mapstructure:"analyzer"`
	Snapshots   SnapshotConfig `mapstructure:"snapshots"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WorkersConfig struct {
	Count         int           `mapstructure:"count"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type FetchConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxBytes int64         `mapstructure:"max_bytes"`
}

type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type AnalyzerConfig struct {
	ExcerptLimit int `mapstructure:"excerpt_limit"`
}

// SnapshotConfig points at an S3-compatible bucket. An empty endpoint
// disables snapshots.
type SnapshotConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Defaults lists every key. Viper only binds environment variables for keys
// it knows about, so keys without a meaningful default are listed empty.
func Defaults() map[string]any {
	return map[string]any{
		"env":                    "development",
		"listen_addr":            ":8080",
		"database_url":           "",
		"log.level":              string(logging.LevelInfo),
		"log.format":             string(logging.FormatStructured),
		"workers.count":          2,
		"workers.poll_interval":  "500ms",
		"workers.stale_after":    "15m",
		"workers.sweep_interval": "1m",
		"fetch.timeout":          "15s",
		"fetch.max_bytes":        5 << 20,
		"llm.provider":           "openai",
		"llm.model":              "gpt-4o-mini",
		"llm.base_url":           "",
		"llm.api_key":            "",
		"llm.timeout":            "60s",
		"llm.max_attempts":       2,
		"analyzer.excerpt_limit": 5000,
		"snapshots.endpoint":     "",
		"snapshots.access_key":   "",
		"snapshots.secret_key":   "",
		"snapshots.bucket":       "",
		"snapshots.use_ssl":      true,
	}
}

// Load reads configuration. path may be empty, in which case siteaudit.yaml
// is looked up in the working directory and its absence is not an error.
func Load(path string) (Config, error) {
	// .env files are a convenience for local runs.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetConfigName("siteaudit")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, def := range Defaults() {
		v.SetDefault(k, def)
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("failed to read configuration: %w", err)
		}
		v.SetConfigFile(path)
	}
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read configuration: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Workers.Count < 1 {
		errs = append(errs, fmt.Errorf("workers.count must be at least 1, got %d", c.Workers.Count))
	}
	if c.Workers.PollInterval <= 0 {
		errs = append(errs, errors.New("workers.poll_interval must be positive"))
	}
	if c.Workers.StaleAfter <= 0 {
		errs = append(errs, errors.New("workers.stale_after must be positive"))
	}
	if c.Analyzer.ExcerptLimit <= 0 {
		errs = append(errs, fmt.Errorf("analyzer.excerpt_limit must be positive, got %d", c.Analyzer.ExcerptLimit))
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be openai or anthropic, got %q", c.LLM.Provider))
	}
	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level %q is not supported", c.Log.Level))
	}
	if !logging.ValidFormat(c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format %q is not supported", c.Log.Format))
	}
	if c.Snapshots.Endpoint != "" && c.Snapshots.Bucket == "" {
		errs = append(errs, errors.New("snapshots.bucket is required when snapshots.endpoint is set"))
	}
	return errors.Join(errs...)
}
