package energylens

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration. Every group has usable defaults, so a
// config file only needs the settings that differ.
type Config struct {
	// Analysis configures the detector, forecaster, reporter and planner.
	Analysis AnalysisConfig `yaml:"analysis"`

	// HTTP configures the API server.
	HTTP HTTPConfig `yaml:"http"`

	// Store persists runs in SQLite or PostgreSQL. Empty driver disables it.
	Store StoreConfig `yaml:"store"`

	// Archive keeps a JSON bundle of every run in memory, on disk or in S3.
	Archive ArchiveConfig `yaml:"archive"`

	// RemoteWrite pushes run series to a Prometheus remote-write endpoint.
	RemoteWrite RemoteWriteConfig `yaml:"remote_write"`

	// Publish sends run messages to Kafka and MQTT.
	Publish PublishConfig `yaml:"publish"`

	// Stream configures websocket event delivery.
	Stream StreamConfig `yaml:"stream"`

	Log LogConfig `yaml:"log"`
}

// HTTPConfig groups HTTP server settings.
type HTTPConfig struct {
	// Addr is the listen address. Default: 127.0.0.1:8080.
	Addr string `yaml:"addr"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxUploadBytes caps the CSV upload size. Default: 10MB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// RateLimitPerSecond is the per-IP request budget. 0 disables limiting.
	RateLimitPerSecond int `yaml:"rate_limit_per_second"`

	// CORSOrigins lists allowed browser origins. Empty disables CORS headers.
	CORSOrigins []string `yaml:"cors_origins"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig configures API key authentication.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`

	APIKeys []string `yaml:"api_keys"`

	// ReadOnlyKeys may not upload datasets.
	ReadOnlyKeys []string `yaml:"read_only_keys"`

	// ExcludePaths never require a key. /health is always excluded.
	ExcludePaths []string `yaml:"exclude_paths"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Analysis: DefaultAnalysisConfig(),
		HTTP: HTTPConfig{
			Addr:               "127.0.0.1:8080",
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       30 * time.Second,
			MaxUploadBytes:     10 * 1024 * 1024,
			RateLimitPerSecond: 100,
		},
		Archive: ArchiveConfig{
			Enabled: true,
			Backend: "memory",
		},
		RemoteWrite: RemoteWriteConfig{
			Timeout: 10 * time.Second,
			Retry:   DefaultRetryConfig(),
		},
		Publish: PublishConfig{
			Kafka: KafkaConfig{Topic: "energylens.runs"},
			MQTT:  MQTTConfig{ClientID: "energylens", TopicPrefix: "energylens"},
		},
		Stream: DefaultStreamConfig(),
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a YAML file over the defaults and applies ENERGYLENS_*
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: cannot read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: invalid YAML: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("ENERGYLENS_HTTP_ADDR", &c.HTTP.Addr)
	str("ENERGYLENS_STORE_DRIVER", &c.Store.Driver)
	str("ENERGYLENS_STORE_DSN", &c.Store.DSN)
	str("ENERGYLENS_ARCHIVE_BACKEND", &c.Archive.Backend)
	str("ENERGYLENS_ARCHIVE_DIR", &c.Archive.Dir)
	str("ENERGYLENS_S3_BUCKET", &c.Archive.S3.Bucket)
	str("ENERGYLENS_S3_ACCESS_KEY_ID", &c.Archive.S3.AccessKeyID)
	str("ENERGYLENS_S3_SECRET_ACCESS_KEY", &c.Archive.S3.SecretAccessKey)
	str("ENERGYLENS_REMOTE_WRITE_URL", &c.RemoteWrite.URL)
	str("ENERGYLENS_LOG_LEVEL", &c.Log.Level)
	str("ENERGYLENS_LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("ENERGYLENS_ARCHIVE_PASSWORD"); ok && v != "" {
		c.Archive.Encryption.Enabled = true
		c.Archive.Encryption.Password = v
	}
	if v, ok := lookup("ENERGYLENS_REMOTE_WRITE_URL"); ok && v != "" {
		c.RemoteWrite.Enabled = true
	}
	if v, ok := lookup("ENERGYLENS_API_KEYS"); ok && v != "" {
		c.HTTP.Auth.Enabled = true
		c.HTTP.Auth.APIKeys = splitList(v)
	}
	if v, ok := lookup("ENERGYLENS_KAFKA_BROKERS"); ok && v != "" {
		c.Publish.Kafka.Enabled = true
		c.Publish.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("ENERGYLENS_MQTT_BROKER"); ok && v != "" {
		c.Publish.MQTT.Enabled = true
		c.Publish.MQTT.Broker = v
	}
	if v, ok := lookup("ENERGYLENS_CONTAMINATION"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: ENERGYLENS_CONTAMINATION: %w", err)
		}
		c.Analysis.Anomaly.Contamination = f
	}
	if v, ok := lookup("ENERGYLENS_FORECAST_HOURS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: ENERGYLENS_FORECAST_HOURS: %w", err)
		}
		c.Analysis.ForecastHours = n
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if ct := c.Analysis.Anomaly.Contamination; math.IsNaN(ct) || ct <= 0 || ct > 0.5 {
		return fmt.Errorf("config: analysis.anomaly.contamination must be in (0, 0.5], got %v", ct)
	}
	if c.Analysis.ForecastHours < 0 {
		return fmt.Errorf("config: analysis.forecast_hours must not be negative")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("config: http.addr is required")
	}
	if c.HTTP.Auth.Enabled && len(c.HTTP.Auth.APIKeys) == 0 && len(c.HTTP.Auth.ReadOnlyKeys) == 0 {
		return fmt.Errorf("config: http.auth is enabled but no api keys are set")
	}
	switch c.Store.Driver {
	case "", "none", "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config: store.driver %q is not supported (valid: sqlite, postgres)", c.Store.Driver)
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case "", "none", "memory":
		case "file":
			if c.Archive.Dir == "" {
				return fmt.Errorf("config: archive.dir is required for the file backend")
			}
		case "s3":
			if c.Archive.S3.Bucket == "" {
				return fmt.Errorf("config: archive.s3.bucket is required for the s3 backend")
			}
		default:
			return fmt.Errorf("config: archive.backend %q is not supported (valid: memory, file, s3)", c.Archive.Backend)
		}
	}
	if c.RemoteWrite.Enabled && c.RemoteWrite.URL == "" {
		return fmt.Errorf("config: remote_write.url is required when enabled")
	}
	if c.Publish.Kafka.Enabled && len(c.Publish.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: publish.kafka.brokers is required when enabled")
	}
	if c.Publish.MQTT.Enabled && c.Publish.MQTT.Broker == "" {
		return fmt.Errorf("config: publish.mqtt.broker is required when enabled")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	err := level.UnmarshalText([]byte(s))
	return level, err
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger() *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
