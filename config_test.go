package energylens

import (
	"strings"
	"testing"
	"time"

	"github.com/chronicle-db/energylens/internal/testutil"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.HTTP.Addr != "127.0.0.1:8080" {
		t.Errorf("unexpected default addr %q", cfg.HTTP.Addr)
	}
	if cfg.Analysis.Anomaly.Contamination != DefaultContamination {
		t.Errorf("unexpected default contamination %v", cfg.Analysis.Anomaly.Contamination)
	}
	if cfg.Analysis.ForecastHours != DefaultForecastHours {
		t.Errorf("unexpected default forecast hours %d", cfg.Analysis.ForecastHours)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Backend != "memory" {
		t.Errorf("expected an in-memory archive by default, got %+v", cfg.Archive)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := testutil.WriteFile(t, "energylens.yaml", `
analysis:
  anomaly:
    contamination: 0.1
  forecast_hours: 48
  report:
    unit_cost: 0.3
http:
  addr: ":9090"
  read_timeout: 5s
store:
  driver: sqlite
  dsn: /tmp/energylens.db
remote_write:
  enabled: true
  url: http://prom:9090/api/v1/write
  labels:
    household: h42
log:
  level: debug
  format: json
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Analysis.Anomaly.Contamination != 0.1 || cfg.Analysis.ForecastHours != 48 {
		t.Errorf("analysis settings not loaded: %+v", cfg.Analysis)
	}
	if cfg.Analysis.Anomaly.Trees != 100 {
		t.Errorf("unset fields should keep defaults, got %d trees", cfg.Analysis.Anomaly.Trees)
	}
	if cfg.Analysis.Report.UnitCost != 0.3 || cfg.Analysis.Report.CO2Factor != 0.82 {
		t.Errorf("unexpected report config %+v", cfg.Analysis.Report)
	}
	if cfg.HTTP.Addr != ":9090" || cfg.HTTP.ReadTimeout != 5*time.Second {
		t.Errorf("unexpected http config %+v", cfg.HTTP)
	}
	if cfg.Store.Driver != "sqlite" || cfg.RemoteWrite.Labels["household"] != "h42" {
		t.Errorf("unexpected store/remote write config")
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/energylens.yaml"); err == nil {
		t.Error("expected missing file to fail")
	}
	bad := testutil.WriteFile(t, "bad.yaml", "http: [not a map")
	if _, err := LoadConfig(bad); err == nil || !strings.Contains(err.Error(), "invalid YAML") {
		t.Errorf("expected invalid YAML error, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"ENERGYLENS_HTTP_ADDR":        ":7070",
		"ENERGYLENS_STORE_DRIVER":     "postgres",
		"ENERGYLENS_STORE_DSN":        "postgres://u:p@db/energy?sslmode=disable",
		"ENERGYLENS_ARCHIVE_PASSWORD": "pw",
		"ENERGYLENS_API_KEYS":         "k1, k2,,",
		"ENERGYLENS_KAFKA_BROKERS":    "kafka-1:9092,kafka-2:9092",
		"ENERGYLENS_MQTT_BROKER":      "tcp://mqtt:1883",
		"ENERGYLENS_CONTAMINATION":    "0.2",
		"ENERGYLENS_FORECAST_HOURS":   "12",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.HTTP.Addr != ":7070" || cfg.Store.Driver != "postgres" {
		t.Errorf("string overrides not applied: %+v %+v", cfg.HTTP.Addr, cfg.Store)
	}
	if !cfg.Archive.Encryption.Enabled || cfg.Archive.Encryption.Password != "pw" {
		t.Error("archive password should enable encryption")
	}
	if !cfg.HTTP.Auth.Enabled || len(cfg.HTTP.Auth.APIKeys) != 2 || cfg.HTTP.Auth.APIKeys[1] != "k2" {
		t.Errorf("unexpected api keys %v", cfg.HTTP.Auth.APIKeys)
	}
	if !cfg.Publish.Kafka.Enabled || len(cfg.Publish.Kafka.Brokers) != 2 {
		t.Errorf("unexpected kafka config %+v", cfg.Publish.Kafka)
	}
	if !cfg.Publish.MQTT.Enabled || cfg.Publish.MQTT.Broker != "tcp://mqtt:1883" {
		t.Errorf("unexpected mqtt config %+v", cfg.Publish.MQTT)
	}
	if cfg.Analysis.Anomaly.Contamination != 0.2 || cfg.Analysis.ForecastHours != 12 {
		t.Errorf("unexpected analysis overrides %+v", cfg.Analysis)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("overridden config should validate: %v", err)
	}

	env = map[string]string{"ENERGYLENS_CONTAMINATION": "lots"}
	if err := cfg.ApplyEnv(lookup); err == nil {
		t.Error("expected a non-numeric contamination to fail")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"contamination zero", func(c *Config) { c.Analysis.Anomaly.Contamination = 0 }},
		{"contamination too high", func(c *Config) { c.Analysis.Anomaly.Contamination = 0.6 }},
		{"negative forecast", func(c *Config) { c.Analysis.ForecastHours = -1 }},
		{"no addr", func(c *Config) { c.HTTP.Addr = "" }},
		{"auth without keys", func(c *Config) { c.HTTP.Auth.Enabled = true }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "oracle" }},
		{"file archive without dir", func(c *Config) { c.Archive.Backend = "file" }},
		{"s3 archive without bucket", func(c *Config) { c.Archive.Backend = "s3" }},
		{"unknown archive", func(c *Config) { c.Archive.Backend = "tape" }},
		{"remote write without url", func(c *Config) { c.RemoteWrite.Enabled = true }},
		{"kafka without brokers", func(c *Config) { c.Publish.Kafka.Enabled = true }},
		{"mqtt without broker", func(c *Config) { c.Publish.MQTT.Enabled = true }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Store.Driver = "none"
	cfg.Archive.Backend = "none"
	if err := cfg.Validate(); err != nil {
		t.Errorf("none store and archive should validate: %v", err)
	}
}

func TestLogConfigNewLogger(t *testing.T) {
	if l := (LogConfig{Level: "warn", Format: "json"}).NewLogger(); l == nil {
		t.Fatal("expected a logger")
	}
	if _, err := parseLevel("DEBUG"); err != nil {
		t.Errorf("level parsing should be case-insensitive: %v", err)
	}
}
