package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Role != "user" {
		t.Errorf("Expected default role user, got %q", cfg.Role)
	}
	if cfg.Tracking.AcceptWindow != 25*time.Second {
		t.Errorf("Expected 25s accept window, got %v", cfg.Tracking.AcceptWindow)
	}
	if cfg.Tracking.PollInterval != time.Minute {
		t.Errorf("Expected 60s poll interval, got %v", cfg.Tracking.PollInterval)
	}
	if cfg.SocketURL != "ws://localhost:8080/ws" {
		t.Errorf("Expected derived socket URL, got %q", cfg.SocketURL)
	}
	if cfg.Journal.Sink != SinkNone {
		t.Errorf("Expected no journal sink, got %q", cfg.Journal.Sink)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TRACKER_ROLE", "rider")
	t.Setenv("TRACKER_USER_ID", "r-7")
	t.Setenv("TRACKER_API_URL", "https://api.example.com/")
	t.Setenv("TRACKER_TRACKING_POLL_INTERVAL", "0s")
	t.Setenv("TRACKER_LOCATION_LAT", "12.9716")
	t.Setenv("TRACKER_JOURNAL_SINK", "kafka")

	cfg, err := Load(viper.New(), "", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.TrackerRole() != "rider" || cfg.UserID != "r-7" {
		t.Errorf("Unexpected identity: %q %q", cfg.Role, cfg.UserID)
	}
	if cfg.Tracking.PollInterval != 0 {
		t.Errorf("Expected polling disabled, got %v", cfg.Tracking.PollInterval)
	}
	if cfg.Location.Lat != 12.9716 {
		t.Errorf("Expected lat 12.9716, got %v", cfg.Location.Lat)
	}
	if cfg.SocketURL != "wss://api.example.com/ws" {
		t.Errorf("Expected wss socket URL, got %q", cfg.SocketURL)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.yaml")
	content := `
role: rider
socket-url: ws://push.example.com/socket
tracking:
  accept-window: 10s
journal:
  sink: postgres
  postgres-dsn: postgres://tracker@localhost/tracker?sslmode=disable
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(viper.New(), path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tracking.AcceptWindow != 10*time.Second {
		t.Errorf("Expected 10s accept window, got %v", cfg.Tracking.AcceptWindow)
	}
	if cfg.SocketURL != "ws://push.example.com/socket" {
		t.Errorf("Expected explicit socket URL, got %q", cfg.SocketURL)
	}
	if cfg.Journal.Sink != SinkPostgres {
		t.Errorf("Expected postgres sink, got %q", cfg.Journal.Sink)
	}
	// Untouched keys keep their defaults.
	if cfg.Tracking.LocationInterval != 15*time.Second {
		t.Errorf("Expected default location interval, got %v", cfg.Tracking.LocationInterval)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TRACKER_ORS_KEY=secret-ors-key\n"), 0o600); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("TRACKER_ORS_KEY") })

	cfg, err := Load(viper.New(), "", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ORSKey != "secret-ors-key" {
		t.Errorf("Expected ORS key from env file, got %q", cfg.ORSKey)
	}

	if _, err := Load(viper.New(), "", filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("Missing env file should be ignored, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown role", func(c *Config) { c.Role = "admin" }},
		{"missing api url", func(c *Config) { c.APIURL = "" }},
		{"negative poll", func(c *Config) { c.Tracking.PollInterval = -time.Second }},
		{"unknown sink", func(c *Config) { c.Journal.Sink = "s3" }},
		{"kafka without brokers", func(c *Config) { c.Journal.Sink = SinkKafka; c.Journal.KafkaBrokers = "" }},
		{"postgres without dsn", func(c *Config) { c.Journal.Sink = SinkPostgres }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Role: "user", APIURL: "http://localhost", Journal: JournalConfig{Sink: SinkNone, KafkaBrokers: "k:9092"}}
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
