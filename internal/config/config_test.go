package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validConfig() *Config {
	cfg := Default()
	cfg.Auth.JWTSecret = testSecret
	return cfg
}

func TestConfig_Validate_Success(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() should pass, got %v", err)
	}
}

func TestConfig_Validate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing JWT secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"short JWT secret", func(c *Config) { c.Auth.JWTSecret = "short" }},
		{"missing storage path", func(c *Config) { c.Storage.BasePath = "" }},
		{"missing temp path", func(c *Config) { c.Storage.TempPath = "" }},
		{"missing database path", func(c *Config) { c.Storage.DatabasePath = "" }},
		{"zero retention", func(c *Config) { c.Retention.Window = 0 }},
		{"empty schedule", func(c *Config) { c.Retention.SweepSchedule = "" }},
		{"no workers", func(c *Config) { c.Worker.Count = 0 }},
		{"empty allow-list", func(c *Config) { c.Ingest.AllowedHosts = nil }},
		{"zero message length", func(c *Config) { c.Ingest.MaxMessageLength = 0 }},
		{"zero transcode timeout", func(c *Config) { c.Tools.TranscodeTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"0.0.0.0", 3000, "0.0.0.0:3000"},
		{"localhost", 8080, "localhost:8080"},
		{"", 3000, ":3000"},
	}

	for _, tt := range tests {
		cfg := ServerConfig{Host: tt.host, Port: tt.port}
		if got := cfg.Address(); got != tt.want {
			t.Errorf("Address() = %q, want %q", got, tt.want)
		}
	}
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 8181
storage:
  base_path: ` + dir + `/videos
  temp_path: ` + dir + `/temp
  database_path: ` + dir + `/db.sqlite
retention:
  window: 48h
auth:
  jwt_secret: ` + testSecret + `
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("PORT", "9999")
	t.Setenv("MAX_MESSAGE_LENGTH", "12")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want env override 9999", cfg.Server.Port)
	}
	if cfg.Retention.Window != 48*time.Hour {
		t.Errorf("Window = %v, want 48h from file", cfg.Retention.Window)
	}
	if cfg.Ingest.MaxMessageLength != 12 {
		t.Errorf("MaxMessageLength = %d, want 12", cfg.Ingest.MaxMessageLength)
	}
	// Untouched by file and env, so the default survives.
	if cfg.Retention.SweepSchedule != "@every 1h" {
		t.Errorf("SweepSchedule = %q, want default", cfg.Retention.SweepSchedule)
	}
	if len(cfg.Ingest.AllowedHosts) != 4 {
		t.Errorf("AllowedHosts = %v, want the four default hosts", cfg.Ingest.AllowedHosts)
	}
	if got := cfg.Storage.DataDir(); got != dir {
		t.Errorf("DataDir() = %q, want %q", got, dir)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() should fail for a missing config file")
	}
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(""); err == nil {
		t.Error("Load() should fail without JWT_SECRET")
	}
}
