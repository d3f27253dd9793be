package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultYAMLConfig(t *testing.T) {
	cfg := DefaultYAMLConfig()
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("driver: got %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.Capabilities.BearerAccess {
		t.Error("bearer access must be off by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	d, err := cfg.Auth.Duration()
	if err != nil || d != time.Hour {
		t.Errorf("Duration() = %v, %v, want 1h", d, err)
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	t.Setenv("ACCESSD_TEST_SECRET", "from-env")
	path := filepath.Join(t.TempDir(), "accessd.yaml")
	content := `store:
  driver: postgres
  dsn: postgres://localhost/accessd
auth:
  jwt_secret: ${ACCESSD_TEST_SECRET}
  session_duration: 15m
capabilities:
  bearer_access: true
metrics:
  textfile: ${ACCESSD_TEST_SECRET}.prom
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://localhost/accessd" {
		t.Errorf("store: got %+v", cfg.Store)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("jwt_secret: got %q, want expanded env value", cfg.Auth.JWTSecret)
	}
	if !cfg.Capabilities.BearerAccess {
		t.Error("expected bearer access enabled")
	}
	if cfg.Metrics.Textfile != "from-env.prom" {
		t.Errorf("metrics.textfile: got %q", cfg.Metrics.Textfile)
	}
	if cfg.Logging.Level != "info" || cfg.Auth.Issuer != "accessd" {
		t.Errorf("defaults not kept for missing settings: %+v", cfg)
	}
	if d, _ := cfg.Auth.Duration(); d != 15*time.Minute {
		t.Errorf("Duration() = %v, want 15m", d)
	}
}

func TestLoadYAMLConfigErrors(t *testing.T) {
	if _, err := LoadYAMLConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("store: [unclosed"), 0644)
	if _, err := LoadYAMLConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*YAMLConfig)
		field  string
	}{
		{"unknown driver", func(c *YAMLConfig) { c.Store.Driver = "oracle" }, "store"},
		{"empty driver", func(c *YAMLConfig) { c.Store.Driver = "" }, "store"},
		{"bad duration", func(c *YAMLConfig) { c.Auth.SessionDuration = "soon" }, "auth"},
		{"negative duration", func(c *YAMLConfig) { c.Auth.SessionDuration = "-1h" }, "auth"},
		{"bad cost", func(c *YAMLConfig) { c.Auth.PasswordCost = 40 }, "auth"},
		{"bad level", func(c *YAMLConfig) { c.Logging.Level = "loud" }, "logging"},
		{"bad format", func(c *YAMLConfig) { c.Logging.Format = "xml" }, "logging"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultYAMLConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.HasPrefix(err.Error(), tt.field) {
				t.Errorf("error %q does not name section %q", err, tt.field)
			}
		})
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accessd.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if *cfg != *DefaultYAMLConfig() {
		t.Errorf("round trip changed config: %+v", cfg)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected json output, got %q", out)
	}
}
