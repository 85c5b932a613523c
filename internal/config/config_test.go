package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.APIBaseURL != "https://app.sprinto.com" {
		t.Fatalf("unexpected api_base_url: %s", cfg.APIBaseURL)
	}
	if cfg.RescanIntervalSeconds != 300 {
		t.Fatalf("unexpected rescan_interval_seconds: %d", cfg.RescanIntervalSeconds)
	}
	if cfg.FreshWindowMinutes != 10 {
		t.Fatalf("unexpected fresh_window_minutes: %d", cfg.FreshWindowMinutes)
	}
	if cfg.ListenAddr != "127.0.0.1:37370" {
		t.Fatalf("unexpected listen_addr: %s", cfg.ListenAddr)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := `
api_base_url: "https://eu.app.sprinto.com"
data_dir: "` + filepath.ToSlash(dir) + `"
rescan_interval_seconds: 900
poll_wait: 5s
probe_timeout: 1m
language: fr
host_labels:
  - pattern: "^https://([a-z]+\\.)?app\\.sprinto\\.com$"
    name: Sprinto
`
	os.WriteFile(cfgPath, []byte(content), 0o644)

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.APIBaseURL != "https://eu.app.sprinto.com" {
		t.Fatalf("unexpected api_base_url: %s", cfg.APIBaseURL)
	}
	if cfg.RescanInterval() != 15*time.Minute {
		t.Fatalf("unexpected rescan interval: %s", cfg.RescanInterval())
	}
	if cfg.PollWait != 5*time.Second || cfg.ProbeTimeout != time.Minute {
		t.Fatalf("unexpected durations: %s %s", cfg.PollWait, cfg.ProbeTimeout)
	}
	if len(cfg.HostLabels) != 1 || cfg.HostLabels[0].Name != "Sprinto" {
		t.Fatalf("unexpected host_labels: %+v", cfg.HostLabels)
	}
	if cfg.Language != "fr" {
		t.Fatalf("unexpected language: %s", cfg.Language)
	}
}

func TestRescanIntervalFloor(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	os.WriteFile(cfgPath, []byte("rescan_interval_seconds: 30\n"), 0o644)

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RescanIntervalSeconds != MinRescanIntervalSeconds {
		t.Fatalf("interval not raised to minimum: %d", cfg.RescanIntervalSeconds)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DRSPRINTO_LOG_LEVEL", "debug")
	t.Setenv("DRSPRINTO_LISTEN_ADDR", "127.0.0.1:4000")
	t.Setenv("STETHOSCOPE_ENV", "development")
	t.Setenv("DRSPRINTO_API_BASE_URL", "http://dev.internal:3000")
	t.Setenv("SSL_CERT_FILE", "")
	t.Setenv("NODE_EXTRA_CA_CERTS", "")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LogLevel != "DEBUG" {
		t.Fatalf("unexpected log_level: %s", cfg.LogLevel)
	}
	if cfg.ListenAddr != "127.0.0.1:4000" {
		t.Fatalf("unexpected listen_addr: %s", cfg.ListenAddr)
	}
	if !cfg.DevMode {
		t.Fatal("STETHOSCOPE_ENV=development should enable dev mode")
	}
}

func TestExtraCAFromEnv(t *testing.T) {
	dir := t.TempDir()
	pem := filepath.Join(dir, "proxy.pem")
	os.WriteFile(pem, []byte("-----BEGIN CERTIFICATE-----\n"), 0o644)
	t.Setenv("SSL_CERT_FILE", "")
	t.Setenv("NODE_EXTRA_CA_CERTS", pem)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ExtraCAFile != pem {
		t.Fatalf("unexpected extra_ca_file: %s", cfg.ExtraCAFile)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIBaseURL = "https://evil.example.com"
	cfg.PollWait = 0
	cfg.LogLevel = "LOUD"
	cfg.HostLabels = []HostLabel{{Pattern: "(", Name: "broken"}}
	cfg.ExtraCAFile = filepath.Join(t.TempDir(), "missing.pem")

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"api_base_url", "poll_wait", "log_level", "host_labels", "extra_ca_file"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestIsTrustedURL(t *testing.T) {
	tests := map[string]bool{
		"https://app.sprinto.com/dashboard": true,
		"https://sprinto.com":               true,
		"http://localhost:3000":             true,
		"http://127.0.0.1:37370/scan":       true,
		"drsprinto://auth?token=x":          false,
		"https://notsprinto.com":            false,
		"https://sprinto.com.evil.io":       false,
		"ftp://app.sprinto.com":             false,
		"javascript:alert(1)":               false,
		"::not a url":                       false,
	}
	for raw, want := range tests {
		if got := IsTrustedURL(raw); got != want {
			t.Errorf("IsTrustedURL(%q) = %v, want %v", raw, got, want)
		}
	}
}
