// Package config handles agent configuration loading and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// MinRescanIntervalSeconds is the shortest autoscan interval accepted.
const MinRescanIntervalSeconds = 300

// Config holds all agent configuration.
type Config struct {
	// Remote service
	APIBaseURL string `yaml:"api_base_url"`
	UserAgent  string `yaml:"user_agent"`
	// PEM bundle trusted in addition to the system roots, for TLS
	// intercepting proxies.
	ExtraCAFile string `yaml:"extra_ca_file"`

	// Paths
	DataDir      string `yaml:"data_dir"`
	ProbeDir     string `yaml:"probe_dir"`
	PracticesDir string `yaml:"practices_dir"`
	PolicyFile   string `yaml:"policy_file"`
	Language     string `yaml:"language"`

	// Local inspection endpoint
	ListenAddr string   `yaml:"listen_addr"`
	AllowHosts []string `yaml:"allow_hosts"`
	// HostLabels maps an origin pattern (regular expression) to the label
	// shown as the party that requested the scan.
	HostLabels []HostLabel `yaml:"host_labels"`

	// Timing
	RescanIntervalSeconds int           `yaml:"rescan_interval_seconds"`
	FreshWindowMinutes    int           `yaml:"fresh_window_minutes"`
	PollWait              time.Duration `yaml:"poll_wait"`
	ProbeTimeout          time.Duration `yaml:"probe_timeout"`
	MaxScanAttempts       int           `yaml:"max_scan_attempts"`

	// Logging
	LogLevel string `yaml:"log_level"`

	DevMode bool `yaml:"dev_mode"`
}

// HostLabel names a trusted requester.
type HostLabel struct {
	Pattern string `yaml:"pattern"`
	Name    string `yaml:"name"`
}

// DefaultDataDir is the per-OS state directory.
func DefaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("PROGRAMDATA")
		if base == "" {
			base = `C:\ProgramData`
		}
		return filepath.Join(base, "DrSprinto")
	case "darwin":
		return "/Library/Application Support/DrSprinto"
	default:
		return "/var/lib/drsprinto"
	}
}

// DefaultConfig returns a config with sane defaults.
func DefaultConfig() Config {
	dataDir := DefaultDataDir()
	return Config{
		APIBaseURL:            "https://app.sprinto.com",
		UserAgent:             "DrSprinto",
		DataDir:               dataDir,
		ProbeDir:              filepath.Join(dataDir, "probes"),
		PracticesDir:          filepath.Join(dataDir, "practices"),
		Language:              "en",
		ListenAddr:            "127.0.0.1:37370",
		AllowHosts:            []string{"https://app.sprinto.com"},
		RescanIntervalSeconds: MinRescanIntervalSeconds,
		FreshWindowMinutes:    10,
		PollWait:              10 * time.Second,
		ProbeTimeout:          30 * time.Second,
		MaxScanAttempts:       60,
		LogLevel:              "INFO",
	}
}

// LoadConfig loads configuration from a YAML file with env overrides. An
// empty path uses defaults plus the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if cfg.RescanIntervalSeconds < MinRescanIntervalSeconds {
		cfg.RescanIntervalSeconds = MinRescanIntervalSeconds
	}
	if cfg.FreshWindowMinutes <= 0 {
		cfg.FreshWindowMinutes = 10
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DRSPRINTO_API_BASE_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("DRSPRINTO_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("DRSPRINTO_PROBE_DIR"); v != "" {
		c.ProbeDir = v
	}
	if v := os.Getenv("DRSPRINTO_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("DRSPRINTO_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToUpper(v)
	}
	if v := os.Getenv("DRSPRINTO_RESCAN_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RescanIntervalSeconds = n
		}
	}
	if v := os.Getenv("STETHOSCOPE_ENV"); v == "development" {
		c.DevMode = true
	}
	if c.ExtraCAFile == "" {
		for _, name := range []string{"SSL_CERT_FILE", "NODE_EXTRA_CA_CERTS"} {
			if v := os.Getenv(name); v != "" {
				c.ExtraCAFile = v
				break
			}
		}
	}
}

// Validate reports every problem with the config at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if !IsTrustedURL(c.APIBaseURL) && !c.DevMode {
		result = multierror.Append(result, fmt.Errorf("api_base_url %q is not a trusted endpoint", c.APIBaseURL))
	}
	if c.DataDir == "" {
		result = multierror.Append(result, errors.New("data_dir is required"))
	}
	if c.ListenAddr == "" {
		result = multierror.Append(result, errors.New("listen_addr is required"))
	}
	if c.PollWait <= 0 {
		result = multierror.Append(result, errors.New("poll_wait must be positive"))
	}
	if c.MaxScanAttempts < 0 {
		result = multierror.Append(result, errors.New("max_scan_attempts must not be negative"))
	}
	for _, hl := range c.HostLabels {
		if _, err := regexp.Compile(hl.Pattern); err != nil {
			result = multierror.Append(result, fmt.Errorf("host_labels %q: %w", hl.Pattern, err))
		}
	}
	if c.ExtraCAFile != "" {
		if _, err := os.Stat(c.ExtraCAFile); err != nil {
			result = multierror.Append(result, fmt.Errorf("extra_ca_file: %w", err))
		}
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		result = multierror.Append(result, fmt.Errorf("log_level %q is not one of DEBUG, INFO, WARN, ERROR", c.LogLevel))
	}

	return result.ErrorOrNil()
}

// RescanInterval is the autoscan period.
func (c *Config) RescanInterval() time.Duration {
	n := c.RescanIntervalSeconds
	if n < MinRescanIntervalSeconds {
		n = MinRescanIntervalSeconds
	}
	return time.Duration(n) * time.Second
}

// FreshWindow is how long a scan counts as fresh.
func (c *Config) FreshWindow() time.Duration {
	return time.Duration(c.FreshWindowMinutes) * time.Minute
}

// LogPath returns the path to the log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "drsprinto.log")
}

// trustedDomains are the hosts the agent will talk to or open.
var trustedDomains = []string{"sprinto.com", "localhost", "127.0.0.1"}

// IsTrustedURL reports whether raw points at a Sprinto host or the local
// machine over an allowed scheme.
func IsTrustedURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "https", "http", "drsprinto":
	default:
		return false
	}
	host := u.Hostname()
	for _, d := range trustedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
