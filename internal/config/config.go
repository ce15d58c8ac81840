// Package config loads the netwatch YAML configuration.
//
// Config file locations (priority order):
//  1. $NETWATCH_CONFIG
//  2. ./netwatch.yaml
//  3. /etc/netwatch/config.yaml
//
// DATABASE_URL, HTTP_ADDR and LOG_LEVEL environment variables override
// the file so container deployments need no file at all.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"netwatch/core-go/internal/model"
	"netwatch/core-go/internal/scanner"
)

// Config is the full netwatch configuration tree.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	LogLevel    string `yaml:"log_level"`
	DatabaseURL string `yaml:"database_url"`

	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Notify     NotifyConfig     `yaml:"notify"`
	Scans      []ScanConfig     `yaml:"scans"`
}

// SchedulerConfig bounds scan dispatch and retries.
type SchedulerConfig struct {
	MaxConcurrentScans int           `yaml:"max_concurrent_scans"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay      time.Duration `yaml:"retry_max_delay"`
	MinInterval        time.Duration `yaml:"min_interval"`
	StopGrace          time.Duration `yaml:"stop_grace"`
}

// MonitorConfig tunes the orchestrator's health loop, change
// notifications, retention and storage resilience.
type MonitorConfig struct {
	HealthInterval             time.Duration `yaml:"health_interval"`
	SignificantChangeThreshold int           `yaml:"significant_change_threshold"`
	DiffIdentity               string        `yaml:"diff_identity"` // "ip" | "mac"
	RetentionMaxAge            time.Duration `yaml:"retention_max_age"`
	RetentionSweepInterval     time.Duration `yaml:"retention_sweep_interval"`
	BreakerFailureLimit        int           `yaml:"breaker_failure_limit"`
	BreakerResetTimeout        time.Duration `yaml:"breaker_reset_timeout"`
}

// EnrichmentConfig configures the post-scan identity sources.
type EnrichmentConfig struct {
	DNSServer     string        `yaml:"dns_server"` // host:port, empty uses the system resolver
	DNSTimeout    time.Duration `yaml:"dns_timeout"`
	SNMPEnabled   bool          `yaml:"snmp_enabled"`
	SNMPCommunity string        `yaml:"snmp_community"`
	SNMPPort      uint16        `yaml:"snmp_port"`
	SNMPTimeout   time.Duration `yaml:"snmp_timeout"`
	Workers       int           `yaml:"workers"`
	MaxTargets    int           `yaml:"max_targets"`
}

// NotifyConfig configures outbound change signals.
type NotifyConfig struct {
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
}

// ScanConfig is one recurring scan registered at startup.
type ScanConfig struct {
	Target   string        `yaml:"target"`
	Interval time.Duration `yaml:"interval"`
	Profile  string        `yaml:"profile"`
}

// Load finds and loads the config file, or returns defaults when none
// exists. Environment overrides are applied last.
func Load() (*Config, string, error) {
	path := findConfigPath()
	if path == "" {
		cfg := defaultConfig()
		cfg.applyEnv()
		return cfg, "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return &cfg, path, nil
}

func findConfigPath() string {
	if p := os.Getenv("NETWATCH_CONFIG"); p != "" {
		return p
	}
	for _, p := range []string{"./netwatch.yaml", "/etc/netwatch/config.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8081"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Scheduler.MaxConcurrentScans <= 0 {
		c.Scheduler.MaxConcurrentScans = 3
	}
	if c.Scheduler.MaxRetries <= 0 {
		c.Scheduler.MaxRetries = 2
	}
	if c.Scheduler.RetryBaseDelay <= 0 {
		c.Scheduler.RetryBaseDelay = 5 * time.Second
	}
	if c.Scheduler.RetryMaxDelay <= 0 {
		c.Scheduler.RetryMaxDelay = 2 * time.Minute
	}
	if c.Scheduler.MinInterval <= 0 {
		c.Scheduler.MinInterval = time.Minute
	}
	if c.Scheduler.StopGrace <= 0 {
		c.Scheduler.StopGrace = 30 * time.Second
	}

	if c.Monitor.HealthInterval <= 0 {
		c.Monitor.HealthInterval = 30 * time.Second
	}
	if c.Monitor.SignificantChangeThreshold <= 0 {
		c.Monitor.SignificantChangeThreshold = 10
	}
	if c.Monitor.DiffIdentity == "" {
		c.Monitor.DiffIdentity = "ip"
	}
	if c.Monitor.RetentionSweepInterval <= 0 {
		c.Monitor.RetentionSweepInterval = time.Hour
	}
	if c.Monitor.BreakerFailureLimit <= 0 {
		c.Monitor.BreakerFailureLimit = 5
	}
	if c.Monitor.BreakerResetTimeout <= 0 {
		c.Monitor.BreakerResetTimeout = 30 * time.Second
	}

	if c.Enrichment.DNSTimeout <= 0 {
		c.Enrichment.DNSTimeout = 2 * time.Second
	}
	if c.Enrichment.SNMPCommunity == "" {
		c.Enrichment.SNMPCommunity = "public"
	}
	if c.Enrichment.SNMPPort == 0 {
		c.Enrichment.SNMPPort = 161
	}
	if c.Enrichment.SNMPTimeout <= 0 {
		c.Enrichment.SNMPTimeout = 2 * time.Second
	}
	if c.Enrichment.Workers <= 0 {
		c.Enrichment.Workers = 8
	}

	if c.Notify.WebhookTimeout <= 0 {
		c.Notify.WebhookTimeout = 10 * time.Second
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	switch c.Monitor.DiffIdentity {
	case "ip", "mac":
	default:
		return fmt.Errorf("config: diff_identity must be \"ip\" or \"mac\", got %q", c.Monitor.DiffIdentity)
	}
	for i, s := range c.Scans {
		if err := scanner.ValidateTarget(s.Target); err != nil {
			return fmt.Errorf("config: scans[%d]: %w", i, err)
		}
		if s.Interval < c.Scheduler.MinInterval {
			return fmt.Errorf("config: scans[%d]: interval %s below minimum %s", i, s.Interval, c.Scheduler.MinInterval)
		}
	}
	return nil
}

// ProfileOrDefault returns the scan's normalized profile.
func (s ScanConfig) ProfileOrDefault() model.ScanProfile {
	return scanner.CanonicalProfile(s.Profile)
}
