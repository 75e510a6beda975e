package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRequestTimeoutSec   = 10
	DefaultAutoConnectDelaySec = 2
	DefaultSampleIntervalSec   = 1
	DefaultRefreshIntervalSec  = 300
	DefaultRelayListen         = ":8780"
	DefaultRelayDataDir        = "data"
	DefaultRateLimit           = 20
	DefaultRateBurst           = 40
	DefaultRetentionHours      = 168
	DefaultTelemetryWindow     = "1h"

	envPrefix = "SECUREVPN"
)

// Config holds client, relay and logging settings.
type Config struct {
	Client  ClientConfig  `mapstructure:"client" yaml:"client"`
	Relay   RelayConfig   `mapstructure:"relay" yaml:"relay"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ClientConfig is used by the connect command and the agent.
type ClientConfig struct {
	ServiceURL          string   `mapstructure:"service_url" yaml:"service_url"`
	RequestTimeoutSec   int      `mapstructure:"request_timeout_sec" yaml:"request_timeout_sec"`
	AutoConnect         bool     `mapstructure:"auto_connect" yaml:"auto_connect"`
	AutoConnectDelaySec int      `mapstructure:"auto_connect_delay_sec" yaml:"auto_connect_delay_sec"`
	SampleIntervalSec   int      `mapstructure:"sample_interval_sec" yaml:"sample_interval_sec"`
	RefreshIntervalSec  int      `mapstructure:"refresh_interval_sec" yaml:"refresh_interval_sec"`
	PreferredServer     string   `mapstructure:"preferred_server" yaml:"preferred_server,omitempty"`
	TelemetryPath       string   `mapstructure:"telemetry_path" yaml:"telemetry_path,omitempty"`
	MetricsListen       string   `mapstructure:"metrics_listen" yaml:"metrics_listen,omitempty"`
	STUNServers         []string `mapstructure:"stun_servers" yaml:"stun_servers,omitempty"`
}

// RelayConfig is used by the relay directory service.
type RelayConfig struct {
	Listen         string        `mapstructure:"listen" yaml:"listen"`
	DataDir        string        `mapstructure:"data_dir" yaml:"data_dir"`
	RateLimit      float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	RetentionHours int           `mapstructure:"retention_hours" yaml:"retention_hours"`
	Servers        []ServerEntry `mapstructure:"servers" yaml:"servers"`
}

// Retention bounds how long closed sessions stay in the ledger. A negative
// retention_hours keeps them forever and Retention returns 0.
func (r RelayConfig) Retention() time.Duration {
	if r.RetentionHours <= 0 {
		return 0
	}
	return time.Duration(r.RetentionHours) * time.Hour
}

// ServerEntry is one catalogue entry served by the relay.
type ServerEntry struct {
	ID      string `mapstructure:"id" yaml:"id"`
	Name    string `mapstructure:"name" yaml:"name"`
	Country string `mapstructure:"country" yaml:"country"`
	Flag    string `mapstructure:"flag" yaml:"flag"`
	Ping    int    `mapstructure:"ping" yaml:"ping"`
	Load    int    `mapstructure:"load" yaml:"load"`
	IP      string `mapstructure:"ip" yaml:"ip"`
	Status  string `mapstructure:"status" yaml:"status"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // json or console
}

// DefaultServers is the catalogue served when relay.servers is empty.
func DefaultServers() []ServerEntry {
	return []ServerEntry{
		{ID: "1", Name: "Нидерланды", Country: "Amsterdam", Flag: "🇳🇱", Ping: 12, Load: 45, IP: "185.246.208.82", Status: "online"},
		{ID: "2", Name: "США", Country: "New York", Flag: "🇺🇸", Ping: 85, Load: 62, IP: "167.172.158.241", Status: "online"},
		{ID: "3", Name: "Германия", Country: "Frankfurt", Flag: "🇩🇪", Ping: 18, Load: 38, IP: "138.68.73.224", Status: "online"},
		{ID: "4", Name: "Великобритания", Country: "London", Flag: "🇬🇧", Ping: 25, Load: 51, IP: "146.190.16.200", Status: "online"},
		{ID: "5", Name: "Япония", Country: "Tokyo", Flag: "🇯🇵", Ping: 156, Load: 29, IP: "54.150.58.117", Status: "online"},
		{ID: "6", Name: "Сингапур", Country: "Singapore", Flag: "🇸🇬", Ping: 178, Load: 44, IP: "128.199.216.87", Status: "online"},
	}
}

// RequestTimeout bounds each directory service call.
func (c ClientConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func (c ClientConfig) AutoConnectDelay() time.Duration {
	return time.Duration(c.AutoConnectDelaySec) * time.Second
}

func (c ClientConfig) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalSec) * time.Second
}

func (c ClientConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSec) * time.Second
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	// env overrides: SECUREVPN_CLIENT_SERVICE_URL etc.
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("client.service_url", "")
	v.SetDefault("client.request_timeout_sec", DefaultRequestTimeoutSec)
	v.SetDefault("client.auto_connect", true)
	v.SetDefault("client.auto_connect_delay_sec", DefaultAutoConnectDelaySec)
	v.SetDefault("client.sample_interval_sec", DefaultSampleIntervalSec)
	v.SetDefault("client.refresh_interval_sec", DefaultRefreshIntervalSec)
	v.SetDefault("client.preferred_server", "")
	v.SetDefault("client.telemetry_path", "")
	v.SetDefault("client.metrics_listen", "")
	v.SetDefault("client.stun_servers", []string{})
	v.SetDefault("relay.listen", DefaultRelayListen)
	v.SetDefault("relay.data_dir", DefaultRelayDataDir)
	v.SetDefault("relay.rate_limit", DefaultRateLimit)
	v.SetDefault("relay.rate_burst", DefaultRateBurst)
	v.SetDefault("relay.retention_hours", DefaultRetentionHours)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	return v
}

// Load reads a YAML config file, applying defaults and SECUREVPN_*
// environment overrides. A missing file yields the defaults.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// ValidateClient checks the settings the client side needs.
func ValidateClient(cfg Config) error {
	if cfg.Client.ServiceURL == "" {
		return fmt.Errorf("client.service_url is required")
	}
	u, err := url.Parse(cfg.Client.ServiceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("client.service_url %q is not an absolute url", cfg.Client.ServiceURL)
	}
	return nil
}

// ValidateRelay checks the relay catalogue and listener.
func ValidateRelay(cfg Config) error {
	if cfg.Relay.Listen == "" {
		return fmt.Errorf("relay.listen is required")
	}
	seen := make(map[string]bool, len(cfg.Relay.Servers))
	for i, s := range cfg.Relay.Servers {
		if s.ID == "" {
			return fmt.Errorf("relay.servers[%d].id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("relay.servers[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		if s.Load < 0 || s.Load > 100 {
			return fmt.Errorf("relay.servers[%d].load %d out of range", i, s.Load)
		}
		if s.Ping < 0 {
			return fmt.Errorf("relay.servers[%d].ping %d is negative", i, s.Ping)
		}
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Client.RequestTimeoutSec <= 0 {
		cfg.Client.RequestTimeoutSec = DefaultRequestTimeoutSec
	}
	if cfg.Client.AutoConnectDelaySec <= 0 {
		cfg.Client.AutoConnectDelaySec = DefaultAutoConnectDelaySec
	}
	if cfg.Client.SampleIntervalSec <= 0 {
		cfg.Client.SampleIntervalSec = DefaultSampleIntervalSec
	}
	if cfg.Client.RefreshIntervalSec <= 0 {
		cfg.Client.RefreshIntervalSec = DefaultRefreshIntervalSec
	}

	if cfg.Relay.Listen == "" {
		cfg.Relay.Listen = DefaultRelayListen
	}
	if cfg.Relay.DataDir == "" {
		cfg.Relay.DataDir = DefaultRelayDataDir
	}
	if cfg.Relay.RateLimit <= 0 {
		cfg.Relay.RateLimit = DefaultRateLimit
	}
	if cfg.Relay.RateBurst <= 0 {
		cfg.Relay.RateBurst = DefaultRateBurst
	}
	if cfg.Relay.RetentionHours == 0 {
		cfg.Relay.RetentionHours = DefaultRetentionHours
	}
	if len(cfg.Relay.Servers) == 0 {
		cfg.Relay.Servers = DefaultServers()
	}
	for i := range cfg.Relay.Servers {
		if cfg.Relay.Servers[i].Status == "" {
			cfg.Relay.Servers[i].Status = "online"
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
