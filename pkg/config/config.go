// Package config loads the rdmnetbroker/rdmnetctl configuration: a YAML
// file overridden by RDMNET_-prefixed environment variables, unmarshaled
// with mapstructure decode hooks, defaulted, and validated with struct
// tags. The loader shape (viper.New, SetEnvPrefix/AutomaticEnv, explicit
// config path or XDG search path, ApplyDefaults then Validate) is
// grounded on the teacher's pkg/config/config.go Load/MustLoad/setupViper
// functions, generalized from DittoFS's server config to the broker's.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rdmnet-go/rdmnet/pkg/cid"
)

// Config is the complete rdmnetbroker configuration.
type Config struct {
	// CID is the broker's own Component Identifier. Empty means
	// generate-and-persist on first run (see identity.go).
	CID string `mapstructure:"cid" yaml:"cid"`

	// Scope is the RDMnet scope this broker serves.
	Scope string `mapstructure:"scope" validate:"required" yaml:"scope"`

	// E133Version is the client-protocol version this broker enforces on
	// the connect handshake.
	E133Version uint16 `mapstructure:"e133_version" yaml:"e133_version"`

	// ListenAddrs is one host:port per interface to listen on. Empty
	// means "every interface on the default E1.33 port" (ApplyDefaults
	// fills it in).
	ListenAddrs []string `mapstructure:"listen_addrs" yaml:"listen_addrs"`

	Heartbeat  HeartbeatConfig  `mapstructure:"heartbeat" yaml:"heartbeat"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery" yaml:"discovery"`
	LLRP       LLRPConfig       `mapstructure:"llrp" yaml:"llrp"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry" yaml:"telemetry"`
	HTTPAPI    HTTPAPIConfig    `mapstructure:"httpapi" yaml:"httpapi"`
}

// HeartbeatConfig controls the client-heartbeat timers the broker
// enforces, overriding pkg/broker's E1.33 defaults.
type HeartbeatConfig struct {
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// DiscoveryConfig controls the broker's DNS-SD self-registration.
type DiscoveryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Domain  string `mapstructure:"domain" yaml:"domain"`
}

// LLRPConfig controls whether the broker itself responds to LLRP probe
// requests as a discoverable target (pkg/llrp/target), independent of
// the RPT/EPT clients it serves.
type LLRPConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// LoggingConfig controls internal/logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR" yaml:"level"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls internal/metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// TelemetryConfig controls internal/telemetry's OTLP exporter and
// pyroscope profiler.
type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRatio    float64 `mapstructure:"sample_ratio" validate:"omitempty,gte=0,lte=1" yaml:"sample_ratio"`
	ProfilingURL   string  `mapstructure:"profiling_url" yaml:"profiling_url"`
}

// HTTPAPIConfig controls internal/httpapi's debug/health/metrics server.
type HTTPAPIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// DefaultConfigDirName is the XDG-relative directory name the broker
// searches for config.yaml and stores its generated CID alongside.
const DefaultConfigDirName = "rdmnetbroker"

// getConfigDir returns $XDG_CONFIG_HOME/rdmnetbroker, or
// ~/.config/rdmnetbroker if XDG_CONFIG_HOME is unset.
func getConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, DefaultConfigDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfigDirName
	}
	return filepath.Join(home, ".config", DefaultConfigDirName)
}

// GetDefaultConfigPath returns the default config.yaml location.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// Load loads configuration from file, environment, and defaults, in that
// ascending order of precedence, then applies defaults and validates.
// An empty configPath uses the default XDG location; a missing file at
// that location is not an error, since zero-config invocation is the
// common case for a single-operator broker.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
			return nil, fmt.Errorf("config: unmarshal: %w", err)
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("RDMNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read file: %w", err)
	}
	return true, nil
}

// Save writes cfg to path as YAML, creating parent directories as
// needed, used by `rdmnetbroker init`.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// ResolveCID returns cfg's CID as a parsed cid.CID, generating and
// persisting one to identityPath if cfg.CID is empty. See identity.go.
func ResolveCID(cfg *Config, identityPath string) (cid.CID, error) {
	if cfg.CID != "" {
		return cid.Parse(cfg.CID)
	}
	return loadOrCreateIdentity(identityPath)
}
