package config

import (
	"strconv"
	"strings"

	"github.com/rdmnet-go/rdmnet/pkg/broker"
)

// DefaultE133Port is the well-known TCP port RDMnet brokers listen on,
// per the scope's assigned port convention; the broker binds this on
// every configured interface when ListenAddrs is empty.
const DefaultE133Port = 8888

// ApplyDefaults fills in every unspecified field with its broker-wide
// default, following the same "zero value means unset" convention as
// the teacher's pkg/config/defaults.go.
func ApplyDefaults(cfg *Config) {
	if cfg.Scope == "" {
		cfg.Scope = "default"
	}
	if cfg.E133Version == 0 {
		cfg.E133Version = 1
	}
	if len(cfg.ListenAddrs) == 0 {
		cfg.ListenAddrs = []string{":" + strconv.Itoa(DefaultE133Port)}
	}
	applyHeartbeatDefaults(&cfg.Heartbeat)
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyHTTPAPIDefaults(&cfg.HTTPAPI)
}

func applyHeartbeatDefaults(cfg *HeartbeatConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = broker.DefaultHeartbeatInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = broker.DefaultHeartbeatTimeout
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = broker.DefaultConnectTimeout
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "rdmnetbroker"
	}
	if cfg.SampleRatio == 0 {
		cfg.SampleRatio = 1.0
	}
}

func applyHTTPAPIDefaults(cfg *HTTPAPIConfig) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9000"
	}
}
