package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scope != "default" {
		t.Errorf("Scope = %q, want default", cfg.Scope)
	}
	if cfg.E133Version != 1 {
		t.Errorf("E133Version = %d, want 1", cfg.E133Version)
	}
	if cfg.Heartbeat.Interval == 0 {
		t.Error("Heartbeat.Interval not defaulted")
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Logging.Level = %q, want INFO", cfg.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
scope: "studio-a"
listen_addrs:
  - "0.0.0.0:8888"
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scope != "studio-a" {
		t.Errorf("Scope = %q, want studio-a", cfg.Scope)
	}
	if len(cfg.ListenAddrs) != 1 || cfg.ListenAddrs[0] != "0.0.0.0:8888" {
		t.Errorf("ListenAddrs = %v", cfg.ListenAddrs)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Logging.Level = %q, want DEBUG (normalized)", cfg.Logging.Level)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &Config{Scope: "roundtrip"}
	ApplyDefaults(cfg)

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Scope != "roundtrip" {
		t.Errorf("Scope = %q, want roundtrip", loaded.Scope)
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := &Config{Scope: "x", Logging: LoggingConfig{Level: "TRACE", Format: "text"}}
	if err := Validate(cfg); err == nil {
		t.Error("Validate accepted an invalid log level")
	}
}

func TestValidateRejectsEmptyListenAddr(t *testing.T) {
	cfg := &Config{Scope: "x", Logging: LoggingConfig{Level: "INFO", Format: "text"}, ListenAddrs: []string{""}}
	if err := Validate(cfg); err == nil {
		t.Error("Validate accepted an empty listen address")
	}
}
