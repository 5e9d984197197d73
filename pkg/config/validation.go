package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks cfg against its struct tags and the broker-specific
// invariants tags alone cannot express (a scope of at most 62 bytes, no
// empty listen address). The CID string is not checked here; ResolveCID
// parses it.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if len(cfg.Scope) > 62 {
		return fmt.Errorf("config: scope is %d bytes, at most 62 allowed", len(cfg.Scope))
	}
	for _, addr := range cfg.ListenAddrs {
		if addr == "" {
			return fmt.Errorf("config: listen_addrs entries must not be empty")
		}
	}
	return nil
}
