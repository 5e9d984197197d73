package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rdmnet-go/rdmnet/pkg/cid"
)

// loadOrCreateIdentity implements cid.CID's own documented contract: "a
// component's CID is immutable once assigned; callers are expected to
// generate it once at startup and persist it across restarts if
// continuity matters." A broker's CID is exactly such a case, since
// clients and the discovery registry key on it across reconnects.
func loadOrCreateIdentity(path string) (cid.CID, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return cid.Parse(strings.TrimSpace(string(data)))
	}
	if !os.IsNotExist(err) {
		return cid.Nil, fmt.Errorf("config: read identity file: %w", err)
	}

	c := cid.New()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return cid.Nil, fmt.Errorf("config: create identity directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(c.String()+"\n"), 0600); err != nil {
		return cid.Nil, fmt.Errorf("config: write identity file: %w", err)
	}
	return c, nil
}

// DefaultIdentityPath returns the path rdmnetbroker persists its
// generated CID to when none is set in config.
func DefaultIdentityPath() string {
	return filepath.Join(getConfigDir(), "identity")
}
