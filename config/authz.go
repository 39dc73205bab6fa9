package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/chargenet/core/authz"
)

const defaultCallTimeoutSeconds = 10

// AuthzConfig lists the authorization backends and how long each call may take.
type AuthzConfig struct {
	CallTimeoutSeconds int                   `json:"call_timeout_seconds"`
	Backends           []authz.BackendConfig `json:"backends"`
}

// SetDefaults applies sane defaults.
func (c *AuthzConfig) SetDefaults() {
	if c.CallTimeoutSeconds <= 0 {
		c.CallTimeoutSeconds = defaultCallTimeoutSeconds
	}
}

// CallTimeout bounds a single backend call.
func (c AuthzConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// Validate checks that backend types are known and priorities unique.
func (c AuthzConfig) Validate() error {
	known := make(map[string]bool)
	for _, t := range authz.BackendTypes() {
		known[t] = true
	}
	prios := make(map[int]bool, len(c.Backends))
	for i, b := range c.Backends {
		if !known[b.Type] {
			return fmt.Errorf("backend %d: unknown type %q", i, b.Type)
		}
		if prios[b.Priority] {
			return fmt.Errorf("backend %d: duplicate priority %d", i, b.Priority)
		}
		prios[b.Priority] = true
	}
	return nil
}
