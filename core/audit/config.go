package audit

import "fmt"

const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
)

// Config selects the audit store.
type Config struct {
	Enabled    bool   `json:"enabled"`
	Backend    string `json:"backend"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendJSONL
	}
	if c.Path == "" {
		if c.Backend == BackendSQLite {
			c.Path = "frames.db"
		} else {
			c.Path = "frames.jsonl"
		}
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Backend {
	case BackendJSONL, BackendSQLite:
	default:
		return fmt.Errorf("audit.backend: unknown backend %q", c.Backend)
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return fmt.Errorf("audit: rotation settings must not be negative")
	}
	return nil
}

// Open creates the configured store. It returns nil when auditing is
// disabled.
func Open(c Config) (Store, error) {
	if !c.Enabled {
		return nil, nil
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Backend == BackendSQLite {
		return NewSQLiteStore(c.Path)
	}
	return NewJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
}
