package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/chargenet/core/audit"
	"github.com/kilianp07/chargenet/core/metrics"
	"github.com/kilianp07/chargenet/core/nodeauth"
	"github.com/kilianp07/chargenet/core/reservation"
	"github.com/kilianp07/chargenet/infra/ws"
)

type Config struct {
	Server       ws.Config          `json:"server"`
	NodeAuth     nodeauth.Config    `json:"node_auth"`
	Routing      RoutingConfig      `json:"routing"`
	Authz        AuthzConfig        `json:"authz"`
	Reservations reservation.Config `json:"reservations"`
	Metrics      metrics.Config     `json:"metrics"`
	Logging      LoggingConfig      `json:"logging"`
	Audit        audit.Config       `json:"audit"`
	API          APIConfig          `json:"api"`
	Sentry       SentryConfig       `json:"sentry"`
}

// Load reads a YAML or JSON file and applies environment overrides. Variables
// prefixed with K_ override keys, "__" separating nesting levels, so
// K_SERVER__ADDRESS sets server.address.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section with its defaults.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.NodeAuth.SetDefaults()
	c.Authz.SetDefaults()
	c.Logging.SetDefaults()
	c.Audit.SetDefaults()
}

// Validate checks every section and reports all problems at once.
func (c Config) Validate() error {
	var errs []error
	wrap := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}
	wrap("server", c.Server.Validate())
	wrap("node_auth", c.NodeAuth.Validate())
	wrap("routing", c.Routing.Validate())
	wrap("authz", c.Authz.Validate())
	wrap("logging", c.Logging.Validate())
	wrap("audit", c.Audit.Validate())
	return errors.Join(errs...)
}
