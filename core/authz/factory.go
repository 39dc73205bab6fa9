package authz

import (
	"fmt"

	"github.com/kilianp07/chargenet/core/factory"
)

var backendRegistry = factory.NewRegistry[Backend]()

// BackendConfig selects a backend implementation and its priority.
type BackendConfig struct {
	Type     string         `json:"type"`
	Priority int            `json:"priority"`
	Conf     map[string]any `json:"conf"`
}

// RegisterBackend adds a backend factory identified by name.
func RegisterBackend(name string, f factory.Factory[Backend]) error {
	return backendRegistry.Register(name, f)
}

// BackendTypes lists the registered backend types.
func BackendTypes() []string { return backendRegistry.Types() }

// NewBackend creates a backend from its configuration.
func NewBackend(cfg BackendConfig) (Backend, error) {
	return backendRegistry.Create(factory.ModuleConfig{Type: cfg.Type, Conf: cfg.Conf})
}

// RegisterAll builds every configured backend and registers it on r.
func (r *Router) RegisterAll(cfgs []BackendConfig) error {
	for i, c := range cfgs {
		b, err := NewBackend(c)
		if err != nil {
			return fmt.Errorf("authz backend %d (%s): %w", i, c.Type, err)
		}
		if err := r.Register(c.Priority, b); err != nil {
			return fmt.Errorf("authz backend %d (%s): %w", i, c.Type, err)
		}
	}
	return nil
}
