package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/chargenet/core/factory"
)

func init() {
	_ = RegisterBackend("fake", func(conf map[string]any) (Backend, error) {
		var c struct {
			ID string `json:"id"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return &fakeBackend{id: c.ID}, nil
	})
}

func TestRegisterAll(t *testing.T) {
	r := NewRouter(nil, 0, nil, nil)
	err := r.RegisterAll([]BackendConfig{
		{Type: "fake", Priority: 2, Conf: map[string]any{"id": "b"}},
		{Type: "fake", Priority: 1, Conf: map[string]any{"id": "a"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []BackendInfo{{Priority: 1, ID: "a"}, {Priority: 2, ID: "b"}}, r.Backends())
	assert.Contains(t, BackendTypes(), "fake")
}

func TestRegisterAllErrors(t *testing.T) {
	r := NewRouter(nil, 0, nil, nil)
	err := r.RegisterAll([]BackendConfig{{Type: "missing"}})
	require.Error(t, err)

	err = r.RegisterAll([]BackendConfig{
		{Type: "fake", Priority: 1, Conf: map[string]any{"id": "a"}},
		{Type: "fake", Priority: 1, Conf: map[string]any{"id": "b"}},
	})
	require.ErrorIs(t, err, ErrDuplicatePriority)
}
