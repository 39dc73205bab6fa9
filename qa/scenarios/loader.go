// Package scenarios replays YAML described authorization flows against a
// router built from local backends.
package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/chargenet/core/model"
)

// BackendDef declares one backend. Failing backends return an error for
// every call.
type BackendDef struct {
	ID       string            `yaml:"id"`
	Priority int               `yaml:"priority"`
	Tokens   map[string]string `yaml:"tokens,omitempty"`
	Fail     bool              `yaml:"fail,omitempty"`
}

// Step is one router call. Start steps may save the returned session under a
// name; later steps refer to it through Session.
type Step struct {
	Op          string `yaml:"op"`
	Token       string `yaml:"token"`
	SaveSession string `yaml:"save_session,omitempty"`
	Session     string `yaml:"session,omitempty"`
	Expect      Expect `yaml:"expect"`
}

// Expect is the outcome a step must produce. Result applies to start and
// stop, Status to charge detail records.
type Expect struct {
	Result  string `yaml:"result,omitempty"`
	Status  string `yaml:"status,omitempty"`
	Backend string `yaml:"backend,omitempty"`
}

type Expected struct {
	Authorized int `yaml:"authorized"`
}

type Scenario struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Backends    []BackendDef `yaml:"backends"`
	Steps       []Step       `yaml:"steps"`
	Expected    Expected     `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	for i, st := range sc.Steps {
		switch st.Op {
		case opStart, opStop, opCDR:
		default:
			return fmt.Errorf("step %d: unknown op %q", i, st.Op)
		}
		if st.Expect.Result != "" {
			if _, err := model.ParseAuthorizationResult(st.Expect.Result); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
		if st.Expect.Status != "" {
			if _, err := model.ParseCDRStatus(st.Expect.Status); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
	}
	return nil
}
