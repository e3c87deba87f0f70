package catalog

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Manifest is the on-disk shape of manifest.yaml.
type Manifest struct {
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	Protocol    int               `yaml:"protocol"`
	Entrypoint  string            `yaml:"entrypoint"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Timeout     Duration          `yaml:"timeout,omitempty"`
	KillGrace   Duration          `yaml:"kill_grace,omitempty"`
	Events      []string          `yaml:"events,omitempty"`
	Description string            `yaml:"description,omitempty"`
}

// Definition is a validated, launchable runner definition.
type Definition struct {
	Name        string
	Version     string
	Protocol    int
	Path        string // definition directory
	Entrypoint  string // absolute path
	Args        []string
	Env         map[string]string
	Timeout     time.Duration
	KillGrace   time.Duration
	Events      []string
	Description string
}

// AcceptsEvent reports whether the definition declares name. A definition
// with no declared events accepts any.
func (d *Definition) AcceptsEvent(name string) bool {
	if len(d.Events) == 0 {
		return true
	}
	for _, e := range d.Events {
		if e == name {
			return true
		}
	}
	return false
}
