package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile loads a YAML profile and overlays the environment on top of it.
// Keys in the file use the documented configuration names (provider,
// fpTableName, blockThreshold, ...). Missing keys keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}

	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}
	c.applyEnv()
	return c, nil
}
