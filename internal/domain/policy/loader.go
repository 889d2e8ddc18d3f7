package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFromFile reads policy settings from a YAML file and validates them.
func LoadFromFile(path string) (Settings, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		return Settings{}, fmt.Errorf("read policy file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML policy settings. An empty global policy becomes Default.
func Parse(data []byte) (Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse policy settings: %w", err)
	}
	if s.Global == "" {
		s.Global = Default
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Marshal encodes settings as YAML.
func Marshal(s Settings) ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal policy settings: %w", err)
	}
	return data, nil
}
