package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/misanthropealoupe/ch-L1mock/errors"
)

// Load reads, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "Load", "read config file")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "Load", fmt.Sprintf("parse %s", path))
	}
	return cfg, nil
}

// Parse decodes a YAML document, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Parse", "unmarshal YAML")
	}

	// Second decode with pointer fields distinguishes omitted keys from
	// explicit zeros; it cannot fail after the first succeeded.
	var present presentKeys
	_ = yaml.Unmarshal(data, &present)

	cfg.applyDefaults(present)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal serializes a configuration back to YAML. Parse(Marshal(c)) yields
// an equal configuration.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "Marshal", "marshal YAML")
	}
	return data, nil
}
