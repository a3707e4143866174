package mock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads a fake server configuration from a file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d out of range", config.Port)
	}
	if config.LatencyMS < 0 {
		return fmt.Errorf("latencyMs cannot be negative")
	}

	seen := make(map[string]bool, len(config.Seed))
	for i, u := range config.Seed {
		if u.Email == "" {
			return fmt.Errorf("seed %d: email is required", i)
		}
		if len(u.Password) < minPasswordLength {
			return fmt.Errorf("seed %d: password must have at least %d characters", i, minPasswordLength)
		}
		if !validRoles[u.Role] {
			return fmt.Errorf("seed %d: invalid role %q", i, u.Role)
		}
		if seen[u.Email] {
			return fmt.Errorf("seed %d: duplicate email %s", i, u.Email)
		}
		seen[u.Email] = true
	}

	return nil
}
