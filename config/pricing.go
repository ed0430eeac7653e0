package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadCapabilityPricing reads a capability-pricing table from a separate
// YAML file, for operators who prefer to keep pricing out of the main TOML
// config (and under its own review/change process). The result overlays
// cfg.CapabilityPricing; a missing file is not an error.
func LoadCapabilityPricing(path string) (map[string]CapabilityPrice, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read capability pricing %s: %w", path, err)
	}
	var pricing map[string]CapabilityPrice
	if err := yaml.Unmarshal(data, &pricing); err != nil {
		return nil, fmt.Errorf("config: parse capability pricing %s: %w", path, err)
	}
	return pricing, nil
}

// SaveCapabilityPricing writes pricing back out as YAML, e.g. for the
// `mcpnostr-server export-pricing` command.
func SaveCapabilityPricing(path string, pricing map[string]CapabilityPrice) error {
	data, err := yaml.Marshal(pricing)
	if err != nil {
		return fmt.Errorf("config: marshal capability pricing: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write capability pricing %s: %w", path, err)
	}
	return nil
}
