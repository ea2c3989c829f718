package locate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the unified configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Validate required fields
	if len(config.Stations) < config.Dimensions()+1 {
		return nil, fmt.Errorf("at least %d stations must be defined for %dD solving",
			config.Dimensions()+1, config.Dimensions())
	}
	for i, st := range config.Stations {
		if st.ID == "" {
			return nil, fmt.Errorf("station[%d].id is required", i)
		}
		if !st.hasGeo() && len(st.Position) == 0 {
			return nil, fmt.Errorf("station[%d] (%s): either lat/lon or position is required", i, st.ID)
		}
	}
	if _, err := ParseMethod(config.Solver.Method); err != nil {
		return nil, err
	}

	// Fill model defaults for fields the file leaves at zero
	defaults := DefaultPathLossModel()
	if config.Model.ReferenceDistance == 0 {
		config.Model.ReferenceDistance = defaults.ReferenceDistance
	}
	if config.Model.ReferencePower == 0 {
		config.Model.ReferencePower = defaults.ReferencePower
	}
	if config.Model.Exponent == 0 {
		config.Model.Exponent = defaults.Exponent
	}
	if config.Model.RSSIStdDev == 0 {
		config.Model.RSSIStdDev = defaults.RSSIStdDev
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
