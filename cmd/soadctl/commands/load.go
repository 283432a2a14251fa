package commands

import (
	"fmt"

	"github.com/soad-project/soad/internal/config"
)

// loadConfigFile loads the configuration named by --config, or defaults
// when the flag is empty.
func loadConfigFile() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", configPath, err)
	}
	return cfg, nil
}
