package config

import (
	"os"
	"path/filepath"
)

// EnvConfig overrides the configuration file location.
const EnvConfig = "HOSTBRIDGE_CONFIG"

// GetConfigPath returns $HOSTBRIDGE_CONFIG, or ~/.hostbridge/config.
func GetConfigPath() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hostbridge", "config"), nil
}
