package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"warden/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/warden"
	configFileName = "config.yaml"

	// EnvIssuer overrides WardenConfig.Issuer.
	EnvIssuer = "WARDEN_ISSUER"
	// EnvClientID overrides WardenConfig.ClientID.
	EnvClientID = "WARDEN_CLIENT_ID"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// GetDefaultConfigPath returns ~/.config/warden.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads config.yaml from configPath, applies defaults for unset
// fields and then the environment overrides. It does not validate.
func LoadConfig(configPath string) (WardenConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return WardenConfig{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return WardenConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Debug("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	config.applyDefaults()
	config.applyEnv()
	return config, nil
}

func (c *WardenConfig) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvIssuer)); v != "" {
		c.Issuer = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvClientID)); v != "" {
		c.ClientID = v
	}
}
