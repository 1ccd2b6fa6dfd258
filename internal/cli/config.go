package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the rulectl configuration: one entry per rule engine
// deployment.
type Config struct {
	DefaultEnv   string               `yaml:"default_env"`
	Environments map[string]EnvConfig `yaml:"environments"`
}

// EnvConfig holds the address of one deployment and the key used against
// it. Reads and evaluation work with the client key; writes need the admin
// key.
type EnvConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// GetConfigPath returns the path to the config file. RULECTL_CONFIG
// overrides the default location.
func GetConfigPath() (string, error) {
	if p := os.Getenv("RULECTL_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".rulectl", "config.yaml"), nil
}

// LoadConfig loads the configuration from file
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{
				DefaultEnv:   "dev",
				Environments: make(map[string]EnvConfig),
			}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// SaveConfig saves the configuration to file
func SaveConfig(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetEnvConfig returns configuration for a specific environment
// Priority: command flags > environment variables > config file
// Returns the environment config and the effective environment name
func GetEnvConfig(envName, baseURLFlag, apiKeyFlag string) (*EnvConfig, string, error) {
	// First check command line flags
	if baseURLFlag != "" && apiKeyFlag != "" {
		if envName == "" {
			envName = "flags"
		}
		return &EnvConfig{
			BaseURL: baseURLFlag,
			APIKey:  apiKeyFlag,
		}, envName, nil
	}

	// Then check environment variables
	envBaseURL := os.Getenv("RULECTL_BASE_URL")
	envAPIKey := os.Getenv("RULECTL_API_KEY")
	if envBaseURL != "" && envAPIKey != "" {
		if envName == "" {
			envName = "environment"
		}
		return &EnvConfig{
			BaseURL: envBaseURL,
			APIKey:  envAPIKey,
		}, envName, nil
	}

	// Finally check config file
	cfg, err := LoadConfig()
	if err != nil {
		return nil, "", err
	}

	// Use default env if not specified
	if envName == "" {
		envName = cfg.DefaultEnv
	}

	envCfg, ok := cfg.Environments[envName]
	if !ok {
		return nil, "", fmt.Errorf("environment '%s' not found in config", envName)
	}

	// Override with flags/env vars if provided
	if baseURLFlag != "" {
		envCfg.BaseURL = baseURLFlag
	} else if envBaseURL != "" {
		envCfg.BaseURL = envBaseURL
	}

	if apiKeyFlag != "" {
		envCfg.APIKey = apiKeyFlag
	} else if envAPIKey != "" {
		envCfg.APIKey = envAPIKey
	}

	if envCfg.BaseURL == "" || envCfg.APIKey == "" {
		return nil, "", fmt.Errorf("base_url and api_key must be configured for environment '%s'", envName)
	}

	return &envCfg, envName, nil
}

// InitConfig creates a default config file
func InitConfig() error {
	cfg := &Config{
		DefaultEnv: "dev",
		Environments: map[string]EnvConfig{
			"dev": {
				BaseURL: "http://localhost:8080",
				APIKey:  "admin-123",
			},
			"prod": {
				BaseURL: "https://openlit.example.com",
				APIKey:  "change-me",
			},
		},
	}

	return SaveConfig(cfg)
}

// GetValue reads an "env.key" setting such as "dev.base_url".
func GetValue(cfg *Config, path string) (string, error) {
	envName, key, err := splitKey(path)
	if err != nil {
		return "", err
	}
	envCfg, ok := cfg.Environments[envName]
	if !ok {
		return "", fmt.Errorf("environment '%s' not found", envName)
	}
	switch key {
	case "base_url":
		return envCfg.BaseURL, nil
	case "api_key":
		return envCfg.APIKey, nil
	}
	return "", fmt.Errorf("unknown key '%s', valid keys: base_url, api_key", key)
}

// SetValue writes an "env.key" setting, creating the environment if needed.
func SetValue(cfg *Config, path, value string) error {
	envName, key, err := splitKey(path)
	if err != nil {
		return err
	}
	if cfg.Environments == nil {
		cfg.Environments = make(map[string]EnvConfig)
	}
	envCfg := cfg.Environments[envName]
	switch key {
	case "base_url":
		envCfg.BaseURL = value
	case "api_key":
		envCfg.APIKey = value
	default:
		return fmt.Errorf("unknown key '%s', valid keys: base_url, api_key", key)
	}
	cfg.Environments[envName] = envCfg
	return nil
}

// MaskKey hides all but the first four characters of an API key.
func MaskKey(key string) string {
	if len(key) > 4 {
		return key[:4] + "***"
	}
	return "***"
}

func splitKey(path string) (string, string, error) {
	envName, key, ok := strings.Cut(path, ".")
	if !ok || envName == "" || key == "" {
		return "", "", fmt.Errorf("invalid key format, expected 'env.key' (e.g., 'dev.base_url')")
	}
	return envName, key, nil
}
