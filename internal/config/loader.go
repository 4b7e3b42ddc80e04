package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadWithEnv loads configuration from a file and applies environment
// variable overrides, following the teacher's LoadWithEnv convention.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if addr := os.Getenv("ACME_LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if host := os.Getenv("ACME_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("ACME_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if keyPath := os.Getenv("ACME_CA_KEY_PATH"); keyPath != "" {
		cfg.CA.KeyPath = keyPath
	}
	if certPath := os.Getenv("ACME_CA_CERT_PATH"); certPath != "" {
		cfg.CA.CertPath = certPath
	}
	if terms := os.Getenv("ACME_TERMS_URL"); terms != "" {
		cfg.ACME.Terms = terms
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after env overrides: %w", err)
	}

	return cfg, nil
}
