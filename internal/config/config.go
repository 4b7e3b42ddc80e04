package config

import "fmt"

// Config holds all configuration for the ACME server, loaded from YAML
// with environment variable overrides, following the teacher's
// Config/Validate/LoadWithEnv split.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	ACME    ACMEConfig    `yaml:"acme"`
	CA      CAConfig      `yaml:"ca"`
	Policy  PolicyConfig  `yaml:"policy"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	BasePath   string `yaml:"base_path"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Scheme     string `yaml:"scheme"`
}

type ChallengeConfig struct {
	HTTP01   bool `yaml:"http01"`
	DNS01    bool `yaml:"dns01"`
	TLSSNI01 bool `yaml:"tlssni01"`
	Auto     bool `yaml:"auto"`
}

type ACMEConfig struct {
	Version              string          `yaml:"version"` // "ietf-draft" | "le"
	AuthzExpirySeconds    int             `yaml:"authz_expiry_seconds"`
	MaxValiditySeconds    int             `yaml:"max_validity_seconds"`
	ScopedAuthorizations  bool            `yaml:"scoped_authorizations"`
	RequireOOB            bool            `yaml:"require_oob"`
	Challenges            ChallengeConfig `yaml:"challenges"`
	Terms                 string         `yaml:"terms"`
	// DNS01Resolvers is only consulted when Challenges.DNS01 is true; it
	// names the resolver(s) (host:port) pkg/dns01 queries for the
	// "_acme-challenge.<name>" TXT record.
	DNS01Resolvers []string `yaml:"dns01_resolvers"`
}

type CAConfig struct {
	KeyPath  string `yaml:"key_path"`
	CertPath string `yaml:"cert_path"`
	KeyType  string `yaml:"key_type"` // "ecdsa" | "rsa"
}

type PolicyConfig struct {
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IsLegacy reports whether the configured dialect is the pre-standard
// variant. Encapsulates the "acmeVersion affects a small set of feature
// flags" design note rather than branching on the raw string elsewhere.
func (c *Config) IsLegacy() bool {
	return c.ACME.Version == "le"
}

func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.ACME.Version != "ietf-draft" && c.ACME.Version != "le" {
		return fmt.Errorf("acme.version must be 'ietf-draft' or 'le'")
	}
	if c.ACME.AuthzExpirySeconds <= 0 {
		return fmt.Errorf("acme.authz_expiry_seconds must be positive")
	}
	if c.ACME.MaxValiditySeconds <= 0 {
		return fmt.Errorf("acme.max_validity_seconds must be positive")
	}
	if c.CA.KeyPath == "" || c.CA.CertPath == "" {
		return fmt.Errorf("ca.key_path and ca.cert_path are required")
	}
	if c.CA.KeyType != "ecdsa" && c.CA.KeyType != "rsa" {
		return fmt.Errorf("ca.key_type must be 'ecdsa' or 'rsa'")
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}
	return nil
}

// Default returns a configuration suitable for local testing: auto
// challenge only, IETF-draft dialect, generous validity window.
func Default() *Config {
	return &Config{
		Server: ServerConfig{ListenAddr: ":4430", Host: "localhost", Port: 4430, Scheme: "http"},
		ACME: ACMEConfig{
			Version:            "ietf-draft",
			AuthzExpirySeconds: 86400,
			MaxValiditySeconds: 7776000,
			Challenges:         ChallengeConfig{Auto: true},
		},
		CA: CAConfig{
			KeyPath:  "ca.key",
			CertPath: "ca.crt",
			KeyType:  "ecdsa",
		},
		Policy: PolicyConfig{AllowedExtensions: []string{"subjectAltName"}},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}
