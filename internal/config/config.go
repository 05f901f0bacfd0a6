// Package config loads process configuration from config.yaml and the
// environment.
package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Platform PlatformConfig `koanf:"platform"`
	Audit    AuditConfig    `koanf:"audit"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

// PlatformConfig holds the trust parameters for the voice platform.
type PlatformConfig struct {
	// ApplicationID is the application identifier every request must target.
	ApplicationID string `koanf:"application_id"`

	// SigningDomain is the hostname the signing certificate must cover.
	SigningDomain string `koanf:"signing_domain"`

	// ChainHost, ChainPort, and ChainPathPrefix pin the published location of
	// the signing-certificate chain document.
	ChainHost       string `koanf:"chain_host"`
	ChainPort       int    `koanf:"chain_port"`
	ChainPathPrefix string `koanf:"chain_path_prefix"`

	// TrustedRootsPath is a PEM bundle of trusted roots. Empty means the
	// system root store.
	TrustedRootsPath string `koanf:"trusted_roots_path"`

	// Algorithms is the allow-list of body-signature hash algorithms.
	// Supported values: "sha1-rsa", "sha256-rsa".
	Algorithms []string `koanf:"algorithms"`

	// TimestampToleranceSeconds is the allowed clock skew, boundary inclusive.
	TimestampToleranceSeconds int `koanf:"timestamp_tolerance_seconds"`

	// FetchTimeoutSeconds bounds the chain document fetch.
	FetchTimeoutSeconds int `koanf:"fetch_timeout_seconds"`

	// MaxChainDepth bounds the certificate chain length, leaf included.
	MaxChainDepth int `koanf:"max_chain_depth"`
}

type AuditConfig struct {
	// Type selects the sink: "sqlite" or "memory".
	Type string `koanf:"type"`

	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func Load() (*Config, error) {
	k := koanf.New(".")

	// Try to load from config.yaml file first
	if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("VOICEGATE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "VOICEGATE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	defaults := map[string]any{
		"server.port":                          8080,
		"platform.signing_domain":              "echo-api.amazon.com",
		"platform.chain_host":                  "s3.amazonaws.com",
		"platform.chain_port":                  443,
		"platform.chain_path_prefix":           "/echo.api/",
		"platform.timestamp_tolerance_seconds": 150,
		"platform.fetch_timeout_seconds":       5,
		"platform.max_chain_depth":             5,
		"audit.type":                           "memory",
		"audit.sqlite.path":                    "./data/audit.db",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
	if !k.Exists("platform.algorithms") {
		k.Set("platform.algorithms", []string{"sha1-rsa"})
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute environment variables in the application id so it can live
	// in the environment rather than the config file
	cfg.Platform.ApplicationID = substituteEnvVars(cfg.Platform.ApplicationID)

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
