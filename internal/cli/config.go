// Package cli provides shared configuration and utilities for the pgink CLI.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	maxWalkDepth = 25
)

// Config represents the pgink configuration from pgink.yaml.
type Config struct {
	// Manifest is the entity manifest path.
	Manifest string `mapstructure:"manifest"`

	// DefaultSchema is the namespace that needs no qualifying prefix.
	DefaultSchema string `mapstructure:"default_schema"`

	// ModulePathname is the shared-object path emitted in AS clauses.
	ModulePathname string `mapstructure:"module_pathname"`

	// Per-command configuration
	Generate GenerateConfig `mapstructure:"generate"`
}

// GenerateConfig holds generation settings.
type GenerateConfig struct {
	// Output is the DDL script path; "-" writes to stdout.
	Output string `mapstructure:"output"`
	// WrapperDir receives generated trigger wrapper sources; empty
	// disables wrapper generation.
	WrapperDir string `mapstructure:"wrapper_dir"`
	// WrapperPackage is the package name of generated wrappers.
	WrapperPackage string `mapstructure:"wrapper_package"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none
// found), and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	// 1. Set defaults first (lowest precedence)
	setDefaults(v)

	// 2. Set up environment variable binding
	v.SetEnvPrefix("PGINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Find and load config file
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("manifest", "pgink.manifest.yaml")
	v.SetDefault("default_schema", "")
	v.SetDefault("module_pathname", "MODULE_PATHNAME")

	v.SetDefault("generate.output", "pgink.sql")
	v.SetDefault("generate.wrapper_dir", "")
	v.SetDefault("generate.wrapper_package", "main")
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for pgink.yaml or pgink.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	// Auto-discovery: walk up to .git or maxWalkDepth
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		// Try pgink.yaml then pgink.yml
		for _, name := range []string{"pgink.yaml", "pgink.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		// Check for repo boundary (.git file or directory)
		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			break // Stop at repo root
		}

		// Move up
		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached filesystem root
		}
		dir = parent
	}

	return "", nil // No config found, use defaults
}
