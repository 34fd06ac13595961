package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds shared defaults for dynomizer commands.
// Loaded from dynomizer.yaml if present.
type Config struct {
	// Models is the glob pattern for model YAML files.
	Models string `yaml:"models"`

	// StateTable is the DynamoDB table holding migration-state records.
	StateTable string `yaml:"stateTable"`

	// StateDir switches migration state to a local BadgerDB directory
	// instead of StateTable. Development use.
	StateDir string `yaml:"stateDir"`

	// Region overrides the AWS region.
	Region string `yaml:"region"`
}

// LoadConfig searches for dynomizer.yaml starting from the current
// directory and walking up to the filesystem root. Returns empty config
// if not found.
func LoadConfig() Config {
	var cfg Config

	configPath := findConfigFile()
	if configPath == "" {
		return cfg
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}

	_ = yaml.Unmarshal(data, &cfg)
	return cfg
}

// findConfigFile searches for dynomizer.yaml walking up from current directory.
func findConfigFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, "dynomizer.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return ""
		}
		dir = parent
	}
}
