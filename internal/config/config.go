// Package config loads the agent's settings from the environment and its
// destination list from an optional YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Address          string `env:"EVENTFAN_ADDRESS" envDefault:"127.0.0.1:8123"`
	DataDir          string `env:"EVENTFAN_DATA_DIR"`
	DestinationsFile string `env:"EVENTFAN_DESTINATIONS_FILE"`
	LogLevel         string `env:"EVENTFAN_LOG_LEVEL" envDefault:"info"`
	OTelEndpoint     string `env:"EVENTFAN_OTEL_ENDPOINT"`
	OTelEnabled      bool   `env:"EVENTFAN_OTEL_ENABLED" envDefault:"true"`
	// DefaultTitle and DefaultURL describe the host page for page calls
	// that arrive without one.
	DefaultTitle string `env:"EVENTFAN_DEFAULT_TITLE"`
	DefaultURL   string `env:"EVENTFAN_DEFAULT_URL"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses Config from the environment and fills in the data directory.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.DataDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return Config{}, err
		}
		cfg.DataDir = dir
	}
	return cfg, nil
}

// defaultDataDir returns the platform-specific app data directory.
func defaultDataDir() (string, error) {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDirectory, "Library", "Application Support", "EventFan"), nil
	case "windows":
		return filepath.Join(homeDirectory, "AppData", "Roaming", "EventFan"), nil
	default: // linux and others
		return filepath.Join(homeDirectory, ".local", "share", "EventFan"), nil
	}
}

// Destination declares one destination in the destinations file. Webhook
// and drip destinations need Endpoint; a warehouse needs Path, resolved
// against the data directory when relative.
type Destination struct {
	Type     string `yaml:"type"`
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	Path     string `yaml:"path"`
}

type destinationsFile struct {
	Destinations []Destination `yaml:"destinations"`
}

// builtinWarehouse names the warehouse the agent always runs in the data
// directory. Declared destinations cannot reuse it.
const builtinWarehouse = "warehouse"

var destinationTypes = map[string]bool{
	"warehouse": true,
	"webhook":   true,
	"drip":      true,
}

// LoadDestinations reads the destinations file at path. An empty path
// yields no destinations.
func LoadDestinations(path string) ([]Destination, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read destinations file: %w", err)
	}
	return ParseDestinations(data)
}

func ParseDestinations(data []byte) ([]Destination, error) {
	var file destinationsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse destinations file: %w", err)
	}

	seen := map[string]bool{builtinWarehouse: true}
	for i, d := range file.Destinations {
		if !destinationTypes[d.Type] {
			return nil, fmt.Errorf("destination %d: unknown type %q", i+1, d.Type)
		}
		switch {
		case d.Type == "warehouse" && d.Path == "":
			return nil, fmt.Errorf("destination %d: path is required", i+1)
		case d.Type != "warehouse" && d.Endpoint == "":
			return nil, fmt.Errorf("destination %d: endpoint is required", i+1)
		}
		if d.Name == "" {
			file.Destinations[i].Name = d.Type
		}
		name := file.Destinations[i].Name
		if seen[name] {
			return nil, fmt.Errorf("destination %d: duplicate name %q", i+1, name)
		}
		seen[name] = true
	}
	return file.Destinations, nil
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
