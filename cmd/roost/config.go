package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration file (roost.yaml)
type Config struct {
	ListenAddr string    `yaml:"listen_addr"`
	DataDir    string    `yaml:"data_dir"`
	Log        LogConfig `yaml:"log"`
}

// LogConfig controls log output
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func defaultConfig() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:7433",
		DataDir:    "/var/lib/roost",
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// loadConfig reads the yaml config at path, falling back to defaults for
// absent fields. An empty path returns the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultConfig().ListenAddr
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultConfig().DataDir
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return cfg, nil
}
