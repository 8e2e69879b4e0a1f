package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all agent configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	MAVLink MAVLinkConfig `yaml:"mavlink"`
	Relay   RelayConfig   `yaml:"relay"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// MAVLinkConfig holds the serial link defaults used to reach the autopilot.
type MAVLinkConfig struct {
	Device         string `yaml:"device"`
	Baud           int    `yaml:"baud"`
	ConnectOnStart bool   `yaml:"connect_on_start"`
}

// RelayConfig configures the optional realtime relay connection.
type RelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			CORSOrigins: []string{
				"http://localhost:5173",
				"http://localhost:3000",
			},
		},
		MAVLink: MAVLinkConfig{
			Device:         "/dev/serial0",
			Baud:           921600,
			ConnectOnStart: false,
		},
		Relay: RelayConfig{
			Enabled: false,
			URL:     "",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFile overlays YAML configuration from path onto cfg. A missing file is
// not an error: the agent is expected to run from defaults and environment
// variables alone.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.MAVLink.Baud <= 0 {
		return fmt.Errorf("invalid baud rate: %d", c.MAVLink.Baud)
	}

	return nil
}

// Addr returns the HTTP bind address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
