package config

import (
	"log"
	"os"
	"strconv"
)

// Load builds a Config from defaults, an optional YAML file, and environment
// variables, in that order of precedence (env wins).
func Load(yamlPath string) *Config {
	cfg := Default()

	if yamlPath != "" {
		if err := LoadFile(cfg, yamlPath); err != nil {
			log.Printf("config: %v, continuing with defaults/env", err)
		}
	}

	if port := os.Getenv("AGENT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if host := os.Getenv("AGENT_HOST"); host != "" {
		cfg.Server.Host = host
	}

	if logLevel := os.Getenv("AGENT_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if device := os.Getenv("AGENT_MAVLINK_DEVICE"); device != "" {
		cfg.MAVLink.Device = device
	}

	if baud := os.Getenv("AGENT_MAVLINK_BAUD"); baud != "" {
		if b, err := strconv.Atoi(baud); err == nil {
			cfg.MAVLink.Baud = b
		}
	}

	if relayURL := os.Getenv("AGENT_RELAY_URL"); relayURL != "" {
		cfg.Relay.URL = relayURL
		cfg.Relay.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	return cfg
}
