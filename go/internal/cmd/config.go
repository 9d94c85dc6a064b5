package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// duration parses YAML "30s" / "15m" strings into a time.Duration.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

// Config is the gateway's YAML configuration. Environment variables override
// the file for the values deployments most often change.
type Config struct {
	Server struct {
		Port         string   `yaml:"port"`
		ReadTimeout  duration `yaml:"read_timeout"`
		WriteTimeout duration `yaml:"write_timeout"`
		IdleTimeout  duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	NATS struct {
		URL           string `yaml:"url"`
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Rooms struct {
		Retention     duration `yaml:"retention"`
		SweepInterval duration `yaml:"sweep_interval"`
	} `yaml:"rooms"`

	// Auth maps connect tokens to participant IDs. Development only; a real
	// deployment swaps in a JWT validator.
	Auth struct {
		Tokens map[string]uuid.UUID `yaml:"tokens"`
	} `yaml:"auth"`
}

func defaultConfig() *Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Server.ReadTimeout = duration(10 * time.Second)
	cfg.Server.WriteTimeout = duration(10 * time.Second)
	cfg.Server.IdleTimeout = duration(120 * time.Second)
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.StreamName = "DRAFT_ROOM_EVENTS"
	cfg.NATS.SubjectPrefix = "draft.rooms"
	cfg.Rooms.Retention = duration(15 * time.Minute)
	cfg.Rooms.SweepInterval = duration(time.Minute)
	return &cfg
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
