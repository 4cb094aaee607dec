package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the defaults file of jobctl:
//
//	server: http://localhost:8081
//	transport: connect
//	executor: {type: async, pool: gpu}
//	storage: {type: local}
//	poll_interval: 10s
//	timeout: 2h
//	terminate_on_timeout: true
type ClientConfig struct {
	Server             string         `yaml:"server"`
	Transport          string         `yaml:"transport"`
	Executor           map[string]any `yaml:"executor"`
	Storage            map[string]any `yaml:"storage"`
	PollInterval       time.Duration  `yaml:"poll_interval"`
	Timeout            time.Duration  `yaml:"timeout"`
	TerminateOnTimeout bool           `yaml:"terminate_on_timeout"`
}

const (
	TransportConnect   = "connect"
	TransportWebsocket = "ws"
)

// DefaultClientConfig is used when no file is given.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Server:       "http://localhost:8081",
		Transport:    TransportConnect,
		PollInterval: 10 * time.Second,
	}
}

// LoadClientConfig reads path over the defaults. An empty path returns the
// defaults.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	switch cfg.Transport {
	case TransportConnect, TransportWebsocket:
	default:
		return nil, fmt.Errorf("%s: unknown transport %q", path, cfg.Transport)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("%s: poll_interval must be positive", path)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("%s: timeout must not be negative", path)
	}
	return cfg, nil
}
