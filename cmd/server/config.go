package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/mikekulinski/zkasync/pkg/server"
)

const (
	defaultAddr = ":8080"
)

type config struct {
	Addr           string        `yaml:"addr"`
	Journal        string        `yaml:"journal"`
	ReadOnly       bool          `yaml:"read_only"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	Development    bool          `yaml:"development"`
}

func defaultConfig() config {
	return config{
		Addr:           defaultAddr,
		SessionTimeout: server.DefaultSessionTimeout,
	}
}

// loadConfig reads path on top of the defaults. An empty path keeps them.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return config{}, fmt.Errorf("error opening config: %w", err)
	}
	defer f.Close()
	return decodeConfig(f, cfg)
}

func decodeConfig(r io.Reader, cfg config) (config, error) {
	err := yaml.NewDecoder(r).Decode(&cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return config{}, fmt.Errorf("error decoding config: %w", err)
	}
	if cfg.SessionTimeout <= 0 {
		return config{}, fmt.Errorf("session_timeout must be positive, got %s", cfg.SessionTimeout)
	}
	return cfg, nil
}
