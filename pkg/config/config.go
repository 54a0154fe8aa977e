// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the overlay agent.
type Config struct {
	LogLevel string        `yaml:"log_level" env:"OVERLAY_LOG_LEVEL"`
	LogFile  string        `yaml:"log_file" env:"OVERLAY_LOG_FILE"`
	Present  PresentConfig `yaml:"present"`
	Host     HostConfig    `yaml:"host"`
	Overlay  OverlayConfig `yaml:"overlay"`
	Health   HealthConfig  `yaml:"health"`
}

// PresentConfig locates the present function. Address wins over
// Module+Offset when both are set.
type PresentConfig struct {
	Address string `yaml:"address" env:"OVERLAY_PRESENT_ADDRESS"` // e.g. "0x7FFB12345670"
	Module  string `yaml:"module" env:"OVERLAY_PRESENT_MODULE"`   // e.g. "dxgi.dll"
	Offset  string `yaml:"offset" env:"OVERLAY_PRESENT_OFFSET"`   // hex or decimal, relative to module base
}

// HostConfig restricts which processes the agent is willing to hook.
type HostConfig struct {
	ProcessNames []string `yaml:"process_names"` // empty = any
}

type OverlayConfig struct {
	SoftwareCursor bool          `yaml:"software_cursor"`
	IDScopes       bool          `yaml:"id_scopes"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
}

// HealthConfig configures the health HTTP server.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" env:"OVERLAY_HEALTH_ADDR"` // e.g. "127.0.0.1:8687"
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, then applies env overrides and
// validates.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LogFile:  "overlay.log",
		Overlay: OverlayConfig{
			SoftwareCursor: true,
			IDScopes:       true,
			DrainTimeout:   2 * time.Second,
		},
		Health: HealthConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8687",
		},
	}
}

// ApplyEnvOverrides reads OVERLAY_* environment variables and applies them
// to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"OVERLAY_LOG_LEVEL":       func(v string) { c.LogLevel = v },
		"OVERLAY_LOG_FILE":        func(v string) { c.LogFile = v },
		"OVERLAY_PRESENT_ADDRESS": func(v string) { c.Present.Address = v },
		"OVERLAY_PRESENT_MODULE":  func(v string) { c.Present.Module = v },
		"OVERLAY_PRESENT_OFFSET":  func(v string) { c.Present.Offset = v },
		"OVERLAY_HEALTH_ADDR":     func(v string) { c.Health.Addr = v },
		"OVERLAY_HOST_PROCESS_NAMES": func(v string) {
			c.Host.ProcessNames = splitList(v)
		},
	}

	boolOverrides := map[string]*bool{
		"OVERLAY_SOFTWARE_CURSOR": &c.Overlay.SoftwareCursor,
		"OVERLAY_ID_SCOPES":       &c.Overlay.IDScopes,
		"OVERLAY_HEALTH_ENABLED":  &c.Health.Enabled,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}

	if val := os.Getenv("OVERLAY_DRAIN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			c.Overlay.DrainTimeout = d
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseUint accepts "0x"-prefixed hex or decimal.
func ParseUint(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.ParseUint(s, 0, 64)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}

	p := c.Present
	switch {
	case p.Address != "":
		v, err := ParseUint(p.Address)
		if err != nil {
			return fmt.Errorf("present.address: %w", err)
		}
		if v == 0 {
			return fmt.Errorf("present.address must be non-zero")
		}
	case p.Module != "":
		if p.Offset == "" {
			return fmt.Errorf("present.offset is required with present.module")
		}
		if _, err := ParseUint(p.Offset); err != nil {
			return fmt.Errorf("present.offset: %w", err)
		}
	default:
		return fmt.Errorf("present.address or present.module is required")
	}

	if c.Overlay.DrainTimeout < time.Millisecond {
		return fmt.Errorf("overlay.drain_timeout must be at least 1ms")
	}

	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr is required when health is enabled")
	}

	return nil
}
