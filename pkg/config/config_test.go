// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

const minimal = "present:\n  address: \"0x7FFB00001000\"\n"

func TestDefaultConfigNeedsPresent(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Overlay.SoftwareCursor || !cfg.Overlay.IDScopes {
		t.Error("cursor policy and id scopes should default to on")
	}
	if err := cfg.Validate(); err == nil {
		t.Error("default config validated without a present location")
	}
}

func TestParseAddress(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v, err := ParseUint(cfg.Present.Address)
	if err != nil || v != 0x7FFB00001000 {
		t.Errorf("address = %#x, %v", v, err)
	}
	if cfg.Overlay.DrainTimeout != 2*time.Second {
		t.Errorf("drain_timeout = %v, want default 2s", cfg.Overlay.DrainTimeout)
	}
}

func TestParseFull(t *testing.T) {
	data := `
log_level: debug
log_file: C:\overlay\overlay.log
present:
  module: dxgi.dll
  offset: "0x1A2B0"
host:
  process_names: [game.exe, launcher.exe]
overlay:
  software_cursor: false
  id_scopes: false
  drain_timeout: 500ms
health:
  enabled: true
  addr: 127.0.0.1:9000
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Present.Module != "dxgi.dll" || cfg.Present.Offset != "0x1A2B0" {
		t.Errorf("present = %+v", cfg.Present)
	}
	if len(cfg.Host.ProcessNames) != 2 {
		t.Errorf("process_names = %v", cfg.Host.ProcessNames)
	}
	if cfg.Overlay.SoftwareCursor || cfg.Overlay.IDScopes {
		t.Errorf("overlay = %+v", cfg.Overlay)
	}
	if cfg.Overlay.DrainTimeout != 500*time.Millisecond {
		t.Errorf("drain_timeout = %v", cfg.Overlay.DrainTimeout)
	}
	if !cfg.Health.Enabled || cfg.Health.Addr != "127.0.0.1:9000" {
		t.Errorf("health = %+v", cfg.Health)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero address", "present: {address: \"0\"}", "non-zero"},
		{"bad address", "present: {address: \"0xZZ\"}", "present.address"},
		{"module without offset", "present: {module: dxgi.dll}", "present.offset"},
		{"bad log level", minimal + "log_level: loud\n", "log_level"},
		{"tiny drain", minimal + "overlay: {drain_timeout: 1us}\n", "drain_timeout"},
		{"health without addr", minimal + "health: {enabled: true, addr: \"\"}\n", "health.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OVERLAY_LOG_LEVEL", "warn")
	t.Setenv("OVERLAY_PRESENT_ADDRESS", "4096")
	t.Setenv("OVERLAY_SOFTWARE_CURSOR", "no")
	t.Setenv("OVERLAY_DRAIN_TIMEOUT", "3s")
	t.Setenv("OVERLAY_HOST_PROCESS_NAMES", "game.exe, ,other.exe")

	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.Present.Address != "4096" {
		t.Errorf("address = %q", cfg.Present.Address)
	}
	if cfg.Overlay.SoftwareCursor {
		t.Error("software_cursor override ignored")
	}
	if cfg.Overlay.DrainTimeout != 3*time.Second {
		t.Errorf("drain_timeout = %v", cfg.Overlay.DrainTimeout)
	}
	if got := cfg.Host.ProcessNames; len(got) != 2 || got[1] != "other.exe" {
		t.Errorf("process_names = %v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")
	if err := os.WriteFile(path, []byte(minimal), 0o644); err != nil {
		t.Fatal(err)
	}

	got := make(chan *Config, 4)
	w := NewWatcher(path, func(c *Config) { got <- c }, zap.NewNop())
	w.debounce = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	// Unrelated files in the directory are ignored.
	os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644)

	if err := os.WriteFile(path, []byte(minimal+"log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.LogLevel != "debug" {
			t.Errorf("reloaded log_level = %q, want debug", c.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
}

func TestWatcherKeepsConfigOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")
	os.WriteFile(path, []byte(minimal), 0o644)

	called := make(chan struct{}, 1)
	w := NewWatcher(path, func(*Config) { called <- struct{}{} }, zap.NewNop())
	w.debounce = 10 * time.Millisecond
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	os.WriteFile(path, []byte("present: {address: \"0\"}\n"), 0o644)

	select {
	case <-called:
		t.Error("onChange called with an invalid config")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherStopTwice(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "overlay.yaml"), func(*Config) {}, zap.NewNop())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop()
	w.Stop()
}
