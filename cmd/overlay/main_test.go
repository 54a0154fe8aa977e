// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mbeema/overlay/pkg/overlay"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.log")
	l, level, err := newLogger("warn", path)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown")
	level.SetLevel(zapcore.DebugLevel)
	l.Debug("after reload")
	l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Error("info logged at warn level")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "after reload") {
		t.Errorf("log file missing entries:\n%s", out)
	}
}

func TestLoadConfigFromEnvOnly(t *testing.T) {
	t.Setenv("OVERLAY_PRESENT_ADDRESS", "0x1000")
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Present.Address != "0x1000" {
		t.Errorf("address = %q", cfg.Present.Address)
	}
}

func TestLogPath(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "x.log")
	if got := logPath(abs); got != abs {
		t.Errorf("logPath(%q) = %q", abs, got)
	}
	if got := logPath("stderr"); got != "stderr" {
		t.Errorf("logPath(stderr) = %q", got)
	}
	if got := logPath("overlay.log"); !filepath.IsAbs(got) {
		t.Errorf("relative log path not anchored: %q", got)
	}
}

func TestShutdownCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"clean", nil, 0},
		{"drain timeout", fmt.Errorf("close: %w", overlay.ErrDrainTimeout), 1},
		{"scene release failed", errors.New("close scene: device removed"), 0},
	}
	for _, tt := range tests {
		if got := shutdownCode(tt.err); got != tt.want {
			t.Errorf("%s: shutdownCode = %d, want %d", tt.name, got, tt.want)
		}
	}
}
