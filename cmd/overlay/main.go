// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Command overlay builds the injectable library:
//
//	go build -buildmode=c-shared -o overlay.dll ./cmd/overlay
//
// Loading the library starts the agent in the background. The host (or
// the injector) calls OverlayShutdown before unloading it.
package main

import "C"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mbeema/overlay/pkg/agent"
	"github.com/mbeema/overlay/pkg/config"
	"github.com/mbeema/overlay/pkg/overlay"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

var (
	mu      sync.Mutex
	running *agent.Agent
	watcher *config.Watcher
	logger  = zap.NewNop()
	cancel  context.CancelFunc = func() {}
	booted  = make(chan struct{})
)

func init() {
	// The loader lock is held while init runs; do the work elsewhere.
	go func() {
		defer close(booted)
		if err := boot(); err != nil {
			logger.Error("overlay agent not started", zap.Error(err))
			fmt.Fprintf(os.Stderr, "overlay: %v\n", err)
		}
	}()
}

func main() {}

func boot() error {
	path := configPath()
	cfg, err := loadConfig(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	l, level, err := newLogger(cfg.LogLevel, logPath(cfg.LogFile))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	l.Info("starting overlay agent",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("built", buildDate),
		zap.String("config", path),
	)

	a, err := agent.New(cfg, l, agent.WithLevel(level), agent.WithVersion(version))
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		stop()
		l.Error("failed to start agent", zap.Error(err))
		l.Sync()
		return err
	}

	var w *config.Watcher
	if _, err := os.Stat(path); err == nil {
		w = config.NewWatcher(path, func(newCfg *config.Config) {
			if err := a.Reload(newCfg); err != nil {
				l.Error("failed to apply reloaded config", zap.Error(err))
			}
		}, l)
		if err := w.Start(ctx); err != nil {
			l.Warn("config watcher not started", zap.Error(err))
			w = nil
		}
	}

	mu.Lock()
	logger, running, watcher, cancel = l, a, w, stop
	mu.Unlock()
	return nil
}

// OverlayShutdown removes the present hook. It returns 0 once the hook is
// gone and the library may be unloaded, 1 if presents were still in
// flight (call again), and 2 if the agent never started. Errors releasing
// the scene after the hook is gone are logged and still return 0.
//
//export OverlayShutdown
func OverlayShutdown() C.int {
	<-booted

	mu.Lock()
	defer mu.Unlock()
	if running == nil {
		return 2
	}

	if watcher != nil {
		watcher.Stop()
		watcher = nil
	}

	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	err := running.Stop(ctx)
	code := shutdownCode(err)
	if err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
	if code != 0 {
		logger.Sync()
		return C.int(code)
	}

	cancel()
	logger.Info("overlay agent stopped")
	logger.Sync()
	running = nil
	return 0
}

// shutdownCode maps an agent Stop error to OverlayShutdown's result. Only a
// drain timeout leaves the hook in place and is worth retrying.
func shutdownCode(err error) int {
	if errors.Is(err, overlay.ErrDrainTimeout) {
		return 1
	}
	return 0
}

// configPath returns $OVERLAY_CONFIG, or overlay.yaml next to the host
// executable.
func configPath() string {
	if p := os.Getenv("OVERLAY_CONFIG"); p != "" {
		return p
	}
	return besideExe("overlay.yaml")
}

// loadConfig reads path if it exists. Without a file the defaults plus
// OVERLAY_* overrides must be enough to locate present.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err == nil {
		return config.Load(path)
	}
	return config.Parse(nil)
}

func logPath(p string) string {
	if p == "" || p == "stderr" || filepath.IsAbs(p) {
		return p
	}
	return besideExe(p)
}

func besideExe(name string) string {
	exe, err := os.Executable()
	if err != nil {
		return name
	}
	return filepath.Join(filepath.Dir(exe), name)
}

func newLogger(level, path string) (*zap.Logger, zap.AtomicLevel, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	if path == "" {
		path = "stderr"
	}
	atom := zap.NewAtomicLevelAt(zapLevel)
	cfg := zap.Config{
		Level:            atom,
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{path},
		ErrorOutputPaths: []string{path},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	l, err := cfg.Build()
	return l, atom, err
}
