// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mbeema/overlay/pkg/config"
	"github.com/mbeema/overlay/pkg/health"
	"github.com/mbeema/overlay/pkg/hook"
	"github.com/mbeema/overlay/pkg/host"
	"github.com/mbeema/overlay/pkg/overlay"
	"github.com/mbeema/overlay/pkg/resolve"
	"github.com/mbeema/overlay/pkg/scene"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrHostNotAllowed is returned by Start when the host process is not on
// the configured allow-list. Nothing is hooked.
var ErrHostNotAllowed = errors.New("agent: host process not allowed")

// Agent wires config, the present interceptor and the health server
// together for one host process.
type Agent struct {
	cfg    atomic.Pointer[config.Config]
	logger *zap.Logger
	level  zap.AtomicLevel

	engine   hook.Engine
	factory  scene.Factory
	ui       scene.UI
	identify func() (host.Info, error)
	version  string

	stats        *health.Stats
	interceptor  *overlay.Interceptor
	healthServer *health.Server

	mu      sync.Mutex
	started bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithEngine replaces the native inline hook engine.
func WithEngine(e hook.Engine) Option {
	return func(a *Agent) { a.engine = e }
}

// WithScene sets the UI backend and the factory that binds it to the
// host's swap chain.
func WithScene(factory scene.Factory, ui scene.UI) Option {
	return func(a *Agent) {
		a.factory = factory
		a.ui = ui
	}
}

// WithLevel hands the agent the level of its logger so reloads can change
// it in place.
func WithLevel(level zap.AtomicLevel) Option {
	return func(a *Agent) { a.level = level }
}

// WithHostLookup replaces host.Identify.
func WithHostLookup(fn func() (host.Info, error)) Option {
	return func(a *Agent) { a.identify = fn }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(a *Agent) { a.version = v }
}

// New creates an agent. Nothing touches the host until Start.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("agent: nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{
		logger:   logger,
		level:    zap.NewAtomicLevel(),
		engine:   hook.Native{},
		identify: host.Identify,
		version:  "dev",
		stats:    health.NewStats(),
	}
	headless := scene.NewHeadless()
	a.factory, a.ui = headless.NewScene, headless
	for _, opt := range opts {
		opt(a)
	}
	a.cfg.Store(cfg)
	return a, nil
}

// Config returns the active configuration.
func (a *Agent) Config() *config.Config { return a.cfg.Load() }

// Stats returns the frame counters.
func (a *Agent) Stats() *health.Stats { return a.stats }

// Overlay returns the interceptor once Start has succeeded, nil before.
func (a *Agent) Overlay() *overlay.Interceptor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interceptor
}

// HealthAddr returns the health server's listening address, or "" when
// the server is disabled.
func (a *Agent) HealthAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.healthServer == nil {
		return ""
	}
	return a.healthServer.Addr()
}

// Start checks the host, hooks present and brings up the health server.
// Any failure before the hook is enabled leaves the host untouched.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("agent: already started")
	}
	cfg := a.cfg.Load()

	info, err := a.identify()
	if err != nil {
		return fmt.Errorf("identify host: %w", err)
	}
	if !host.Allowed(info, cfg.Host.ProcessNames) {
		a.logger.Warn("host process not in allow-list, staying dormant",
			zap.String("process", info.Name),
			zap.Strings("allowed", cfg.Host.ProcessNames),
		)
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, info.Name)
	}
	a.logger.Info("attached to host",
		zap.Int32("pid", info.PID),
		zap.String("process", info.Name),
		zap.String("exe", info.Exe),
	)

	resolver, err := resolverFor(cfg.Present)
	if err != nil {
		return err
	}

	ic, err := overlay.New(resolver, a.engine, a.factory, a.ui,
		overlay.WithLogger(a.logger.Named("overlay")),
		overlay.WithStats(a.stats),
		overlay.WithSoftwareCursor(cfg.Overlay.SoftwareCursor),
		overlay.WithIDScopes(cfg.Overlay.IDScopes),
		overlay.WithDrainTimeout(cfg.Overlay.DrainTimeout),
	)
	if err != nil {
		return err
	}

	if cfg.Health.Enabled {
		srv := health.NewServer(cfg.Health.Addr, a.version, a.stats, a.logger.Named("health"))
		srv.SetStateFunc(func() string { return ic.State().String() })
		if err := srv.Start(ctx); err != nil {
			a.logger.Warn("health server failed to start", zap.Error(err))
		} else {
			a.healthServer = srv
		}
	}

	if err := ic.Enable(); err != nil {
		closeErr := ic.Close(ctx)
		if a.healthServer != nil {
			closeErr = multierr.Append(closeErr, a.healthServer.Stop())
			a.healthServer = nil
		}
		return multierr.Append(err, closeErr)
	}
	a.interceptor = ic
	if a.healthServer != nil {
		a.healthServer.SetReady(true)
	}
	a.started = true

	a.logger.Info("overlay agent started",
		zap.Stringer("present", ic.Address()),
		zap.Bool("software_cursor", cfg.Overlay.SoftwareCursor),
		zap.Bool("id_scopes", cfg.Overlay.IDScopes),
	)
	return nil
}

// Stop removes the hook and stops the health server. If presents are
// still in flight the hook stays in place, the error wraps
// overlay.ErrDrainTimeout and Stop may be called again.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}

	if a.healthServer != nil {
		a.healthServer.SetReady(false)
	}

	err := a.interceptor.Close(ctx)
	switch {
	case errors.Is(err, overlay.ErrDrainTimeout):
		return err
	case errors.Is(err, overlay.ErrDisposed):
		err = nil
	case err != nil:
		// The hook is gone; only release errors remain.
		a.logger.Warn("overlay closed with errors", zap.Error(err))
	}
	err = multierr.Append(err, a.stopHealth())
	a.started = false

	snap := a.stats.Snapshot()
	a.logger.Info("agent stopped",
		zap.Int64("frames_intercepted", snap.FramesIntercepted),
		zap.Int64("frames_rendered", snap.FramesRendered),
		zap.Int64("callback_failures", snap.CallbackFailures),
	)
	return err
}

func (a *Agent) stopHealth() error {
	if a.healthServer == nil {
		return nil
	}
	err := a.healthServer.Stop()
	a.healthServer = nil
	return err
}

// Reload applies a new configuration. The log level, cursor policy and
// identifier scoping take effect on the next frame; present location and
// health changes are logged and need a restart.
func (a *Agent) Reload(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("agent: nil config")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err != nil {
		return fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}

	old := a.cfg.Load()
	a.cfg.Store(cfg)
	a.level.SetLevel(lvl)

	if a.interceptor != nil {
		a.interceptor.SetSoftwareCursor(cfg.Overlay.SoftwareCursor)
		a.interceptor.SetIDScopes(cfg.Overlay.IDScopes)
	}

	if old.Present != cfg.Present {
		a.logger.Warn("present location changed, restart to apply")
	}
	if old.Health != cfg.Health {
		a.logger.Warn("health settings changed, restart to apply")
	}

	a.logger.Info("configuration reloaded",
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("software_cursor", cfg.Overlay.SoftwareCursor),
		zap.Bool("id_scopes", cfg.Overlay.IDScopes),
	)
	return nil
}

// resolverFor turns the present section into a resolver. An explicit
// address wins over module+offset.
func resolverFor(p config.PresentConfig) (resolve.Resolver, error) {
	if p.Address != "" {
		v, err := parseAddr(p.Address)
		if err != nil {
			return nil, fmt.Errorf("present.address: %w", err)
		}
		return resolve.Static(v), nil
	}
	if p.Module != "" {
		off, err := parseAddr(p.Offset)
		if err != nil {
			return nil, fmt.Errorf("present.offset: %w", err)
		}
		return resolve.Module{Name: p.Module, Offset: off}, nil
	}
	return nil, fmt.Errorf("%w: no present location configured", resolve.ErrNotFound)
}

// parseAddr parses s and rejects values that do not fit a pointer on this
// architecture.
func parseAddr(s string) (uintptr, error) {
	v, err := config.ParseUint(s)
	if err != nil {
		return 0, err
	}
	if v > uint64(^uintptr(0)) {
		return 0, fmt.Errorf("%s does not fit in a %d-bit address", s, strconv.IntSize)
	}
	return uintptr(v), nil
}
