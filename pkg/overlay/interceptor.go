// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbeema/overlay/pkg/health"
	"github.com/mbeema/overlay/pkg/hook"
	"github.com/mbeema/overlay/pkg/resolve"
	"github.com/mbeema/overlay/pkg/scene"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrDisposed is returned by operations on a closed interceptor.
	ErrDisposed = errors.New("overlay: interceptor disposed")
	// ErrDrainTimeout means detours were still running when Close gave up.
	// The interceptor stays Draining and Close may be called again.
	ErrDrainTimeout = errors.New("overlay: timed out draining in-flight presents")
)

// State is the teardown state of an Interceptor.
type State int32

const (
	StateActive State = iota
	StateDraining
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Interceptor owns the present hook and the scene bound to the host's
// swap chain.
type Interceptor struct {
	logger  *zap.Logger
	stats   *health.Stats
	addr    resolve.Address
	hook    hook.Hook
	factory scene.Factory
	ui      scene.UI

	*Registry

	softwareCursor atomic.Bool
	idScopes       atomic.Bool
	drainTimeout   time.Duration

	state      atomic.Int32
	generation atomic.Uint64
	inflight   atomic.Int64
	enabled    atomic.Bool

	// lifecycle serializes Enable, Disable and Close.
	lifecycle sync.Mutex

	sceneOnce sync.Once
	scene     scene.Scene // guarded by renderMu
	sceneGen  uint64      // guarded by renderMu
	bound     atomic.Uintptr
	hasScene  atomic.Bool
	sceneErr  atomic.Pointer[errBox]

	// renderMu serializes Render and the scene release in Close. A UI
	// context is not safe to drive from two threads at once.
	renderMu sync.Mutex

	foreignMu sync.Mutex
	foreign   map[hook.SwapChain]struct{}
}

// New resolves the present address and installs a disabled hook on it.
// The host is unaffected until Enable.
func New(resolver resolve.Resolver, engine hook.Engine, factory scene.Factory, ui scene.UI, opts ...Option) (*Interceptor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if engine == nil || factory == nil || ui == nil {
		return nil, errors.New("overlay: engine, scene factory and ui are required")
	}
	if o.stats == nil {
		o.stats = health.NewStats()
	}

	addr, err := resolve.Check(resolver)
	if err != nil {
		return nil, fmt.Errorf("resolve present: %w", err)
	}
	o.logger.Info("present address resolved", zap.Stringer("present", addr))

	i := &Interceptor{
		logger:       o.logger,
		stats:        o.stats,
		addr:         addr,
		factory:      factory,
		ui:           ui,
		drainTimeout: o.drainTimeout,
		foreign:      make(map[hook.SwapChain]struct{}),
	}
	i.Registry = newRegistry(func(n int) { i.stats.Subscribers.Store(int64(n)) })
	i.softwareCursor.Store(o.softwareCursor)
	i.idScopes.Store(o.idScopes)

	h, err := engine.Install(addr, i.detour)
	if err != nil {
		return nil, fmt.Errorf("install present hook at %s: %w", addr, err)
	}
	i.hook = h
	return i, nil
}

// Address returns the hooked present address.
func (i *Interceptor) Address() resolve.Address { return i.addr }

// State returns the teardown state.
func (i *Interceptor) State() State { return State(i.state.Load()) }

// Generation is bumped when draining starts.
func (i *Interceptor) Generation() uint64 { return i.generation.Load() }

// Stats returns the counters updated by the detour.
func (i *Interceptor) Stats() *health.Stats { return i.stats }

// Enabled reports whether the hook is currently redirecting present.
func (i *Interceptor) Enabled() bool { return i.enabled.Load() }

// Bound returns the swap chain the scene is bound to, if any.
func (i *Interceptor) Bound() (hook.SwapChain, bool) {
	return hook.SwapChain(i.bound.Load()), i.hasScene.Load()
}

// SetSoftwareCursor changes the cursor policy from the next frame on.
func (i *Interceptor) SetSoftwareCursor(on bool) { i.softwareCursor.Store(on) }

// SetIDScopes changes identifier scoping from the next frame on.
func (i *Interceptor) SetIDScopes(on bool) { i.idScopes.Store(on) }

// Enable redirects the host's present calls to the detour. Engine errors
// are returned as is and not retried.
func (i *Interceptor) Enable() error {
	i.lifecycle.Lock()
	defer i.lifecycle.Unlock()
	if i.State() != StateActive {
		return ErrDisposed
	}
	if err := i.hook.Enable(); err != nil {
		return fmt.Errorf("enable present hook: %w", err)
	}
	i.enabled.Store(true)
	i.logger.Info("present hook enabled", zap.Stringer("present", i.addr))
	return nil
}

// Disable restores the host's original present path. It must not race a
// present that is executing the detour.
func (i *Interceptor) Disable() error {
	i.lifecycle.Lock()
	defer i.lifecycle.Unlock()
	if i.State() == StateDisposed {
		return ErrDisposed
	}
	return i.disableLocked()
}

func (i *Interceptor) disableLocked() error {
	if !i.enabled.Load() {
		return nil
	}
	if err := i.hook.Disable(); err != nil {
		return fmt.Errorf("disable present hook: %w", err)
	}
	i.enabled.Store(false)
	i.logger.Info("present hook disabled")
	return nil
}

// Close tears the interceptor down. It starts draining, so the detour only
// forwards from here on, disables the hook, waits for in-flight detours,
// releases the scene and finally removes the hook.
//
// If detours are still running when ctx (or the drain timeout) expires,
// Close returns ErrDrainTimeout with nothing released.
func (i *Interceptor) Close(ctx context.Context) error {
	i.lifecycle.Lock()
	defer i.lifecycle.Unlock()

	switch i.State() {
	case StateDisposed:
		return ErrDisposed
	case StateActive:
		i.state.Store(int32(StateDraining))
		i.generation.Add(1)
		i.logger.Info("overlay draining", zap.Uint64("generation", i.generation.Load()))
	}

	if err := i.disableLocked(); err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.drainTimeout)
		defer cancel()
	}
	if err := i.drain(ctx); err != nil {
		i.logger.Warn("present still in flight, keeping hook and scene",
			zap.Int64("inflight", i.inflight.Load()),
			zap.Error(err),
		)
		return err
	}

	var err error
	i.renderMu.Lock()
	if i.scene != nil {
		err = multierr.Append(err, wrapErr("close scene", i.scene.Close()))
		i.scene = nil
		i.hasScene.Store(false)
	}
	i.renderMu.Unlock()

	err = multierr.Append(err, wrapErr("close present hook", i.hook.Close()))
	i.state.Store(int32(StateDisposed))
	i.logger.Info("overlay disposed", zap.Error(err))
	return err
}

func (i *Interceptor) drain(ctx context.Context) error {
	if i.inflight.Load() == 0 {
		return nil
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if i.inflight.Load() == 0 {
				return nil
			}
			return ErrDrainTimeout
		case <-ticker.C:
			if i.inflight.Load() == 0 {
				return nil
			}
		}
	}
}

// detour replaces present. It always forwards to the original with the
// arguments it received and returns the original's result.
func (i *Interceptor) detour(swapChain hook.SwapChain, syncInterval, presentFlags uint32) hook.Result {
	// Count before reading state: Close either sees this call in flight or
	// this call sees Close's state change.
	i.inflight.Add(1)
	defer i.inflight.Add(-1)
	i.stats.FramesIntercepted.Add(1)

	gen := i.generation.Load()
	if i.State() == StateActive {
		i.frame(swapChain, gen)
	} else {
		i.stats.FramesPassthrough.Add(1)
	}
	return i.hook.Original(swapChain, syncInterval, presentFlags)
}

// frame renders the overlay for one present. Nothing escapes it.
func (i *Interceptor) frame(swapChain hook.SwapChain, gen uint64) {
	defer func() {
		if r := recover(); r != nil {
			i.stats.RenderFailures.Add(1)
			i.logger.Error("overlay frame panicked", zap.Any("panic", r))
		}
	}()

	i.sceneOnce.Do(func() { i.bind(swapChain, gen) })

	i.renderMu.Lock()
	defer i.renderMu.Unlock()

	if i.scene == nil || i.sceneGen != gen || i.generation.Load() != gen {
		i.stats.FramesPassthrough.Add(1)
		return
	}
	if uintptr(swapChain) != i.bound.Load() {
		i.stats.ForeignSwapChainFrames.Add(1)
		i.stats.FramesPassthrough.Add(1)
		i.noteForeign(swapChain)
		return
	}
	if err := i.scene.Render(); err != nil {
		if i.stats.RenderFailures.Add(1) == 1 {
			i.logger.Error("scene render failed", zap.Error(err))
		}
		return
	}
	i.stats.FramesRendered.Add(1)
}

// bind builds the scene on the first present. It runs exactly once; a
// failure leaves the overlay off for the life of the interceptor.
func (i *Interceptor) bind(swapChain hook.SwapChain, gen uint64) {
	s, err := i.newScene(swapChain)

	i.renderMu.Lock()
	defer i.renderMu.Unlock()
	if err != nil {
		i.sceneErr.Store(&errBox{err})
		i.stats.SceneInitFailures.Add(1)
		i.logger.Error("scene construction failed, overlay disabled",
			zap.Uintptr("swap_chain", uintptr(swapChain)),
			zap.Error(err),
		)
		return
	}
	s.OnBuildUI(i.build)
	i.scene = s
	i.sceneGen = gen
	i.bound.Store(uintptr(swapChain))
	i.hasScene.Store(true)
	i.logger.Info("scene bound", zap.Uintptr("swap_chain", uintptr(swapChain)))
}

func (i *Interceptor) newScene(swapChain hook.SwapChain) (s scene.Scene, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scene factory panicked: %v", r)
		}
	}()
	s, err = i.factory(swapChain)
	if err == nil && s == nil {
		err = errors.New("scene factory returned nil scene")
	}
	return s, err
}

// SceneErr returns the scene construction error, if construction failed.
func (i *Interceptor) SceneErr() error {
	if b := i.sceneErr.Load(); b != nil {
		return b.err
	}
	return nil
}

type errBox struct{ err error }

// noteForeign logs the first present seen on each unbound swap chain.
func (i *Interceptor) noteForeign(swapChain hook.SwapChain) {
	i.foreignMu.Lock()
	_, seen := i.foreign[swapChain]
	if !seen {
		i.foreign[swapChain] = struct{}{}
	}
	i.foreignMu.Unlock()
	if !seen {
		i.logger.Warn("present on unbound swap chain, forwarding without overlay",
			zap.Uintptr("swap_chain", uintptr(swapChain)),
			zap.Uintptr("bound", i.bound.Load()),
		)
	}
}

func wrapErr(msg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
