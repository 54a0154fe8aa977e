// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"fmt"
	"sync"

	"github.com/mbeema/overlay/pkg/resolve"
)

// Call records one invocation of the original present function.
type Call struct {
	SwapChain    SwapChain
	SyncInterval uint32
	PresentFlags uint32
}

// Fake is an in-memory Engine. Its Present method plays the host: it goes
// through the detour while a hook is enabled and straight to the original
// otherwise.
type Fake struct {
	// Result is what the original present returns.
	Result Result
	// InstallErr, EnableErr and DisableErr are returned by the matching
	// operation when set.
	InstallErr error
	EnableErr  error
	DisableErr error

	mu       sync.Mutex
	target   resolve.Address
	detour   Present
	hook     *fakeHook
	calls    []Call
	installs int
}

// Install records target and detour. Only one hook may be live per Fake.
func (f *Fake) Install(target resolve.Address, detour Present) (Hook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InstallErr != nil {
		return nil, f.InstallErr
	}
	if f.hook != nil && !f.hook.closed {
		return nil, fmt.Errorf("hook: %s already hooked", target)
	}
	f.target = target
	f.detour = detour
	f.hook = &fakeHook{f: f}
	f.installs++
	return f.hook, nil
}

// Present simulates the host calling the hooked function.
func (f *Fake) Present(swapChain SwapChain, syncInterval, presentFlags uint32) Result {
	f.mu.Lock()
	h, detour := f.hook, f.detour
	live := h != nil && h.enabled && !h.closed
	f.mu.Unlock()

	if live {
		return detour(swapChain, syncInterval, presentFlags)
	}
	return f.original(swapChain, syncInterval, presentFlags)
}

func (f *Fake) original(swapChain SwapChain, syncInterval, presentFlags uint32) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{SwapChain: swapChain, SyncInterval: syncInterval, PresentFlags: presentFlags})
	return f.Result
}

// Calls returns every original invocation in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Target returns the address passed to the last Install.
func (f *Fake) Target() resolve.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

// Installs counts Install calls that succeeded.
func (f *Fake) Installs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installs
}

// Enabled reports whether the live hook is enabled.
func (f *Fake) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hook != nil && f.hook.enabled && !f.hook.closed
}

// Closed reports whether the last hook was closed.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hook != nil && f.hook.closed
}

type fakeHook struct {
	f       *Fake
	enabled bool
	closed  bool
}

func (h *fakeHook) Enable() error {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	switch {
	case h.f.EnableErr != nil:
		return h.f.EnableErr
	case h.closed:
		return ErrClosed
	case h.enabled:
		return ErrAlreadyEnabled
	}
	h.enabled = true
	return nil
}

func (h *fakeHook) Disable() error {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	switch {
	case h.f.DisableErr != nil:
		return h.f.DisableErr
	case h.closed:
		return ErrClosed
	case !h.enabled:
		return ErrNotEnabled
	}
	h.enabled = false
	return nil
}

func (h *fakeHook) Close() error {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	h.enabled = false
	h.closed = true
	return nil
}

func (h *fakeHook) Original(swapChain SwapChain, syncInterval, presentFlags uint32) Result {
	return h.f.original(swapChain, syncInterval, presentFlags)
}
