// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"errors"

	"github.com/mbeema/overlay/pkg/resolve"
)

var (
	// ErrUnsupported means no native engine exists for this platform.
	ErrUnsupported = errors.New("hook: native engine unsupported on this platform")
	// ErrAlreadyEnabled is returned when Enable is called on an enabled hook.
	ErrAlreadyEnabled = errors.New("hook: already enabled")
	// ErrNotEnabled is returned when Disable is called on a hook that is off.
	ErrNotEnabled = errors.New("hook: not enabled")
	// ErrClosed is returned by operations on a closed hook.
	ErrClosed = errors.New("hook: closed")
)

// SwapChain is the host's swap-chain handle, passed as the first argument
// of every present call.
type SwapChain uintptr

// Result is the status code returned by present.
type Result uintptr

// Present is the signature of the host's present function and of any
// detour that replaces it.
type Present func(swapChain SwapChain, syncInterval, presentFlags uint32) Result

// Hook binds one target address to one detour.
//
// Install/remove is not safe to run concurrently with the host executing
// the target. Enable and Disable are single-call: callers must not enable
// twice.
type Hook interface {
	// Enable redirects live calls on the target to the detour.
	Enable() error
	// Disable restores the original call path.
	Disable() error
	// Close disables the hook and releases its resources.
	Close() error
	// Original runs the unhooked implementation with the given arguments.
	Original(swapChain SwapChain, syncInterval, presentFlags uint32) Result
}

// Engine builds hooks. Install must leave the hook disabled.
type Engine interface {
	Install(target resolve.Address, detour Present) (Hook, error)
}
