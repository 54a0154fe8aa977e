// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build windows

package hook

import (
	"fmt"
	"syscall"

	"github.com/mbeema/overlay/pkg/hook/inline"
	"github.com/mbeema/overlay/pkg/resolve"
)

// Native installs inline patches in the current process.
type Native struct{}

// Install prepares an inline patch of target that jumps to detour.
// The detour is wrapped in a syscall callback, which on 386 also gives it
// the stdcall convention a COM method expects.
func (Native) Install(target resolve.Address, detour Present) (Hook, error) {
	if target == 0 {
		return nil, resolve.ErrZeroAddress
	}
	cb := syscall.NewCallback(func(swapChain, syncInterval, presentFlags uintptr) uintptr {
		return uintptr(detour(SwapChain(swapChain), uint32(syncInterval), uint32(presentFlags)))
	})
	p, err := inline.New(uintptr(target), cb)
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", target, err)
	}
	return &nativeHook{patch: p, tramp: p.Trampoline()}, nil
}

type nativeHook struct {
	patch *inline.Patch
	tramp uintptr
}

func (h *nativeHook) Enable() error  { return h.patch.Enable() }
func (h *nativeHook) Disable() error { return h.patch.Disable() }
func (h *nativeHook) Close() error   { return h.patch.Close() }

func (h *nativeHook) Original(swapChain SwapChain, syncInterval, presentFlags uint32) Result {
	r, _, _ := syscall.SyscallN(h.tramp, uintptr(swapChain), uintptr(syncInterval), uintptr(presentFlags))
	return Result(r)
}
