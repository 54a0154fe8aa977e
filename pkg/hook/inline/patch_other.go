// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build !windows

package inline

import (
	"errors"
	"fmt"
	"runtime"
)

var (
	ErrEnabled = errors.New("patch already enabled")
	ErrClosed  = errors.New("patch closed")
)

// Patch is unavailable off windows; New always fails.
type Patch struct{}

// New reports that inline patching is not implemented on this platform.
func New(target, detour uintptr) (*Patch, error) {
	return nil, fmt.Errorf("inline: unsupported on %s", runtime.GOOS)
}

func (p *Patch) Trampoline() uintptr { return 0 }
func (p *Patch) Enable() error       { return ErrClosed }
func (p *Patch) Disable() error      { return ErrClosed }
func (p *Patch) Close() error        { return nil }
func (p *Patch) Enabled() bool       { return false }
