// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build !windows

package hook

import "github.com/mbeema/overlay/pkg/resolve"

// Native is only implemented on windows.
type Native struct{}

// Install always fails with ErrUnsupported.
func (Native) Install(target resolve.Address, detour Present) (Hook, error) {
	return nil, ErrUnsupported
}
