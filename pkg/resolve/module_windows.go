// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build windows

package resolve

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func moduleBase(name string) (uintptr, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, err
	}
	var h windows.Handle
	// Unchanged refcount: the host owns the module.
	if err := windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, p, &h); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return uintptr(h), nil
}
