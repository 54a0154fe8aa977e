// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build !windows

package resolve

import "fmt"

func moduleBase(name string) (uintptr, error) {
	return 0, fmt.Errorf("%w: module lookup is only available on windows", ErrNotFound)
}
