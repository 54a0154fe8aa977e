// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package overlay intercepts the host's present call and drives an overlay
// UI on every frame.
//
// An Interceptor resolves the present address, installs a disabled hook and
// waits for Enable. On the first present it sees, it binds one scene to the
// swap chain of that call. Every present then renders the scene, which runs
// the registered draw callbacks in order, and forwards the call to the
// original present with the exact arguments, returning its result.
//
// The detour is fail-open: scene construction errors, render errors and
// failing or panicking draw callbacks are counted and logged, and the host's
// present is always forwarded.
//
// Teardown goes Active -> Draining -> Disposed. Once draining starts the
// detour only forwards. Close disables the hook, waits for in-flight detours
// to leave, releases the scene and then removes the hook.
package overlay
