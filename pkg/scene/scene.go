// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package scene is the boundary to the immediate-mode UI renderer that
// composites the overlay into a swap chain.
package scene

import "github.com/mbeema/overlay/pkg/hook"

// Scene owns the render context bound to one swap chain.
type Scene interface {
	// Render builds this frame's UI through the OnBuildUI callback and
	// submits the overlay draw data.
	Render() error
	// OnBuildUI sets the callback run once per frame inside Render.
	OnBuildUI(fn func())
	// Close releases render resources.
	Close() error
}

// Factory creates a Scene bound to swapChain.
type Factory func(swapChain hook.SwapChain) (Scene, error)

// UI is the part of the UI backend's per-frame IO the overlay drives.
type UI interface {
	// WantCaptureMouse reports whether the UI wants mouse input this frame.
	WantCaptureMouse() bool
	// SetMouseDrawCursor makes the backend draw its own cursor.
	SetMouseDrawCursor(draw bool)
	// PushID opens a widget identifier scope.
	PushID(id string)
	// PopID closes the innermost scope.
	PopID()
}
