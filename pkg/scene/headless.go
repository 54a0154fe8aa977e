// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package scene

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mbeema/overlay/pkg/hook"
)

// ErrClosed is returned by Render after Close.
var ErrClosed = errors.New("scene: closed")

// Headless is a UI backend that performs no GPU work. It tracks the same
// per-frame state a real backend would: the capture flag, the cursor flag
// and the identifier stack.
type Headless struct {
	wantMouse atomic.Bool
	drawMouse atomic.Bool

	mu  sync.Mutex
	ids []string
}

// NewHeadless returns an idle headless backend.
func NewHeadless() *Headless {
	return &Headless{}
}

// SetWantCaptureMouse stands in for pointer input reaching an overlay window.
func (h *Headless) SetWantCaptureMouse(want bool) { h.wantMouse.Store(want) }

func (h *Headless) WantCaptureMouse() bool { return h.wantMouse.Load() }

func (h *Headless) SetMouseDrawCursor(draw bool) { h.drawMouse.Store(draw) }

// MouseDrawCursor returns the last value set by SetMouseDrawCursor.
func (h *Headless) MouseDrawCursor() bool { return h.drawMouse.Load() }

func (h *Headless) PushID(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = append(h.ids, id)
}

func (h *Headless) PopID() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ids) > 0 {
		h.ids = h.ids[:len(h.ids)-1]
	}
}

// IDPath returns the current identifier stack joined by "/".
func (h *Headless) IDPath() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return strings.Join(h.ids, "/")
}

// IDDepth returns the current identifier stack depth.
func (h *Headless) IDDepth() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ids)
}

// NewScene binds a headless scene to swapChain.
func (h *Headless) NewScene(swapChain hook.SwapChain) (Scene, error) {
	return &HeadlessScene{SwapChain: swapChain}, nil
}

// HeadlessScene runs the build callback on Render and counts frames.
type HeadlessScene struct {
	SwapChain hook.SwapChain

	mu     sync.Mutex
	build  func()
	frames uint64
	closed bool
}

func (s *HeadlessScene) OnBuildUI(fn func()) {
	s.mu.Lock()
	s.build = fn
	s.mu.Unlock()
}

func (s *HeadlessScene) Render() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	build := s.build
	s.frames++
	s.mu.Unlock()

	if build != nil {
		build()
	}
	return nil
}

func (s *HeadlessScene) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Frames returns how many times Render ran.
func (s *HeadlessScene) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Closed reports whether Close ran.
func (s *HeadlessScene) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
