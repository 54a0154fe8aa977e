// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package scene

import (
	"errors"
	"testing"
)

func TestHeadlessSceneRunsBuild(t *testing.T) {
	h := NewHeadless()
	sc, err := h.NewScene(0x1000)
	if err != nil {
		t.Fatalf("NewScene: %v", err)
	}
	built := 0
	sc.OnBuildUI(func() { built++ })

	for i := 0; i < 3; i++ {
		if err := sc.Render(); err != nil {
			t.Fatalf("Render: %v", err)
		}
	}
	if built != 3 {
		t.Errorf("built = %d, want 3", built)
	}
	if f := sc.(*HeadlessScene).Frames(); f != 3 {
		t.Errorf("Frames = %d, want 3", f)
	}
}

func TestHeadlessSceneRenderAfterClose(t *testing.T) {
	sc, _ := NewHeadless().NewScene(0x1000)
	sc.Close()
	if err := sc.Render(); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestHeadlessIDStack(t *testing.T) {
	h := NewHeadless()
	h.PushID("a")
	h.PushID("b")
	if got := h.IDPath(); got != "a/b" {
		t.Errorf("IDPath = %q, want a/b", got)
	}
	h.PopID()
	h.PopID()
	h.PopID() // extra pop is ignored
	if d := h.IDDepth(); d != 0 {
		t.Errorf("IDDepth = %d, want 0", d)
	}
}
