// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package overlay

import (
	"fmt"

	"go.uber.org/zap"
)

// failureLogEvery limits repeat logging for a callback that fails every
// frame. The first failure is always logged.
const failureLogEvery = 600

// build is the scene's per-frame UI callback.
func (i *Interceptor) build() {
	// Recomputed every frame: capture intent follows pointer position.
	if i.softwareCursor.Load() {
		i.ui.SetMouseDrawCursor(i.ui.WantCaptureMouse())
	} else {
		i.ui.SetMouseDrawCursor(false)
	}

	entries := i.snapshot()
	if len(entries) == 0 {
		return
	}
	scoped := i.idScopes.Load()
	g := goid()
	for _, e := range entries {
		if err := i.invoke(e, scoped, g); err != nil {
			i.stats.CallbackFailures.Add(1)
			n := e.failures.Add(1)
			if n == 1 || n%failureLogEvery == 0 {
				i.logger.Warn("draw callback failed",
					zap.String("subscriber", e.name),
					zap.Int64("failures", n),
					zap.Error(err),
				)
			}
		}
	}
}

// invoke runs one callback inside its identifier scope unless it has been
// unsubscribed. The scope is popped and panics are converted to errors
// before returning. g is the id of the calling goroutine.
func (i *Interceptor) invoke(e *entry, scoped bool, g uint64) (err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.live() {
		return nil
	}
	e.owner.Store(g)
	defer e.owner.Store(0)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if scoped {
		i.ui.PushID(e.scope)
		defer i.ui.PopID()
	}
	return e.fn()
}
