// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package overlay

import (
	"time"

	"github.com/mbeema/overlay/pkg/health"
	"go.uber.org/zap"
)

const defaultDrainTimeout = 2 * time.Second

type options struct {
	logger         *zap.Logger
	stats          *health.Stats
	softwareCursor bool
	idScopes       bool
	drainTimeout   time.Duration
}

func defaultOptions() options {
	return options{
		logger:         zap.NewNop(),
		softwareCursor: true,
		idScopes:       true,
		drainTimeout:   defaultDrainTimeout,
	}
}

// Option configures an Interceptor.
type Option func(*options)

// WithLogger sets the logger. The detour logs only on state changes and
// failures.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStats sets the counters the interceptor updates.
func WithStats(s *health.Stats) Option {
	return func(o *options) { o.stats = s }
}

// WithSoftwareCursor toggles the cursor policy. When on, the UI backend
// draws its own cursor on frames where it wants mouse capture.
func WithSoftwareCursor(on bool) Option {
	return func(o *options) { o.softwareCursor = on }
}

// WithIDScopes toggles the per-consumer widget identifier scope.
func WithIDScopes(on bool) Option {
	return func(o *options) { o.idScopes = on }
}

// WithDrainTimeout bounds how long Close waits for in-flight detours when
// the caller's context has no deadline.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.drainTimeout = d
		}
	}
}
