// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"runtime"
	"strconv"
	"sync/atomic"
	"time"
)

// Stats tracks frame counters for the overlay. All fields are safe to
// bump from the host's render thread.
type Stats struct {
	startTime time.Time

	FramesIntercepted      atomic.Int64 // every detour entry
	FramesRendered         atomic.Int64 // scene rendered before forwarding
	FramesPassthrough      atomic.Int64 // forwarded without touching the scene
	ForeignSwapChainFrames atomic.Int64 // present on a swap chain other than the bound one
	RenderFailures         atomic.Int64
	CallbackFailures       atomic.Int64
	SceneInitFailures      atomic.Int64
	Subscribers            atomic.Int64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{
		startTime: time.Now(),
	}
}

// Uptime returns time since the overlay was loaded.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds          float64
	Goroutines             int
	MemorySysBytes         uint64
	FramesIntercepted      int64
	FramesRendered         int64
	FramesPassthrough      int64
	ForeignSwapChainFrames int64
	RenderFailures         int64
	CallbackFailures       int64
	SceneInitFailures      int64
	Subscribers            int64
}

// Snapshot returns current stats.
func (s *Stats) Snapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		UptimeSeconds:          s.Uptime().Seconds(),
		Goroutines:             runtime.NumGoroutine(),
		MemorySysBytes:         memStats.Sys,
		FramesIntercepted:      s.FramesIntercepted.Load(),
		FramesRendered:         s.FramesRendered.Load(),
		FramesPassthrough:      s.FramesPassthrough.Load(),
		ForeignSwapChainFrames: s.ForeignSwapChainFrames.Load(),
		RenderFailures:         s.RenderFailures.Load(),
		CallbackFailures:       s.CallbackFailures.Load(),
		SceneInitFailures:      s.SceneInitFailures.Load(),
		Subscribers:            s.Subscribers.Load(),
	}
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics() string {
	return prometheusFormat(s.Snapshot())
}

func prometheusFormat(snap Snapshot) string {
	var b []byte
	b = appendMetric(b, "overlay_uptime_seconds", "gauge", "Time since the overlay was loaded", snap.UptimeSeconds)
	b = appendMetric(b, "overlay_goroutines", "gauge", "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "overlay_memory_sys_bytes", "gauge", "Memory obtained from the OS by the Go runtime", float64(snap.MemorySysBytes))
	b = appendMetric(b, "overlay_frames_intercepted_total", "counter", "Present calls that entered the detour", float64(snap.FramesIntercepted))
	b = appendMetric(b, "overlay_frames_rendered_total", "counter", "Frames with the overlay composited", float64(snap.FramesRendered))
	b = appendMetric(b, "overlay_frames_passthrough_total", "counter", "Frames forwarded without rendering", float64(snap.FramesPassthrough))
	b = appendMetric(b, "overlay_foreign_swapchain_frames_total", "counter", "Present calls on a swap chain other than the bound one", float64(snap.ForeignSwapChainFrames))
	b = appendMetric(b, "overlay_render_failures_total", "counter", "Scene render errors", float64(snap.RenderFailures))
	b = appendMetric(b, "overlay_callback_failures_total", "counter", "Draw callbacks that failed or panicked", float64(snap.CallbackFailures))
	b = appendMetric(b, "overlay_scene_init_failures_total", "counter", "Scene construction failures", float64(snap.SceneInitFailures))
	b = appendMetric(b, "overlay_subscribers", "gauge", "Registered draw callbacks", float64(snap.Subscribers))
	return string(b)
}

func appendMetric(b []byte, name, typ, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, '\n')
	b = append(b, "# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'f', -1, 64)
	b = append(b, '\n')
	return b
}
