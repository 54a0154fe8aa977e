// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Server exposes the overlay's frame counters on a loopback address
// inside the host process.
//
//	/health   JSON summary of the hook and the frame counters
//	/ready    200 while the present hook is live, 503 otherwise
//	/metrics  Prometheus text exposition
type Server struct {
	logger  *zap.Logger
	stats   *Stats
	version string
	addr    string

	hooked atomic.Bool
	state  atomic.Pointer[func() string]

	server *http.Server
	bound  atomic.Pointer[string]
}

// NewServer creates a health server. Nothing listens until Start.
func NewServer(addr, version string, stats *Stats, logger *zap.Logger) *Server {
	return &Server{
		addr:    addr,
		version: version,
		stats:   stats,
		logger:  logger,
	}
}

// SetReady records whether the present hook is redirecting frames.
func (s *Server) SetReady(hooked bool) {
	s.hooked.Store(hooked)
}

// SetStateFunc sets the source of the lifecycle state shown by /health.
func (s *Server) SetStateFunc(fn func() string) {
	s.state.Store(&fn)
}

// Addr returns the listening address once started, the configured one
// before.
func (s *Server) Addr() string {
	if p := s.bound.Load(); p != nil {
		return *p
	}
	return s.addr
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	bound := ln.Addr().String()
	s.bound.Store(&bound)

	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("health server listening", zap.String("addr", bound))
	return nil
}

// Stop shuts the server down, waiting at most five seconds for open
// requests.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

type frameCounts struct {
	Intercepted int64 `json:"intercepted"`
	Rendered    int64 `json:"rendered"`
	Passthrough int64 `json:"passthrough"`
	Foreign     int64 `json:"foreign_swap_chain"`
}

type failureCounts struct {
	Render    int64 `json:"render"`
	Callback  int64 `json:"callback"`
	SceneInit int64 `json:"scene_init"`
}

type healthResponse struct {
	Status      string        `json:"status"`
	State       string        `json:"state,omitempty"`
	Hooked      bool          `json:"hooked"`
	Version     string        `json:"version"`
	Uptime      string        `json:"uptime"`
	Subscribers int64         `json:"subscribers"`
	Frames      frameCounts   `json:"frames"`
	Failures    failureCounts `json:"failures"`
}

// status is "degraded" once the scene could not be built, since the
// overlay then stays off for good. Callback and render failures only cost
// single frames and are reported in the counters.
func status(snap Snapshot) string {
	if snap.SceneInitFailures > 0 {
		return "degraded"
	}
	return "ok"
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.stats.Snapshot()
	resp := healthResponse{
		Status:      status(snap),
		Hooked:      s.hooked.Load(),
		Version:     s.version,
		Uptime:      s.stats.Uptime().Truncate(time.Second).String(),
		Subscribers: snap.Subscribers,
		Frames: frameCounts{
			Intercepted: snap.FramesIntercepted,
			Rendered:    snap.FramesRendered,
			Passthrough: snap.FramesPassthrough,
			Foreign:     snap.ForeignSwapChainFrames,
		},
		Failures: failureCounts{
			Render:    snap.RenderFailures,
			Callback:  snap.CallbackFailures,
			SceneInit: snap.SceneInitFailures,
		},
	}
	if fn := s.state.Load(); fn != nil {
		resp.State = (*fn)()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.hooked.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_hooked"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "hooked"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Write([]byte(s.stats.PrometheusMetrics()))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
