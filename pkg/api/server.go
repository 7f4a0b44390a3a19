/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api serves the dashboard's HTTP surface: the REST snapshot, the
// websocket viewer sessions, metrics and the optional static page.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/carverauto/fleetbridge/pkg/command"
	fbhttp "github.com/carverauto/fleetbridge/pkg/http"
	"github.com/carverauto/fleetbridge/pkg/hub"
	"github.com/carverauto/fleetbridge/pkg/logger"
	"github.com/carverauto/fleetbridge/pkg/metrics"
	"github.com/carverauto/fleetbridge/pkg/payload"
	"github.com/carverauto/fleetbridge/pkg/state"
)

const (
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultViewerWrite     = 10 * time.Second
)

// Commander publishes viewer commands.
type Commander interface {
	Publish(ctx context.Context, viewerID, robotID, commandType string, body payload.Value) command.Outcome
}

// Options configures the server.
type Options struct {
	Addr           string
	StaticDir      string
	AllowedOrigins []string
	// ViewerWriteTimeout bounds each websocket write.
	ViewerWriteTimeout time.Duration
	// PingInterval is the websocket heartbeat period; zero disables it.
	PingInterval time.Duration
	// CommandRate is the sustained commands per second per viewer; zero
	// disables limiting.
	CommandRate  float64
	CommandBurst int
}

// Server is the HTTP front end.
type Server struct {
	opts      Options
	store     *state.Store
	hub       *hub.Hub
	commander Commander
	log       logger.Logger
	metrics   *metrics.Collectors
	router    *mux.Router
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	stopping bool
	inflight sync.WaitGroup
}

// NewServer builds the server and its routes.
func NewServer(opts Options, store *state.Store, h *hub.Hub, commander Commander,
	log logger.Logger, m *metrics.Collectors) *Server {
	if opts.ViewerWriteTimeout <= 0 {
		opts.ViewerWriteTimeout = defaultViewerWrite
	}

	s := &Server{
		opts:      opts,
		store:     store,
		hub:       h,
		commander: commander,
		log:       log,
		metrics:   m,
		router:    mux.NewRouter(),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/data", s.getAllData).Methods(http.MethodGet)
	s.router.HandleFunc("/data/{robot_id}", s.getRobotData).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.serveViewer).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	if s.opts.StaticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.opts.StaticDir)))
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return fbhttp.CommonMiddleware(s.router, s.opts.AllowedOrigins, s.log)
}

// Run serves until ctx is cancelled, then refuses new commands, closes every
// viewer and waits (bounded) for in-flight commands.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.log.Info().Str("addr", s.opts.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
	}

	s.BeginShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)

	s.hub.Close()
	s.waitInflight(shutdownCtx)

	s.log.Info().Msg("HTTP server stopped")

	return err
}

// BeginShutdown makes every later command fail with a shutdown notice.
func (s *Server) BeginShutdown() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
}

// track registers an in-flight command unless shutdown has begun.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return false
	}

	s.inflight.Add(1)

	return true
}

func (s *Server) waitInflight(ctx context.Context) {
	done := make(chan struct{})

	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("Timed out waiting for in-flight commands")
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || fbhttp.OriginAllowed(origin, s.opts.AllowedOrigins) {
		return true
	}

	s.log.Warn().Str("origin", origin).Msg("Rejected websocket origin")

	return false
}

func (s *Server) getAllData(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) getRobotData(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.Robot(mux.Vars(r)["robot_id"])
	if !ok {
		writeError(w, "Robot not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Error encoding response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(errorResponse{Error: message}); err != nil {
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}
