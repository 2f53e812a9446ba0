package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/0mdb/robot-buddy/internal/buildinfo"
	"github.com/0mdb/robot-buddy/internal/events"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level —
// typically a client that disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

var telemetryUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TelemetryServer exposes a /health endpoint and a /ws broadcast socket
// that fans out every event published on the operator event bus, for
// dashboards watching the robot's live state.
type TelemetryServer struct {
	address string
	port    int
	bus     *events.Bus
	logger  *slog.Logger
	server  *http.Server

	snapshot func() any
}

// NewTelemetryServer creates a TelemetryServer. snapshotFn, called once
// per new connection, supplies the initial state frame sent before the
// live event stream begins.
func NewTelemetryServer(address string, port int, bus *events.Bus, snapshotFn func() any, logger *slog.Logger) *TelemetryServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryServer{address: address, port: port, bus: bus, snapshot: snapshotFn, logger: logger}
}

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *TelemetryServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /", s.handleRoot)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the /ws handler streams indefinitely
	}

	s.logger.Info("starting telemetry server", "address", s.address, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *TelemetryServer) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *TelemetryServer) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *TelemetryServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := buildinfo.RuntimeInfo()
	info["name"] = "robot-buddy-supervisor"
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, info, s.logger)
}

func (s *TelemetryServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy", "uptime": buildinfo.Uptime().String()}, s.logger)
}

// handleStatus serves the compact human-readable build/runtime summary,
// for operators curling the robot rather than parsing JSON.
func (s *TelemetryServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s\nuptime: %s\n", buildinfo.DiagnosticString(), buildinfo.Uptime())
}

func (s *TelemetryServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := telemetryUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("telemetry ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	s.logger.Info("telemetry ws client connected", "client_id", clientID)
	defer s.logger.Info("telemetry ws client disconnected", "client_id", clientID)

	if s.snapshot != nil {
		if err := conn.WriteJSON(s.snapshot()); err != nil {
			return
		}
	}

	ch := s.bus.Subscribe(32)
	defer s.bus.Unsubscribe(ch)

	// Drain client reads in the background; we never expect inbound
	// frames, but must read to notice the connection closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
