// Package dashboard serves the controller's HTTP surface: a JSON API over
// room state and run history, scene file management, manual control
// endpoints, a live log stream over SSE, status pushes over WebSocket and a
// small embedded status page.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuebox/cuebox/pkg/devices"
	"github.com/cuebox/cuebox/pkg/history"
	"github.com/cuebox/cuebox/pkg/logring"
	"github.com/cuebox/cuebox/pkg/scene"
	"github.com/cuebox/cuebox/pkg/storage"
)

// TriggerDashboard marks runs and stops requested through the HTTP surface.
const TriggerDashboard = "dashboard"

const (
	defaultPushInterval = time.Second
	defaultLogTail      = 100
	maxSceneBytes       = 1 << 20
	shutdownGrace       = 3 * time.Second
)

// Controller is the slice of the room controller the dashboard reads and
// drives. Snapshot getters must be safe to call from any goroutine.
type Controller interface {
	Room() string
	SceneRunning() bool
	MQTTConnected() bool
	Uptime() time.Duration
	Devices() []devices.Device
	Progress() scene.Progress

	StartScene(name, trigger string) error
	StopScene(reason string)
	RunCommand(ctx context.Context, name string) error
	Publish(ctx context.Context, topic, payload string, retain bool) error
}

// Status is one controller snapshot, served on /api/status and pushed over
// the websocket.
type Status struct {
	Room          string           `json:"room"`
	SceneRunning  bool             `json:"scene_running"`
	MQTTConnected bool             `json:"mqtt_connected"`
	UptimeSeconds float64          `json:"uptime_s"`
	Devices       []devices.Device `json:"devices"`
	Progress      *scene.Progress  `json:"progress,omitempty"`
}

// Config wires a Server. Controller, Runs, Logs and Scenes are required.
type Config struct {
	Controller Controller
	Runs       *history.Store
	Logs       *logring.Handler

	// Scenes is the room's scene store, the one holding <name>.json
	// files and the commands/ subdirectory.
	Scenes storage.FileStore

	Log *slog.Logger

	// PushInterval is the websocket snapshot cadence. Zero means one
	// second.
	PushInterval time.Duration
}

// Server is the dashboard HTTP handler. It is safe for concurrent use.
type Server struct {
	ctrl     Controller
	runs     *history.Store
	logs     *logring.Handler
	scenes   storage.FileStore
	log      *slog.Logger
	push     time.Duration
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New builds a Server and registers its routes.
func New(cfg Config) *Server {
	s := &Server{
		ctrl:   cfg.Controller,
		runs:   cfg.Runs,
		logs:   cfg.Logs,
		scenes: cfg.Scenes,
		log:    cfg.Log,
		push:   cfg.PushInterval,
		upgrader: websocket.Upgrader{
			// The dashboard binds to the room's local interface.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.push <= 0 {
		s.push = defaultPushInterval
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/scenes", s.handleSceneList)
	mux.HandleFunc("GET /api/scenes/{name}", s.handleSceneGet)
	mux.HandleFunc("PUT /api/scenes/{name}", s.handleScenePut)
	mux.HandleFunc("POST /api/scenes/{name}/start", s.handleSceneStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/commands/{name}/run", s.handleCommandRun)
	mux.HandleFunc("POST /api/publish", s.handlePublish)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleWS)
	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Serve runs the server on addr until ctx is canceled. Shutdown waits
// shutdownGrace for in-flight requests, then closes the remaining
// connections so open streams cannot hold the process up.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}

	errc := make(chan error, 1)
	s.log.Info("dashboard listening", "addr", addr)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return fmt.Errorf("dashboard: %w", err)
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return srv.Close()
	}
	return nil
}

func (s *Server) status() Status {
	st := Status{
		Room:          s.ctrl.Room(),
		SceneRunning:  s.ctrl.SceneRunning(),
		MQTTConnected: s.ctrl.MQTTConnected(),
		UptimeSeconds: s.ctrl.Uptime().Seconds(),
		Devices:       s.ctrl.Devices(),
	}
	if st.Devices == nil {
		st.Devices = []devices.Device{}
	}
	if p := s.ctrl.Progress(); p.SceneID != "" {
		st.Progress = &p
	}
	return st
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("dashboard response encode failed", "error", err)
	}
}

func (s *Server) message(w http.ResponseWriter, msg string) {
	s.respond(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.status())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := history.DefaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.runs.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	s.respond(w, http.StatusOK, recs)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogTail
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries := s.logs.Snapshot(limit)
	if entries == nil {
		entries = []logring.Entry{}
	}
	s.respond(w, http.StatusOK, entries)
}

func (s *Server) handleSceneStart(w http.ResponseWriter, r *http.Request) {
	name, err := sceneName(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ctrl.StartScene(name, TriggerDashboard); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.message(w, "scene started: "+name)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.StopScene(TriggerDashboard)
	s.message(w, "scene stopped")
}

func (s *Server) handleCommandRun(w http.ResponseWriter, r *http.Request) {
	name, err := sceneName(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ctrl.RunCommand(r.Context(), name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.message(w, "command executed: "+name)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic   string `json:"topic"`
		Payload string `json:"payload"`
		Retain  bool   `json:"retain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Topic == "" {
		http.Error(w, "topic is required", http.StatusBadRequest)
		return
	}
	if err := s.ctrl.Publish(r.Context(), req.Topic, req.Payload, req.Retain); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.message(w, "published to "+req.Topic)
}
