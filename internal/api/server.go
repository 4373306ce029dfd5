// Package api serves the node's HTTP interface: status, settings, device
// selection, calibration commands, recorded sessions and a live websocket
// stream of emitted eye positions.
package api

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/eyetrack/internal/bus"
	"github.com/banshee-data/eyetrack/internal/config"
	"github.com/banshee-data/eyetrack/internal/db"
	"github.com/banshee-data/eyetrack/internal/event"
	"github.com/banshee-data/eyetrack/internal/monitoring"
	"github.com/banshee-data/eyetrack/internal/node"
	"github.com/banshee-data/eyetrack/internal/serialmux"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultRecentPositions is how many emitted positions the gaze chart keeps.
const DefaultRecentPositions = 2000

// Options wires a Server to the running node. DB, Bus and SettingsPath are
// optional.
type Options struct {
	Node         *node.Node
	Runner       *node.Runner
	Device       *serialmux.Device
	ListPorts    serialmux.PortLister
	DB           *db.DB
	Bus          *bus.Bridge
	Settings     *config.Settings
	SettingsPath string
}

type Server struct {
	node      *node.Node
	runner    *node.Runner
	device    *serialmux.Device
	listPorts serialmux.PortLister
	db        *db.DB
	bus       *bus.Bridge

	settingsMu   sync.Mutex
	settings     *config.Settings
	settingsPath string

	recentMu sync.Mutex
	recent   []event.Position
	next     int
	full     bool
}

func NewServer(o Options) *Server {
	settings := o.Settings
	if settings == nil {
		settings = config.DefaultSettings()
	}
	list := o.ListPorts
	if list == nil {
		list = serialmux.ListPorts
	}
	return &Server{
		node:         o.Node,
		runner:       o.Runner,
		device:       o.Device,
		listPorts:    list,
		db:           o.DB,
		bus:          o.Bus,
		settings:     settings,
		settingsPath: o.SettingsPath,
		recent:       make([]event.Position, DefaultRecentPositions),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack hands the connection to the websocket upgrader.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/calibrate", s.calibrate)
	mux.HandleFunc("/api/timestamp", s.postTimestamp)
	mux.HandleFunc("/api/calibration/fit", s.showFit)
	mux.HandleFunc("/api/devices", s.listDevices)
	mux.HandleFunc("/api/connect", s.connect)
	mux.HandleFunc("/api/disconnect", s.disconnect)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}/positions", s.sessionPositions)
	mux.HandleFunc("GET /api/sessions/{id}/stats", s.sessionStats)
	mux.HandleFunc("/api/stream", s.stream)
	mux.HandleFunc("/debug/gaze", s.gazeChart)
	return mux
}

// Run follows the node output: it keeps the recent positions for the gaze
// chart and persists every applied calibration into the settings. It
// returns when ctx is done or the runner stops.
func (s *Server) Run(ctx context.Context) error {
	id, ch := s.runner.Subscribe(64)
	defer s.runner.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o, ok := <-ch:
			if !ok {
				return nil
			}
			s.remember(o.Positions)
			if n := len(o.Calibrations); n > 0 {
				s.persistCalibration(o.Calibrations[n-1])
			}
		}
	}
}

func (s *Server) remember(ps []event.Position) {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	for _, p := range ps {
		s.recent[s.next] = p
		s.next = (s.next + 1) % len(s.recent)
		if s.next == 0 {
			s.full = true
		}
	}
}

// Recent returns the remembered positions, oldest first.
func (s *Server) Recent() []event.Position {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	if !s.full {
		return append([]event.Position(nil), s.recent[:s.next]...)
	}
	out := make([]event.Position, 0, len(s.recent))
	out = append(out, s.recent[s.next:]...)
	return append(out, s.recent[:s.next]...)
}

func (s *Server) persistCalibration(c node.CalibrationEvent) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	s.settings.SetCalibration(c.State)
	if err := s.saveLocked(); err != nil {
		monitoring.Logf("api: failed to persist calibration: %v", err)
	}
}

// saveLocked writes the current settings to the file and the database.
func (s *Server) saveLocked() error {
	if s.settingsPath != "" {
		if err := s.settings.Save(s.settingsPath); err != nil {
			return err
		}
	}
	if s.db != nil {
		if err := s.db.SaveSettings(db.DefaultSettingsName, s.settings); err != nil {
			return err
		}
	}
	return nil
}
