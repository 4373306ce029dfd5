package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/eyetrack/internal/bus"
	"github.com/banshee-data/eyetrack/internal/calibration"
	"github.com/banshee-data/eyetrack/internal/config"
	"github.com/banshee-data/eyetrack/internal/control"
	"github.com/banshee-data/eyetrack/internal/event"
	"github.com/banshee-data/eyetrack/internal/httputil"
	"github.com/banshee-data/eyetrack/internal/node"
	"github.com/banshee-data/eyetrack/internal/serialmux"
	"github.com/banshee-data/eyetrack/internal/version"
)

type deviceStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Options   string `json:"options"`
}

type statusResponse struct {
	version.Info
	Node   node.Status      `json:"node"`
	Runner node.RunnerStats `json:"runner"`
	Device deviceStatus     `json:"device"`
	Bus    *bus.Stats       `json:"bus,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := statusResponse{
		Info:   version.Get(),
		Node:   s.node.Status(),
		Runner: s.runner.Stats(),
		Device: deviceStatus{
			Name:      s.device.Name(),
			Connected: s.device.Connected(),
			Options:   s.device.Options().String(),
		},
	}
	if s.bus != nil {
		st := s.bus.Stats()
		resp.Bus = &st
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.settingsMu.Lock()
		defer s.settingsMu.Unlock()
		httputil.WriteJSONOK(w, s.settings)
	case http.MethodPut, http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes))
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("failed to read body: %v", err))
			return
		}
		update, err := config.ParseSettings(body)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		s.applySettings(w, update)
	default:
		httputil.MethodNotAllowed(w)
	}
}

type settingsResponse struct {
	Settings    *config.Settings `json:"settings"`
	DeviceError string           `json:"device_error,omitempty"`
}

// applySettings merges update into the current settings, persists the
// result and hands it to the node and the serial link.
func (s *Server) applySettings(w http.ResponseWriter, update *config.Settings) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	merged := &config.Settings{}
	merged.Merge(s.settings)
	merged.Merge(update)
	if err := merged.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	prev := s.settings
	s.settings = merged
	if err := s.saveLocked(); err != nil {
		s.settings = prev
		httputil.InternalServerError(w, fmt.Sprintf("failed to save settings: %v", err))
		return
	}

	s.node.Configure(node.ConfigFromSettings(merged))
	resp := settingsResponse{Settings: merged}
	if err := node.ApplyDevice(s.device, s.listPorts, merged); err != nil {
		resp.DeviceError = err.Error()
	}
	httputil.WriteJSONOK(w, resp)
}

type calibrateRequest struct {
	Command      string  `json:"command,omitempty"`
	FixateX      float64 `json:"fixate_x"`
	FixateY      float64 `json:"fixate_y"`
	ScreenWidth  int     `json:"screen_width"`
	ScreenHeight int     `json:"screen_height"`
}

// calibrate queues a CalibrateEyePosition command for the next cycle. The
// body carries either the raw command text or its four arguments.
func (s *Server) calibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req calibrateRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var cmd control.Command
	if strings.TrimSpace(req.Command) != "" {
		parsed, err := control.ParseCommand(req.Command)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		cmd = parsed
	} else {
		if req.ScreenWidth <= 0 || req.ScreenHeight <= 0 {
			httputil.BadRequest(w, "screen_width and screen_height must be positive")
			return
		}
		cmd = control.Command{
			Name: control.CommandCalibrateEyePosition,
			Target: calibration.Target{
				FixateX:      req.FixateX,
				FixateY:      req.FixateY,
				ScreenWidth:  req.ScreenWidth,
				ScreenHeight: req.ScreenHeight,
			},
		}
	}

	text := cmd.Format()
	if !s.node.Post(event.NewCommandRecord(text)) {
		httputil.ServiceUnavailable(w, "command queue full")
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"queued": text})
}

func (s *Server) postTimestamp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req struct {
		HardwareTimestamp int64 `json:"hardware_timestamp"`
		SoftwareTimestamp int64 `json:"software_timestamp"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request: %v", err))
		return
	}
	ts := event.TimestampSync{HardwareTimestamp: req.HardwareTimestamp, SoftwareTimestamp: req.SoftwareTimestamp}
	if !s.node.Post(event.NewTimestampRecord(ts)) {
		httputil.ServiceUnavailable(w, "record queue full")
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, ts)
}

func (s *Server) showFit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	st := s.node.Status()
	if st.Fit == nil {
		httputil.NotFound(w, "no linear fit: calibration mode is not linear or fewer than two distinct fixations")
		return
	}
	httputil.WriteJSONOK(w, st.Fit)
}

type deviceEntry struct {
	Index int `json:"index"`
	serialmux.PortInfo
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ports, err := s.listPorts()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list serial devices: %v", err))
		return
	}
	out := make([]deviceEntry, 0, len(ports)+1)
	for i, p := range ports {
		out = append(out, deviceEntry{Index: i + 1, PortInfo: p})
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"devices":   out,
		"connected": s.device.Name(),
	})
}

// connect selects a device by 1-based index or name, stores it in the
// settings and switches the node to serial input.
func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req struct {
		Device string `json:"device"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request: %v", err))
		return
	}

	name := strings.TrimSpace(req.Device)
	if name != serialmux.SimulatedDeviceName {
		ports, err := s.listPorts()
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to list serial devices: %v", err))
			return
		}
		resolved, err := serialmux.Resolve(ports, name)
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		name = resolved
	}

	serial := true
	s.applySettings(w, &config.Settings{SerialCommunication: &serial, Device: &name})
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.device.Disconnect(); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, deviceStatus{Options: s.device.Options().String()})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		httputil.NotFound(w, "recording is disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := s.db.ListSessions(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) sessionPositions(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		httputil.NotFound(w, "recording is disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	positions, err := s.db.SessionPositions(r.PathValue("id"), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if positions == nil {
		positions = []event.Position{}
	}
	httputil.WriteJSONOK(w, positions)
}

func (s *Server) sessionStats(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		httputil.NotFound(w, "recording is disabled")
		return
	}
	st, err := s.db.GetSessionStats(r.PathValue("id"), s.node.TicksPerSecond())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if st.Samples == 0 {
		httputil.NotFound(w, "no positions recorded for session")
		return
	}
	httputil.WriteJSONOK(w, st)
}
