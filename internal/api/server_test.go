package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eyetrack/internal/config"
	"github.com/banshee-data/eyetrack/internal/db"
	"github.com/banshee-data/eyetrack/internal/event"
	"github.com/banshee-data/eyetrack/internal/frame"
	"github.com/banshee-data/eyetrack/internal/monitoring"
	"github.com/banshee-data/eyetrack/internal/node"
	"github.com/banshee-data/eyetrack/internal/serialmux"
	"github.com/banshee-data/eyetrack/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

type testEnv struct {
	server       *Server
	mux          *http.ServeMux
	node         *node.Node
	runner       *node.Runner
	device       *serialmux.Device
	factory      *serialmux.FakeFactory
	db           *db.DB
	settingsPath string
}

func newTestEnv(t *testing.T, withDB bool) *testEnv {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	port := serialmux.NewFakePort()
	port.Block = true
	factory := serialmux.NewFakeFactory(port)
	dev := serialmux.NewDevice(factory, clock, serialmux.PortOptions{})
	t.Cleanup(func() { dev.Close() })

	n := node.New(clock, func() frame.ByteSource {
		if src := dev.Source(); src != nil {
			return src
		}
		return nil
	})
	r := node.NewRunner(n, clock, 0, nil)

	env := &testEnv{
		node:         n,
		runner:       r,
		device:       dev,
		factory:      factory,
		settingsPath: filepath.Join(t.TempDir(), "eyetrack.json"),
	}
	if withDB {
		database, err := db.NewDB(filepath.Join(t.TempDir(), "eyetrack.db"))
		require.NoError(t, err)
		t.Cleanup(func() { database.Close() })
		env.db = database
	}
	env.server = NewServer(Options{
		Node:   n,
		Runner: r,
		Device: dev,
		ListPorts: func() ([]serialmux.PortInfo, error) {
			return []serialmux.PortInfo{{Name: "/dev/ttyUSB0"}, {Name: "/dev/ttyUSB1"}}, nil
		},
		DB:           env.db,
		SettingsPath: env.settingsPath,
	})
	env.mux = env.server.ServeMux()
	return env
}

func (e *testEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "dev", resp.Version)
	assert.Equal(t, "serial", resp.Node.Mode)
	assert.False(t, resp.Device.Connected)
	assert.Equal(t, "115200 8N1", resp.Device.Options)
	assert.Nil(t, resp.Bus)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodPost, "/api/status", nil).Code)
}

func TestSettings_UpdateConfiguresNodeAndPersists(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(http.MethodPut, "/api/settings", `{"eyeSamplingRateHz": 250, "calibrationMode": 1, "gainX": 2}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp settingsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 250, resp.Settings.GetEyeSamplingRateHz())
	assert.Empty(t, resp.DeviceError)

	env.runner.Step()
	st := env.node.Status()
	assert.Equal(t, 250, st.SamplingRate)
	assert.Equal(t, 2.0, st.Calibration.GainX)
	// keys absent from the update keep their current values
	assert.Equal(t, "serial", st.Mode)

	fromFile, err := config.LoadSettings(env.settingsPath)
	require.NoError(t, err)
	assert.Equal(t, 250, fromFile.GetEyeSamplingRateHz())

	fromDB, err := env.db.LoadSettings(db.DefaultSettingsName)
	require.NoError(t, err)
	assert.Equal(t, 2.0, *fromDB.GainX)

	w = env.do(http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"eyeSamplingRateHz":250`)
}

func TestSettings_Invalid(t *testing.T) {
	env := newTestEnv(t, false)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/api/settings", `{"eyeSamplingRateHz": -1}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/api/settings", `not json`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodDelete, "/api/settings", nil).Code)
	_, err := os.Stat(env.settingsPath)
	assert.True(t, os.IsNotExist(err), "rejected settings must not be written")
}

func TestCalibrate(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodPost, "/api/calibrate", map[string]interface{}{
		"fixate_x": 100, "fixate_y": 200, "screen_width": 800, "screen_height": 600,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "CalibrateEyePosition 100 200 800 600")

	env.runner.Step()
	st := env.node.Status()
	assert.Equal(t, uint64(1), st.Control.Calibrations)
	assert.Equal(t, 400.0, st.Calibration.ScreenCenterX)
	assert.Equal(t, 300.0, st.Calibration.ScreenCenterY)

	w = env.do(http.MethodPost, "/api/calibrate", map[string]string{"command": "CalibrateEyePosition 1 2 1024 768"})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestCalibrate_BadRequests(t *testing.T) {
	env := newTestEnv(t, false)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/calibrate", map[string]string{"command": "Recenter"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/calibrate", map[string]int{"screen_width": 0}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/calibrate", map[string]int{"bogus": 1}).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodGet, "/api/calibrate", nil).Code)
}

func TestTimestamp(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(http.MethodPost, "/api/timestamp", map[string]int64{"hardware_timestamp": 3000, "software_timestamp": 9000})
	require.Equal(t, http.StatusAccepted, w.Code)
	env.runner.Step()
	assert.Equal(t, event.TimestampSync{HardwareTimestamp: 3000, SoftwareTimestamp: 9000}, env.node.Status().Anchor)
}

func TestFit_NotLinear(t *testing.T) {
	env := newTestEnv(t, false)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/calibration/fit", nil).Code)
}

func TestDevicesAndConnect(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodGet, "/api/devices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Devices []deviceEntry `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Devices, 2)
	assert.Equal(t, 2, list.Devices[1].Index)
	assert.Equal(t, "/dev/ttyUSB1", list.Devices[1].Name)

	w = env.do(http.MethodPost, "/api/connect", map[string]string{"device": "2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.device.Connected())
	assert.Equal(t, "/dev/ttyUSB1", env.device.Name())
	assert.Equal(t, "/dev/ttyUSB1", env.factory.LastCall().Path)

	fromFile, err := config.LoadSettings(env.settingsPath)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", fromFile.GetDevice())
	assert.True(t, fromFile.GetSerialCommunication())

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/connect", map[string]string{"device": "9"}).Code)

	w = env.do(http.MethodPost, "/api/disconnect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.device.Connected())
}

func TestSessions(t *testing.T) {
	env := newTestEnv(t, true)
	id, err := env.db.StartSession("simulated", "serial")
	require.NoError(t, err)
	rec := db.NewRecorder(env.db, id)
	require.NoError(t, rec.Add(context.Background(), node.Output{Positions: []event.Position{
		{XC: 1, YC: 1, Pupil: 2, SoftwareTimestamp: 0},
		{XC: 3, YC: 1, Pupil: 2, SoftwareTimestamp: int64(time.Second)},
	}}))
	require.NoError(t, rec.Flush(context.Background()))

	w := env.do(http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = env.do(http.MethodGet, "/api/sessions/"+id+"/positions?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ps []event.Position
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ps))
	assert.Len(t, ps, 1)

	w = env.do(http.MethodGet, "/api/sessions/"+id+"/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st db.SessionStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, int64(2), st.Samples)
	assert.Equal(t, 2.0, st.XC.Mean)
	assert.InDelta(t, 1.0, st.RateHz, 1e-9)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/sessions/missing/stats", nil).Code)
}

func TestSessions_RecordingDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/sessions", nil).Code)
}

func TestGazeChart(t *testing.T) {
	env := newTestEnv(t, false)
	env.server.remember([]event.Position{{XC: 10, YC: 20, Pupil: 3}, {XC: 30, YC: 40, Pupil: 5}})

	w := env.do(http.MethodGet, "/debug/gaze", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "Recent Gaze")
}

func TestRecent_Wraps(t *testing.T) {
	env := newTestEnv(t, false)
	s := env.server
	s.recent = make([]event.Position, 3)
	for i := 1; i <= 5; i++ {
		s.remember([]event.Position{{X: float64(i)}})
	}
	got := s.Recent()
	require.Len(t, got, 3)
	assert.Equal(t, []float64{3, 4, 5}, []float64{got[0].X, got[1].X, got[2].X})
}

func TestRun_PersistsCalibration(t *testing.T) {
	env := newTestEnv(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Run(ctx) }()

	require.Eventually(t, func() bool {
		env.node.Post(event.NewCommandRecord("CalibrateEyePosition 1 2 640 480"))
		env.runner.Step()
		s, err := env.db.LoadSettings(db.DefaultSettingsName)
		return err == nil && s.ScreenCenterX != nil && *s.ScreenCenterX == 320
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStream(t *testing.T) {
	env := newTestEnv(t, false)
	srv := httptest.NewServer(LoggingMiddleware(env.mux))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	got := make(chan streamMessage, 1)
	go func() {
		var m streamMessage
		if err := conn.ReadJSON(&m); err == nil {
			got <- m
		}
	}()

	var msg streamMessage
	require.Eventually(t, func() bool {
		env.node.Post(event.NewCommandRecord("CalibrateEyePosition 1 2 640 480"))
		env.runner.Step()
		select {
		case msg = <-got:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	require.NotEmpty(t, msg.Calibrations)
	assert.Equal(t, "CalibrateEyePosition 1 2 640 480", msg.Calibrations[0].Command)
	assert.Equal(t, 320.0, msg.Calibrations[0].ScreenCenterX)
}
