package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/fuzzy"
	"github.com/teslashibe/go-rover/pkg/odometry"
	"github.com/teslashibe/go-rover/pkg/telemetry"
)

// fakeRover applies updates synchronously.
type fakeRover struct {
	mu       sync.Mutex
	mapper   *fuzzy.Controller
	posted   []control.JoystickCommand
	resets   []drive.Wheel
	snapshot *telemetry.Snapshot
}

func newFakeRover() *fakeRover {
	return &fakeRover{mapper: fuzzy.NewController(nil)}
}

func (f *fakeRover) Post(cmd control.JoystickCommand) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, cmd)
	return true
}

func (f *fakeRover) Submit(u control.ConfigUpdate) error {
	return u.Apply(control.Targets{Mapper: f.mapper})
}

func (f *fakeRover) Apply(_ context.Context, u control.ConfigUpdate) error {
	return u.Apply(control.Targets{Mapper: f.mapper})
}

func (f *fakeRover) Profile() fuzzy.Config { return f.mapper.Config() }
func (f *fakeRover) Stats() control.Stats {
	return control.Stats{Ticks: 7, QueueCap: control.DefaultQueueSize}
}
func (f *fakeRover) Geometry() odometry.Geometry {
	g, _ := odometry.NewGeometry(65)
	return g
}

func (f *fakeRover) Telemetry() (telemetry.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshot == nil {
		return telemetry.Snapshot{}, false
	}
	return *f.snapshot, true
}

func (f *fakeRover) ResetOdometry(w drive.Wheel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, w)
	return nil
}

func (f *fakeRover) postedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posted)
}

func do(t *testing.T, s *Server, method, path, body string, header ...string) (*http.Response, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestStatus(t *testing.T) {
	s := NewServer(newFakeRover(), Options{})
	resp, body := do(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st StatusResponse
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, "ok", st.State)
	assert.Equal(t, fuzzy.ModeArcade, st.Mode)
	assert.Equal(t, uint64(7), st.Scheduler.Ticks)
	assert.Equal(t, control.DefaultQueueSize, st.Scheduler.QueueCap)
	assert.Equal(t, control.DropNewest, st.Scheduler.Overflow)
	assert.Equal(t, 65.0, st.Geometry.DiameterMM)
}

func TestConfigGetAndPut(t *testing.T) {
	r := newFakeRover()
	s := NewServer(r, Options{})

	resp, body := do(t, s, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"mode":"arcade"`)

	resp, _ = do(t, s, http.MethodPut, "/api/config", `{"mode":"car","turn_factor":0.4}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cfg := r.Profile()
	assert.Equal(t, fuzzy.ModeCar, cfg.Mode)
	assert.Equal(t, 0.4, cfg.TurnFactor)
	assert.Equal(t, int16(255), cfg.MaxDuty, "unspecified fields keep their value")

	resp, _ = do(t, s, http.MethodPut, "/api/config", `{"min_duty":300}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, fuzzy.ModeCar, r.Profile().Mode)

	resp, _ = do(t, s, http.MethodPut, "/api/config", `{"mode":"hover"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPresets(t *testing.T) {
	r := newFakeRover()
	s := NewServer(r, Options{})

	resp, body := do(t, s, http.MethodGet, "/api/presets", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p PresetsResponse
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	assert.Equal(t, fuzzy.PresetNames(), p.Names)
	assert.Equal(t, fuzzy.ModeTank, p.Presets["aggressive"].Mode)
	assert.Equal(t, fuzzy.Modes(), p.Modes)
	assert.Equal(t, fuzzy.Curves(), p.Curves)
	assert.Contains(t, body, `"modes":["arcade","tank","car","smooth"]`)

	resp, _ = do(t, s, http.MethodPost, "/api/presets/gentle", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, fuzzy.ModeSmooth, r.Profile().Mode)

	resp, _ = do(t, s, http.MethodPost, "/api/presets/turbo", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResetOdometry(t *testing.T) {
	r := newFakeRover()
	s := NewServer(r, Options{})

	resp, _ := do(t, s, http.MethodPost, "/api/odometry/reset?wheel=left", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = do(t, s, http.MethodPost, "/api/odometry/reset", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []drive.Wheel{drive.Left, drive.Left, drive.Right}, r.resets)

	resp, _ = do(t, s, http.MethodPost, "/api/odometry/reset?wheel=front", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTelemetryEndpoint(t *testing.T) {
	r := newFakeRover()
	s := NewServer(r, Options{})

	resp, _ := do(t, s, http.MethodGet, "/api/telemetry", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	r.snapshot = &telemetry.Snapshot{LeftPWM: 42}
	resp, body := do(t, s, http.MethodGet, "/api/telemetry", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"type":"telemetry"`)
	assert.Contains(t, body, `"left_pwm":42`)
}

func TestAuthOnMutatingRoutes(t *testing.T) {
	s := NewServer(newFakeRover(), Options{AuthSecret: "s3cret"})
	auth := NewAuthenticator("s3cret")

	resp, _ := do(t, s, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "reads stay open")

	resp, _ = do(t, s, http.MethodPost, "/api/presets/gentle", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	viewer, err := auth.Issue("alice", RoleViewer, time.Minute)
	require.NoError(t, err)
	resp, _ = do(t, s, http.MethodPost, "/api/presets/gentle", "", "Authorization", "Bearer "+viewer)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ctrl, err := auth.Issue("bob", RoleController, time.Minute)
	require.NoError(t, err)
	resp, _ = do(t, s, http.MethodPost, "/api/presets/gentle", "", "Authorization", "Bearer "+ctrl)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthenticator(t *testing.T) {
	assert.Nil(t, NewAuthenticator(""))

	a := NewAuthenticator("k1")
	tok, err := a.Issue("op", RoleController, time.Minute)
	require.NoError(t, err)

	claims, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, RoleController, claims.Role)
	assert.Equal(t, "op", claims.Subject)

	_, err = NewAuthenticator("k2").Verify(tok)
	assert.ErrorIs(t, err, ErrUnauthorized)

	expired, _ := a.Issue("op", RoleController, -time.Minute)
	_, err = a.Verify(expired)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.Verify("")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

// startServer serves s on a loopback port and returns its ws URL.
func startServer(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return "ws://" + ln.Addr().String() + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestWebSocket_ControlAndReplies(t *testing.T) {
	r := newFakeRover()
	s := NewServer(r, Options{})
	conn := dial(t, startServer(t, s))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"control","angle":1.5708,"magnitude":0.8,"timestamp":5}`)))
	assert.Eventually(t, func() bool { return r.postedCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, "pong", readJSON(t, conn)["type"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status"}`)))
	st := readJSON(t, conn)
	assert.Equal(t, "status", st["type"])
	assert.Equal(t, "ok", st["state"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"config","param":"control_mode","value":"tank"}`)))
	assert.Eventually(t, func() bool { return r.Profile().Mode == fuzzy.ModeTank }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"control","angle":1}`)))
	assert.Equal(t, "error", readJSON(t, conn)["type"])

	require.NoError(t, s.Publish(context.Background(), telemetry.Snapshot{RightPWM: -20}))
	tm := readJSON(t, conn)
	assert.Equal(t, "telemetry", tm["type"])
	assert.Equal(t, float64(-20), tm["right_pwm"])
}

func TestWebSocket_ClientLimit(t *testing.T) {
	s := NewServer(newFakeRover(), Options{MaxClients: 1})
	url := startServer(t, s)
	dial(t, url)
	require.Eventually(t, func() bool { return s.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	second := dial(t, url)
	msg := readJSON(t, second)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["message"], "limit")
}

func TestWebSocket_ViewerCannotDrive(t *testing.T) {
	r := newFakeRover()
	s := NewServer(r, Options{AuthSecret: "s3cret"})
	url := startServer(t, s)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if assert.Error(t, err) && resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	tok, _ := NewAuthenticator("s3cret").Issue("v", RoleViewer, time.Minute)
	conn := dial(t, url+"?token="+tok)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"control","angle":0,"magnitude":1}`)))
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, 0, r.postedCount())
}
