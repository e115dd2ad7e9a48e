package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"punch-power/analytics"
	"punch-power/workflow"
)

type fakeController struct {
	mu       sync.Mutex
	commands []workflow.Command
	preset   string
	state    workflow.State
}

func (f *fakeController) Submit(_ context.Context, cmd workflow.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeController) SetPreset(_ context.Context, name string) error {
	if _, err := analytics.StrongThreshold(name, nil); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preset = name
	return nil
}

func (f *fakeController) State() workflow.State { return f.state }

func newTestServer(t *testing.T) (*Hub, *fakeController, *httptest.Server) {
	t.Helper()
	h := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctl := &fakeController{state: workflow.State{Phase: workflow.PhaseStoppedReady, MaxPower: 9}}
	srv := httptest.NewServer(h.Handler(ctl, map[string]float64{"pro": 0.9}))
	t.Cleanup(srv.Close)
	return h, ctl, srv
}

func readMessage(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg.Type, msg.Data
}

func TestCommandsRoute(t *testing.T) {
	_, ctl, srv := newTestServer(t)

	for _, name := range []string{"calibrate", "START", "pause", "continue", "finish", "recalibrate"} {
		resp, err := http.Post(srv.URL+"/api/session/"+name, "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode, name)
	}
	assert.Equal(t, workflow.Commands(), ctl.commands)

	resp, err := http.Post(srv.URL+"/api/session/jump", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/session/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPresetRoute(t *testing.T) {
	_, ctl, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/session/preset", "application/json", strings.NewReader(`{"preset":"advanced"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "advanced", ctl.preset)

	resp, err = http.Post(srv.URL+"/api/session/preset", "application/json", strings.NewReader(`{"preset":"champion"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/presets")
	require.NoError(t, err)
	defer resp.Body.Close()
	var presets map[string]float64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&presets))
	assert.Equal(t, map[string]float64{"beginner": 0.3, "intermediate": 0.5, "advanced": 0.7, "pro": 0.9}, presets)
}

func TestStateRoute(t *testing.T) {
	_, _, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "stopped-ready", got["phase"])
	assert.Equal(t, 9.0, got["max_power"])
}

func TestWebSocketBroadcast(t *testing.T) {
	h, _, srv := newTestServer(t)
	h.SetField(workflow.FieldPunches, "3")
	h.OnState(workflow.State{Phase: workflow.PhaseStarted})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	typ, data := readMessage(t, conn)
	assert.Equal(t, TypeFields, typ)
	assert.JSONEq(t, `{"punches":"3"}`, string(data))
	typ, data = readMessage(t, conn)
	assert.Equal(t, TypeState, typ)
	assert.Contains(t, string(data), `"phase":"started"`)

	h.Update(map[string][]workflow.Point{workflow.SeriesPower: {{X: 0, Y: 1}}})
	typ, data = readMessage(t, conn)
	assert.Equal(t, TypeChart, typ)
	assert.JSONEq(t, `{"result":[{"x":0,"y":1}]}`, string(data))

	// unchanged fields are not re-sent
	h.SetField(workflow.FieldPunches, "3")
	h.OnPunch(analytics.PunchEvent{ID: "p1", RelStrength: 0.5, Count: 4})
	typ, data = readMessage(t, conn)
	assert.Equal(t, TypePunch, typ)
	assert.Contains(t, string(data), `"id":"p1"`)

	assert.Equal(t, map[workflow.Field]string{workflow.FieldPunches: "3"}, h.Fields())

	conn.Close()
	require.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
