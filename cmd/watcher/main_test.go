package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/vodwatch/internal/config"
	"github.com/kiranshivaraju/vodwatch/internal/pipelineapi"
	"github.com/kiranshivaraju/vodwatch/internal/realtime"
	"github.com/kiranshivaraju/vodwatch/internal/tracker"
)

// ─── stub connection ────────────────────────────────────────────────────────

type stubConn struct {
	state realtime.State
	id    string
}

func (s *stubConn) State() realtime.State { return s.state }
func (s *stubConn) ConnectionID() string  { return s.id }

// ─── health handler tests ───────────────────────────────────────────────────

func TestHealthHandler_Connected(t *testing.T) {
	h := healthHandler(&stubConn{state: realtime.Connected, id: "conn-1"})

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "conn-1", data["connection_id"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "connected", services["push"])
}

func TestHealthHandler_NotConnected(t *testing.T) {
	for _, state := range []realtime.State{realtime.Disconnected, realtime.Connecting, realtime.Reconnecting} {
		t.Run(state.String(), func(t *testing.T) {
			h := healthHandler(&stubConn{state: state})

			req := httptest.NewRequest("GET", "/healthz", nil)
			w := httptest.NewRecorder()
			h(w, req)

			assert.Equal(t, http.StatusServiceUnavailable, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "DEGRADED", errObj["code"])
			assert.Equal(t, state.String(), errObj["details"].(map[string]any)["push"])
		})
	}
}

// ─── run() config validation tests ──────────────────────────────────────────

func TestRun_FailsOnMissingConfig(t *testing.T) {
	t.Setenv("PIPELINE_API_BASE_URL", "")
	t.Setenv("PUSH_HUB_URL", "")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidTransport(t *testing.T) {
	t.Setenv("PIPELINE_API_BASE_URL", "http://localhost:5000")
	t.Setenv("PUSH_TRANSPORT", "carrier-pigeon")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}

// ─── connector tests ────────────────────────────────────────────────────────

const testJobID = "3f2b8c1e-6a4d-4e8f-9b7a-1c2d3e4f5a6b"

var upgrader = websocket.Upgrader{}

type hub struct {
	srv *httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newHub(t *testing.T) *hub {
	t.Helper()
	h := &hub{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conns = append(h.conns, ws)
		h.mu.Unlock()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *hub) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func (h *hub) publish(event, data string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msg := `{"type":"event","event":"` + event + `","data":` + data + `}`
	for _, ws := range h.conns {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(msg))
	}
}

func pipelineStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/status":
			w.Write([]byte(`{"jobId":"` + testJobID + `","stage":"Download","percent":10,"isRunning":true}`))
		case "/api/health":
			w.Write([]byte(`{"systems":{"API":{"status":"Healthy"}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestConnector(t *testing.T, hubURL, pipelineURL string) (*connector, *realtime.Manager, *tracker.Tracker) {
	t.Helper()
	cfg := &config.Config{
		Push: config.PushConfig{Transport: config.TransportWebSocket, HubURL: hubURL},
		Reconnect: config.ReconnectConfig{
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     50 * time.Millisecond,
			MaxElapsed:   time.Second,
		},
	}
	dial, err := realtime.NewDialer(cfg, nil)
	require.NoError(t, err)

	m := realtime.NewManager(dial, realtime.Options{})
	tr := tracker.New(pipelineapi.NewHTTPClient(pipelineURL, time.Second), tracker.Options{})
	return newConnector(m, tr, cfg.Reconnect), m, tr
}

func TestConnector_ConnectsBindsAndResyncs(t *testing.T) {
	h := newHub(t)
	c, m, tr := newTestConnector(t, h.url(), pipelineStub(t).URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = m.Close(context.Background())
		tr.Wait()
	})

	require.Eventually(t, func() bool {
		_, ok := tr.Job()
		return m.IsConnected() && ok
	}, 5*time.Second, 10*time.Millisecond)

	// The tracker binds right after the handshake, so keep publishing until
	// an update lands.
	assert.Eventually(t, func() bool {
		h.publish(tracker.EventJobProgress, `{"percent":55,"isRunning":true}`)
		snap, _ := tr.Job()
		return snap.Percent == 55
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConnector_ServesSnapshotsWhileHubIsDown(t *testing.T) {
	h := newHub(t)
	hubURL := h.url()
	h.srv.Close()

	c, m, tr := newTestConnector(t, hubURL, pipelineStub(t).URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := tr.Health()
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, m.IsConnected())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("connector did not stop after cancel")
	}
}

func TestConnector_StopsWhenManagerClosed(t *testing.T) {
	c, m, _ := newTestConnector(t, "ws://127.0.0.1:1", pipelineStub(t).URL)
	require.NoError(t, m.Close(context.Background()))

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("connector kept retrying a closed manager")
	}
}
