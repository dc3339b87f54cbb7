package middleware_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/kiranshivaraju/vodwatch/internal/api/middleware"
)

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

// captureLogs routes the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &rec))
	return rec
}

type panicCounter struct {
	routes []string
}

func (p *panicCounter) RecordHandlerPanic(route string) {
	p.routes = append(p.routes, route)
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

// ========================================
// Request ID Middleware Tests
// ========================================

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var seen string
	handler := mw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = mw.GetRequestID(r)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
	assert.Equal(t, seen, w.Header().Get(mw.RequestIDHeader))
}

func TestRequestID_KeepsIncoming(t *testing.T) {
	var seen string
	handler := mw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = mw.GetRequestID(r)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(mw.RequestIDHeader, "trace-abc-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "trace-abc-123", seen)
	assert.Equal(t, "trace-abc-123", w.Header().Get(mw.RequestIDHeader))
}

func TestRequestID_ReplacesOversized(t *testing.T) {
	handler := mw.RequestID(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(mw.RequestIDHeader, strings.Repeat("x", 500))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Len(t, w.Header().Get(mw.RequestIDHeader), 36)
}

func TestGetRequestID_Absent(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	_, ok := mw.GetRequestID(req)
	assert.False(t, ok)
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	handler := mw.Recovery(nil)(panicking)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := mw.Recovery(nil)(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecovery_RepanicsAbortHandler(t *testing.T) {
	panics := &panicCounter{}
	handler := mw.Recovery(panics)(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() { handler.ServeHTTP(w, req) })
	assert.Empty(t, panics.routes)
}

func TestRecovery_CountsPanicsByRoute(t *testing.T) {
	panics := &panicCounter{}
	r := chi.NewRouter()
	r.Use(mw.Recovery(panics))
	r.Get("/api/v1/jobs/{jobID}", func(http.ResponseWriter, *http.Request) {
		panic("detail handler exploded")
	})

	req := httptest.NewRequest("GET", "/api/v1/jobs/j1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, []string{"/api/v1/jobs/{jobID}"}, panics.routes)
}

// ========================================
// Logging Middleware Tests
// ========================================

func TestLogger_SetsStatus(t *testing.T) {
	handler := mw.Logger(nil)(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogger_PassesThroughErrorStatus(t *testing.T) {
	buf := captureLogs(t)
	handler := mw.Logger(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	rec := lastRecord(t, buf)
	assert.Equal(t, 502.0, rec["status"])
	assert.Equal(t, "unmatched", rec["route"])
	assert.NotContains(t, rec, "push_state")
}

func TestLogger_TagsRouteAndPushState(t *testing.T) {
	buf := captureLogs(t)
	state := "reconnecting"

	r := chi.NewRouter()
	r.Use(mw.Logger(func() string { return state }))
	r.Get("/api/v1/jobs/{jobID}", okHandler())

	req := httptest.NewRequest("GET", "/api/v1/jobs/j1", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	rec := lastRecord(t, buf)
	assert.Equal(t, "INFO", rec["level"])
	assert.Equal(t, "/api/v1/jobs/{jobID}", rec["route"])
	assert.Equal(t, "/api/v1/jobs/j1", rec["path"])
	assert.Equal(t, "reconnecting", rec["push_state"])
}

func TestLogger_ScrapesAreDebug(t *testing.T) {
	buf := captureLogs(t)
	handler := mw.Logger(func() string { return "connected" })(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	rec := lastRecord(t, buf)
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "connected", rec["push_state"])
}
