// Package testhelpers provides shared utilities for exercising the pinlink
// relay over real WebSocket connections in integration tests.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/pinlink/pinlink/internal/config"
	"github.com/pinlink/pinlink/internal/server"
)

// TestOrigin is the origin header integration tests present; the relay
// config must allow it.
const TestOrigin = "http://localhost:8080"

// readTimeout bounds every single frame read in tests.
const readTimeout = 2 * time.Second

// StartRelay builds a relay server with test-friendly configuration and
// serves its handler through httptest. Cleanup is registered on t.
func StartRelay(t *testing.T) (*httptest.Server, *server.Server) {
	t.Helper()

	cfg := config.Config{
		ListenAddress:       ":0",
		LogLevel:            "debug",
		AllowedOrigins:      []string{TestOrigin},
		MaxMessageSize:      4096,
		RateLimit:           config.RateLimit{Burst: 100, RefillInterval: time.Second},
		ShutdownGracePeriod: 2 * time.Second,
	}

	srv := server.NewServer(cfg, zaptest.NewLogger(t), prometheus.NewRegistry())
	srv.StartHub()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		if err := srv.ShutdownHub(2 * time.Second); err != nil {
			t.Logf("hub shutdown: %v", err)
		}
	})
	return ts, srv
}

// WSURL converts an httptest server URL to its WebSocket endpoint.
func WSURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// Dial opens a WebSocket connection with the allowed test origin.
func Dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendFrame writes one JSON frame.
func SendFrame(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("writing frame %+v: %v", frame, err)
	}
}

// ReadFrame reads one JSON frame as a generic map, failing the test on
// timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}

	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshaling frame %s: %v", raw, err)
	}
	return frame
}

// ExpectType reads one frame and asserts its type tag.
func ExpectType(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	frame := ReadFrame(t, conn)
	if got, _ := frame["type"].(string); got != want {
		t.Fatalf("frame type = %q, want %q (frame: %v)", frame["type"], want, frame)
	}
	return frame
}

// ExpectSilence asserts that no frame arrives within the given window.
func ExpectSilence(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(window)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no frame, got %s", raw)
	}
}

// RegisterPin registers a PIN with a minimal profile and consumes the
// confirmation frame.
func RegisterPin(t *testing.T, conn *websocket.Conn, pin, username string) {
	t.Helper()

	SendFrame(t, conn, map[string]any{
		"type":     "register",
		"pin":      pin,
		"username": username,
	})
	frame := ExpectType(t, conn, "registered")
	if got, _ := frame["pin"].(string); got != pin {
		t.Fatalf("registered pin = %q, want %q", got, pin)
	}
}
