package integration

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/pinlink/pinlink/test/testhelpers"
)

func TestHealthEndpoint(t *testing.T) {
	ts, _ := testhelpers.StartRelay(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "running") {
		t.Errorf("body = %q", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := testhelpers.StartRelay(t)

	// Generate some traffic first so relay collectors have values.
	conn := testhelpers.Dial(t, testhelpers.WSURL(ts))
	testhelpers.RegisterPin(t, conn, "11111111", "ana")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, metric := range []string{"pinlink_registered_pins", "pinlink_connections_active", "pinlink_frames_total"} {
		if !strings.Contains(string(body), metric) {
			t.Errorf("metrics output missing %s", metric)
		}
	}
}

func TestWebSocketRejectsNonGet(t *testing.T) {
	ts, _ := testhelpers.StartRelay(t)

	resp, err := http.Post(ts.URL+"/ws", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST /ws: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestWebSocketRejectsDisallowedOrigin(t *testing.T) {
	ts, _ := testhelpers.StartRelay(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/ws", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}
