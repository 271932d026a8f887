package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/swefoundry/agentd/internal/config"
	"github.com/swefoundry/agentd/internal/registry"
	"github.com/swefoundry/agentd/internal/store"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Host:           "127.0.0.1",
		Port:           0,
		AllowedOrigins: []string{"http://allowed.test", "https://*.wild.test"},

		DefaultCommand: "/bin/bash",
		DefaultRows:    24,
		DefaultCols:    80,

		IdleAfter:       time.Minute,
		StaleAfter:      2 * time.Minute,
		MonitorInterval: time.Second,

		StartTimeout:   50 * time.Millisecond,
		TerminateGrace: 2 * time.Second,
		InjectDelay:    200 * time.Millisecond,

		ViewerQueueSize: 64,

		WSReadBufferSize:  4096,
		WSWriteBufferSize: 4096,

		GitTimeout:   5 * time.Second,
		FSMaxEntries: 500,
	}

	reg := registry.New(registry.Options{
		DefaultCommand:  cfg.DefaultCommand,
		DefaultRows:     cfg.DefaultRows,
		DefaultCols:     cfg.DefaultCols,
		IdleAfter:       cfg.IdleAfter,
		StaleAfter:      cfg.StaleAfter,
		MonitorInterval: cfg.MonitorInterval,
		StartTimeout:    cfg.StartTimeout,
		TerminateGrace:  cfg.TerminateGrace,
		InjectDelay:     cfg.InjectDelay,
		ViewerQueueSize: cfg.ViewerQueueSize,
	}, st)
	t.Cleanup(reg.CloseAll)

	srv := New(cfg, reg, st)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp, decoded
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestSystemEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/system", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	mem, _ := body["memory"].(map[string]any)
	if total, _ := mem["total_bytes"].(float64); total <= 0 {
		t.Errorf("memory total = %v", mem["total_bytes"])
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)

	resp, created := doJSON(t, http.MethodPost, ts.URL+"/api/sessions",
		map[string]string{"name": "demo", "command": "sleep 30"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("no id in create response: %v", created)
	}

	resp, listed := doJSON(t, http.MethodGet, ts.URL+"/api/sessions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	sessions, _ := listed["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("listed %d sessions, want 1", len(sessions))
	}

	resp, got := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+id, nil)
	if resp.StatusCode != http.StatusOK || got["id"] != id {
		t.Fatalf("get status = %d body = %v", resp.StatusCode, got)
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	// Metadata survives teardown via the archive.
	resp, got = doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get after delete status = %d", resp.StatusCode)
	}
	if got["status"] != "closed" {
		t.Errorf("archived status = %v, want closed", got["status"])
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/no-such-id", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete unknown status = %d, want 404", resp.StatusCode)
	}
}

func TestCreateSessionBadCwd(t *testing.T) {
	_, ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/sessions",
		map[string]string{"command": "sleep 30", "cwd": "/no/such/dir"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestResizeEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	_, created := doJSON(t, http.MethodPost, ts.URL+"/api/sessions",
		map[string]string{"command": "sleep 30"})
	id := created["id"].(string)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/resize",
		map[string]int{"cols": 120, "rows": 40})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resize status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/resize",
		map[string]int{"cols": 120, "rows": 500})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversized resize status = %d, want 400", resp.StatusCode)
	}

	doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/resize",
		map[string]int{"cols": 80, "rows": 24})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("resize closed status = %d, want 409", resp.StatusCode)
	}
}

func dialSession(t *testing.T, ts *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil drains the connection until needle shows up in the byte stream.
func readUntil(t *testing.T, conn *websocket.Conn, needle string, timeout time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var seen bytes.Buffer
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("never saw %q in output; got %q (err: %v)", needle, seen.String(), err)
		}
		seen.Write(data)
		if bytes.Contains(seen.Bytes(), []byte(needle)) {
			return
		}
	}
}

func TestWebSocketRelay(t *testing.T) {
	_, ts := newTestServer(t)

	_, created := doJSON(t, http.MethodPost, ts.URL+"/api/sessions",
		map[string]string{"command": "cat"})
	id := created["id"].(string)

	conn := dialSession(t, ts, id)

	marker := fmt.Sprintf("relay-%d", time.Now().UnixNano())
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte(marker+"\n")); err != nil {
		t.Fatalf("write input: %v", err)
	}
	readUntil(t, conn, marker, 5*time.Second)

	// Control frames are consumed, not relayed.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("__RESIZE__ 100 40")); err != nil {
		t.Fatalf("write resize: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("__NO_SUCH_OP__")); err != nil {
		t.Fatalf("write unknown control: %v", err)
	}

	// A plain text frame relays as keystrokes like a binary one.
	marker2 := fmt.Sprintf("text-%d", time.Now().UnixNano())
	if err := conn.WriteMessage(websocket.TextMessage, []byte(marker2+"\n")); err != nil {
		t.Fatalf("write text input: %v", err)
	}
	readUntil(t, conn, marker2, 5*time.Second)
}

func TestWebSocketTwoViewers(t *testing.T) {
	_, ts := newTestServer(t)

	_, created := doJSON(t, http.MethodPost, ts.URL+"/api/sessions",
		map[string]string{"command": "cat"})
	id := created["id"].(string)

	a := dialSession(t, ts, id)
	b := dialSession(t, ts, id)

	marker := fmt.Sprintf("fanout-%d", time.Now().UnixNano())
	if err := a.WriteMessage(websocket.BinaryMessage, []byte(marker+"\n")); err != nil {
		t.Fatalf("write input: %v", err)
	}
	readUntil(t, a, marker, 5*time.Second)
	readUntil(t, b, marker, 5*time.Second)
}

func TestWebSocketUnknownSession(t *testing.T) {
	_, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/no-such-id/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial to unknown session succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake response = %v, want 404", resp)
	}
}

func TestWebSocketOriginRejected(t *testing.T) {
	_, ts := newTestServer(t)

	_, created := doJSON(t, http.MethodPost, ts.URL+"/api/sessions",
		map[string]string{"command": "sleep 30"})
	id := created["id"].(string)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/" + id + "/ws"
	header := http.Header{"Origin": []string{"http://evil.test"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("dial with disallowed origin succeeded")
	}

	header = http.Header{"Origin": []string{"https://sub.wild.test"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial with wildcard-matched origin failed: %v", err)
	}
	conn.Close()
}

func TestInjectEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	_, created := doJSON(t, http.MethodPost, ts.URL+"/api/sessions",
		map[string]string{"command": "cat"})
	id := created["id"].(string)

	conn := dialSession(t, ts, id)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/inject",
		map[string]string{"text": "injected-over-http"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("inject status = %d", resp.StatusCode)
	}
	readUntil(t, conn, "injected-over-http", 5*time.Second)

	doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/inject",
		map[string]string{"text": "too late"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("inject closed status = %d, want 409", resp.StatusCode)
	}
}

func TestSessionArchiveEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	_, created := doJSON(t, http.MethodPost, ts.URL+"/api/sessions",
		map[string]string{"name": "short", "command": "sleep 30"})
	id := created["id"].(string)
	doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)

	// A second session stays live, so its archive row is not closed.
	doJSON(t, http.MethodPost, ts.URL+"/api/sessions",
		map[string]string{"name": "survivor", "command": "sleep 30"})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/archive?status=closed", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("archive status = %d", resp.StatusCode)
	}
	if total, _ := body["total"].(float64); total != 1 {
		t.Fatalf("total = %v, want 1", body["total"])
	}
	items, ok := body["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("items = %v, want one entry", body["items"])
	}

	// No status filter means closed-only: the live session is excluded.
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/sessions/archive", nil)
	if total, _ := body["total"].(float64); total != 1 {
		t.Fatalf("default filter total = %v, want 1", body["total"])
	}
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/sessions/archive?status=all", nil)
	if total, _ := body["total"].(float64); total != 2 {
		t.Fatalf("all filter total = %v, want 2", body["total"])
	}
}

func TestOriginMatching(t *testing.T) {
	allowed := []string{"http://localhost:5173", "https://*.example.com"}
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:5173", true},
		{"http://localhost:9999", false},
		{"https://app.example.com", true},
		{"https://a.b.example.com", true},
		{"https://example.com", false},
		{"https://evil.com/?.example.com", false},
	}
	for _, tt := range tests {
		if got := originAllowed(tt.origin, allowed); got != tt.want {
			t.Errorf("originAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}

	if !originAllowed("anything", []string{"*"}) {
		t.Error("bare wildcard should allow every origin")
	}
}

func TestCORSHeaders(t *testing.T) {
	_, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/sessions", nil)
	req.Header.Set("Origin", "http://allowed.test")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://allowed.test" {
		t.Errorf("allow-origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodOptions, ts.URL+"/api/sessions", nil)
	req.Header.Set("Origin", "http://evil.test")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow-origin for rejected origin = %q", got)
	}
}
