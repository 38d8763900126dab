package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type streamFrame struct {
	Type    string                    `json:"type"`
	Payload map[string]map[string]any `json:"payload"`
}

func dialStream(t *testing.T, h *ReportStreamHandler) (*websocket.Conn, func()) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		server.Close()
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("Expected status %d, got %d", http.StatusSwitchingProtocols, resp.StatusCode)
	}
	return ws, func() {
		ws.Close()
		h.Close()
		server.Close()
	}
}

func TestReportStream_InitialSnapshot(t *testing.T) {
	m, _ := newTestMonitor(time.Hour)
	m.Record("https://example.com/a.jpg", 100*time.Millisecond)
	m.Record("https://example.com/a.jpg", 300*time.Millisecond)

	h := NewReportStreamHandler(m, 10, time.Hour, nil)
	ws, cleanup := dialStream(t, h)
	defer cleanup()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame streamFrame
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Type != "report" {
		t.Errorf("expected report frame, got %q", frame.Type)
	}
	entry, ok := frame.Payload["https://example.com/a.jpg"]
	if !ok {
		t.Fatalf("expected entry for a.jpg, got %v", frame.Payload)
	}
	if entry["count"] != float64(2) || entry["mean"] != 0.2 {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestReportStream_PeriodicAndSubscribe(t *testing.T) {
	m, _ := newTestMonitor(time.Hour)
	m.Record("a", time.Millisecond)
	m.Record("b", time.Millisecond)
	m.Record("b", time.Millisecond)

	h := NewReportStreamHandler(m, 1, 50*time.Millisecond, nil)
	ws, cleanup := dialStream(t, h)
	defer cleanup()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first streamFrame
	if err := ws.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(first.Payload) != 1 {
		t.Fatalf("expected top 1, got %v", first.Payload)
	}

	if err := ws.WriteJSON(map[string]any{"type": "subscribe", "top_n": 5}); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var frame streamFrame
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(frame.Payload) == 2 {
			return
		}
	}
	t.Fatal("subscription change never reflected in stream")
}

func TestReportStream_CloseDisconnects(t *testing.T) {
	m, _ := newTestMonitor(time.Hour)
	h := NewReportStreamHandler(m, 10, time.Hour, nil)
	ws, cleanup := dialStream(t, h)
	defer cleanup()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}

	h.Close()
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}

func TestReportStream_RejectsOrigin(t *testing.T) {
	m, _ := newTestMonitor(time.Hour)
	h := NewReportStreamHandler(m, 10, time.Hour, func(r *http.Request) bool { return false })
	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}
}

func TestReportStream_NonPositiveIntervalFallsBack(t *testing.T) {
	m, _ := newTestMonitor(time.Hour)
	for _, interval := range []time.Duration{0, -time.Second} {
		h := NewReportStreamHandler(m, 10, interval, nil)
		if h.interval != defaultStreamInterval {
			t.Fatalf("interval %s: got %s, want %s", interval, h.interval, defaultStreamInterval)
		}

		ws, cleanup := dialStream(t, h)
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame streamFrame
		if err := ws.ReadJSON(&frame); err != nil {
			cleanup()
			t.Fatalf("interval %s: read: %v", interval, err)
		}
		cleanup()
	}
}
