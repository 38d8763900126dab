package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/imgclassify/internal/logger"
	"github.com/onnwee/imgclassify/internal/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512

	defaultStreamInterval = 5 * time.Second
)

// StreamMessage is one frame sent to report stream clients.
type StreamMessage struct {
	Type    string      `json:"type"` // "report"
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sent_at"`
}

// streamRequest is what clients may send to change their subscription.
type streamRequest struct {
	Type string `json:"type"` // "subscribe"
	TopN int    `json:"top_n"`
}

// ReportStreamHandler pushes a sweep+report snapshot to each WebSocket client
// on connect and then every interval.
type ReportStreamHandler struct {
	monitor  Reporter
	topN     int
	interval time.Duration
	upgrader websocket.Upgrader

	stop     chan struct{}
	stopOnce sync.Once
}

// NewReportStreamHandler creates the stream handler. checkOrigin decides which
// browser origins may open a stream; nil accepts all. A non-positive interval
// falls back to five seconds.
func NewReportStreamHandler(m Reporter, topN int, interval time.Duration, checkOrigin func(*http.Request) bool) *ReportStreamHandler {
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &ReportStreamHandler{
		monitor:  m,
		topN:     topN,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		stop: make(chan struct{}),
	}
}

// Close disconnects every open stream. Hijacked connections are not closed
// by http.Server.Shutdown, so the server registers this as a shutdown hook.
func (h *ReportStreamHandler) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// HandleWebSocket upgrades the connection and streams reports until the
// client goes away or the handler is closed.
// GET /report/stream
func (h *ReportStreamHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		logger.WarnContext(r.Context(), "Failed to upgrade report stream", "error", err)
		return
	}
	defer conn.Close()

	metrics.ReportStreamConnections.Inc()
	defer metrics.ReportStreamConnections.Dec()
	log := logger.ForContext(r.Context(), "report_stream")
	log.Info("Report stream client connected", "remote_addr", r.RemoteAddr)

	var topN atomic.Int64
	topN.Store(int64(h.topN))
	changed := make(chan struct{}, 1)
	done := make(chan struct{})
	go h.readPump(conn, &topN, changed, done)

	h.writePump(conn, &topN, changed, done)
	log.Info("Report stream client disconnected", "remote_addr", r.RemoteAddr)
}

// readPump handles pongs and subscription changes; it closes done when the
// peer goes away.
func (h *ReportStreamHandler) readPump(conn *websocket.Conn, topN *atomic.Int64, changed chan<- struct{}, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Report stream unexpected close", "error", err)
			}
			return
		}
		var req streamRequest
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		if req.Type == "subscribe" && req.TopN > 0 && req.TopN <= maxReportTopN {
			topN.Store(int64(req.TopN))
			select {
			case changed <- struct{}{}:
			default:
			}
		}
	}
}

func (h *ReportStreamHandler) writePump(conn *websocket.Conn, topN *atomic.Int64, changed <-chan struct{}, done <-chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	pinger := time.NewTicker(pingPeriod)
	defer pinger.Stop()

	if err := h.send(conn, int(topN.Load())); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-h.stop:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-changed:
			if err := h.send(conn, int(topN.Load())); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.send(conn, int(topN.Load())); err != nil {
				return
			}
		case <-pinger.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *ReportStreamHandler) send(conn *websocket.Conn, topN int) error {
	msg := StreamMessage{
		Type:    "report",
		Payload: snapshot(h.monitor, topN),
		SentAt:  time.Now().UTC(),
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		logger.Debug("Report stream write failed", "error", err)
		return err
	}
	metrics.ReportStreamMessagesSent.Inc()
	return nil
}
