package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mylifebyai/mlbai/internal/models"
	"github.com/mylifebyai/mlbai/internal/services"
	"github.com/sirupsen/logrus"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsWriteWait  = 10 * time.Second
)

type WSHandler struct {
	sync     services.PatreonSyncService
	log      *logrus.Logger
	upgrader websocket.Upgrader

	// pingPeriod must stay below pongWait or idle viewers time out mid-batch.
	pongWait   time.Duration
	pingPeriod time.Duration
}

// NewWSHandler serves the admin live-resync socket. Browser origins must match
// allowedOrigin (APP_BASE_URL); non-browser clients send no Origin and pass.
func NewWSHandler(sync services.PatreonSyncService, allowedOrigin string, log *logrus.Logger) *WSHandler {
	return &WSHandler{
		sync: sync,
		log:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigin),
		},
		pongWait:   wsPongWait,
		pingPeriod: wsPingPeriod,
	}
}

func originChecker(allowed string) func(*http.Request) bool {
	allowed = strings.TrimRight(allowed, "/")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowed != "" {
			return strings.EqualFold(strings.TrimRight(origin, "/"), allowed)
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

type wsServerMsg struct {
	Type   string               `json:"type"` // started|result|complete|error
	RunID  string               `json:"runId,omitempty"`
	Result *models.SyncResult   `json:"result,omitempty"`
	Report *services.SyncReport `json:"report,omitempty"`
	Error  string               `json:"error,omitempty"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) writeControl(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(messageType, data, time.Now().Add(wsWriteWait))
}

// keepAlive pings until stop closes so the peer's pongs keep extending the
// read deadline while the batch is between results.
func (w *wsConn) keepAlive(period time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := w.writeControl(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SyncWS runs a full resync and streams each result as it lands. The batch
// keeps running if the viewer disconnects.
func (h *WSHandler) SyncWS(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()
	wc := &wsConn{c: conn}

	// reader: only control frames matter; a read error means the client left
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	connected := func() bool {
		select {
		case <-gone:
			return false
		default:
			return true
		}
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go wc.keepAlive(h.pingPeriod, stopPing)

	log := h.log.WithField("user_id", userID)
	_ = wc.writeJSON(wsServerMsg{Type: "started"})

	ctx := context.WithoutCancel(c.Request.Context())
	report, err := h.sync.SyncBatch(ctx, services.BatchRequest{
		Trigger: services.TriggerWebSocket,
		OnResult: func(r models.SyncResult) {
			if connected() {
				_ = wc.writeJSON(wsServerMsg{Type: "result", Result: &r})
			}
		},
	})
	if err != nil {
		log.WithError(err).Error("websocket resync failed")
		_ = wc.writeJSON(wsServerMsg{Type: "error", Error: "resync failed"})
		return
	}
	if connected() {
		_ = wc.writeJSON(wsServerMsg{Type: "complete", RunID: report.RunID, Report: report})
		_ = wc.writeControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	}
}
