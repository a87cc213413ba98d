package feed

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"aerosense-sim/internal/broadcast"
	"aerosense-sim/internal/logging"
	"aerosense-sim/internal/telemetry"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// WebSocketHandler streams hub events to browser clients, one subscription per
// connection. The optional query parameter site=<id> limits the stream to one site.
type WebSocketHandler struct {
	hub      *broadcast.Hub
	opts     broadcast.Options
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a handler whose subscriptions use opts.
func NewWebSocketHandler(hub *broadcast.Hub, opts broadcast.Options) *WebSocketHandler {
	return &WebSocketHandler{
		hub:  hub,
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var siteFilter int64
	if v := r.URL.Query().Get("site"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid site", http.StatusBadRequest)
			return
		}
		siteFilter = id
	}

	log := logging.FromContext(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	id := "ws-" + uuid.NewString()
	sub, err := h.hub.Subscribe(id, h.opts)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(wsWriteTimeout))
		return
	}
	defer func() { _ = h.hub.Unsubscribe(id) }()
	log = log.With("subscriber", id)
	log.Info("websocket client connected", "remote", r.RemoteAddr)

	// The reader only exists to notice the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			log.Info("websocket client disconnected")
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if siteFilter != 0 && ev.SiteID() != siteFilter {
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				log.Warn("websocket write failed", "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev telemetry.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
