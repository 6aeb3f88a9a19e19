package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"callcenter/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 8 << 10
)

// WSHandler attaches WebSocket connections to the Hub.
type WSHandler struct {
	Hub *Hub

	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string

	BufferSize   int
	PingInterval time.Duration
}

func (h WSHandler) upgrader() websocket.Upgrader {
	allowed := h.AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(allowed) == 0 || origin == "" {
				return true
			}
			for _, o := range allowed {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
}

// Serve upgrades the request and blocks until the connection ends.
func (h WSHandler) Serve(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Hub == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "relay not configured"})
		return
	}
	up := h.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn("websocket upgrade failed", "err", err)
		return
	}

	ping := h.PingInterval
	if ping <= 0 {
		ping = 30 * time.Second
	}
	client := NewClient(uuid.NewString(), h.BufferSize)
	log = log.With("observer_id", client.ID())

	// Queue the greeting before subscribing so it precedes every broadcast.
	client.Deliver(Event{Name: EventConnected, Data: ConnectedPayload{ObserverID: client.ID()}, Time: time.Now().UTC()})
	if !h.Hub.Subscribe(client) {
		_ = conn.Close()
		return
	}
	log.Info("relay observer connected")

	// Keep request values (client IP, logger) but not the request's lifetime.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()
	go writePump(conn, client, ping, log)
	readPump(ctx, conn, h.Hub, client, ping, log)

	h.Hub.Unsubscribe(client.ID())
	log.Info("relay observer disconnected")
}

func readPump(ctx context.Context, conn *websocket.Conn, hub *Hub, client *Client, ping time.Duration, log *slog.Logger) {
	defer conn.Close()
	pongWait := ping * 2
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", "err", err)
			}
			return
		}
		cmd, err := DecodeCommand(msg)
		if err != nil {
			hub.SendTo(client.ID(), EventCommandError, CommandErrorPayload{Error: err.Error()})
			continue
		}
		_ = hub.Dispatch(ctx, client.ID(), cmd)
	}
}

func writePump(conn *websocket.Conn, client *Client, ping time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev := <-client.Events():
			b, err := Encode(ev)
			if err != nil {
				log.Error("relay event encode failed", "event", ev.Name, "err", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Debug("websocket write failed", "err", err)
				}
				client.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}
		case <-client.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
