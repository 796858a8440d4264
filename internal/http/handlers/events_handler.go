// README: Websocket stream of a driver's engine events.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tricykol/internal/events"
	"tricykol/internal/types"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = pongTimeout * 9 / 10
)

type Subscriber interface {
	Subscribe(l events.Listener) func()
}

type EventsHandler struct {
	bus      Subscriber
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewEventsHandler(bus Subscriber, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Native app clients send no Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Stream upgrades to a websocket and forwards every event published for the
// caller. Events are dropped when the client cannot keep up.
func (h *EventsHandler) Stream(c *gin.Context) {
	id, ok := requireDriver(c)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "driver_id", id, "error", err)
		return
	}
	defer conn.Close()
	logger := h.logger.With("driver_id", id)

	out := make(chan events.Event, eventBuffer)
	unsubscribe := h.bus.Subscribe(events.ListenerFunc(func(_ context.Context, ev events.Event) {
		if ev.DriverID != types.ID(id) {
			return
		}
		select {
		case out <- ev:
		default:
			logger.Warn("dropping event for slow websocket client", "kind", ev.Kind)
		}
	}))
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	logger.Info("event stream opened")
	for {
		select {
		case <-closed:
			logger.Info("event stream closed")
			return
		case <-c.Request.Context().Done():
			return
		case ev := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Warn("writing event", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
