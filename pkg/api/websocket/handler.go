package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/construtor/internal/application/eventbus"
	"github.com/aescanero/construtor/pkg/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	bufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler streams bus events to WebSocket clients.
type Handler struct {
	bus    *eventbus.Bus
	logger *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(bus *eventbus.Bus, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{bus: bus, logger: logger}
}

// HandleWorkflowStream streams every event correlated with the workflow
// in the path. Events already in history are replayed first. A client
// that cannot keep up loses events rather than slowing the bus.
func (h *Handler) HandleWorkflowStream(c *gin.Context) {
	workflowID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("workflow_id", workflowID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan *domain.Event, bufferSize)
	sub := h.bus.SubscribeAll(eventbus.HandlerFunc(func(_ context.Context, e *domain.Event) error {
		if e.CorrelationID != workflowID {
			return nil
		}
		select {
		case events <- e:
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("workflow_id", workflowID),
				zap.String("event_id", e.ID),
				zap.String("event_type", string(e.Type)))
		}
		return nil
	}))
	defer h.bus.Unsubscribe(sub)

	go h.readPump(conn, cancel)

	sent := map[string]bool{}
	for _, e := range h.bus.CorrelationChain(workflowID) {
		if err := h.write(conn, e); err != nil {
			return
		}
		sent[e.ID] = true
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			if sent[e.ID] {
				delete(sent, e.ID)
				continue
			}
			if err := h.write(conn, e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, e *domain.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(e); err != nil {
		h.logger.Debug("failed to write message", zap.Error(err))
		return err
	}
	return nil
}

// readPump drains client frames so that pongs and close frames are
// processed, and cancels the stream when the client goes away.
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
