package websocket

import (
	"context"
	"net/http"
	"time"

	"ringline/internal/events"
	"ringline/internal/services"
	"ringline/internal/transport/httpdto"
	"ringline/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxFrameSize = 16 << 10

type Handler struct {
	auth     *services.AuthService
	hub      *Hub
	relay    *RelayAuthorizer
	bus      events.Bus
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewHandler(auth *services.AuthService, hub *Hub, relay *RelayAuthorizer, bus events.Bus, log *logger.Logger) *Handler {
	return &Handler{
		auth:  auth,
		hub:   hub,
		relay: relay,
		bus:   bus,
		log:   log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Connect upgrades GET /v1/ws?token= and streams the caller's user channel.
func (h *Handler) Connect(c *gin.Context) {
	id, err := h.auth.ParseAccessToken(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, id.UserID, events.UserChannel(id.UserID))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.hub.Register(client)
	go client.WriteLoop(ctx)

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleFrame(ctx, client.UserID, data)
	}

	h.hub.Unregister(client)
}

// handleFrame relays participant-joined/left frames to co-participants.
// Any other frame type from a client is ignored.
func (h *Handler) handleFrame(ctx context.Context, sender uuid.UUID, data []byte) {
	_, event, ok, err := events.Decode(data)
	if err != nil || !ok {
		return
	}

	switch e := event.(type) {
	case events.ParticipantJoined:
		e.ParticipantID = sender.String()
		event = e
	case events.ParticipantLeft:
		e.ParticipantID = sender.String()
		event = e
	default:
		return
	}

	audience, err := h.relay.Audience(ctx, sender, event.Call())
	if err != nil {
		h.log.Logger.Debug("relay rejected",
			zap.String("user_id", sender.String()),
			zap.String("call_id", event.Call()),
			zap.Error(err),
		)
		return
	}
	for _, target := range audience {
		h.bus.Publish(ctx, target, event)
	}
}
