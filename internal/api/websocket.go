package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/gateway"
	"github.com/kandev/agentcore/internal/gateway/wsgateway"
	"github.com/kandev/agentcore/internal/orchestrator"
	"github.com/kandev/agentcore/internal/subscription"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients may run on a different origin in development; the
	// realtime channel carries no credentials of its own.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketHandler upgrades incoming connections and wires each client's
// subscribe/unsubscribe actions (spec §6.2) to the subscription registry.
// It needs the concrete *wsgateway.Hub (not just the gateway.Gateway
// interface) to register the raw *wsgateway.Client it creates per
// connection.
type WebSocketHandler struct {
	coordinator *orchestrator.Coordinator
	registry    *subscription.Registry
	hub         *wsgateway.Hub
	logger      *logger.Logger
}

// NewWebSocketHandler constructs a WebSocketHandler.
func NewWebSocketHandler(coordinator *orchestrator.Coordinator, registry *subscription.Registry, hub *wsgateway.Hub, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		coordinator: coordinator,
		registry:    registry,
		hub:         hub,
		logger:      log.WithFields(zap.String("component", "agent-ws")),
	}
}

type connectedPayload struct {
	ClientID  string    `json:"clientId"`
	Timestamp time.Time `json:"timestamp"`
}

type agentEventPayload struct {
	AgentID   string    `json:"agentId"`
	Timestamp time.Time `json:"timestamp"`
}

// Serve upgrades the request to a WebSocket connection and registers the
// resulting client with the hub, handing subscribe/unsubscribe actions off
// to the subscription registry.
func (h *WebSocketHandler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	client := wsgateway.NewClient(clientID, conn, h.hub, h.onMessage, h.onDisconnect, h.logger.Zap())
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	h.hub.EmitToClient(clientID, "connected", connectedPayload{ClientID: clientID, Timestamp: time.Now()})
}

func (h *WebSocketHandler) onMessage(clientID string, msg wsgateway.ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.AgentID == "" {
			return
		}
		rn, ok := h.coordinator.GetRunnerForAgent(msg.AgentID)
		if ok {
			h.registry.Subscribe(msg.AgentID, clientID, rn)
		}
		h.hub.JoinRoom(clientID, gateway.AgentRoom(msg.AgentID))
		h.hub.EmitToClient(clientID, "subscribed", agentEventPayload{AgentID: msg.AgentID, Timestamp: time.Now()})
	case "unsubscribe":
		if msg.AgentID == "" {
			return
		}
		h.registry.UnsubscribeFromAgent(msg.AgentID, clientID)
		h.hub.LeaveRoom(clientID, gateway.AgentRoom(msg.AgentID))
		h.hub.EmitToClient(clientID, "unsubscribed", agentEventPayload{AgentID: msg.AgentID, Timestamp: time.Now()})
	default:
		h.logger.Debug("unrecognized client action", zap.String("action", msg.Action), zap.String("client_id", clientID))
	}
}

func (h *WebSocketHandler) onDisconnect(clientID string) {
	h.registry.UnsubscribeClient(clientID)
}
