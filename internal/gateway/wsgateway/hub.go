// Package wsgateway is the WebSocket-backed implementation of gateway.Gateway
// (spec §4.9), adapted from the teacher's unified WebSocket gateway
// (internal/gateway/websocket/hub.go + client.go): one Hub owns every
// connected Client and a room index, mutating both only through its
// register/unregister channels and a room mutex.
package wsgateway

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// envelope is the wire shape of every server-to-client push: an event name
// plus its JSON payload.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub manages every connected WebSocket client and the room membership used
// for per-agent fan-out.
type Hub struct {
	logger *zap.Logger

	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]struct{} // room -> set of client ids
}

// NewHub constructs a Hub. Call Run in a goroutine before accepting
// connections.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]struct{}),
	}
}

// Run processes register/unregister events until the caller closes the
// done channel.
func (h *Hub) Run(done <-chan struct{}) {
	h.logger.Info("websocket gateway hub started")
	defer h.logger.Info("websocket gateway hub stopped")

	for {
		select {
		case <-done:
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.ID] = c
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("client_id", c.ID))
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.closeSend()
		delete(h.clients, id)
	}
	h.rooms = make(map[string]map[string]struct{})
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)
	c.closeSend()
	for room, members := range h.rooms {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.logger.Debug("client unregistered", zap.String("client_id", c.ID))
}

// Register adds c to the hub once its pumps are ready to receive.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister removes c from the hub, closing its send channel.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// EmitToClient implements gateway.Gateway.
func (h *Hub) EmitToClient(clientID, event string, data any) {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.deliver(c, event, data)
}

// EmitToAll implements gateway.Gateway.
func (h *Hub) EmitToAll(event string, data any) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, event, data)
	}
}

// EmitToRoom implements gateway.Gateway. Emitting to an empty room is a
// logged no-op.
func (h *Hub) EmitToRoom(room, event string, data any) {
	h.mu.RLock()
	members := h.rooms[room]
	targets := make([]*Client, 0, len(members))
	for id := range members {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		h.logger.Debug("emit to empty room", zap.String("room", room), zap.String("event", event))
		return
	}
	for _, c := range targets {
		h.deliver(c, event, data)
	}
}

func (h *Hub) deliver(c *Client, event string, data any) {
	payload, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		h.logger.Error("failed to marshal outgoing event", zap.String("event", event), zap.Error(err))
		return
	}
	if !c.trySend(payload) {
		h.logger.Warn("client send buffer full, dropping event",
			zap.String("client_id", c.ID), zap.String("event", event))
	}
}

// JoinRoom implements gateway.Gateway.
func (h *Hub) JoinRoom(clientID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[clientID] = struct{}{}
}

// LeaveRoom implements gateway.Gateway.
func (h *Hub) LeaveRoom(clientID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// CleanupAgentRooms implements gateway.Gateway, draining every client from
// "agent:<id>".
func (h *Hub) CleanupAgentRooms(agentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, "agent:"+agentID)
}

// GetConnectedClients implements gateway.Gateway.
func (h *Hub) GetConnectedClients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// IsClientConnected implements gateway.Gateway.
func (h *Hub) IsClientConnected(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[clientID]
	return ok
}
