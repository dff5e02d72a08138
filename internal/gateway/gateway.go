// Package gateway defines the abstract transport port the streaming
// broadcaster emits through (spec §4.9). It is not a concrete transport —
// see gateway/wsgateway for the WebSocket-backed implementation.
package gateway

// Gateway is the fan-out surface the broadcaster and subscription registry
// depend on. Implementations back rooms with an efficient fan-out
// structure; emitting to an empty room is a no-op, logged.
type Gateway interface {
	// EmitToClient sends event/data to exactly one client, if connected.
	EmitToClient(clientID, event string, data any)

	// EmitToAll sends event/data to every connected client.
	EmitToAll(event string, data any)

	// EmitToRoom sends event/data to every client currently in room.
	EmitToRoom(room, event string, data any)

	// JoinRoom adds clientID to room.
	JoinRoom(clientID, room string)

	// LeaveRoom removes clientID from room.
	LeaveRoom(clientID, room string)

	// CleanupAgentRooms drains every client from the room for agentID.
	CleanupAgentRooms(agentID string)

	// GetConnectedClients returns the ids of every connected client.
	GetConnectedClients() []string

	// IsClientConnected reports whether clientID is currently connected.
	IsClientConnected(clientID string) bool
}

// AgentRoom is the room name convention used for per-agent broadcasts
// (spec §4.7: `"agent:<id>"`).
func AgentRoom(agentID string) string {
	return "agent:" + agentID
}
