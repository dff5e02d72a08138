package domain

import "time"

// MessageType enumerates the kinds of AgentMessage the store accepts.
type MessageType string

const (
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeUser      MessageType = "user"
	MessageTypeSystem    MessageType = "system"
	MessageTypeError     MessageType = "error"
	MessageTypeTool      MessageType = "tool"
	MessageTypeResponse  MessageType = "response"
)

// AgentMessage is one append-only record in an agent's message stream.
// SequenceNumber is assigned by the store, densely and starting at 1, per
// agentId (spec §3/§4.1).
type AgentMessage struct {
	ID             string         `json:"id"`
	AgentID        string         `json:"agentId"`
	SequenceNumber int64          `json:"sequenceNumber"`
	Type           MessageType    `json:"type"`
	Role           string         `json:"role,omitempty"`
	Content        string         `json:"content"`
	Raw            string         `json:"raw,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// NewMessageDto is the input to the message store's append operation.
// Content may arrive as a plain string or any JSON-serializable value; the
// store canonicalizes it to text before persisting.
type NewMessageDto struct {
	AgentID  string
	Type     MessageType
	Role     string
	Content  any
	Raw      string
	Metadata map[string]any
}
