package runner

import (
	"encoding/json"

	"github.com/kandev/agentcore/internal/domain"
)

// parsedLine is the normalized shape a backend's stream-json protocol line
// decodes into. A line that carries no agent-visible signal (pure framing)
// decodes to a zero-value parsedLine with none of the pointer fields set,
// and callers must silently drop it rather than emit an empty message
// (spec §4.3).
type parsedLine struct {
	message  *domain.NewMessageDto
	complete *CompleteResult
	errEvent *BackendErrorEvent
}

// rawStreamEvent mirrors the line-delimited JSON protocol emitted by
// stream-json capable CLIs: a "type" discriminator plus a payload whose
// shape depends on it.
type rawStreamEvent struct {
	Type     string          `json:"type"`
	Role     string          `json:"role"`
	Content  json.RawMessage `json:"content"`
	Subtype  string          `json:"subtype"`
	IsError  bool            `json:"is_error"`
	Error    string          `json:"error"`
	Result   string          `json:"result"`
	DurationMS int64         `json:"duration_ms"`
	NumTurns int             `json:"num_turns"`
}

// parseStreamJSONLine parses one line of a backend's stdout. A line that is
// not valid JSON, or whose "type" carries no agent-visible signal (e.g. a
// bare ping), yields an empty parsedLine{} rather than an error — framing
// noise is expected and must never surface as a message.
func parseStreamJSONLine(line string) parsedLine {
	var ev rawStreamEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return parsedLine{}
	}

	switch ev.Type {
	case "assistant", "user", "tool", "response":
		return parsedLine{message: &domain.NewMessageDto{
			Type:    domain.MessageType(ev.Type),
			Role:    ev.Role,
			Content: contentOrRaw(ev.Content),
			Raw:     line,
		}}
	case "system":
		return parsedLine{message: &domain.NewMessageDto{
			Type:    domain.MessageTypeSystem,
			Role:    ev.Role,
			Content: contentOrRaw(ev.Content),
			Raw:     line,
		}}
	case "error":
		return parsedLine{errEvent: &BackendErrorEvent{
			Kind:    ev.Subtype,
			Message: ev.Error,
			Fatal:   true,
		}}
	case "result":
		status := "success"
		if ev.IsError {
			status = "failed"
		}
		return parsedLine{complete: &CompleteResult{
			Status:       status,
			DurationMS:   ev.DurationMS,
			MessageCount: ev.NumTurns,
		}}
	default:
		// Unrecognized discriminator: framing-only, drop silently.
		return parsedLine{}
	}
}

func contentOrRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err == nil {
		return generic
	}
	return string(raw)
}
