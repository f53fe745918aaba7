package message

import "encoding/json"

// Role values accepted by the log. The runtime never invents new roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall mirrors the shape of a tool invocation produced by the assistant.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Message represents a single conversational turn. Messages are append-only:
// once inserted into a Log they are never mutated.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// Outcome is the structured result carried by every tool-role message.
// Exactly one of Result or Error is meaningful, selected by Success.
type Outcome struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Encode renders the outcome as the canonical tool-message content.
func (o Outcome) Encode() string {
	data, err := json.Marshal(o)
	if err != nil {
		// Result values are host supplied; fall back to an error envelope
		// rather than dropping the outcome.
		fallback, _ := json.Marshal(Outcome{Success: false, Error: "unencodable tool result"})
		return string(fallback)
	}
	return string(data)
}

// DecodeOutcome parses a tool-message content back into an Outcome.
func DecodeOutcome(content string) (Outcome, error) {
	var out Outcome
	err := json.Unmarshal([]byte(content), &out)
	return out, err
}

// NewToolOutcome builds the single tool-role message recorded for a call.
func NewToolOutcome(callID string, outcome Outcome) Message {
	return Message{
		Role:       RoleTool,
		Content:    outcome.Encode(),
		ToolCallID: callID,
	}
}

// Clone performs a deep copy of a message, duplicating nested maps to avoid
// mutation leaks between callers.
func Clone(msg Message) Message {
	clone := msg
	clone.ToolCalls = cloneToolCalls(msg.ToolCalls)
	return clone
}

// CloneAll clones an entire slice of messages.
func CloneAll(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		out[i] = Clone(msg)
	}
	return out
}

func cloneToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, call := range calls {
		out[i] = ToolCall{ID: call.ID, Name: call.Name, Arguments: cloneMap(call.Arguments)}
	}
	return out
}

func cloneMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	dup := make(map[string]any, len(input))
	for k, v := range input {
		dup[k] = v
	}
	return dup
}
