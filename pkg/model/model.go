package model

import (
	"context"

	"github.com/cexll/agentcore-go/pkg/message"
)

// ToolDefinition describes one tool in the catalogue sent with a request.
// Parameters holds a JSON-schema object in generic map form so the adapter
// for each provider can encode it natively.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request carries the full conversation log and tool catalogue for one
// completion round-trip.
type Request struct {
	Messages    []message.Message
	Tools       []ToolDefinition
	System      string
	Model       string
	MaxTokens   int
	Temperature *float64
}

// Usage summarizes token accounting reported by the provider.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	TotalTokens         int
	CacheReadTokens     int
	CacheCreationTokens int
}

// Response is the normalized provider answer. A raised failure from Complete
// is not recovered by the loop; it aborts the current call.
type Response struct {
	Content    string
	ToolCalls  []message.ToolCall
	Reasoning  string
	StopReason string
	Usage      Usage
}

// Model is the language-model boundary consumed by the loop runner.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
