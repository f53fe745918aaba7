package model

import (
	"testing"

	openaisdk "github.com/openai/openai-go"

	"github.com/cexll/agentcore-go/pkg/message"
)

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{}); err == nil {
		t.Fatal("expected error when api key is missing")
	}
	mdl, err := NewOpenAI(OpenAIConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("new openai failed: %v", err)
	}
	om, ok := mdl.(*openaiModel)
	if !ok {
		t.Fatalf("expected *openaiModel, got %T", mdl)
	}
	if om.model != openaisdk.ChatModelGPT4o {
		t.Fatalf("default model not applied: %s", om.model)
	}
}

func TestOpenAIConvertMessages(t *testing.T) {
	m := &openaiModel{system: "base"}
	req := Request{
		System: "inline",
		Messages: []message.Message{
			{Role: message.RoleSystem, Content: "extra"},
			{Role: message.RoleUser, Content: "hi"},
			{Role: message.RoleAssistant, Content: "calling", ToolCalls: []message.ToolCall{{ID: "call_1", Name: "search", Arguments: map[string]any{"q": "go"}}}},
			{Role: message.RoleTool, ToolCallID: "call_1", Content: `{"success":true}`},
		},
	}

	out := m.convertMessages(req)
	if len(out) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(out))
	}
	if out[0].OfSystem == nil || out[1].OfSystem == nil || out[2].OfSystem == nil {
		t.Fatalf("system messages missing: %+v", out[:3])
	}
	if out[3].OfUser == nil {
		t.Fatal("user message missing")
	}

	assistant := out[4].OfAssistant
	if assistant == nil {
		t.Fatal("assistant message missing")
	}
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(assistant.ToolCalls))
	}
	call := assistant.ToolCalls[0]
	if call.ID != "call_1" || call.Function.Name != "search" {
		t.Fatalf("tool call conversion wrong: %+v", call)
	}
	if call.Function.Arguments != `{"q":"go"}` {
		t.Fatalf("arguments not marshaled: %q", call.Function.Arguments)
	}

	toolMsg := out[5].OfTool
	if toolMsg == nil {
		t.Fatal("tool message missing")
	}
	if toolMsg.ToolCallID != "call_1" {
		t.Fatalf("tool call id mismatch: %q", toolMsg.ToolCallID)
	}
}

func TestOpenAIConvertAssistantPlain(t *testing.T) {
	out := convertOpenAIAssistant(message.Message{Role: message.RoleAssistant, Content: "plain"})
	if out.OfAssistant == nil {
		t.Fatal("assistant message missing")
	}
	if len(out.OfAssistant.ToolCalls) != 0 {
		t.Fatalf("unexpected tool calls: %+v", out.OfAssistant.ToolCalls)
	}
}

func TestConvertOpenAITools(t *testing.T) {
	tools := convertOpenAITools([]ToolDefinition{
		{Name: "search", Description: "find", Parameters: map[string]any{"type": "object"}},
		{Name: "  "},
		{Name: "bare"},
	})
	if len(tools) != 2 {
		t.Fatalf("expected blank-named tool dropped, got %d", len(tools))
	}
	if tools[0].Function.Name != "search" {
		t.Fatalf("tool name mismatch: %+v", tools[0])
	}
	if tools[1].Function.Parameters == nil {
		t.Fatal("empty schema should default to object")
	}
	if got := tools[1].Function.Parameters["type"]; got != "object" {
		t.Fatalf("default schema type mismatch: %v", got)
	}
}

func TestConvertOpenAIResponse(t *testing.T) {
	resp := convertOpenAIResponse(&openaisdk.ChatCompletion{
		Choices: []openaisdk.ChatCompletionChoice{{
			FinishReason: "tool_calls",
			Message: openaisdk.ChatCompletionMessage{
				Content: "working",
				ToolCalls: []openaisdk.ChatCompletionMessageToolCall{{
					ID: "call_9",
					Function: openaisdk.ChatCompletionMessageToolCallFunction{
						Name:      "search",
						Arguments: `{"q":"docs"}`,
					},
				}},
			},
		}},
		Usage: openaisdk.CompletionUsage{PromptTokens: 7, CompletionTokens: 5},
	})

	if resp.Content != "working" {
		t.Fatalf("content mismatch: %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Arguments["q"] != "docs" {
		t.Fatalf("tool call parsing wrong: %+v", resp.ToolCalls)
	}
	if resp.StopReason != "tool_calls" {
		t.Fatalf("stop reason mismatch: %q", resp.StopReason)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Fatalf("usage mismatch: %+v", resp.Usage)
	}
}

func TestConvertOpenAIResponseBadArguments(t *testing.T) {
	resp := convertOpenAIResponse(&openaisdk.ChatCompletion{
		Choices: []openaisdk.ChatCompletionChoice{{
			Message: openaisdk.ChatCompletionMessage{
				ToolCalls: []openaisdk.ChatCompletionMessageToolCall{{
					ID: "call_x",
					Function: openaisdk.ChatCompletionMessageToolCallFunction{
						Name:      "search",
						Arguments: `{broken`,
					},
				}},
			},
		}},
	})
	if resp.ToolCalls[0].Arguments["raw"] != `{broken` {
		t.Fatalf("malformed arguments should land in raw: %+v", resp.ToolCalls[0].Arguments)
	}
}
