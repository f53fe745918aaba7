package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/cexll/agentcore-go/pkg/message"
)

// OpenAIConfig configures the chat-completions backed Model.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	System      string
	Temperature *float64
}

type openaiModel struct {
	client      openaisdk.Client
	model       string
	maxTokens   int
	system      string
	temperature *float64
}

// NewOpenAI constructs an OpenAI-backed Model. BaseURL may point at any
// chat-completions compatible endpoint.
func NewOpenAI(cfg OpenAIConfig) (Model, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	mdl := strings.TrimSpace(cfg.Model)
	if mdl == "" {
		mdl = openaisdk.ChatModelGPT4o
	}

	return &openaiModel{
		client:      openaisdk.NewClient(opts...),
		model:       mdl,
		maxTokens:   cfg.MaxTokens,
		system:      strings.TrimSpace(cfg.System),
		temperature: cfg.Temperature,
	}, nil
}

func (m *openaiModel) Complete(ctx context.Context, req Request) (*Response, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model:    m.model,
		Messages: m.convertMessages(req),
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(maxTokens))
	}

	temp := m.temperature
	if req.Temperature != nil {
		temp = req.Temperature
	}
	if temp != nil {
		params.Temperature = openaisdk.Float(*temp)
	}

	if len(req.Tools) > 0 {
		params.Tools = convertOpenAITools(req.Tools)
	}

	mdl := strings.TrimSpace(req.Model)
	if mdl != "" {
		params.Model = mdl
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai completion: empty choices")
	}

	return convertOpenAIResponse(resp), nil
}

func (m *openaiModel) convertMessages(req Request) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+2)
	for _, sys := range []string{m.system, req.System} {
		if trimmed := strings.TrimSpace(sys); trimmed != "" {
			out = append(out, openaisdk.SystemMessage(trimmed))
		}
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case message.RoleSystem:
			out = append(out, openaisdk.SystemMessage(msg.Content))
		case message.RoleAssistant:
			out = append(out, convertOpenAIAssistant(msg))
		case message.RoleTool:
			out = append(out, openaisdk.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openaisdk.UserMessage(msg.Content))
		}
	}
	return out
}

func convertOpenAIAssistant(msg message.Message) openaisdk.ChatCompletionMessageParamUnion {
	if len(msg.ToolCalls) == 0 {
		return openaisdk.AssistantMessage(msg.Content)
	}

	assistant := openaisdk.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		assistant.Content.OfString = openaisdk.String(msg.Content)
	}

	calls := make([]openaisdk.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		calls = append(calls, openaisdk.ChatCompletionMessageToolCallParam{
			ID:   call.ID,
			Type: "function",
			Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: string(args),
			},
		})
	}
	assistant.ToolCalls = calls

	return openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func convertOpenAITools(tools []ToolDefinition) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for _, def := range tools {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		params := def.Parameters
		if len(params) == 0 {
			params = map[string]any{"type": "object"}
		}
		fn := openaisdk.FunctionDefinitionParam{
			Name:       name,
			Parameters: openaisdk.FunctionParameters(params),
		}
		if def.Description != "" {
			fn.Description = openaisdk.String(def.Description)
		}
		out = append(out, openaisdk.ChatCompletionToolParam{
			Type:     "function",
			Function: fn,
		})
	}
	return out
}

func convertOpenAIResponse(resp *openaisdk.ChatCompletion) *Response {
	choice := resp.Choices[0]

	var toolCalls []message.ToolCall
	for _, call := range choice.Message.ToolCalls {
		args := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				args = map[string]any{"raw": call.Function.Arguments}
			}
		}
		toolCalls = append(toolCalls, message.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}

	input := int(resp.Usage.PromptTokens)
	output := int(resp.Usage.CompletionTokens)
	return &Response{
		Content:    choice.Message.Content,
		ToolCalls:  toolCalls,
		StopReason: string(choice.FinishReason),
		Usage: Usage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		},
	}
}
