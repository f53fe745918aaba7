package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/cexll/agentcore-go/pkg/message"
)

const defaultAnthropicModel = string(anthropicsdk.ModelClaudeSonnet4_5)

// AnthropicConfig wires a plain anthropic-sdk-go client into the Model interface.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	MaxRetries  int
	System      string
	Temperature *float64
	HTTPClient  *http.Client
}

type anthropicMessages interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

type anthropicModel struct {
	msgs        anthropicMessages
	model       string
	maxTokens   int
	maxRetries  int
	system      string
	temperature *float64
}

// NewAnthropic constructs a production-ready Anthropic-backed Model.
func NewAnthropic(cfg AnthropicConfig) (Model, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: api key required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	client := anthropicsdk.NewClient(opts...)
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	mdl := strings.TrimSpace(cfg.Model)
	if mdl == "" {
		mdl = defaultAnthropicModel
	}

	return &anthropicModel{
		msgs:        &client.Messages,
		model:       mdl,
		maxTokens:   maxTokens,
		maxRetries:  retries,
		system:      strings.TrimSpace(cfg.System),
		temperature: cfg.Temperature,
	}, nil
}

// Complete issues a non-streaming completion.
func (m *anthropicModel) Complete(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	err := m.doWithRetry(ctx, func(ctx context.Context) error {
		params, err := m.buildParams(req)
		if err != nil {
			return err
		}

		msg, err := m.msgs.New(ctx, params)
		if err != nil {
			return err
		}

		resp = convertAnthropicResponse(msg)
		return nil
	})
	return resp, err
}

func (m *anthropicModel) buildParams(req Request) (anthropicsdk.MessageNewParams, error) {
	systemBlocks, messageParams := convertAnthropicMessages(req.Messages, m.system, req.System)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}
	mdl := strings.TrimSpace(req.Model)
	if mdl == "" {
		mdl = m.model
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(mdl),
		MaxTokens: int64(maxTokens),
		Messages:  messageParams,
	}

	if len(systemBlocks) > 0 {
		params.System = systemBlocks
	}

	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropicsdk.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	if m.temperature != nil {
		params.Temperature = param.NewOpt(*m.temperature)
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}

	return params, nil
}

func (m *anthropicModel) doWithRetry(ctx context.Context, fn func(context.Context) error) error {
	attempts := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isRetryable(err) || attempts >= m.maxRetries {
			return err
		}
		attempts++
		backoff := time.Duration(attempts*attempts) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func convertAnthropicMessages(msgs []message.Message, defaults ...string) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam) {
	var systemBlocks []anthropicsdk.TextBlockParam
	for _, sys := range defaults {
		if trimmed := strings.TrimSpace(sys); trimmed != "" {
			systemBlocks = append(systemBlocks, anthropicsdk.TextBlockParam{Text: trimmed})
		}
	}

	messageParams := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case message.RoleSystem:
			if trimmed := strings.TrimSpace(msg.Content); trimmed != "" {
				systemBlocks = append(systemBlocks, anthropicsdk.TextBlockParam{Text: trimmed})
			}
		case message.RoleAssistant:
			messageParams = append(messageParams, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleAssistant,
				Content: buildAssistantContent(msg),
			})
		case message.RoleTool:
			messageParams = append(messageParams, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: buildToolResult(msg),
			})
		default:
			content := msg.Content
			if strings.TrimSpace(content) == "" {
				content = "."
			}
			messageParams = append(messageParams, anthropicsdk.MessageParam{
				Role: anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{
					anthropicsdk.NewTextBlock(content),
				},
			})
		}
	}

	if len(messageParams) == 0 {
		messageParams = append(messageParams, anthropicsdk.MessageParam{
			Role: anthropicsdk.MessageParamRoleUser,
			Content: []anthropicsdk.ContentBlockParamUnion{
				anthropicsdk.NewTextBlock("."),
			},
		})
	}

	return systemBlocks, messageParams
}

func buildAssistantContent(msg message.Message) []anthropicsdk.ContentBlockParamUnion {
	blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
	if strings.TrimSpace(msg.Content) != "" {
		blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
	}
	for _, call := range msg.ToolCalls {
		id := strings.TrimSpace(call.ID)
		name := strings.TrimSpace(call.Name)
		if id == "" || name == "" {
			continue
		}
		blocks = append(blocks, anthropicsdk.NewToolUseBlock(id, cloneArguments(call.Arguments), name))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropicsdk.NewTextBlock("."))
	}
	return blocks
}

func buildToolResult(msg message.Message) []anthropicsdk.ContentBlockParamUnion {
	id := strings.TrimSpace(msg.ToolCallID)
	if id == "" {
		return []anthropicsdk.ContentBlockParamUnion{
			anthropicsdk.NewTextBlock(msg.Content),
		}
	}
	isError := false
	if outcome, err := message.DecodeOutcome(msg.Content); err == nil {
		isError = !outcome.Success
	}
	return []anthropicsdk.ContentBlockParamUnion{
		anthropicsdk.NewToolResultBlock(id, msg.Content, isError),
	}
}

func convertAnthropicTools(tools []ToolDefinition) ([]anthropicsdk.ToolUnionParam, error) {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, def := range tools {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}

		schema, err := encodeSchema(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", name, err)
		}

		tool := anthropicsdk.ToolParam{
			Name:        name,
			InputSchema: schema,
		}
		if strings.TrimSpace(def.Description) != "" {
			tool.Description = anthropicsdk.String(def.Description)
		}

		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return out, nil
}

func encodeSchema(raw map[string]any) (anthropicsdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return anthropicsdk.ToolInputSchemaParam{Type: "object"}, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	var schema anthropicsdk.ToolInputSchemaParam
	if err := json.Unmarshal(data, &schema); err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, nil
}

func convertAnthropicResponse(msg *anthropicsdk.Message) *Response {
	var textParts []string
	var reasoningParts []string
	var toolCalls []message.ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			id := strings.TrimSpace(block.ID)
			name := strings.TrimSpace(block.Name)
			if id == "" || name == "" {
				continue
			}
			toolCalls = append(toolCalls, message.ToolCall{
				ID:        id,
				Name:      name,
				Arguments: decodeJSON(block.Input),
			})
		case "thinking":
			if block.Thinking != "" {
				reasoningParts = append(reasoningParts, block.Thinking)
			}
		default:
			if block.Text != "" {
				textParts = append(textParts, block.Text)
			}
		}
	}

	return &Response{
		Content:    strings.Join(textParts, ""),
		Reasoning:  strings.Join(reasoningParts, ""),
		ToolCalls:  toolCalls,
		StopReason: string(msg.StopReason),
		Usage:      convertAnthropicUsage(msg.Usage),
	}
}

func decodeJSON(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": v}
}

func cloneArguments(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, item := range val {
			cp[k] = cloneArguments(item)
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, el := range val {
			cp[i] = cloneArguments(el)
		}
		return cp
	default:
		return val
	}
}

func convertAnthropicUsage(u anthropicsdk.Usage) Usage {
	input := int(u.InputTokens)
	return Usage{
		InputTokens:         input,
		OutputTokens:        int(u.OutputTokens),
		TotalTokens:         input + int(u.OutputTokens),
		CacheReadTokens:     int(u.CacheReadInputTokens),
		CacheCreationTokens: int(u.CacheCreationInputTokens),
	}
}
