package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 1024

// AnthropicProvider implements Provider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete makes a messages API call
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	params := p.buildParams(req)

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	return p.toResponse(req.Model, message), nil
}

// Stream makes a streaming messages API call
func (p *AnthropicProvider) Stream(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	params := p.buildParams(req)

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("failed to accumulate stream: %w", err)}
		}
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" && onDelta != nil {
				onDelta(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, p.wrapError(err)
	}

	return p.toResponse(req.Model, &message), nil
}

func (p *AnthropicProvider) buildParams(req Request) anthropic.MessageNewParams {
	// Anthropic takes a single system prompt, so mid-conversation system
	// messages are appended to it in order.
	system := []string{}
	if req.System != "" {
		system = append(system, req.System)
	}

	messages := []anthropic.MessageParam{}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError),
			))
		case RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any = tc.Arguments
				if tc.Arguments == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	maxTokens := int64(req.Sampling.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}

	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if req.Sampling.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Sampling.Temperature)
	}
	if req.Sampling.TopP > 0 {
		params.TopP = anthropic.Float(req.Sampling.TopP)
	}

	if len(req.Tools) > 0 {
		tools := []anthropic.ToolUnionParam{}
		for _, tool := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters["properties"],
				},
			}
			if required, ok := tool.Parameters["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	return params
}

func (p *AnthropicProvider) toResponse(model string, message *anthropic.Message) *Response {
	msg := Message{Role: RoleAssistant}
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			msg.Content += b.Text
		case anthropic.ToolUseBlock:
			args, raw := DecodeArguments(string(b.Input))
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:           b.ID,
				Name:         b.Name,
				Arguments:    args,
				RawArguments: raw,
			})
		}
	}

	return &Response{
		Message: msg,
		Model:   model,
		Usage: Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}
}

func (p *AnthropicProvider) wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: p.Name(), StatusCode: apiErr.StatusCode, Err: err}
	}
	return &ProviderError{Provider: p.Name(), Err: fmt.Errorf("request failed: %w", err)}
}
