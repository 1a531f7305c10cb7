package llm

import (
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// ToolCall is a model-issued request to run a named tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	// RawArguments holds the model's argument text when it was not a JSON object.
	RawArguments string `json:"raw_arguments,omitempty"`
}

// Malformed reports whether the call arguments could not be decoded.
func (tc ToolCall) Malformed() bool {
	return tc.RawArguments != "" && tc.Arguments == nil
}

// ToolSpec is the model-visible description of a tool.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage tracks token consumption of one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Sampling carries the sampling parameters of a request. Zero values are omitted.
type Sampling struct {
	Temperature      float64 `json:"temperature,omitempty"`
	TopP             float64 `json:"top_p,omitempty"`
	PresencePenalty  float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64 `json:"frequency_penalty,omitempty"`
	MaxTokens        int     `json:"max_tokens,omitempty"`
}

// Request is a single chat completion request.
type Request struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolSpec
	Sampling Sampling
}

// Response is the assistant message produced for a Request.
type Response struct {
	Message Message
	Model   string
	Usage   Usage
}

// HasToolCalls reports whether the message requests tool execution.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// HasToolCall reports whether the message carries a call to the named tool.
func (m Message) HasToolCall(name string) bool {
	for _, tc := range m.ToolCalls {
		if tc.Name == name {
			return true
		}
	}
	return false
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// AssistantMessage builds an assistant message without tool calls.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage builds the tool message answering call.
func ToolResultMessage(call ToolCall, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Name,
		IsError:    isError,
	}
}

// DecodeArguments parses the JSON argument text of a tool call. Text that is
// not a JSON object is kept verbatim in RawArguments.
func DecodeArguments(raw string) (map[string]any, string) {
	if raw == "" {
		return map[string]any{}, ""
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return nil, raw
	}
	return args, ""
}

func encodeArguments(tc ToolCall) (string, error) {
	if tc.Malformed() {
		return tc.RawArguments, nil
	}
	if tc.Arguments == nil {
		return "{}", nil
	}
	data, err := json.Marshal(tc.Arguments)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool arguments: %w", err)
	}
	return string(data), nil
}

// ToolCallIDPrefix starts every id the gateway assigns to a tool call.
const ToolCallIDPrefix = "call_"

// EnsureToolCallIDs gives every tool call in msg an id that is unique within
// the message. Empty and repeated ids are replaced; the number of replaced
// ids is returned.
func EnsureToolCallIDs(msg *Message) int {
	if len(msg.ToolCalls) == 0 {
		return 0
	}
	seen := make(map[string]bool, len(msg.ToolCalls))
	replaced := 0
	for i := range msg.ToolCalls {
		id := msg.ToolCalls[i].ID
		if id != "" && !seen[id] {
			seen[id] = true
			continue
		}
		for id == "" || seen[id] {
			id = newToolCallID(i)
		}
		seen[id] = true
		msg.ToolCalls[i].ID = id
		replaced++
	}
	return replaced
}

func newToolCallID(index int) string {
	id, err := gonanoid.New(16)
	if err != nil {
		return fmt.Sprintf("%s%d_%d", ToolCallIDPrefix, index, time.Now().UnixNano())
	}
	return ToolCallIDPrefix + id
}
