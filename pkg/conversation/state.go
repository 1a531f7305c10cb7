package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/harun/menubot/pkg/llm"
)

// WindowSize is the number of trailing messages sent to the model.
const WindowSize = 10

// State is the checkpointed conversation of one session.
type State struct {
	SessionID   string        `json:"session_id"`
	SubjectID   string        `json:"subject_id"`
	Messages    []llm.Message `json:"messages"`
	NodeHistory []NodeID      `json:"node_history"`
	// Model is the model this session was moved to after a fallback.
	Model     string    `json:"model,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an empty state for a session.
func New(sessionID, subjectID string, now time.Time) *State {
	return &State{
		SessionID:   sessionID,
		SubjectID:   subjectID,
		Messages:    []llm.Message{},
		NodeHistory: []NodeID{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Delta is the change one node contributes to a state.
type Delta struct {
	Messages []llm.Message
	Node     NodeID
	Model    string
}

// Apply returns a new state with d merged in. s is left untouched.
func (s *State) Apply(d Delta) *State {
	next := *s

	next.Messages = make([]llm.Message, 0, len(s.Messages)+len(d.Messages))
	next.Messages = append(next.Messages, s.Messages...)
	next.Messages = append(next.Messages, d.Messages...)

	next.NodeHistory = make([]NodeID, 0, len(s.NodeHistory)+1)
	next.NodeHistory = append(next.NodeHistory, s.NodeHistory...)
	if d.Node != "" {
		next.NodeHistory = append(next.NodeHistory, d.Node)
	}

	if d.Model != "" {
		next.Model = d.Model
	}

	return &next
}

// Clone returns a deep copy of the state's slices.
func (s *State) Clone() *State {
	return s.Apply(Delta{})
}

// LastNode returns the most recent routing decision, or "" for a new session.
func (s *State) LastNode() NodeID {
	if len(s.NodeHistory) == 0 {
		return ""
	}
	return s.NodeHistory[len(s.NodeHistory)-1]
}

// LastMessage returns the final message, if any.
func (s *State) LastMessage() (llm.Message, bool) {
	if len(s.Messages) == 0 {
		return llm.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// FromEnd returns the n-th message counted from the end (1 is the last).
func (s *State) FromEnd(n int) (llm.Message, bool) {
	if n <= 0 || n > len(s.Messages) {
		return llm.Message{}, false
	}
	return s.Messages[len(s.Messages)-n], true
}

// Window returns the last WindowSize messages without leading tool messages,
// which would otherwise reference a call outside the window.
func (s *State) Window() []llm.Message {
	return Window(s.Messages, WindowSize)
}

// Window returns at most size trailing messages, dropping tool messages at
// the start of the cut.
func Window(messages []llm.Message, size int) []llm.Message {
	start := 0
	if len(messages) > size {
		start = len(messages) - size
	}
	for start < len(messages) && messages[start].Role == llm.RoleTool {
		start++
	}
	out := make([]llm.Message, len(messages)-start)
	copy(out, messages[start:])
	return out
}

// Visible returns user and assistant messages with content, in order.
func Visible(messages []llm.Message) []llm.Message {
	out := []llm.Message{}
	for _, m := range messages {
		if (m.Role == llm.RoleUser || m.Role == llm.RoleAssistant) && m.Content != "" {
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

var (
	// ErrOrphanToolResult means a tool message does not answer the preceding assistant message.
	ErrOrphanToolResult = errors.New("tool result without matching tool call")
	// ErrPendingToolCalls means an assistant tool call was never answered.
	ErrPendingToolCalls = errors.New("tool calls without results")
)

// Validate checks the message invariants of a terminal state.
func Validate(messages []llm.Message) error {
	var open map[string]bool
	lastAssistant := -1

	for i, m := range messages {
		switch m.Role {
		case llm.RoleTool:
			if lastAssistant < 0 || !open[m.ToolCallID] {
				return fmt.Errorf("message %d (%s): %w", i, m.ToolCallID, ErrOrphanToolResult)
			}
			delete(open, m.ToolCallID)
		default:
			if len(open) > 0 {
				return fmt.Errorf("message %d: %w", i, ErrPendingToolCalls)
			}
			open = nil
			lastAssistant = -1
			if m.HasToolCalls() {
				lastAssistant = i
				open = make(map[string]bool, len(m.ToolCalls))
				for _, tc := range m.ToolCalls {
					open[tc.ID] = true
				}
			}
		}
	}

	if len(open) > 0 {
		return ErrPendingToolCalls
	}
	return nil
}
