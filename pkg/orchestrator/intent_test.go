package orchestrator

import (
	"testing"

	"github.com/harun/menubot/pkg/conversation"
	"github.com/stretchr/testify/assert"
)

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		name string
		text string
		want conversation.NodeID
	}{
		{"json node key", `{"node": "order_data"}`, conversation.NodeOrderData},
		{"json intention key", `{"intention": "pqrs"}`, conversation.NodePQRS},
		{"json response key", `{"response": "update_order"}`, conversation.NodeUpdateOrder},
		{"node key wins over intention", `{"intention": "pqrs", "node": "show_menu"}`, conversation.NodeShowMenu},
		{"empty node falls back to intention", `{"node": "", "intention": "pqrs"}`, conversation.NodePQRS},
		{"fenced json block", "Sure:\n```json\n{\"node\": \"order_data\"}\n```", conversation.NodeOrderData},
		{"fenced block without language", "```\n{\"node\": \"pqrs\"}\n```", conversation.NodePQRS},
		{"bare object inside prose", `I think {"node": "update_order"} fits`, conversation.NodeUpdateOrder},
		{"agent suffix in json", `{"node": "order_data_agent"}`, conversation.NodeOrderData},
		{"upper case json value", `{"node": " PQRS "}`, conversation.NodePQRS},
		{"plain label", "order_data", conversation.NodeOrderData},
		{"label with agent suffix", "route to update_order_agent please", conversation.NodeUpdateOrder},
		{"earliest label wins", "pqrs, or maybe order_data", conversation.NodePQRS},
		{"label inside a longer word is ignored", "preorder_data_x", conversation.NodeConversation},
		{"unknown json falls back to scan", `{"node": "billing"} show_menu`, conversation.NodeShowMenu},
		{"broken json falls back to scan", `{"node": "order_data"`, conversation.NodeOrderData},
		{"nothing recognizable", "I don't know", conversation.NodeConversation},
		{"empty reply", "", conversation.NodeConversation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyIntent(tt.text))
		})
	}
}

func TestParseIntent_ReportsUnrecognized(t *testing.T) {
	_, ok := parseIntent("hmm")
	assert.False(t, ok)

	label, ok := parseIntent("conversation")
	assert.True(t, ok)
	assert.Equal(t, conversation.NodeConversation, label)
}
