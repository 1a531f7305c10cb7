package orchestrator

import (
	"testing"

	"github.com/harun/menubot/pkg/conversation"
	"github.com/harun/menubot/pkg/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyGuards(t *testing.T) {
	pending := &orders.Snapshot{ID: "o1", Status: orders.StatusPending}
	pendingUpper := &orders.Snapshot{ID: "o1", Status: "PENDING"}
	delivered := &orders.Snapshot{ID: "o2", Status: orders.StatusInDelivery}

	tests := []struct {
		name     string
		intent   conversation.NodeID
		order    *orders.Snapshot
		want     conversation.NodeID
		reason   string
		messages int
	}{
		{"new order while one is pending", conversation.NodeOrderData, pending, conversation.NodeUpdateOrder, ReasonPendingOrder, 0},
		{"pending status in any case", conversation.NodeOrderData, pendingUpper, conversation.NodeUpdateOrder, ReasonPendingOrder, 0},
		{"new order after a delivered one", conversation.NodeOrderData, delivered, conversation.NodeOrderData, "", 0},
		{"new order without history", conversation.NodeOrderData, nil, conversation.NodeOrderData, "", 0},
		{"update a pending order", conversation.NodeUpdateOrder, pending, conversation.NodeUpdateOrder, "", 0},
		{"update a delivered order", conversation.NodeUpdateOrder, delivered, conversation.NodeConversation, ReasonOrderNotMutable, 1},
		{"update without any order", conversation.NodeUpdateOrder, nil, conversation.NodeConversation, ReasonOrderNotMutable, 1},
		{"show menu", conversation.NodeShowMenu, nil, conversation.NodeConversation, ReasonShowMenu, 1},
		{"pqrs passes through", conversation.NodePQRS, pending, conversation.NodePQRS, "", 0},
		{"unknown label", conversation.NodeID("billing"), nil, conversation.NodeConversation, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyGuards(tt.intent, tt.order)
			assert.Equal(t, tt.want, got.Node)
			assert.Equal(t, tt.reason, got.Reason)
			assert.Len(t, got.SystemMessages, tt.messages)
		})
	}

	t.Run("should be deterministic", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			assert.Equal(t, ApplyGuards(conversation.NodeUpdateOrder, delivered), ApplyGuards(conversation.NodeUpdateOrder, delivered))
		}
	})

	t.Run("should state the status of an immutable order", func(t *testing.T) {
		got := ApplyGuards(conversation.NodeUpdateOrder, delivered)
		require.Len(t, got.SystemMessages, 1)
		assert.Contains(t, got.SystemMessages[0], "in_delivery")
		assert.Contains(t, got.SystemMessages[0], "do not offer to create a new order")
	})

	t.Run("should point the conversation agent at send_menu_images", func(t *testing.T) {
		got := ApplyGuards(conversation.NodeShowMenu, pending)
		assert.Contains(t, got.SystemMessages[0], "send_menu_images")
	})
}
