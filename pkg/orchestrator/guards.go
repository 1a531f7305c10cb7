package orchestrator

import (
	"fmt"

	"github.com/harun/menubot/pkg/conversation"
	"github.com/harun/menubot/pkg/orders"
)

// Routing reasons, used as log fields and metric labels.
const (
	ReasonFirstTurn       = "first_turn"
	ReasonOrderConfirmed  = "order_confirmed"
	ReasonProductsAdded   = "products_added"
	ReasonSticky          = "sticky"
	ReasonClassified      = "classified"
	ReasonPendingOrder    = "pending_order"
	ReasonOrderNotMutable = "order_not_mutable"
	ReasonShowMenu        = "show_menu"
)

const showMenuInstruction = "The customer wants to see the menu. Call send_menu_images to send the menu pictures, " +
	"then tell the customer they are on their way."

// GuardResult is the outcome of applying the guards to an intent.
type GuardResult struct {
	Node conversation.NodeID
	// Reason is empty when no guard fired.
	Reason         string
	SystemMessages []string
}

// ApplyGuards corrects intent against the customer's last order. It depends
// only on its arguments; a nil order means the customer has none.
func ApplyGuards(intent conversation.NodeID, order *orders.Snapshot) GuardResult {
	switch intent {
	case conversation.NodeOrderData:
		if order.IsPending() {
			return GuardResult{Node: conversation.NodeUpdateOrder, Reason: ReasonPendingOrder}
		}
	case conversation.NodeUpdateOrder:
		if !order.IsPending() {
			return GuardResult{
				Node:           conversation.NodeConversation,
				Reason:         ReasonOrderNotMutable,
				SystemMessages: []string{notMutableInstruction(order)},
			}
		}
	case conversation.NodeShowMenu:
		return GuardResult{
			Node:           conversation.NodeConversation,
			Reason:         ReasonShowMenu,
			SystemMessages: []string{showMenuInstruction},
		}
	}
	if !intent.IsKnown() {
		intent = conversation.NodeConversation
	}
	return GuardResult{Node: intent}
}

func notMutableInstruction(order *orders.Snapshot) string {
	if order == nil {
		return "The customer has no order to modify. Tell them there is nothing to change and " +
			"do not offer to create a new order unless they ask for one."
	}
	return fmt.Sprintf("The customer's last order is %s and can no longer be modified. Tell them so and "+
		"do not offer to create a new order unless they ask for one.", order.Status)
}
