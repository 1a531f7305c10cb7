package conversation

// TimestampLayout formats the current time in every system prompt.
const TimestampLayout = "2006-01-02 15:04:05 MST"

// NodeID identifies an agent node.
type NodeID string

const (
	NodeConversation NodeID = "conversation"
	NodeOrderData    NodeID = "order_data"
	NodeUpdateOrder  NodeID = "update_order"
	NodePQRS         NodeID = "pqrs"
	// NodeShowMenu is an intent label only; it is served by NodeConversation.
	NodeShowMenu NodeID = "show_menu"
)

// KnownNodes lists every identifier a routing decision may produce.
var KnownNodes = []NodeID{NodeConversation, NodeOrderData, NodeUpdateOrder, NodePQRS, NodeShowMenu}

// IsKnown reports whether id is one of KnownNodes.
func (id NodeID) IsKnown() bool {
	for _, n := range KnownNodes {
		if n == id {
			return true
		}
	}
	return false
}

func (id NodeID) String() string {
	return string(id)
}
