package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harun/menubot/pkg/conversation"
	"github.com/harun/menubot/pkg/llm"
	"github.com/harun/menubot/pkg/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	mu       sync.Mutex
	reply    string
	model    string
	err      error
	requests []llm.Request
}

func (f *fakeClassifier) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	model := f.model
	if model == "" {
		model = req.Model
	}
	return &llm.Response{Message: llm.AssistantMessage(f.reply), Model: model}, nil
}

type fakeOrders struct {
	order *orders.Snapshot
	err   error
}

func (f fakeOrders) LastOrder(ctx context.Context, phone string) (*orders.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.order == nil {
		return nil, orders.ErrNoOrder
	}
	return f.order, nil
}

var fixedNow = time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC)

func newOrchestrator(t *testing.T, gw Classifier, lookup OrderLookup) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		Gateway:        gw,
		Orders:         lookup,
		Timezone:       time.FixedZone("COT", -5*3600),
		RestaurantName: "La Parrilla",
		Now:            func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return o
}

func stateWith(history []conversation.NodeID, msgs ...llm.Message) *conversation.State {
	st := conversation.New("s1", "573001112233", fixedNow)
	st = st.Apply(conversation.Delta{Messages: msgs})
	for _, n := range history {
		st = st.Apply(conversation.Delta{Node: n})
	}
	return st
}

func TestOrchestrator_Route(t *testing.T) {
	ctx := context.Background()

	t.Run("should classify the first turn", func(t *testing.T) {
		gw := &fakeClassifier{reply: `{"node": "order_data"}`}
		o := newOrchestrator(t, gw, fakeOrders{})

		d, err := o.Route(ctx, stateWith(nil, llm.UserMessage("quiero pedir")), RouteOptions{})
		require.NoError(t, err)

		assert.Equal(t, conversation.NodeOrderData, d.Node)
		assert.Equal(t, ReasonFirstTurn, d.Reason)
		assert.Nil(t, d.Order)
		require.Len(t, gw.requests, 1)
		assert.Contains(t, gw.requests[0].System, orders.NoPreviousOrder)
		assert.Contains(t, gw.requests[0].System, "2024-05-01 12:00:00 COT")
		assert.Empty(t, gw.requests[0].Tools)
	})

	t.Run("should reroute a new order to update when one is pending", func(t *testing.T) {
		pending := &orders.Snapshot{ID: "o1", Status: orders.StatusPending, TotalAmount: 18000}
		gw := &fakeClassifier{reply: "order_data"}
		o := newOrchestrator(t, gw, fakeOrders{order: pending})

		d, err := o.Route(ctx, stateWith([]conversation.NodeID{conversation.NodeConversation}, llm.UserMessage("otra")), RouteOptions{})
		require.NoError(t, err)
		require.Len(t, gw.requests, 1)
		assert.Contains(t, gw.requests[0].System, pending.Render())

		assert.Equal(t, conversation.NodeUpdateOrder, d.Node)
		assert.Equal(t, conversation.NodeOrderData, d.Intent)
		assert.Equal(t, ReasonPendingOrder, d.Reason)
		assert.Same(t, pending, d.Order)
	})

	t.Run("should classify after a confirmed order instead of re-entering", func(t *testing.T) {
		msgs := []llm.Message{
			llm.UserMessage("confirmo"),
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: orders.ToolConfirmOrder}}},
			{Role: llm.RoleTool, ToolCallID: "c1", Content: "{}"},
			llm.AssistantMessage("Pedido creado"),
			llm.UserMessage("gracias"),
		}
		gw := &fakeClassifier{reply: `{"node":"conversation"}`}
		o := newOrchestrator(t, gw, fakeOrders{order: &orders.Snapshot{Status: orders.StatusPending}})

		d, err := o.Route(ctx, stateWith([]conversation.NodeID{conversation.NodeOrderData}, msgs...), RouteOptions{})
		require.NoError(t, err)

		assert.Equal(t, conversation.NodeConversation, d.Node)
		assert.Equal(t, ReasonOrderConfirmed, d.Reason)
		assert.Len(t, gw.requests, 1)
	})

	t.Run("should classify after products were added", func(t *testing.T) {
		msgs := []llm.Message{
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: orders.ToolAddProducts}}},
			{Role: llm.RoleTool, ToolCallID: "c1", Content: "{}"},
			llm.AssistantMessage("Agregado"),
			llm.UserMessage("eso es todo"),
		}
		o := newOrchestrator(t, &fakeClassifier{reply: "conversation"}, fakeOrders{})

		d, err := o.Route(ctx, stateWith([]conversation.NodeID{conversation.NodeUpdateOrder}, msgs...), RouteOptions{})
		require.NoError(t, err)
		assert.Equal(t, ReasonProductsAdded, d.Reason)
	})

	t.Run("should re-enter order data mid collection without classifying", func(t *testing.T) {
		msgs := []llm.Message{
			llm.UserMessage("quiero una hamburguesa"),
			llm.AssistantMessage("¿Cuál es tu dirección?"),
			llm.UserMessage("Calle 5 # 10-20"),
		}
		gw := &fakeClassifier{reply: "conversation"}
		o := newOrchestrator(t, gw, fakeOrders{})

		d, err := o.Route(ctx, stateWith([]conversation.NodeID{conversation.NodeOrderData}, msgs...), RouteOptions{})
		require.NoError(t, err)

		assert.Equal(t, conversation.NodeOrderData, d.Node)
		assert.Equal(t, ReasonSticky, d.Reason)
		assert.Empty(t, d.Model)
		assert.Empty(t, gw.requests)
	})

	t.Run("should re-enter update order while the order is pending", func(t *testing.T) {
		msgs := []llm.Message{
			llm.UserMessage("cambia las papas"),
			llm.AssistantMessage("¿Por cuáles?"),
			llm.UserMessage("grandes"),
		}
		gw := &fakeClassifier{reply: "pqrs"}
		pending := &orders.Snapshot{ID: "o1", Status: orders.StatusPending}
		o := newOrchestrator(t, gw, fakeOrders{order: pending})

		d, err := o.Route(ctx, stateWith([]conversation.NodeID{conversation.NodeUpdateOrder}, msgs...), RouteOptions{})
		require.NoError(t, err)

		assert.Equal(t, conversation.NodeUpdateOrder, d.Node)
		assert.Equal(t, ReasonSticky, d.Reason)
		assert.Same(t, pending, d.Order)
		assert.Empty(t, gw.requests)
	})

	t.Run("should guard a sticky update order once the order is not pending", func(t *testing.T) {
		statuses := []orders.Status{orders.StatusPreparing, orders.StatusInDelivery, orders.StatusCompleted, orders.StatusCancelled, "COMPLETED", ""}
		for _, status := range statuses {
			name := string(status)
			if name == "" {
				name = "no order"
			}
			t.Run(name, func(t *testing.T) {
				var order *orders.Snapshot
				if status != "" {
					order = &orders.Snapshot{ID: "o1", Status: status}
				}
				gw := &fakeClassifier{reply: "update_order"}
				o := newOrchestrator(t, gw, fakeOrders{order: order})
				msgs := []llm.Message{
					llm.UserMessage("agrega papas"),
					llm.AssistantMessage("¿Cuántas?"),
					llm.UserMessage("dos"),
				}

				d, err := o.Route(ctx, stateWith([]conversation.NodeID{conversation.NodeUpdateOrder}, msgs...), RouteOptions{})
				require.NoError(t, err)

				assert.Equal(t, conversation.NodeConversation, d.Node)
				assert.Equal(t, conversation.NodeUpdateOrder, d.Intent)
				assert.Equal(t, ReasonOrderNotMutable, d.Reason)
				assert.Len(t, d.SystemMessages, 1)
				assert.Empty(t, gw.requests)
			})
		}
	})

	t.Run("should classify after the conversation node", func(t *testing.T) {
		gw := &fakeClassifier{reply: "order_data"}
		o := newOrchestrator(t, gw, fakeOrders{})

		d, err := o.Route(ctx, stateWith([]conversation.NodeID{conversation.NodeConversation}, llm.UserMessage("quiero pedir")), RouteOptions{})
		require.NoError(t, err)
		assert.Equal(t, conversation.NodeOrderData, d.Node)
		assert.Equal(t, ReasonClassified, d.Reason)
		assert.Len(t, gw.requests, 1)
	})

	t.Run("should treat a failed order lookup as no order", func(t *testing.T) {
		o := newOrchestrator(t, &fakeClassifier{reply: "update_order"}, fakeOrders{err: errors.New("db down")})

		d, err := o.Route(ctx, stateWith(nil, llm.UserMessage("cambia mi pedido")), RouteOptions{})
		require.NoError(t, err)
		assert.Equal(t, conversation.NodeConversation, d.Node)
		assert.Equal(t, ReasonOrderNotMutable, d.Reason)
		assert.Len(t, d.SystemMessages, 1)
	})

	t.Run("should pass the sticky model and report the answering one", func(t *testing.T) {
		gw := &fakeClassifier{reply: "pqrs", model: "gpt-4o"}
		o := newOrchestrator(t, gw, fakeOrders{})

		d, err := o.Route(ctx, stateWith(nil, llm.UserMessage("queja")), RouteOptions{Model: "gpt-4o"})
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", gw.requests[0].Model)
		assert.Equal(t, "gpt-4o", d.Model)
	})

	t.Run("should send only the message window", func(t *testing.T) {
		gw := &fakeClassifier{reply: "conversation"}
		o := newOrchestrator(t, gw, fakeOrders{})
		msgs := make([]llm.Message, 0, 25)
		for i := 0; i < 25; i++ {
			msgs = append(msgs, llm.UserMessage("hola"))
		}

		_, err := o.Route(ctx, stateWith(nil, msgs...), RouteOptions{})
		require.NoError(t, err)
		assert.Len(t, gw.requests[0].Messages, conversation.WindowSize)
	})

	t.Run("should fail when the classifier is unavailable", func(t *testing.T) {
		o := newOrchestrator(t, &fakeClassifier{err: llm.ErrModelUnavailable}, fakeOrders{})

		_, err := o.Route(ctx, stateWith(nil, llm.UserMessage("hola")), RouteOptions{})
		assert.ErrorIs(t, err, llm.ErrModelUnavailable)
	})
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Orders: fakeOrders{}})
	assert.Error(t, err)
	_, err = New(Config{Gateway: &fakeClassifier{}})
	assert.Error(t, err)
}
