package agents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harun/menubot/pkg/conversation"
	"github.com/harun/menubot/pkg/llm"
	"github.com/harun/menubot/pkg/menu"
	"github.com/harun/menubot/pkg/orders"
	"github.com/harun/menubot/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCompleter struct {
	mu       sync.Mutex
	reply    llm.Message
	model    string
	err      error
	deltas   []string
	requests []llm.Request
}

func (c *recordingCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Message: c.reply, Model: c.model}, nil
}

func (c *recordingCompleter) Stream(ctx context.Context, req llm.Request, onDelta func(string)) (*llm.Response, error) {
	for _, d := range c.deltas {
		onDelta(d)
	}
	return c.Complete(ctx, req)
}

func (c *recordingCompleter) last() llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

func newTestRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.New(tools.Config{})
	store := orders.NewMemoryStore()
	require.NoError(t, orders.RegisterTools(reg, store, store))
	catalog, err := menu.NewStore("")
	require.NoError(t, err)
	require.NoError(t, menu.RegisterTools(reg, catalog, nil))
	return reg
}

func testFacts() Facts {
	return Facts{
		SubjectID:      "573001112233",
		CustomerName:   "Ana",
		LastAddress:    "Calle 10 # 5-20",
		Now:            time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		RestaurantName: "La Parrilla",
	}
}

func TestNewSet(t *testing.T) {
	t.Run("should build every variant", func(t *testing.T) {
		set, err := NewSet(Config{Gateway: &recordingCompleter{}, Registry: newTestRegistry(t)})
		require.NoError(t, err)

		for _, v := range Variants {
			n, ok := set.Node(v.ID)
			require.True(t, ok, v.ID)
			assert.Equal(t, v.ID, n.ID())
		}
		_, ok := set.Node(conversation.NodeShowMenu)
		assert.False(t, ok)
	})

	t.Run("should fail when a variant tool is not registered", func(t *testing.T) {
		_, err := NewSet(Config{Gateway: &recordingCompleter{}, Registry: tools.New(tools.Config{})})
		assert.Error(t, err)
	})

	t.Run("should require a gateway", func(t *testing.T) {
		_, err := NewSet(Config{Registry: newTestRegistry(t)})
		assert.Error(t, err)
	})
}

func TestVariants_ToolSubsets(t *testing.T) {
	set, err := NewSet(Config{Gateway: &recordingCompleter{}, Registry: newTestRegistry(t)})
	require.NoError(t, err)

	tests := []struct {
		node  conversation.NodeID
		tools []string
	}{
		{conversation.NodeConversation, []string{"get_menu", "get_last_order", "send_menu_images"}},
		{conversation.NodeOrderData, []string{"confirm_order", "get_menu"}},
		{conversation.NodeUpdateOrder, []string{"add_products_to_order", "update_order_product", "get_menu"}},
		{conversation.NodePQRS, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.node), func(t *testing.T) {
			n, ok := set.Node(tt.node)
			require.True(t, ok)
			if tt.tools == nil {
				assert.NotNil(t, n.Tools())
				assert.Empty(t, n.Tools())
				return
			}
			assert.ElementsMatch(t, tt.tools, n.Tools())
		})
	}
}

func TestNode_SystemPrompt(t *testing.T) {
	set, err := NewSet(Config{Gateway: &recordingCompleter{}, Registry: newTestRegistry(t)})
	require.NoError(t, err)
	n, _ := set.Node(conversation.NodeConversation)

	t.Run("should render the session facts", func(t *testing.T) {
		prompt, err := n.SystemPrompt(testFacts())
		require.NoError(t, err)

		assert.Contains(t, prompt, "La Parrilla")
		assert.Contains(t, prompt, "573001112233")
		assert.Contains(t, prompt, "Ana")
		assert.Contains(t, prompt, "Calle 10 # 5-20")
		assert.Contains(t, prompt, "2024-05-01 12:30:00 UTC")
		assert.Contains(t, prompt, orders.NoPreviousOrder)
	})

	t.Run("should render every variant", func(t *testing.T) {
		for _, v := range Variants {
			node, _ := set.Node(v.ID)
			prompt, err := node.SystemPrompt(Facts{SubjectID: "1"})
			require.NoError(t, err, v.ID)
			assert.NotEmpty(t, prompt)
		}
	})
}

func TestNode_Invoke(t *testing.T) {
	ctx := context.Background()
	st := conversation.New("s1", "573001112233", time.Now()).Apply(conversation.Delta{
		Messages: []llm.Message{llm.UserMessage("quiero una hamburguesa")},
	})

	t.Run("should bind the variant tools and inject the subject phone", func(t *testing.T) {
		gw := &recordingCompleter{
			model: "gpt-4o-mini",
			reply: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{
				ID:   "c1",
				Name: orders.ToolConfirmOrder,
				Arguments: map[string]any{
					"phone":    "000",
					"products": []any{map[string]any{"product_name": "Clásica", "quantity": 1, "unit_price": 18000}},
				},
			}}},
		}
		set, err := NewSet(Config{Gateway: gw, Registry: newTestRegistry(t)})
		require.NoError(t, err)
		n, _ := set.Node(conversation.NodeOrderData)

		resp, err := n.Invoke(ctx, st, testFacts(), InvokeOptions{Model: "gpt-4o"})
		require.NoError(t, err)

		req := gw.last()
		assert.Equal(t, "gpt-4o", req.Model)
		require.Len(t, req.Tools, 2)
		assert.Equal(t, orders.ToolConfirmOrder, req.Tools[0].Name)
		assert.Len(t, req.Messages, 1)

		args := resp.Message.ToolCalls[0].Arguments
		assert.Equal(t, "573001112233", args["phone"])
		assert.Equal(t, "Ana", args["name"])
		assert.Equal(t, "Calle 10 # 5-20", args["address"])
		assert.Equal(t, "gpt-4o-mini", resp.Model)
	})

	t.Run("should drop tool calls when invoked without tools", func(t *testing.T) {
		gw := &recordingCompleter{reply: llm.Message{
			Role:      llm.RoleAssistant,
			Content:   "listo",
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: menu.ToolGetMenu}},
		}}
		set, err := NewSet(Config{Gateway: gw, Registry: newTestRegistry(t)})
		require.NoError(t, err)
		n, _ := set.Node(conversation.NodeConversation)

		resp, err := n.Invoke(ctx, st, testFacts(), InvokeOptions{NoTools: true})
		require.NoError(t, err)

		assert.Empty(t, gw.last().Tools)
		assert.Empty(t, resp.Message.ToolCalls)
		assert.Equal(t, "listo", resp.Message.Content)
	})

	t.Run("should stream deltas when asked", func(t *testing.T) {
		gw := &recordingCompleter{deltas: []string{"Ho", "la"}, reply: llm.AssistantMessage("Hola")}
		set, err := NewSet(Config{Gateway: gw, Registry: newTestRegistry(t)})
		require.NoError(t, err)
		n, _ := set.Node(conversation.NodePQRS)

		var got []string
		_, err = n.Invoke(ctx, st, testFacts(), InvokeOptions{OnDelta: func(s string) { got = append(got, s) }})
		require.NoError(t, err)
		assert.Equal(t, []string{"Ho", "la"}, got)
		assert.Empty(t, gw.last().Tools)
	})

	t.Run("should wrap gateway failures", func(t *testing.T) {
		gw := &recordingCompleter{err: llm.ErrModelUnavailable}
		set, err := NewSet(Config{Gateway: gw, Registry: newTestRegistry(t)})
		require.NoError(t, err)
		n, _ := set.Node(conversation.NodeConversation)

		_, err = n.Invoke(ctx, st, testFacts(), InvokeOptions{})
		assert.True(t, errors.Is(err, llm.ErrModelUnavailable))
	})
}

func TestInjectArguments(t *testing.T) {
	reg := newTestRegistry(t)
	facts := testFacts()

	t.Run("should keep model supplied backfill values", func(t *testing.T) {
		calls := []llm.ToolCall{{ID: "c1", Name: orders.ToolConfirmOrder, Arguments: map[string]any{
			"name": "Luisa", "address": "Carrera 7",
		}}}
		out := InjectArguments(calls, reg, facts)

		assert.Equal(t, "Luisa", out[0].Arguments["name"])
		assert.Equal(t, "Carrera 7", out[0].Arguments["address"])
		assert.Equal(t, facts.SubjectID, out[0].Arguments["phone"])
		assert.NotContains(t, calls[0].Arguments, "phone")
	})

	t.Run("should leave backfill empty when no fact is known", func(t *testing.T) {
		calls := []llm.ToolCall{{ID: "c1", Name: orders.ToolConfirmOrder, Arguments: map[string]any{}}}
		out := InjectArguments(calls, reg, Facts{SubjectID: "1"})

		assert.NotContains(t, out[0].Arguments, "address")
		assert.Equal(t, "1", out[0].Arguments["phone"])
	})

	t.Run("should pass unknown and malformed calls through", func(t *testing.T) {
		calls := []llm.ToolCall{
			{ID: "c1", Name: "launch_rocket", Arguments: map[string]any{"x": 1}},
			{ID: "c2", Name: orders.ToolGetLastOrder, RawArguments: "{phone:"},
		}
		out := InjectArguments(calls, reg, facts)

		assert.Equal(t, calls, out)
	})
}
