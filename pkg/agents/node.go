package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/menubot/internal/tracing"
	"github.com/harun/menubot/pkg/conversation"
	"github.com/harun/menubot/pkg/llm"
	"github.com/harun/menubot/pkg/menu"
	"github.com/harun/menubot/pkg/orders"
	"github.com/harun/menubot/pkg/tools"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Completer is the model capability nodes need.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
	Stream(ctx context.Context, req llm.Request, onDelta func(string)) (*llm.Response, error)
}

// Variant describes one agent: its prompt and the tools it may call.
type Variant struct {
	ID       conversation.NodeID
	Template string
	Tools    []string
}

// Variants lists the agents a conversation can be routed to.
var Variants = []Variant{
	{
		ID:       conversation.NodeConversation,
		Template: "conversation.tmpl",
		Tools:    []string{menu.ToolGetMenu, orders.ToolGetLastOrder, menu.ToolSendMenuImages},
	},
	{
		ID:       conversation.NodeOrderData,
		Template: "order_data.tmpl",
		Tools:    []string{orders.ToolConfirmOrder, menu.ToolGetMenu},
	},
	{
		ID:       conversation.NodeUpdateOrder,
		Template: "update_order.tmpl",
		Tools:    []string{orders.ToolAddProducts, orders.ToolUpdateOrderProduct, menu.ToolGetMenu},
	},
	{
		ID:       conversation.NodePQRS,
		Template: "pqrs.tmpl",
	},
}

// InvokeOptions adjusts a single node call.
type InvokeOptions struct {
	// Model overrides the gateway's primary model, e.g. a session's sticky fallback.
	Model string
	// NoTools calls the model without tools; any tool calls in the reply are dropped.
	NoTools bool
	// OnDelta streams text as it is generated.
	OnDelta func(string)
}

// Node is one agent variant bound to a model and a tool registry.
type Node struct {
	variant  Variant
	gateway  Completer
	registry *tools.Registry
	logger   zerolog.Logger
}

// ID returns the node id.
func (n *Node) ID() conversation.NodeID {
	return n.variant.ID
}

// Tools returns the names of the tools the node may call. The slice is
// never nil, so it can be passed as an allow list as is.
func (n *Node) Tools() []string {
	out := make([]string, len(n.variant.Tools))
	copy(out, n.variant.Tools)
	return out
}

// SystemPrompt renders the node's prompt for facts.
func (n *Node) SystemPrompt(facts Facts) (string, error) {
	return render(n.variant.Template, facts)
}

// Invoke asks the model for the next assistant message of the conversation.
func (n *Node) Invoke(ctx context.Context, st *conversation.State, facts Facts, opts InvokeOptions) (*llm.Response, error) {
	ctx = tracing.WithNode(ctx, string(n.variant.ID))
	ctx, span := tracing.StartSpan(ctx, "menubot.agents", "agent.invoke",
		attribute.String("node", string(n.variant.ID)),
		attribute.Bool("tools", !opts.NoTools),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, n.logger)

	system, err := n.SystemPrompt(facts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	req := llm.Request{
		Model:    opts.Model,
		System:   system,
		Messages: st.Window(),
	}
	if !opts.NoTools && len(n.variant.Tools) > 0 {
		specs, err := n.registry.Specs(n.variant.Tools...)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("agent %s: %w", n.variant.ID, err)
		}
		req.Tools = specs
	}

	start := time.Now()
	var resp *llm.Response
	if opts.OnDelta != nil {
		resp, err = n.gateway.Stream(ctx, req, opts.OnDelta)
	} else {
		resp, err = n.gateway.Complete(ctx, req)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("agent %s: %w", n.variant.ID, err)
	}

	if opts.NoTools {
		resp.Message.ToolCalls = nil
	} else {
		if fixed := llm.EnsureToolCallIDs(&resp.Message); fixed > 0 {
			logger.Debug().Int("count", fixed).Msg("Assigned missing tool call ids")
		}
		resp.Message.ToolCalls = InjectArguments(resp.Message.ToolCalls, n.registry, facts)
	}

	logger.Debug().
		Str("node", string(n.variant.ID)).
		Str("model", resp.Model).
		Int("tool_calls", len(resp.Message.ToolCalls)).
		Dur("duration", time.Since(start)).
		Msg("Agent responded")

	return resp, nil
}

// Config configures a Set.
type Config struct {
	Gateway  Completer
	Registry *tools.Registry
	Logger   zerolog.Logger
}

// Set holds one Node per variant.
type Set struct {
	nodes map[conversation.NodeID]*Node
}

// NewSet builds every variant. It fails when a variant's tool is not
// registered, so a misconfigured registry is caught at startup.
func NewSet(cfg Config) (*Set, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}

	s := &Set{nodes: make(map[conversation.NodeID]*Node, len(Variants))}
	for _, v := range Variants {
		if _, err := cfg.Registry.Specs(v.Tools...); err != nil {
			return nil, fmt.Errorf("agent %s: %w", v.ID, err)
		}
		if prompts.Lookup(v.Template) == nil {
			return nil, fmt.Errorf("agent %s: prompt %s not found", v.ID, v.Template)
		}
		s.nodes[v.ID] = &Node{
			variant:  v,
			gateway:  cfg.Gateway,
			registry: cfg.Registry,
			logger:   cfg.Logger,
		}
	}
	return s, nil
}

// Node returns the node for id.
func (s *Set) Node(id conversation.NodeID) (*Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}
