package orchestrator

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/harun/menubot/internal/observability"
	"github.com/harun/menubot/internal/tracing"
	"github.com/harun/menubot/pkg/conversation"
	"github.com/harun/menubot/pkg/llm"
	"github.com/harun/menubot/pkg/orders"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultTimezone is used when Config.Timezone is nil.
	DefaultTimezone = "America/Bogota"

	// lookbehind is how far back the precedence rules look for the tool call
	// that closed the previous node's work: the call, its result, the
	// assistant's answer and the new user message.
	lookbehind = 4
)

//go:embed prompts/orchestrator.tmpl
var promptFS embed.FS

var routerPrompt = template.Must(template.ParseFS(promptFS, "prompts/orchestrator.tmpl"))

// Classifier is the model call used for intent classification.
type Classifier interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// OrderLookup finds a customer's most recent order.
type OrderLookup interface {
	LastOrder(ctx context.Context, phone string) (*orders.Snapshot, error)
}

// Config configures an Orchestrator.
type Config struct {
	Gateway        Classifier
	Orders         OrderLookup
	Timezone       *time.Location
	RestaurantName string
	Logger         zerolog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Decision is where a turn goes and why.
type Decision struct {
	Node   conversation.NodeID
	Reason string
	// Intent is the classifier's label before the guards ran.
	Intent conversation.NodeID
	// SystemMessages are appended to the state before the agent runs.
	SystemMessages []string
	// Order is the customer's last order, nil when there is none.
	Order *orders.Snapshot
	// Model is the model that answered the classification.
	Model string
}

// Orchestrator routes user messages to agent nodes.
type Orchestrator struct {
	gateway    Classifier
	orders     OrderLookup
	location   *time.Location
	restaurant string
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if cfg.Orders == nil {
		return nil, errors.New("order lookup is required")
	}

	loc := cfg.Timezone
	if loc == nil {
		var err error
		loc, err = time.LoadLocation(DefaultTimezone)
		if err != nil {
			return nil, fmt.Errorf("failed to load timezone %s: %w", DefaultTimezone, err)
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		gateway:    cfg.Gateway,
		orders:     cfg.Orders,
		location:   loc,
		restaurant: cfg.RestaurantName,
		logger:     cfg.Logger,
		now:        now,
	}, nil
}

// RouteOptions adjusts a single routing call.
type RouteOptions struct {
	// Model is the session's sticky model, empty for the primary.
	Model string
}

// Route decides which node answers the last message of st. A turn that
// continues an unfinished order flow goes back to the same node without a
// classifier call; every other turn is classified. Guards apply either way.
// Route fails only when the classifier cannot be reached.
func (o *Orchestrator) Route(ctx context.Context, st *conversation.State, opts RouteOptions) (Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "menubot.orchestrator", "orchestrator.route",
		attribute.String("session_id", st.SessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, o.logger)

	order := o.lastOrder(ctx, st.SubjectID, logger)

	intent, reason, sticky := precedence(st)
	var model string
	if !sticky {
		resp, err := o.classify(ctx, st, order, opts.Model)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Decision{}, err
		}
		var ok bool
		if intent, ok = parseIntent(resp.Message.Content); !ok {
			logger.Debug().Str("reply", resp.Message.Content).Msg("Unrecognized intent, defaulting to conversation")
		}
		model = resp.Model
	}

	guard := ApplyGuards(intent, order)
	if guard.Reason != "" {
		reason = guard.Reason
	}

	d := Decision{
		Node:           guard.Node,
		Reason:         reason,
		Intent:         intent,
		SystemMessages: guard.SystemMessages,
		Order:          order,
		Model:          model,
	}

	span.SetAttributes(
		attribute.String("intent", string(intent)),
		attribute.String("node", string(d.Node)),
		attribute.String("reason", d.Reason),
		attribute.Bool("sticky", sticky),
	)
	observability.RecordRoutingDecision(string(d.Node), d.Reason)
	logger.Info().
		Str("intent", string(intent)).
		Str("node", string(d.Node)).
		Str("reason", d.Reason).
		Msg("Routing decision")

	return d, nil
}

// precedence applies the routing rules that run before classification.
// OrderData and UpdateOrder keep the conversation until the tool that closes
// their work shows up lookbehind messages back; sticky is true when the
// previous node is re-entered and no classification is needed.
func precedence(st *conversation.State) (node conversation.NodeID, reason string, sticky bool) {
	switch last := st.LastNode(); last {
	case "":
		return "", ReasonFirstTurn, false
	case conversation.NodeOrderData:
		if closedBy(st, orders.ToolConfirmOrder) {
			return "", ReasonOrderConfirmed, false
		}
		return last, ReasonSticky, true
	case conversation.NodeUpdateOrder:
		if closedBy(st, orders.ToolAddProducts) {
			return "", ReasonProductsAdded, false
		}
		return last, ReasonSticky, true
	}
	return "", ReasonClassified, false
}

func closedBy(st *conversation.State, tool string) bool {
	m, ok := st.FromEnd(lookbehind)
	return ok && m.Role == llm.RoleAssistant && m.HasToolCall(tool)
}

func (o *Orchestrator) lastOrder(ctx context.Context, phone string, logger zerolog.Logger) *orders.Snapshot {
	if phone == "" {
		return nil
	}
	order, err := o.orders.LastOrder(ctx, phone)
	switch {
	case err == nil:
		return order
	case errors.Is(err, orders.ErrNoOrder):
		return nil
	default:
		logger.Warn().Err(err).Msg("Failed to look up last order, routing as if there were none")
		return nil
	}
}

type promptData struct {
	RestaurantName string
	LastOrder      string
	Now            string
}

// SystemPrompt renders the classification prompt.
func (o *Orchestrator) SystemPrompt(order *orders.Snapshot) (string, error) {
	data := promptData{
		RestaurantName: o.restaurant,
		LastOrder:      order.Render(),
		Now:            o.now().In(o.location).Format(conversation.TimestampLayout),
	}
	if data.RestaurantName == "" {
		data.RestaurantName = "the restaurant"
	}

	var b strings.Builder
	if err := routerPrompt.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render orchestrator prompt: %w", err)
	}
	return b.String(), nil
}

func (o *Orchestrator) classify(ctx context.Context, st *conversation.State, order *orders.Snapshot, model string) (*llm.Response, error) {
	system, err := o.SystemPrompt(order)
	if err != nil {
		return nil, err
	}
	resp, err := o.gateway.Complete(ctx, llm.Request{
		Model:    model,
		System:   system,
		Messages: st.Window(),
	})
	if err != nil {
		return nil, fmt.Errorf("intent classification failed: %w", err)
	}
	return resp, nil
}
