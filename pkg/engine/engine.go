package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/menubot/internal/observability"
	"github.com/harun/menubot/internal/tracing"
	"github.com/harun/menubot/pkg/agents"
	"github.com/harun/menubot/pkg/checkpoint"
	"github.com/harun/menubot/pkg/commandqueue"
	"github.com/harun/menubot/pkg/conversation"
	"github.com/harun/menubot/pkg/llm"
	"github.com/harun/menubot/pkg/orchestrator"
	"github.com/harun/menubot/pkg/orders"
	"github.com/harun/menubot/pkg/tools"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultMaxToolIterations = 8
	DefaultTurnTimeout       = 2 * time.Minute
	defaultQueueWarnAfter    = 10 * time.Second
	streamBuffer             = 64
)

// Router picks the node that answers a turn.
type Router interface {
	Route(ctx context.Context, st *conversation.State, opts orchestrator.RouteOptions) (orchestrator.Decision, error)
}

// AgentSet resolves node ids to agents.
type AgentSet interface {
	Node(id conversation.NodeID) (*agents.Node, bool)
}

// ToolExecutor runs tool calls. It reports failures in the Result.
type ToolExecutor interface {
	Execute(ctx context.Context, call llm.ToolCall, allowed []string) tools.Result
}

// ProfileLookup returns what is known about a customer.
type ProfileLookup interface {
	Profile(ctx context.Context, phone string) (*orders.Customer, error)
}

// Config wires an Engine.
type Config struct {
	Router Router
	Agents AgentSet
	Tools  ToolExecutor
	Store  checkpoint.Store
	// Profiles is optional; without it prompts carry no customer name or address.
	Profiles ProfileLookup
	// Queue serializes turns per session. A private queue is created when nil.
	Queue *commandqueue.CommandQueue
	// PrimaryModel is the gateway's default model. Any other model that
	// answers a call becomes the session's sticky model.
	PrimaryModel      string
	MaxToolIterations int
	TurnTimeout       time.Duration
	Timezone          *time.Location
	RestaurantName    string
	Logger            zerolog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// TurnRequest is one user message for a session.
type TurnRequest struct {
	SessionID string
	SubjectID string
	Message   string
	// RequestID deduplicates retried deliveries of the same message.
	RequestID string
}

func (r TurnRequest) validate() error {
	switch {
	case strings.TrimSpace(r.SessionID) == "":
		return fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	case strings.TrimSpace(r.SubjectID) == "":
		return fmt.Errorf("%w: subject id is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Message) == "":
		return fmt.Errorf("%w: message is empty", ErrInvalidRequest)
	}
	return nil
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	SessionID string
	Node      conversation.NodeID
	// Messages are the new assistant messages with visible content.
	Messages []llm.Message
	Version  int64
	Model    string
}

// Reply joins the visible messages of the turn.
func (r *TurnResult) Reply() string {
	parts := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n\n")
}

// Engine runs conversation turns.
type Engine struct {
	router         Router
	agents         AgentSet
	tools          ToolExecutor
	store          checkpoint.Store
	profiles       ProfileLookup
	queue          *commandqueue.CommandQueue
	ownsQueue      bool
	primaryModel   string
	maxIterations  int
	turnTimeout    time.Duration
	location       *time.Location
	restaurantName string
	logger         zerolog.Logger
	now            func() time.Time

	wg sync.WaitGroup
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	observability.EnsureRegistered()

	switch {
	case cfg.Router == nil:
		return nil, errors.New("router is required")
	case cfg.Agents == nil:
		return nil, errors.New("agents are required")
	case cfg.Tools == nil:
		return nil, errors.New("tool executor is required")
	case cfg.Store == nil:
		return nil, errors.New("checkpoint store is required")
	}

	e := &Engine{
		router:         cfg.Router,
		agents:         cfg.Agents,
		tools:          cfg.Tools,
		store:          cfg.Store,
		profiles:       cfg.Profiles,
		queue:          cfg.Queue,
		primaryModel:   cfg.PrimaryModel,
		maxIterations:  cfg.MaxToolIterations,
		turnTimeout:    cfg.TurnTimeout,
		location:       cfg.Timezone,
		restaurantName: cfg.RestaurantName,
		logger:         cfg.Logger,
		now:            cfg.Now,
	}
	if e.queue == nil {
		e.queue = commandqueue.New(commandqueue.Config{Concurrency: 1, Logger: cfg.Logger})
		e.ownsQueue = true
	}
	if e.maxIterations <= 0 {
		e.maxIterations = DefaultMaxToolIterations
	}
	if e.turnTimeout <= 0 {
		e.turnTimeout = DefaultTurnTimeout
	}
	if e.location == nil {
		loc, err := time.LoadLocation(orchestrator.DefaultTimezone)
		if err != nil {
			return nil, fmt.Errorf("failed to load timezone: %w", err)
		}
		e.location = loc
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Close waits for turns whose callers already left, then closes the queue
// if the engine created it.
func (e *Engine) Close() error {
	e.wg.Wait()
	if e.ownsQueue {
		return e.queue.Close()
	}
	return nil
}

// RunTurn runs one turn and returns its result. When ctx ends first,
// RunTurn returns ctx.Err() and the turn still completes and is saved.
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	type result struct {
		res *TurnResult
		err error
	}
	done := make(chan result, 1)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		res, _, err := e.enqueue(ctx, req, nil)
		done <- result{res, err}
	}()

	select {
	case r := <-done:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// enqueue runs the turn in the session lane on a context the caller cannot
// cancel. ran is false when a duplicate RequestID was served from cache.
func (e *Engine) enqueue(ctx context.Context, req TurnRequest, emit func(Event)) (res *TurnResult, ran bool, err error) {
	lane := commandqueue.SessionLane(req.SessionID)
	task := func(taskCtx context.Context) (interface{}, error) {
		ran = true
		r, err := e.runTurn(taskCtx, req, emit)
		if err != nil {
			return nil, err
		}
		return r, nil
	}

	v, err := e.queue.EnqueueWithContext(tracing.Detach(ctx), lane, task, &commandqueue.TaskOptions{
		RequestID: req.RequestID,
		WarnAfter: defaultQueueWarnAfter,
	})
	if err != nil {
		return nil, ran, err
	}
	res, _ = v.(*TurnResult)
	if res == nil {
		return nil, ran, fmt.Errorf("turn for session %s returned no result", req.SessionID)
	}
	return res, ran, nil
}

// turn is the mutable state of one running turn.
type turn struct {
	st     *conversation.State
	model  string
	facts  agents.Facts
	logger zerolog.Logger
}

func (e *Engine) stick(t *turn, model string) {
	if model != "" && model != e.primaryModel && model != t.model {
		t.logger.Warn().Str("model", model).Msg("Session moved to fallback model")
		t.model = model
	}
}

func (e *Engine) runTurn(ctx context.Context, req TurnRequest, emit func(Event)) (res *TurnResult, err error) {
	start := time.Now()
	observability.AddActiveTurns(1)
	defer observability.AddActiveTurns(-1)

	ctx, cancel := context.WithTimeout(ctx, e.turnTimeout)
	defer cancel()
	ctx = tracing.NewTurnContext(ctx, req.SessionID)
	ctx, span := tracing.StartSpan(ctx, "menubot.engine", "engine.turn",
		attribute.String("session_id", req.SessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, e.logger)

	node := conversation.NodeID("")
	defer func() {
		observability.RecordTurn(string(node), time.Since(start), err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error().Err(err).Str("node", string(node)).Msg("Turn failed")
		}
	}()

	base, err := e.load(ctx, req)
	if err != nil {
		return nil, err
	}

	t := &turn{
		st:     base.Apply(conversation.Delta{Messages: []llm.Message{llm.UserMessage(req.Message)}}),
		model:  base.Model,
		logger: logger,
	}
	first := len(base.Messages)

	var onDelta func(string)
	if emit != nil {
		onDelta = func(s string) { emit(Event{Type: EventToken, Content: s}) }
	}

	iterations := 0
	cur := step{kind: stepOrchestrate}
	for cur.kind != stepDone {
		switch cur.kind {
		case stepOrchestrate:
			d, err := e.router.Route(ctx, t.st, orchestrator.RouteOptions{Model: t.model})
			if err != nil {
				return nil, modelError(err)
			}
			e.stick(t, d.Model)
			node = d.Node

			notes := make([]llm.Message, 0, len(d.SystemMessages))
			for _, s := range d.SystemMessages {
				notes = append(notes, llm.SystemMessage(s))
			}
			t.st = t.st.Apply(conversation.Delta{Messages: notes, Node: d.Node})
			t.facts = e.facts(ctx, t.st.SubjectID, d.Order, logger)
			if emit != nil {
				emit(Event{Type: EventNode, Node: d.Node})
			}
			cur = transition(cur, outcome{decision: d.Node})

		case stepAgent:
			agent, ok := e.agents.Node(cur.node)
			if !ok {
				return nil, fmt.Errorf("no agent for node %s", cur.node)
			}
			noTools := iterations >= e.maxIterations
			if noTools {
				logger.Warn().Int("iterations", iterations).Msg("Tool iteration cap reached, asking for a final answer")
			}
			resp, err := agent.Invoke(ctx, t.st, t.facts, agents.InvokeOptions{
				Model:   t.model,
				NoTools: noTools,
				OnDelta: onDelta,
			})
			if err != nil {
				return nil, modelError(err)
			}
			e.stick(t, resp.Model)

			msg := resp.Message
			msg.Role = llm.RoleAssistant
			t.st = t.st.Apply(conversation.Delta{Messages: []llm.Message{msg}})
			cur = transition(cur, outcome{toolCalls: msg.HasToolCalls()})

		case stepDispatch:
			iterations++
			agent, _ := e.agents.Node(cur.node)
			last, _ := t.st.LastMessage()
			results := e.dispatch(ctx, t.st, cur.node, agent.Tools(), last.ToolCalls)
			t.st = t.st.Apply(conversation.Delta{Messages: results})
			cur = transition(cur, outcome{})
		}
	}

	if err := conversation.Validate(t.st.Messages[first:]); err != nil {
		return nil, fmt.Errorf("turn produced an invalid transcript: %w", err)
	}

	t.st = t.st.Apply(conversation.Delta{Model: t.model})
	if err := e.store.Save(ctx, t.st); err != nil {
		return nil, persistenceError("save checkpoint", err)
	}

	res = &TurnResult{
		SessionID: req.SessionID,
		Node:      node,
		Messages:  visibleReplies(t.st.Messages[first:]),
		Version:   t.st.Version,
		Model:     t.st.Model,
	}

	span.SetAttributes(
		attribute.String("node", string(node)),
		attribute.Int("tool_iterations", iterations),
		attribute.Int64("version", res.Version),
	)
	logger.Info().
		Str("node", string(node)).
		Int("tool_iterations", iterations).
		Int64("version", res.Version).
		Dur("duration", time.Since(start)).
		Msg("Turn completed")

	return res, nil
}

func (e *Engine) load(ctx context.Context, req TurnRequest) (*conversation.State, error) {
	st, err := e.store.Load(ctx, req.SessionID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		return conversation.New(req.SessionID, req.SubjectID, e.now()), nil
	case errors.Is(err, checkpoint.ErrInvalidSessionID):
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	case err != nil:
		return nil, persistenceError("load checkpoint", err)
	}
	if st.SubjectID == "" {
		st.SubjectID = req.SubjectID
	}
	return st, nil
}

func (e *Engine) facts(ctx context.Context, subjectID string, order *orders.Snapshot, logger zerolog.Logger) agents.Facts {
	f := agents.Facts{
		SubjectID:      subjectID,
		LastOrder:      order.Render(),
		Now:            e.now().In(e.location),
		RestaurantName: e.restaurantName,
	}
	if e.profiles == nil {
		return f
	}

	c, err := e.profiles.Profile(ctx, subjectID)
	switch {
	case err == nil:
		f.CustomerName = c.Name
		f.LastAddress = c.LastAddress
	case errors.Is(err, orders.ErrCustomerNotFound):
	default:
		logger.Warn().Err(err).Msg("Failed to load customer profile")
	}
	return f
}

// dispatch resolves every call of one assistant message, in order. Each call
// gets exactly one tool message, errors included.
func (e *Engine) dispatch(ctx context.Context, st *conversation.State, node conversation.NodeID, allowed []string, calls []llm.ToolCall) []llm.Message {
	ctx = tracing.WithNode(ctx, string(node))
	ctx = tools.ContextWithExecContext(ctx, &tools.ExecutionContext{
		SessionID: st.SessionID,
		SubjectID: st.SubjectID,
		Node:      string(node),
	})

	out := make([]llm.Message, 0, len(calls))
	for _, call := range calls {
		res := e.tools.Execute(ctx, call, allowed)
		out = append(out, llm.ToolResultMessage(call, res.Content(), !res.Success))
	}
	return out
}

func visibleReplies(msgs []llm.Message) []llm.Message {
	out := []llm.Message{}
	for _, m := range msgs {
		if m.Role == llm.RoleAssistant && strings.TrimSpace(m.Content) != "" {
			out = append(out, llm.AssistantMessage(m.Content))
		}
	}
	return out
}

// ClearHistory deletes the session's checkpoint. It waits behind any turn
// already queued for the session.
func (e *Engine) ClearHistory(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}

	_, err := e.queue.EnqueueWithContext(ctx, commandqueue.SessionLane(sessionID), func(taskCtx context.Context) (interface{}, error) {
		if err := e.store.Delete(taskCtx, sessionID); err != nil {
			if errors.Is(err, checkpoint.ErrInvalidSessionID) {
				return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
			}
			return nil, persistenceError("delete checkpoint", err)
		}
		return nil, nil
	}, nil)

	status := "success"
	if err != nil {
		status = "failure"
	}
	observability.RecordHistoryAudit(ctx, "clear", sessionID, status)
	if err == nil {
		logger := tracing.LoggerFromContext(ctx, e.logger)
		logger.Info().Str("session_id", sessionID).Msg("History cleared")
	}
	return err
}

// History returns the user and assistant messages of a session. A session
// without a checkpoint has an empty history.
func (e *Engine) History(ctx context.Context, sessionID string) ([]llm.Message, error) {
	st, err := e.store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		return []llm.Message{}, nil
	case errors.Is(err, checkpoint.ErrInvalidSessionID):
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	case err != nil:
		return nil, persistenceError("load checkpoint", err)
	}
	return conversation.Visible(st.Messages), nil
}
