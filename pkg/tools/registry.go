package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/menubot/internal/observability"
	"github.com/harun/menubot/internal/tracing"
	"github.com/harun/menubot/pkg/llm"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultOutputLimit = 10 * 1024
)

// Parameter defines a parameter for a tool
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	// Injected parameters are filled from the session before dispatch and
	// hidden from the model.
	Injected bool `json:"injected,omitempty"`
	// Backfill parameters are shown to the model; empty values are filled
	// from known session facts before dispatch.
	Backfill bool `json:"backfill,omitempty"`
	// Items is the JSON schema of array elements.
	Items map[string]any `json:"items,omitempty"`
}

// Handler is the function signature for tool execution
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Definition defines a tool's metadata and handler
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
	// Mutating tools change business state and are written to the audit log.
	Mutating bool          `json:"mutating,omitempty"`
	Timeout  time.Duration `json:"-"`
}

// Result represents the result of a tool execution
type Result struct {
	Success   bool          `json:"success"`
	Output    any           `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"-"`
}

// Content serializes the result for a tool message.
func (r Result) Content() string {
	if !r.Success {
		data, _ := json.Marshal(map[string]string{"error": r.Error})
		return string(data)
	}
	if s, ok := r.Output.(string); ok {
		return s
	}
	data, err := json.Marshal(r.Output)
	if err != nil {
		return fmt.Sprintf("%v", r.Output)
	}
	return string(data)
}

// Config configures a Registry.
type Config struct {
	Logger         zerolog.Logger
	DefaultTimeout time.Duration
	// OutputLimit caps serialized output in bytes.
	OutputLimit int
}

// Registry manages and executes tools
type Registry struct {
	tools          map[string]*Definition
	schemas        map[string]*gojsonschema.Schema
	logger         zerolog.Logger
	defaultTimeout time.Duration
	outputLimit    int
	mu             sync.RWMutex
}

// New creates a new Registry
func New(cfg Config) *Registry {
	observability.EnsureRegistered()

	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := cfg.OutputLimit
	if limit <= 0 {
		limit = defaultOutputLimit
	}

	return &Registry{
		tools:          make(map[string]*Definition),
		schemas:        make(map[string]*gojsonschema.Schema),
		logger:         cfg.Logger,
		defaultTimeout: timeout,
		outputLimit:    limit,
	}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(validationSchema(def)))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	r.logger.Debug().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// Get returns a copy of a tool definition.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tools[name]
	if !ok {
		return Definition{}, false
	}
	return *def, true
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the model-visible specs of the named tools, in order.
func (r *Registry) Specs(names ...string) ([]llm.ToolSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		def, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("tool not found: %s", name)
		}
		specs = append(specs, llm.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  modelSchema(*def),
		})
	}
	return specs, nil
}

// Execute runs call if its tool is registered and listed in allowed. A nil
// allowed slice permits every registered tool.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall, allowed []string) Result {
	startTime := time.Now()

	ctx, span := tracing.StartSpan(ctx, "menubot.tools", "tool.execute", attribute.String("tool", call.Name))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("tool", call.Name).Logger()

	fail := func(msg string) Result {
		duration := time.Since(startTime)
		span.SetStatus(codes.Error, msg)
		observability.RecordToolExecution(metricName(r, call.Name), duration, false)
		logger.Warn().Str("error", msg).Msg("Tool call rejected")
		return Result{Success: false, Error: msg, Duration: duration}
	}

	if allowed != nil && !contains(allowed, call.Name) {
		return fail(fmt.Sprintf("tool '%s' is not available in this step", call.Name))
	}

	r.mu.RLock()
	def := r.tools[call.Name]
	schema := r.schemas[call.Name]
	r.mu.RUnlock()

	if def == nil {
		return fail(fmt.Sprintf("tool not found: %s", call.Name))
	}
	if call.Malformed() {
		return fail(fmt.Sprintf("malformed arguments for %s: expected a JSON object", call.Name))
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if err := validateArguments(schema, args); err != nil {
		return fail(fmt.Sprintf("parameter validation failed: %v", err))
	}

	timeout := r.defaultTimeout
	if def.Timeout > 0 {
		timeout = def.Timeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultChan := make(chan any, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				errChan <- fmt.Errorf("tool panicked: %v", rec)
			}
		}()
		out, err := def.Handler(timeoutCtx, args)
		if err != nil {
			errChan <- err
			return
		}
		resultChan <- out
	}()

	var res Result
	select {
	case out := <-resultChan:
		res = Result{Success: true, Output: out}
	case err := <-errChan:
		res = Result{Success: false, Error: err.Error()}
	case <-timeoutCtx.Done():
		res = Result{Success: false, Error: fmt.Sprintf("tool execution timeout after %v", timeout)}
	}
	res.Duration = time.Since(startTime)

	if res.Success {
		res = r.truncate(res)
		logger.Debug().Dur("duration", res.Duration).Bool("truncated", res.Truncated).Msg("Tool execution completed")
	} else {
		span.SetStatus(codes.Error, res.Error)
		logger.Warn().Dur("duration", res.Duration).Str("error", res.Error).Msg("Tool execution failed")
	}
	observability.RecordToolExecution(call.Name, res.Duration, res.Success)

	if def.Mutating {
		status := "success"
		if !res.Success {
			status = "failure"
		}
		observability.RecordToolAudit(ctx, call.Name, tracing.GetSessionID(ctx), status, map[string]interface{}{
			"tool_call_id": call.ID,
			"error":        res.Error,
		})
	}

	return res
}

func (r *Registry) truncate(res Result) Result {
	content := res.Content()
	if len(content) <= r.outputLimit {
		return res
	}
	res.Output = content[:r.outputLimit] + "\n... [output truncated]"
	res.Truncated = true
	return res
}

// metricName keeps unknown tool names out of metric labels.
func metricName(r *Registry, name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.tools[name]; ok {
		return name
	}
	return "unknown"
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
