package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/menubot/internal/observability"
	"github.com/harun/menubot/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = time.Second
	maxRetryBackoff     = 30 * time.Second
)

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	Provider      Provider
	Model         string
	FallbackModel string
	Environment   string
	Temperature   float64
	MaxTokens     int
	MaxRetries    int
	RetryBackoff  time.Duration
	// CallTimeout bounds a single attempt. Zero means no per-attempt bound.
	CallTimeout time.Duration
	Logger      zerolog.Logger
}

// Gateway wraps a Provider with retries and a fallback model.
type Gateway struct {
	provider      Provider
	model         string
	fallbackModel string
	sampling      Sampling
	maxRetries    int
	retryBackoff  time.Duration
	callTimeout   time.Duration
	logger        zerolog.Logger
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.RetryBackoff
	if backoff < 0 {
		backoff = 0
	} else if backoff == 0 {
		backoff = defaultRetryBackoff
	}

	return &Gateway{
		provider:      cfg.Provider,
		model:         cfg.Model,
		fallbackModel: cfg.FallbackModel,
		sampling:      SamplingFor(cfg.Environment, cfg.Temperature, cfg.MaxTokens),
		maxRetries:    maxRetries,
		retryBackoff:  backoff,
		callTimeout:   cfg.CallTimeout,
		logger:        cfg.Logger,
		sleep:         sleepContext,
	}, nil
}

// Model returns the primary model name.
func (g *Gateway) Model() string {
	return g.model
}

// Sampling returns the sampling preset applied to requests without one.
func (g *Gateway) Sampling() Sampling {
	return g.sampling
}

// Complete runs a completion with retries. req.Model selects the starting
// model; an empty value means the primary model.
func (g *Gateway) Complete(ctx context.Context, req Request) (*Response, error) {
	return g.call(ctx, req, nil)
}

// Stream runs a streaming completion. Once a delta has been delivered the
// call is no longer retried, so the caller never sees duplicated text.
func (g *Gateway) Stream(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	return g.call(ctx, req, onDelta)
}

func (g *Gateway) call(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	if req.Model == "" {
		req.Model = g.model
	}
	if req.Sampling == (Sampling{}) {
		req.Sampling = g.sampling
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"menubot.llm",
		"llm.call",
		attribute.String("provider", g.provider.Name()),
		attribute.String("model", req.Model),
		attribute.Bool("stream", onDelta != nil),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, g.logger)

	var lastErr error
	emitted := false

	for attempt := 0; attempt < g.maxRetries; attempt++ {
		resp, err := g.attempt(ctx, req, onDelta, &emitted)
		if err == nil {
			span.SetAttributes(attribute.String("model.final", resp.Model), attribute.Int("attempts", attempt+1))
			return resp, nil
		}
		lastErr = err

		logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("maxRetries", g.maxRetries).
			Str("model", req.Model).
			Msg("LLM call failed")

		if !IsRetryableError(err) || emitted || ctx.Err() != nil {
			break
		}
		if attempt == g.maxRetries-1 {
			break
		}

		// Once the second-to-last attempt has failed, the remaining attempts
		// use the fallback model.
		if g.fallbackModel != "" && attempt >= g.maxRetries-2 && req.Model != g.fallbackModel {
			logger.Warn().
				Str("from", req.Model).
				Str("to", g.fallbackModel).
				Msg("Switching to fallback model")
			observability.RecordLLMFallback(req.Model, g.fallbackModel)
			req.Model = g.fallbackModel
		}

		delay := g.retryBackoff * time.Duration(1<<attempt)
		if delay > maxRetryBackoff {
			delay = maxRetryBackoff
		}
		if err := g.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, lastErr)
}

func (g *Gateway) attempt(ctx context.Context, req Request, onDelta func(string), emitted *bool) (*Response, error) {
	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
	}

	start := time.Now()
	var (
		resp *Response
		err  error
	)
	if onDelta != nil {
		resp, err = g.provider.Stream(ctx, req, func(delta string) {
			*emitted = true
			onDelta(delta)
		})
	} else {
		resp, err = g.provider.Complete(ctx, req)
	}
	observability.RecordLLMCall(g.provider.Name(), req.Model, time.Since(start), err == nil)

	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, &ProviderError{Provider: g.provider.Name(), Err: ErrEmptyResponse}
	}
	resp.Message.Role = RoleAssistant
	EnsureToolCallIDs(&resp.Message)
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return resp, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsModelUnavailable reports whether err came from an exhausted Gateway call.
func IsModelUnavailable(err error) bool {
	return errors.Is(err, ErrModelUnavailable)
}
