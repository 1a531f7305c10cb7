package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/harun/menubot/internal/config"
	"github.com/harun/menubot/internal/observability"
	"github.com/harun/menubot/internal/tracing"
	"github.com/harun/menubot/pkg/agents"
	"github.com/harun/menubot/pkg/checkpoint"
	"github.com/harun/menubot/pkg/commandqueue"
	"github.com/harun/menubot/pkg/engine"
	"github.com/harun/menubot/pkg/ingress"
	"github.com/harun/menubot/pkg/llm"
	"github.com/harun/menubot/pkg/menu"
	"github.com/harun/menubot/pkg/moderation"
	"github.com/harun/menubot/pkg/orchestrator"
	"github.com/harun/menubot/pkg/orders"
	"github.com/harun/menubot/pkg/tools"
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

// Daemon owns every long-lived component of the chatbot.
type Daemon struct {
	config *config.Config
	logger zerolog.Logger

	queue     *commandqueue.CommandQueue
	gateway   *llm.Gateway
	registry  *tools.Registry
	orders    orders.Store
	catalog   *menu.Store
	watcher   *menu.Watcher
	bridge    *menu.BridgeClient
	store     checkpoint.Store
	sweeper   *checkpoint.Sweeper
	engine    *engine.Engine
	server    *ingress.Server
	lifecycle *LifecycleManager
	eventLoop *EventLoop

	closers []io.Closer

	tracingEnabled bool
	startTime      time.Time
	running        bool
	mu             sync.RWMutex
}

// Option adjusts how the daemon is built.
type Option func(*options)

type options struct {
	provider llm.Provider
}

// WithProvider replaces the provider built from the llm config section.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// New builds every component in dependency order. Nothing listens or
// schedules until Run.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Daemon, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := &Daemon{config: cfg, logger: logger}
	if err := d.init(ctx, o); err != nil {
		d.closeAll()
		return nil, err
	}
	d.lifecycle = NewLifecycleManager(d)
	d.eventLoop = NewEventLoop(d)
	return d, nil
}

func (d *Daemon) init(ctx context.Context, o options) error {
	cfg := d.config
	observability.EnsureRegistered()

	if cfg.Telemetry.TracingEnabled {
		err := tracing.InitOpenTelemetry(ctx, tracing.ProviderConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: Version,
			Environment:    cfg.Environment,
			SampleRatio:    cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
		} else {
			d.tracingEnabled = true
		}
	}

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		auditPath := filepath.Join(cfg.DataDir, "audit.log")
		if err := observability.InitAuditLogger(auditPath); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to open audit log, using stderr")
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}

	d.queue = commandqueue.New(commandqueue.Config{Logger: d.logger})
	d.closers = append(d.closers, closerFunc(d.queue.Close))

	provider := o.provider
	if provider == nil {
		provider, err = llm.NewProvider(llm.ProviderConfig{
			Provider: cfg.LLM.Provider,
			APIKey:   cfg.LLM.APIKey,
			BaseURL:  cfg.LLM.BaseURL,
		})
		if err != nil {
			return fmt.Errorf("failed to create LLM provider: %w", err)
		}
	}
	d.gateway, err = llm.NewGateway(llm.GatewayConfig{
		Provider:      provider,
		Model:         cfg.LLM.Model,
		FallbackModel: cfg.LLM.FallbackModel,
		Environment:   cfg.Environment,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		MaxRetries:    cfg.LLM.MaxRetries,
		RetryBackoff:  time.Duration(cfg.LLM.RetryBackoffMS) * time.Millisecond,
		CallTimeout:   config.Seconds(cfg.LLM.TimeoutSeconds),
		Logger:        d.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create LLM gateway: %w", err)
	}
	d.logger.Info().Str("provider", provider.Name()).Str("model", cfg.LLM.Model).Msg("LLM gateway initialized")

	d.orders, err = orders.Open(ctx, orders.Config{Driver: cfg.Orders.Driver, DSN: cfg.Orders.DSN})
	if err != nil {
		return fmt.Errorf("failed to open order store: %w", err)
	}
	d.addCloser(d.orders)

	d.store, err = checkpoint.Open(ctx, checkpoint.Config{
		Driver: cfg.Checkpoint.Driver,
		DSN:    cfg.Checkpoint.DSN,
		Dir:    cfg.Checkpoint.Dir,
		Logger: d.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	d.addCloser(d.store)
	d.logger.Info().Str("checkpoint", cfg.Checkpoint.Driver).Str("orders", cfg.Orders.Driver).Msg("Stores opened")

	d.catalog, err = menu.NewStore(cfg.Menu.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load menu: %w", err)
	}

	// A nil *BridgeClient must not reach the registry as a non-nil interface.
	var sender menu.ImageSender
	if cfg.Bridge.Enabled {
		d.bridge, err = menu.NewBridgeClient(menu.BridgeConfig{
			BaseURL: cfg.Bridge.URL,
			Timeout: config.Seconds(cfg.Bridge.TimeoutSeconds),
			Logger:  d.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create bridge client: %w", err)
		}
		sender = d.bridge
	}

	d.registry = tools.New(tools.Config{
		Logger:      d.logger,
		OutputLimit: cfg.Engine.ToolOutputLimit,
	})
	if err := orders.RegisterTools(d.registry, d.orders, d.orders); err != nil {
		return fmt.Errorf("failed to register order tools: %w", err)
	}
	if err := menu.RegisterTools(d.registry, d.catalog, sender); err != nil {
		return fmt.Errorf("failed to register menu tools: %w", err)
	}
	d.logger.Info().Strs("tools", d.registry.Names()).Msg("Tool registry initialized")

	router, err := orchestrator.New(orchestrator.Config{
		Gateway:        d.gateway,
		Orders:         d.orders,
		Timezone:       loc,
		RestaurantName: cfg.Engine.RestaurantName,
		Logger:         d.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	set, err := agents.NewSet(agents.Config{Gateway: d.gateway, Registry: d.registry, Logger: d.logger})
	if err != nil {
		return fmt.Errorf("failed to create agents: %w", err)
	}

	d.engine, err = engine.New(engine.Config{
		Router:            router,
		Agents:            set,
		Tools:             d.registry,
		Store:             d.store,
		Profiles:          d.orders,
		Queue:             d.queue,
		PrimaryModel:      cfg.LLM.Model,
		MaxToolIterations: cfg.Engine.MaxToolIterations,
		TurnTimeout:       config.Seconds(cfg.Engine.TurnTimeoutSeconds),
		Timezone:          loc,
		RestaurantName:    cfg.Engine.RestaurantName,
		Logger:            d.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	// The engine drains its turns before the queue and stores close.
	d.closers = append(d.closers, d.engine)

	patterns := cfg.Moderation.BlockedPatterns
	if len(patterns) == 0 {
		patterns = moderation.DefaultPatterns
	}
	filter, err := moderation.New(moderation.Config{
		Enabled:         cfg.Moderation.Enabled,
		BlockedKeywords: cfg.Moderation.BlockedKeywords,
		BlockedPatterns: patterns,
	})
	if err != nil {
		return fmt.Errorf("failed to create content filter: %w", err)
	}

	d.server, err = ingress.New(ingress.Config{
		Engine:             d.engine,
		Sessions:           d.orders,
		Filter:             filter,
		Logger:             d.logger,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		WebhookSecret:      cfg.Server.WebhookSecret,
		Version:            Version,
		Environment:        cfg.Environment,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP ingress: %w", err)
	}
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (d *Daemon) addCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		d.closers = append(d.closers, c)
	}
}

// closeAll closes components in reverse construction order.
func (d *Daemon) closeAll() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
		d.tracingEnabled = false
	}
	return errors.Join(errs...)
}

// startBackground starts the checkpoint sweeper and the catalog watcher.
func (d *Daemon) startBackground() error {
	cfg := d.config
	if cfg.Checkpoint.RetentionHours > 0 {
		sweeper, err := checkpoint.NewSweeper(checkpoint.SweeperConfig{
			Store:     d.store,
			Retention: time.Duration(cfg.Checkpoint.RetentionHours) * time.Hour,
			Schedule:  cfg.Checkpoint.SweepSchedule,
			Logger:    d.logger,
			OnDelete: func(sessionID string) {
				observability.RecordHistoryAudit(context.Background(), "expire", sessionID, "success")
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create checkpoint sweeper: %w", err)
		}
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("failed to start checkpoint sweeper: %w", err)
		}
		d.sweeper = sweeper
		d.logger.Info().Str("schedule", cfg.Checkpoint.SweepSchedule).Msg("Checkpoint sweeper started")
	}

	if cfg.Menu.Watch && d.catalog.Path() != "" {
		watcher, err := menu.NewWatcher(menu.WatcherConfig{
			Store:  d.catalog,
			Logger: d.logger,
			OnReload: func(err error) {
				if err != nil {
					d.logger.Warn().Err(err).Msg("Menu reload rejected, keeping previous catalog")
				}
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create menu watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("failed to start menu watcher: %w", err)
		}
		d.watcher = watcher
		d.logger.Info().Str("path", d.catalog.Path()).Msg("Menu watcher started")
	}
	return nil
}

func (d *Daemon) stopBackground() {
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop menu watcher")
		}
		d.watcher = nil
	}
	if d.sweeper != nil {
		d.sweeper.Stop()
		d.sweeper = nil
	}
}

// Run serves until ctx is cancelled or the HTTP server fails, then shuts
// everything down.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Str("addr", d.config.Addr()).Msg("Starting menubot daemon")

	if err := d.lifecycle.Start(); err != nil {
		return d.shutdown(fmt.Errorf("failed to start lifecycle manager: %w", err))
	}
	if err := d.startBackground(); err != nil {
		return d.shutdown(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.server.Start(d.config.Addr())
	})
	g.Go(func() error {
		d.eventLoop.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(d.config.Server.ShutdownTimeoutSeconds))
		defer cancel()
		logger.Info().Msg("Shutting down HTTP ingress")
		return d.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	d.eventLoop.HandleShutdown()
	return d.shutdown(err)
}

func (d *Daemon) shutdown(cause error) error {
	d.stopBackground()
	if err := d.lifecycle.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}
	if err := d.closeAll(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close components")
	}
	if err := observability.GetAuditLogger().Close(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	if cause != nil {
		d.logger.Error().Err(cause).Msg("Daemon stopped with error")
		return cause
	}
	d.logger.Info().Msg("Daemon stopped")
	return nil
}

// Close releases components of a daemon that was built but never Run.
func (d *Daemon) Close() error {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()
	if running {
		return fmt.Errorf("daemon is running; cancel its context instead")
	}
	return d.closeAll()
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	return status
}

// Status describes a running daemon.
type Status struct {
	Running   bool          `json:"running"`
	StartTime time.Time     `json:"start_time,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
}

// Engine returns the turn engine.
func (d *Daemon) Engine() *engine.Engine {
	return d.engine
}

// Directory returns the customer directory.
func (d *Daemon) Directory() orders.Directory {
	return d.orders
}

// Handler returns the HTTP ingress handler.
func (d *Daemon) Handler() http.Handler {
	return d.server.Handler()
}
