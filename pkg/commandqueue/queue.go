package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/menubot/internal/observability"
	"github.com/harun/menubot/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrClosed is returned for tasks enqueued after Close.
var ErrClosed = errors.New("command queue closed")

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	// WarnAfter logs a warning when the task is still queued after this long.
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
	// RequestID makes the task idempotent: a repeated ID within the dedup TTL
	// returns the first result without running the task again.
	RequestID string
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState manages execution state for a single lane
type laneState struct {
	name        string
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

func (ls *laneState) idle() bool {
	return ls.running == 0 && len(ls.queue) == 0
}

// EventHandler is a function that handles queue events
type EventHandler func(event Event)

// Event represents a queue event
type Event struct {
	Type   string                 // "enqueued" or "completed"
	Lane   string                 // Lane name
	TaskID string                 // Task ID
	Data   map[string]interface{} // Additional event data
}

// Config configures a CommandQueue.
type Config struct {
	// Concurrency is the per-lane concurrency. Session lanes use 1.
	Concurrency int
	// DedupTTL is how long results of tasks with a RequestID are remembered.
	DedupTTL time.Duration
	Logger   zerolog.Logger
}

// CommandQueue provides lane-based task serialization with concurrency control.
// Lanes are created on first use and dropped again once idle.
type CommandQueue struct {
	lanes       map[string]*laneState
	concurrency int
	taskIDSeq   int
	closed      bool
	mu          sync.Mutex
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	dedup       *dedupCache
	logger      zerolog.Logger

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New creates a new CommandQueue
func New(cfg Config) *CommandQueue {
	observability.EnsureRegistered()

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &CommandQueue{
		lanes:         make(map[string]*laneState),
		concurrency:   concurrency,
		ctx:           ctx,
		cancel:        cancel,
		dedup:         newDedupCache(ctx, cfg.DedupTTL),
		logger:        cfg.Logger,
		eventHandlers: make(map[string][]EventHandler),
	}
}

// SessionLane returns the lane name that serializes one session.
func SessionLane(sessionID string) string {
	return "session-" + sessionID
}

// Enqueue adds a task to the specified lane
func (cq *CommandQueue) Enqueue(lane string, task Task, options *TaskOptions) (interface{}, error) {
	return cq.EnqueueWithContext(context.Background(), lane, task, options)
}

// EnqueueWithContext adds a task to the specified lane and waits for its
// result. ctx is handed to the task; it does not abandon a queued task.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"menubot.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, cq.logger).With().Str("lane", lane).Logger()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	if opts.RequestID != "" {
		if cached, ok := cq.dedup.Get(dedupKey(lane, opts.RequestID)); ok {
			logger.Info().Str("requestId", opts.RequestID).Msg("Duplicate request served from cache")
			return cached.value, cached.err
		}
	}

	record := &taskRecord{
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}

	// The lane lookup and the append happen under cq.mu so a lane that is
	// being reclaimed never receives a new record.
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil, ErrClosed
	}
	cq.taskIDSeq++
	record.id = fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	ls, exists := cq.lanes[lane]
	if !exists {
		ls = &laneState{name: lane, concurrency: cq.concurrency}
		cq.lanes[lane] = ls
	}
	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()
	cq.mu.Unlock()

	logger.Debug().
		Str("taskId", record.id).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)

	cq.emit(Event{
		Type:   "enqueued",
		Lane:   lane,
		TaskID: record.id,
		Data: map[string]interface{}{
			"queueSize": queueSize,
		},
	})

	if opts.WarnAfter > 0 {
		go cq.startWarnTimer(record, ls)
	}

	cq.processLane(ls)

	result := <-record.result
	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	return result.value, result.err
}

// processLane starts queued tasks while the lane has capacity
func (cq *CommandQueue) processLane(ls *laneState) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		cq.wg.Add(1)
		go cq.executeTask(ls, record)
	}
}

// executeTask executes a single task
func (cq *CommandQueue) executeTask(ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"menubot.commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", ls.name),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, cq.logger).With().Str("lane", ls.name).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	var (
		value interface{}
		err   error
	)
	// A duplicate queued behind the original finds its result here.
	key := dedupKey(ls.name, record.options.RequestID)
	if cached, ok := cq.dedup.Get(key); ok && record.options.RequestID != "" {
		logger.Info().Str("requestId", record.options.RequestID).Msg("Duplicate request served from cache")
		value, err = cached.value, cached.err
	} else {
		value, err = cq.runTask(runCtx, record.task)
		if err == nil && record.options.RequestID != "" {
			cq.dedup.Set(key, taskResult{value: value})
		}
	}
	duration := time.Since(startTime)

	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(ls.name, duration, err == nil, queueSize)

	cq.emit(Event{
		Type:   "completed",
		Lane:   ls.name,
		TaskID: record.id,
		Data: map[string]interface{}{
			"duration": duration.Milliseconds(),
			"success":  err == nil,
		},
	})

	cq.processLane(ls)
	cq.reclaim(ls)
}

func (cq *CommandQueue) runTask(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return task(ctx)
}

// reclaim drops an idle lane so per-session lanes do not accumulate.
func (cq *CommandQueue) reclaim(ls *laneState) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if cq.lanes[ls.name] != ls {
		return
	}
	ls.mu.Lock()
	idle := ls.idle()
	ls.mu.Unlock()
	if idle {
		delete(cq.lanes, ls.name)
	}
}

// startWarnTimer starts a timer to warn about long wait times
func (cq *CommandQueue) startWarnTimer(record *taskRecord, ls *laneState) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			cq.logger.Warn().
				Str("lane", ls.name).
				Str("taskId", record.id).
				Dur("wait", wait).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(wait, queuePos)
			}
		}
	case <-cq.ctx.Done():
	}
}

func (cq *CommandQueue) lane(name string) (*laneState, bool) {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	ls, ok := cq.lanes[name]
	return ls, ok
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	ls, exists := cq.lane(lane)
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// GetRunningCount returns the number of currently executing tasks for a lane
func (cq *CommandQueue) GetRunningCount(lane string) int {
	ls, exists := cq.lane(lane)
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// Stats summarizes the queue.
type Stats struct {
	Lanes   int `json:"lanes"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

// GetStats returns totals across all lanes
func (cq *CommandQueue) GetStats() Stats {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	stats := Stats{Lanes: len(cq.lanes)}
	for _, ls := range cq.lanes {
		ls.mu.Lock()
		stats.Queued += len(ls.queue)
		stats.Running += ls.running
		ls.mu.Unlock()
	}

	return stats
}

// WaitForActive waits for all queued and running tasks to complete with timeout
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		stats := cq.GetStats()
		if stats.Queued == 0 && stats.Running == 0 {
			cq.logger.Info().Msg("All active tasks completed")
			return true
		}

		if time.Now().After(deadline) {
			cq.logger.Warn().Dur("timeout", timeout).Int("running", stats.Running).Msg("Timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// Close rejects new tasks, cancels running ones and waits for them to return.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	cq.closed = true
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()
	return nil
}

// On registers an event handler for a specific event type
func (cq *CommandQueue) On(eventType string, handler EventHandler) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()

	cq.eventHandlers[eventType] = append(cq.eventHandlers[eventType], handler)
}

// emit emits an event synchronously to all registered handlers
func (cq *CommandQueue) emit(event Event) {
	cq.eventMu.RLock()
	handlers := cq.eventHandlers[event.Type]
	cq.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
