package daemon

import (
	"context"
	"time"

	"github.com/harun/menubot/internal/observability"
)

const maintenanceInterval = 30 * time.Second

// EventLoop runs periodic maintenance while the daemon serves
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: maintenanceInterval,
	}
}

// Run ticks until ctx is done
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Debug().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Debug().Msg("Event loop stopping")
			return
		case <-ticker.C:
			e.processTasks()
		}
	}
}

// processTasks publishes queue depth
func (e *EventLoop) processTasks() {
	stats := e.daemon.queue.GetStats()
	observability.SetQueueSize("session", stats.Queued)
	if stats.Queued > 0 || stats.Running > 0 {
		e.daemon.logger.Debug().
			Int("lanes", stats.Lanes).
			Int("queued", stats.Queued).
			Int("running", stats.Running).
			Msg("Queue stats")
	}
}

// HandleShutdown waits briefly for turns still in flight
func (e *EventLoop) HandleShutdown() {
	if !e.daemon.queue.WaitForActive(5 * time.Second) {
		e.daemon.logger.Warn().Msg("Shutting down with turns still in flight")
	}
}
