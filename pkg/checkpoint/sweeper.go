package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultRetention     = 30 * 24 * time.Hour
	DefaultSweepSchedule = "@every 1h"
)

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	Store     Store
	Retention time.Duration
	Schedule  string
	Logger    zerolog.Logger
	// OnDelete runs after a session's checkpoint was removed.
	OnDelete func(sessionID string)
}

// Sweeper deletes checkpoints idle for longer than the retention.
type Sweeper struct {
	store     Store
	pruner    Pruner
	retention time.Duration
	schedule  string
	logger    zerolog.Logger
	onDelete  func(string)
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a sweeper. The store must implement Pruner.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	pruner, ok := cfg.Store.(Pruner)
	if !ok {
		return nil, fmt.Errorf("checkpoint store %T cannot list stale sessions", cfg.Store)
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return &Sweeper{
		store:     cfg.Store,
		pruner:    pruner,
		retention: retention,
		schedule:  schedule,
		logger:    cfg.Logger,
		onDelete:  cfg.OnDelete,
		now:       time.Now,
	}, nil
}

// Start schedules the sweep.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Checkpoint sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.logger.Info().
		Str("schedule", s.schedule).
		Dur("retention", s.retention).
		Msg("Checkpoint sweeper started")
	return nil
}

// Stop cancels the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		s.logger.Info().Msg("Checkpoint sweeper stopped")
	}
}

// Sweep deletes every stale checkpoint once and returns how many it removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.pruner.ListStale(ctx, s.now().Add(-s.retention))
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		if err := s.store.Delete(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to delete stale checkpoint")
			continue
		}
		deleted++
		if s.onDelete != nil {
			s.onDelete(id)
		}
	}

	if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("Stale checkpoints removed")
	}
	return deleted, nil
}
