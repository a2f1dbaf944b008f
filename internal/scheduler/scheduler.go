package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"plantdash/internal/app"
	"plantdash/internal/config"
)

const jobTimeout = 2 * time.Minute

// Scheduler runs the background jobs of the dashboard server.
type Scheduler struct {
	cron   *cron.Cron
	db     *app.Database
	cfg    config.SchedulerSettings
	logger *zap.Logger
}

func New(d *app.Database, cfg config.SchedulerSettings, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(d.Location())),
		db:     d,
		cfg:    cfg,
		logger: logger,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler")
	if s.cfg.TickInterval > 0 && s.cfg.TickStep > 0 {
		if _, err := s.cron.AddFunc(every(s.cfg.TickInterval), s.run("tick orders", s.TickOrders)); err != nil {
			return fmt.Errorf("schedule order tick: %w", err)
		}
	}
	if s.cfg.CleanupSpec != "" {
		if _, err := s.cron.AddFunc(s.cfg.CleanupSpec, s.run("cleanup", s.Cleanup)); err != nil {
			return fmt.Errorf("schedule cleanup: %w", err)
		}
	}
	if s.cfg.StatsRefresh > 0 {
		if _, err := s.cron.AddFunc(every(s.cfg.StatsRefresh), s.run("refresh stats", s.RefreshStats)); err != nil {
			return fmt.Errorf("schedule stats refresh: %w", err)
		}
	}
	s.cron.Start()
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

// Jobs returns how many jobs are registered.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

func every(d time.Duration) string { return "@every " + d.String() }

func (s *Scheduler) run(name string, job func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := job(ctx); err != nil {
			s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
		}
	}
}

// TickOrders advances running orders by the configured step.
func (s *Scheduler) TickOrders(ctx context.Context) error {
	moved, err := s.db.Repo.TickAllOrders(ctx, s.cfg.TickStep)
	if err != nil {
		return err
	}
	if moved > 0 {
		s.logger.Debug("orders advanced", zap.Int("count", moved))
		return s.db.Stats.Invalidate(ctx)
	}
	return nil
}

// Cleanup runs the daily retention sweep.
func (s *Scheduler) Cleanup(ctx context.Context) error {
	rep, err := s.db.CleanupOldData(ctx)
	if err != nil {
		return err
	}
	if len(rep.Failed) > 0 {
		s.logger.Warn("cleanup incomplete", zap.Strings("failed", rep.Failed))
	}
	return nil
}

// RefreshStats recomputes the dashboard cache and today's rollups.
func (s *Scheduler) RefreshStats(ctx context.Context) error {
	now := s.db.Now()
	if _, err := s.db.Stats.CalculateDashboardStats(ctx); err != nil {
		return err
	}
	if _, err := s.db.Stats.RecordQualityDay(ctx, now); err != nil {
		return err
	}
	_, err := s.db.Stats.RecordDailyMetric(ctx, now)
	return err
}
