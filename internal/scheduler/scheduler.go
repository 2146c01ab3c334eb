package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/possync/reconcile/internal/config"
	"github.com/possync/reconcile/internal/domain/models"
)

// Rematcher retries unmatched approvals.
type Rematcher interface {
	Rematch(ctx context.Context, channel models.Channel) (models.ApprovalSummary, error)
}

// Reporter publishes the scheduled outputs.
type Reporter interface {
	PublishApprovals(ctx context.Context, summaries []models.ApprovalSummary)
	SendLowStockReport(ctx context.Context) error
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron      *cron.Cron
	rematcher Rematcher
	reporter  Reporter
	cfg       config.SchedulingConfig
	timeout   time.Duration
	logger    *zap.Logger
}

// NewScheduler creates a new scheduler instance running in the configured
// timezone.
func NewScheduler(cfg config.SchedulingConfig, rematcher Rematcher, reporter Reporter, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", cfg.Timezone, err)
	}

	return &Scheduler{
		cron:      cron.New(cron.WithLocation(location), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		rematcher: rematcher,
		reporter:  reporter,
		cfg:       cfg,
		timeout:   5 * time.Minute,
		logger:    logger,
	}, nil
}

// Start registers the jobs and starts the scheduler.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler",
		zap.String("rematch_cron", s.cfg.RematchCron),
		zap.String("report_cron", s.cfg.ReportCron),
		zap.String("timezone", s.cfg.Timezone),
	)

	if s.cfg.RematchCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.RematchCron, s.runRematch); err != nil {
			return fmt.Errorf("schedule rematch: %w", err)
		}
	}
	if s.cfg.ReportCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.ReportCron, s.sendLowStockReport); err != nil {
			return fmt.Errorf("schedule low stock report: %w", err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runRematch() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	summary, err := s.rematcher.Rematch(ctx, "")
	if err != nil {
		s.logger.Error("scheduled rematch failed", zap.Error(err))
		return
	}
	if summary.MatchedCount == 0 && summary.PersistenceErrors.Count == 0 {
		s.logger.Debug("scheduled rematch found nothing new", zap.Int("pending", summary.ParsedRows))
		return
	}
	s.reporter.PublishApprovals(ctx, []models.ApprovalSummary{summary})
}

func (s *Scheduler) sendLowStockReport() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.reporter.SendLowStockReport(ctx); err != nil {
		s.logger.Error("failed to send low stock report", zap.Error(err))
	}
}
