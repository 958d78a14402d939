package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/markdave123-py/diagnovet/internal/core"
	"github.com/markdave123-py/diagnovet/internal/models"
	"github.com/markdave123-py/diagnovet/pkg/metrics"
)

// PendingRequeuer queues UPLOADED reports that lost their job.
type PendingRequeuer interface {
	RequeuePending(ctx context.Context) (int, error)
}

// StatsJob periodically refreshes the per-status report gauges, logs reports
// stuck in PROCESSING and hands orphaned UPLOADED reports back to the queue.
type StatsJob struct {
	db         core.ReportStore
	requeue    PendingRequeuer
	metrics    *metrics.Collector
	staleAfter time.Duration
	log        *zap.Logger
	cron       *cron.Cron
}

// NewStatsJob builds the job; requeue may be nil.
func NewStatsJob(store core.ReportStore, requeue PendingRequeuer, m *metrics.Collector, staleAfter time.Duration, log *zap.Logger) *StatsJob {
	return &StatsJob{db: store, requeue: requeue, metrics: m, staleAfter: staleAfter, log: log.Named("stats_job")}
}

// Start schedules the job (standard cron syntax or @every).
func (j *StatsJob) Start(schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		j.RunOnce(ctx)
	}); err != nil {
		return err
	}
	j.cron = c
	c.Start()
	j.log.Info("stats_job.started", zap.String("schedule", schedule))
	return nil
}

// Stop waits for a running tick to finish or ctx to end.
func (j *StatsJob) Stop(ctx context.Context) {
	if j.cron == nil {
		return
	}
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (j *StatsJob) RunOnce(ctx context.Context) {
	st, err := j.db.Stats(ctx)
	if err != nil {
		j.log.Error("stats_job.stats_failed", zap.Error(err))
	} else {
		j.metrics.SetStatusCount(string(models.StatusUploaded), st.UploadedReports)
		j.metrics.SetStatusCount(string(models.StatusProcessing), st.ProcessingReports)
		j.metrics.SetStatusCount(string(models.StatusCompleted), st.CompletedReports)
		j.metrics.SetStatusCount(string(models.StatusNeedsReview), st.NeedsReviewReports)
		j.metrics.SetStatusCount(string(models.StatusError), st.ErrorReports)
	}

	if j.requeue != nil {
		if _, err := j.requeue.RequeuePending(ctx); err != nil {
			j.log.Error("stats_job.requeue_failed", zap.Error(err))
		}
	}

	stale, err := j.db.ListStale(ctx, models.StatusProcessing, j.staleAfter)
	if err != nil {
		j.log.Error("stats_job.stale_failed", zap.Error(err))
		return
	}
	for _, r := range stale {
		j.log.Warn("stats_job.stale_report",
			zap.String("report_id", r.ID),
			zap.String("filename", r.Filename),
			zap.Duration("processing_for", time.Since(r.UpdatedAt).Round(time.Second)),
		)
	}
}
