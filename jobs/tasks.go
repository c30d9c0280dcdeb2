package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/lumina-salon/lumina/internal/jobs"
	"github.com/lumina-salon/lumina/internal/recon"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconRecompute triggers the nightly full stock recompute.
	TaskReconRecompute = "recon:recompute"
	// TaskIntakeKeyCleanup prunes old POS intake keys.
	TaskIntakeKeyCleanup = "pos:intake_key_cleanup"
)

// ReconRecomputePayload carries scheduling metadata.
type ReconRecomputePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewReconRecomputeTask constructs an Asynq task for the stock recompute.
func NewReconRecomputeTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReconRecomputePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconRecompute, body, asynq.Queue(QueueDefault)), nil
}

// ReconJob runs the reconciliation pass from the worker.
type ReconJob struct {
	service *recon.Service
	logger  *slog.Logger
}

// NewReconJob constructs ReconJob.
func NewReconJob(service *recon.Service, logger *slog.Logger) *ReconJob {
	return &ReconJob{service: service, logger: logger}
}

// Handle processes TaskReconRecompute tasks.
func (j *ReconJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReconRecomputePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := defaultJobMetrics.Track(TaskReconRecompute)
	report, err := j.service.RecomputeAll(ctx)
	if err != nil {
		return tracker.End(err)
	}
	_ = tracker.End(nil)
	j.logger.Info("scheduled stock recompute finished",
		slog.Time("scheduled_for", payload.ScheduledFor),
		slog.Int("products", report.Products),
		slog.Int("drifted", len(report.Drifted)))
	return nil
}

// IntakeKeyCleanupPayload carries the retention window.
type IntakeKeyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIntakeKeyCleanupTask constructs a cleanup task.
func NewIntakeKeyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IntakeKeyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntakeKeyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// KeyCleaner prunes processed intake keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// CleanupJob removes POS intake keys past retention.
type CleanupJob struct {
	keys   KeyCleaner
	logger *slog.Logger
}

// NewCleanupJob constructs CleanupJob.
func NewCleanupJob(keys KeyCleaner, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{keys: keys, logger: logger}
}

// Handle processes TaskIntakeKeyCleanup tasks.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IntakeKeyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Retention <= 0 {
		payload.Retention = 30 * 24 * time.Hour
	}
	tracker := defaultJobMetrics.Track(TaskIntakeKeyCleanup)
	if err := j.keys.Cleanup(ctx, payload.Retention); err != nil {
		return tracker.End(err)
	}
	_ = tracker.End(nil)
	j.logger.Info("intake key cleanup finished", slog.Duration("retention", payload.Retention))
	return nil
}
