package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/reembolso/internal/identity"
	jobmetrics "github.com/odyssey-erp/reembolso/internal/jobs"
)

// TaskIdentityRefresh recomputes colaborador name mismatches.
const TaskIdentityRefresh = "identity:refresh"

// IdentityRefreshPayload describes who asked for the refresh.
type IdentityRefreshPayload struct {
	Trigger     string `json:"trigger"`
	RequestedBy int64  `json:"requested_by,omitempty"`
}

// NewIdentityRefreshTask creates an Asynq task for the identity refresh.
func NewIdentityRefreshTask(payload IdentityRefreshPayload) (*asynq.Task, error) {
	if payload.Trigger == "" {
		payload.Trigger = "cron"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdentityRefresh, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

type identityRefresher interface {
	Refresh(ctx context.Context) (identity.RefreshResult, error)
}

// IdentityRefreshJob runs identity.Reconciler.Refresh from the worker.
type IdentityRefreshJob struct {
	Reconciler identityRefresher
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	Timeout    time.Duration
}

// NewIdentityRefreshJob wires dependencies for the refresh handler.
func NewIdentityRefreshJob(reconciler identityRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdentityRefreshJob {
	return &IdentityRefreshJob{
		Reconciler: reconciler,
		Logger:     logger,
		Metrics:    metrics,
		Timeout:    5 * time.Minute,
	}
}

// Handle processes identity refresh tasks.
func (j *IdentityRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("identity refresh: handler not configured")
	}
	tracker := j.Metrics.Track(TaskIdentityRefresh)
	var payload IdentityRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			j.logger().Warn("identity refresh: malformed payload", slog.Any("error", err))
			return tracker.End(fmt.Errorf("identity refresh: decode payload: %v: %w", err, asynq.SkipRetry))
		}
	}

	logger := j.logger().With(slog.String("trigger", payload.Trigger))
	if payload.RequestedBy > 0 {
		logger = logger.With(slog.Int64("requested_by", payload.RequestedBy))
	}

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	start := time.Now()
	result, err := j.Reconciler.Refresh(ctx)
	if err != nil {
		logger.Error("identity refresh failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.SetMismatches(result.Mismatches)
	logger.Info("identity refresh completed",
		slog.Int("checked", result.Checked),
		slog.Int("mismatches", result.Mismatches),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *IdentityRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskIdentityRefresh))
	}
	return slog.Default().With(slog.String("job", TaskIdentityRefresh))
}
