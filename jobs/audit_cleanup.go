package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditCleanupJob trims activity and notification rows past the retention
// window. The sinks are append-only otherwise.
type AuditCleanupJob struct {
	pool      *pgxpool.Pool
	retention time.Duration
	logger    *slog.Logger
}

// NewAuditCleanupJob constructs the job.
func NewAuditCleanupJob(pool *pgxpool.Pool, retention time.Duration, logger *slog.Logger) *AuditCleanupJob {
	return &AuditCleanupJob{pool: pool, retention: retention, logger: logger}
}

// Handle processes TaskAuditCleanup tasks.
func (j *AuditCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload AuditCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = j.retention
	}
	cutoff := time.Now().UTC().Add(-retention)

	logs, err := j.pool.Exec(ctx, `DELETE FROM activity_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return err
	}
	notes, err := j.pool.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return err
	}
	j.logger.Info("audit cleanup finished",
		slog.Int64("activity_rows", logs.RowsAffected()),
		slog.Int64("notification_rows", notes.RowsAffected()),
		slog.Time("cutoff", cutoff))
	return nil
}
