package syncer

import (
	"context"

	"tokoledger/backend/internal/domain"
)

// Job queue management, exposed for operator tooling. The state machine lives
// in the store: pending -> running -> success|failed, cancel from pending or
// running, retry only from failed.

func (e *Engine) ListJobs(ctx context.Context, status string, limit int) ([]domain.SyncJob, error) {
	return e.repo.ListSyncJobs(ctx, status, limit)
}

func (e *Engine) GetJob(ctx context.Context, id string) (*domain.SyncJob, error) {
	return e.repo.GetSyncJob(ctx, id)
}

// RetryJob requeues a failed job. Attempts carry over and the configured cap
// applies, so a job cannot be retried forever.
func (e *Engine) RetryJob(ctx context.Context, id string) (*domain.SyncJob, error) {
	return e.repo.RetrySyncJob(ctx, id, e.cfg.MaxJobAttempts)
}

func (e *Engine) CancelJob(ctx context.Context, id string) (*domain.SyncJob, error) {
	return e.repo.CancelSyncJob(ctx, id)
}

// CleanupOldJobs prunes finished jobs older than the retention window.
// Pending and running jobs are never touched.
func (e *Engine) CleanupOldJobs(ctx context.Context) (int, error) {
	return e.repo.CleanupOldSyncJobs(ctx, e.now().Add(-e.cfg.JobRetention))
}
