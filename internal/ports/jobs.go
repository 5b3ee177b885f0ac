package ports

import "context"

type AuditJob struct {
	ID      string
	AuditID int64
}

// JobRepository supports claiming and settling audit jobs.
type JobRepository interface {
	EnqueueAudit(ctx context.Context, auditID int64) (jobID string, err error)
	ClaimNext(ctx context.Context, workerID string) (job AuditJob, found bool, err error)
	// StartJobForAudit claims the queued job of one specific audit.
	StartJobForAudit(ctx context.Context, auditID int64, workerID string) (jobID string, err error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
	// RequeueJob returns a running job to the queue, keeping reason as its last error.
	RequeueJob(ctx context.Context, jobID string, reason string) error
}
