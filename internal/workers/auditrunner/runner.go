package auditrunner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"siteaudit/internal/ports"
)

// AuditProcessor performs the audit work for a job's audit id.
type AuditProcessor interface {
	Process(ctx context.Context, auditID int64) error
}

// NewWorkerID returns a process-unique prefix for job ownership.
func NewWorkerID() string {
	return "worker-" + uuid.NewString()[:8]
}

// Run starts concurrency workers that claim queued jobs and process them, and
// blocks until ctx is done and every worker has returned. Each worker holds
// at most one job, so concurrency bounds in-flight audits.
func Run(ctx context.Context, repo ports.JobRepository, processor AuditProcessor, concurrency int, pollInterval time.Duration, log *zap.Logger) {
	if concurrency < 1 {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	prefix := NewWorkerID()
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			work(ctx, repo, processor, workerID, pollInterval, log.With(zap.String("worker", workerID)))
		}(fmt.Sprintf("%s-%d", prefix, i))
	}
	wg.Wait()
}

func work(ctx context.Context, repo ports.JobRepository, processor AuditProcessor, workerID string, pollInterval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		// drain the queue before waiting for the next tick
		for ctx.Err() == nil {
			job, found, err := repo.ClaimNext(ctx, workerID)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("job claim error", zap.Error(err))
				}
				break
			}
			if !found {
				break
			}
			if requeued := settle(ctx, repo, processor, job, log); requeued {
				// wait a tick so a failing store is not hammered
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// settle runs the job and records its outcome. It reports whether the job
// went back to the queue.
func settle(ctx context.Context, repo ports.JobRepository, processor AuditProcessor, job ports.AuditJob, log *zap.Logger) bool {
	log = log.With(zap.String("job_id", job.ID), zap.Int64("audit_id", job.AuditID))
	err := processor.Process(ctx, job.AuditID)
	switch {
	case errors.Is(err, ErrNotStarted):
		if rErr := repo.RequeueJob(context.WithoutCancel(ctx), job.ID, err.Error()); rErr != nil {
			log.Error("requeue job", zap.Error(rErr))
		}
		log.Warn("job requeued", zap.Error(err))
		return true
	case err != nil:
		if mErr := repo.MarkFailed(context.WithoutCancel(ctx), job.ID, err.Error()); mErr != nil {
			log.Error("mark job failed", zap.Error(mErr))
		}
		log.Warn("job failed", zap.Error(err))
	default:
		if err := repo.MarkCompleted(context.WithoutCancel(ctx), job.ID); err != nil {
			log.Error("mark job completed", zap.Error(err))
		}
	}
	return false
}

// ProcessInline claims and processes a specific audit's job synchronously
// using the same processor the background workers use. The audit runs to
// its end on ctx, so callers that must not cut it short pass a context
// without a deadline.
func ProcessInline(ctx context.Context, repo ports.JobRepository, processor AuditProcessor, auditID int64) error {
	jobID, err := repo.StartJobForAudit(ctx, auditID, "inline")
	if err != nil {
		return err
	}
	if err := processor.Process(ctx, auditID); err != nil {
		if errors.Is(err, ErrNotStarted) {
			_ = repo.RequeueJob(context.WithoutCancel(ctx), jobID, err.Error())
			return err
		}
		_ = repo.MarkFailed(context.WithoutCancel(ctx), jobID, err.Error())
		return err
	}
	return repo.MarkCompleted(context.WithoutCancel(ctx), jobID)
}
