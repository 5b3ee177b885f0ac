package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"siteaudit/internal/domain"
	"siteaudit/internal/ports"
)

var _ ports.JobRepository = (*DB)(nil)

func (db *DB) EnqueueAudit(ctx context.Context, auditID int64) (string, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `INSERT INTO audit_jobs (audit_id) VALUES ($1) RETURNING id`, auditID).Scan(&id)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

// ClaimNext selects the next queued job using SKIP LOCKED and marks it running.
// The audit row is left alone; its status belongs to the pipeline.
func (db *DB) ClaimNext(ctx context.Context, workerID string) (job ports.AuditJob, found bool, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	var id int64
	err = tx.QueryRow(ctx, `
		SELECT id, audit_id FROM audit_jobs
		WHERE status = 'queued'
		ORDER BY queued_at, id
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&id, &job.AuditID)
	if errors.Is(err, pgx.ErrNoRows) {
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE audit_jobs SET status='running', started_at=now(), attempts=attempts+1, worker_id=$2 WHERE id=$1
	`, id, workerID); err != nil {
		return job, false, err
	}
	job.ID = strconv.FormatInt(id, 10)
	return job, true, nil
}

// StartJobForAudit marks the queued job of a specific audit as running and returns its id.
func (db *DB) StartJobForAudit(ctx context.Context, auditID int64, workerID string) (jobID string, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	var id int64
	err = tx.QueryRow(ctx, `
		SELECT id FROM audit_jobs
		WHERE audit_id = $1 AND status = 'queued'
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, auditID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		err = domain.ErrNotFound
		return "", err
	}
	if err != nil {
		return "", err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE audit_jobs SET status='running', started_at=now(), attempts=attempts+1, worker_id=$2 WHERE id=$1
	`, id, workerID); err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

func parseJobID(jobID string) (int64, error) {
	id, err := strconv.ParseInt(jobID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid job id %q: %w", jobID, err)
	}
	return id, nil
}

func (db *DB) MarkCompleted(ctx context.Context, jobID string) error {
	id, err := parseJobID(jobID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = db.Pool.Exec(ctx, `UPDATE audit_jobs SET status='completed', finished_at=now() WHERE id=$1`, id)
	return err
}

// RequeueJob puts a running job back in the queue behind the jobs queued
// since it was first queued.
func (db *DB) RequeueJob(ctx context.Context, jobID string, reason string) error {
	id, err := parseJobID(jobID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := db.Pool.Exec(ctx, `
		UPDATE audit_jobs
		SET status='queued', queued_at=now(), started_at=NULL, worker_id=NULL, last_error=$2
		WHERE id=$1 AND status='running'
	`, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) MarkFailed(ctx context.Context, jobID string, reason string) error {
	id, err := parseJobID(jobID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = db.Pool.Exec(ctx, `
		UPDATE audit_jobs SET status='failed', finished_at=now(), last_error=$2 WHERE id=$1
	`, id, reason)
	return err
}
