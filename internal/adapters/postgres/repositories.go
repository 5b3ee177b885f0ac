package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"siteaudit/internal/domain"
	"siteaudit/internal/ports"
)

var _ ports.AuditRepository = (*DB)(nil)

const auditColumns = `id, user_id, url, business_name, primary_service, target_city, gmb_url,
	status, overall_score, created_at, started_at, finished_at`

func scanAudit(row pgx.Row) (domain.Audit, error) {
	var a domain.Audit
	var status string
	err := row.Scan(&a.ID, &a.UserID, &a.URL, &a.BusinessName, &a.PrimaryService, &a.TargetCity, &a.GmbURL,
		&status, &a.OverallScore, &a.CreatedAt, &a.StartedAt, &a.FinishedAt)
	a.Status = domain.Status(status)
	return a, err
}

func (db *DB) CreateAudit(ctx context.Context, userID string, in domain.NewAudit) (domain.Audit, error) {
	return scanAudit(db.Pool.QueryRow(ctx, `
		INSERT INTO audits (user_id, url, business_name, primary_service, target_city, gmb_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		RETURNING `+auditColumns,
		userID, in.URL, in.BusinessName, in.PrimaryService, in.TargetCity, in.GmbURL))
}

// UpdateAuditStatus guards the transition in SQL so concurrent writers cannot
// move an audit backwards or out of a terminal state.
func (db *DB) UpdateAuditStatus(ctx context.Context, auditID int64, status domain.Status, overallScore *int) (domain.Audit, error) {
	from := domain.Predecessors(status)
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	var score *int
	if status == domain.StatusCompleted {
		score = overallScore
	}
	a, err := scanAudit(db.Pool.QueryRow(ctx, `
		UPDATE audits SET
			status = $2,
			overall_score = COALESCE($3, overall_score),
			started_at = CASE WHEN $2 = 'processing' THEN now() ELSE started_at END,
			finished_at = CASE WHEN $2 IN ('completed','failed') THEN now() ELSE finished_at END
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+auditColumns,
		auditID, string(status), score, allowed))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM audits WHERE id = $1)`, auditID).Scan(&exists); err != nil {
			return domain.Audit{}, err
		}
		if !exists {
			return domain.Audit{}, domain.ErrNotFound
		}
		return domain.Audit{}, domain.ErrInvalidTransition
	}
	return a, err
}

func (db *DB) AddAuditResult(ctx context.Context, auditID int64, module domain.Module, score int, data json.RawMessage, findings []domain.Finding) (domain.AuditResult, error) {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	if findings == nil {
		findings = []domain.Finding{}
	}
	findingsJSON, err := json.Marshal(findings)
	if err != nil {
		return domain.AuditResult{}, fmt.Errorf("encoding findings: %w", err)
	}
	r := domain.AuditResult{AuditID: auditID, Module: module, Score: score, Data: data, Findings: findings}
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO audit_results (audit_id, module, score, data, findings)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, auditID, string(module), score, []byte(data), findingsJSON).Scan(&r.ID, &r.CreatedAt)
	return r, err
}

func (db *DB) GetAudit(ctx context.Context, auditID int64) (domain.AuditWithResults, error) {
	a, err := scanAudit(db.Pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM audits WHERE id = $1`, auditID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AuditWithResults{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AuditWithResults{}, err
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT id, audit_id, module, score, data, findings, created_at
		FROM audit_results WHERE audit_id = $1 ORDER BY id
	`, auditID)
	if err != nil {
		return domain.AuditWithResults{}, err
	}
	defer rows.Close()

	out := domain.AuditWithResults{Audit: a, Results: []domain.AuditResult{}}
	for rows.Next() {
		var r domain.AuditResult
		var module string
		var data, findings []byte
		if err := rows.Scan(&r.ID, &r.AuditID, &module, &r.Score, &data, &findings, &r.CreatedAt); err != nil {
			return domain.AuditWithResults{}, err
		}
		r.Module = domain.Module(module)
		r.Data = json.RawMessage(data)
		r.Findings = []domain.Finding{}
		if len(findings) > 0 {
			if err := json.Unmarshal(findings, &r.Findings); err != nil {
				return domain.AuditWithResults{}, fmt.Errorf("decoding findings of result %d: %w", r.ID, err)
			}
		}
		out.Results = append(out.Results, r)
	}
	return out, rows.Err()
}

func (db *DB) GetAuditsByUser(ctx context.Context, userID string) ([]domain.Audit, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+auditColumns+` FROM audits WHERE user_id = $1 ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Audit{}
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (db *DB) DeleteAudit(ctx context.Context, auditID int64) (err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM audit_results WHERE audit_id = $1`, auditID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM audit_jobs WHERE audit_id = $1`, auditID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM audits WHERE id = $1`, auditID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = domain.ErrNotFound
		return err
	}
	return nil
}

// FailStaleProcessing fails audits whose worker disappeared mid-run and
// settles their running jobs in the same transaction.
func (db *DB) FailStaleProcessing(ctx context.Context, cutoff time.Time) (ids []int64, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `
		UPDATE audits SET status = 'failed', finished_at = now()
		WHERE status = 'processing' AND started_at < $1
		RETURNING id
	`, cutoff)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	_, err = tx.Exec(ctx, `
		UPDATE audit_jobs SET status = 'failed', finished_at = now(), last_error = 'stale: worker lost'
		WHERE status = 'running' AND audit_id = ANY($1)
	`, ids)
	return ids, err
}
